package negotiate

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/zsiec/lookout/internal/stream"
)

// SessionName builds the session name token:
//
//	site/channel/app/isLive/streamMode/timestamp/sessionID[/jobID/eventID]
//
// isLive is 1 for live and 0 for archive. The job and event suffix is only
// present when both are set.
func SessionName(opts stream.ConnectionOptions, appID int, sessionID string) string {
	ts := opts.EffectiveTimestamp()
	isLive := 1
	if ts > 0 {
		isLive = 0
	}

	parts := []string{
		strconv.FormatInt(opts.SiteID, 10),
		strconv.FormatInt(opts.ChannelID, 10),
		strconv.Itoa(appID),
		strconv.Itoa(isLive),
		strconv.Itoa(int(opts.StreamMode)),
		strconv.FormatInt(ts, 10),
		sessionID,
	}
	if opts.HasEvent() {
		parts = append(parts, strconv.FormatInt(opts.JobID, 10), strconv.FormatInt(opts.EventID, 10))
	}
	return strings.Join(parts, "/")
}

// BuildURI joins base (scheme://host:port) and path with the encoded name and
// source query parameters.
func BuildURI(base, path, cloudIP, name string) string {
	src := fmt.Sprintf("videonetics://%s/%s", cloudIP, name)
	return strings.TrimRight(base, "/") + path +
		"?name=" + encodeComponent(name) +
		"&src=" + encodeComponent(src)
}

// encodeComponent escapes s like a URI component: spaces become %20 and
// slashes are escaped.
func encodeComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
