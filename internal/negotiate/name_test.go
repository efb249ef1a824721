package negotiate

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zsiec/lookout/internal/stream"
)

func TestSessionName(t *testing.T) {
	tests := []struct {
		name string
		opts stream.ConnectionOptions
		want string
	}{
		{
			name: "live",
			opts: stream.ConnectionOptions{SiteID: 3, ChannelID: 17},
			want: "3/17/0/1/0/0/sid",
		},
		{
			name: "archive",
			opts: stream.ConnectionOptions{SiteID: 3, ChannelID: 17, Timestamp: 1700000000000, StreamMode: stream.StreamModeArchiveClip},
			want: "3/17/0/0/1/1700000000000/sid",
		},
		{
			name: "seek overrides timestamp",
			opts: stream.ConnectionOptions{SiteID: 3, ChannelID: 17, Timestamp: 1000, SeekTimestamp: 5000},
			want: "3/17/0/0/0/5000/sid",
		},
		{
			name: "event suffix",
			opts: stream.ConnectionOptions{SiteID: 3, ChannelID: 17, Timestamp: 1000, JobID: 8, EventID: 99},
			want: "3/17/0/0/0/1000/sid/8/99",
		},
		{
			name: "job without event has no suffix",
			opts: stream.ConnectionOptions{SiteID: 3, ChannelID: 17, Timestamp: 1000, JobID: 8},
			want: "3/17/0/0/0/1000/sid",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SessionName(tt.opts, 0, "sid"))
		})
	}
}

func TestBuildURI(t *testing.T) {
	uri := BuildURI("ws://10.0.0.1:8080/", "/v3/api/ws", "192.168.1.4", "3/17/0/1/0/0/sid")

	assert.Equal(t,
		"ws://10.0.0.1:8080/v3/api/ws?name=3%2F17%2F0%2F1%2F0%2F0%2Fsid&src=videonetics%3A%2F%2F192.168.1.4%2F3%2F17%2F0%2F1%2F0%2F0%2Fsid",
		uri)

	u, err := url.Parse(uri)
	require.NoError(t, err)
	assert.Equal(t, "3/17/0/1/0/0/sid", u.Query().Get("name"))
	assert.Equal(t, "videonetics://192.168.1.4/3/17/0/1/0/0/sid", u.Query().Get("src"))
}

func TestEncodeComponent(t *testing.T) {
	assert.Equal(t, "a%20b%2Fc", encodeComponent("a b/c"))
}
