// Package negotiate turns connection options into a dialable session URI.
package negotiate

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/zsiec/lookout/internal/addrcache"
	"github.com/zsiec/lookout/internal/config"
	apperrors "github.com/zsiec/lookout/internal/errors"
	"github.com/zsiec/lookout/internal/logger"
	"github.com/zsiec/lookout/internal/stream"
)

var (
	// ErrNoEndpoint is returned when the lookup yields no usable address.
	ErrNoEndpoint = errors.New("no usable streaming endpoint")
)

// Target is the outcome of a negotiation.
type Target struct {
	URI       string
	SessionID string
	Name      string
	Endpoint  addrcache.Endpoint
}

// Negotiator derives session URIs.
type Negotiator struct {
	cfg      config.StreamConfig
	resolver *Resolver
	logger   logger.Logger
	newID    func() string
}

// NewNegotiator creates a negotiator. When cfg.BaseURL is set every session
// uses it and resolver may be nil.
func NewNegotiator(cfg config.StreamConfig, resolver *Resolver, log logger.Logger) *Negotiator {
	return &Negotiator{
		cfg:      cfg,
		resolver: resolver,
		logger:   log.WithField("component", "negotiator"),
		newID:    uuid.NewString,
	}
}

// Negotiate resolves the endpoint and builds the URI for one session attempt.
// Failures are negotiation errors and enter recovery like transport failures.
func (n *Negotiator) Negotiate(ctx context.Context, opts stream.ConnectionOptions) (Target, error) {
	base, ep, err := n.base(ctx, opts)
	if err != nil {
		return Target{}, apperrors.NewNegotiationError(err)
	}

	t := Target{
		SessionID: n.newID(),
		Endpoint:  ep,
	}
	t.Name = SessionName(opts, n.cfg.AppID, t.SessionID)
	t.URI = BuildURI(base, n.cfg.Path, n.cfg.CloudIP, t.Name)

	n.logger.WithFields(map[string]interface{}{
		"session_id": t.SessionID,
		"site_id":    opts.SiteID,
		"channel_id": opts.ChannelID,
		"mode":       opts.Mode(),
	}).Debug("Session negotiated")
	return t, nil
}

func (n *Negotiator) base(ctx context.Context, opts stream.ConnectionOptions) (string, addrcache.Endpoint, error) {
	if n.cfg.BaseURL != "" {
		return n.cfg.BaseURL, addrcache.Endpoint{}, nil
	}
	if n.resolver == nil {
		return "", addrcache.Endpoint{}, ErrNoEndpoint
	}

	ep, err := n.resolver.Resolve(ctx, opts)
	if err != nil {
		return "", addrcache.Endpoint{}, err
	}
	scheme := n.cfg.Scheme
	if scheme == "" {
		scheme = "ws"
	}
	if scheme == "wss" {
		ep.Port = 443
	}
	return fmt.Sprintf("%s://%s", scheme, ep.Addr()), ep, nil
}

// Forget drops the cached endpoint behind t after it refused a session, so
// the next attempt resolves the site again. Fixed base URLs are left alone.
func (n *Negotiator) Forget(ctx context.Context, siteID int64, t Target) {
	if n.resolver == nil || !t.Endpoint.Valid() {
		return
	}
	if err := n.resolver.Forget(ctx, siteID); err != nil {
		n.logger.WithError(err).WithField("site_id", siteID).Warn("Failed to drop cached endpoint")
		return
	}
	n.logger.WithFields(map[string]interface{}{
		"site_id":  siteID,
		"endpoint": t.Endpoint.Addr(),
	}).Info("Dropped unreachable endpoint from cache")
}
