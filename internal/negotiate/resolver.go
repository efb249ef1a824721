package negotiate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/zsiec/lookout/internal/addrcache"
	"github.com/zsiec/lookout/internal/logger"
	"github.com/zsiec/lookout/internal/metrics"
	"github.com/zsiec/lookout/internal/stream"
	"golang.org/x/sync/singleflight"
)

// Resolver finds the endpoint for a site, consulting the cache before the
// side-channel lookup. Concurrent misses for one site share a single lookup.
type Resolver struct {
	cache  addrcache.Cache
	lookup Lookup
	logger logger.Logger
	sf     singleflight.Group

	// timeout bounds one shared lookup, independent of its callers.
	timeout time.Duration
}

// DefaultLookupTimeout bounds a shared endpoint lookup including retries.
const DefaultLookupTimeout = 30 * time.Second

func NewResolver(cache addrcache.Cache, lookup Lookup, log logger.Logger) *Resolver {
	return &Resolver{
		cache:   cache,
		lookup:  lookup,
		logger:  log.WithField("component", "resolver"),
		timeout: DefaultLookupTimeout,
	}
}

func (r *Resolver) Resolve(ctx context.Context, opts stream.ConnectionOptions) (addrcache.Endpoint, error) {
	ep, err := r.cache.Get(ctx, opts.SiteID)
	switch {
	case err == nil && ep.Valid():
		metrics.AddrCacheLookup("hit")
		return ep, nil
	case err == nil, errors.Is(err, addrcache.ErrNotFound):
		metrics.AddrCacheLookup("miss")
	default:
		metrics.AddrCacheLookup("error")
		r.logger.WithError(err).WithField("site_id", opts.SiteID).Warn("Address cache unavailable, falling back to lookup")
	}

	// The shared lookup is detached from each caller's cancellation. A
	// canceled caller returns early while the others keep waiting.
	ch := r.sf.DoChan(strconv.FormatInt(opts.SiteID, 10), func() (interface{}, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()

		ep, err := r.lookup.Lookup(lctx, opts)
		if err != nil {
			return addrcache.Endpoint{}, err
		}
		if !ep.Valid() {
			return addrcache.Endpoint{}, fmt.Errorf("%w: got %q", ErrNoEndpoint, ep.Addr())
		}
		if err := r.cache.Set(lctx, opts.SiteID, ep); err != nil {
			r.logger.WithError(err).WithField("site_id", opts.SiteID).Warn("Failed to cache endpoint")
		}
		return ep, nil
	})

	select {
	case <-ctx.Done():
		return addrcache.Endpoint{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return addrcache.Endpoint{}, res.Err
		}
		if res.Shared {
			r.logger.WithField("site_id", opts.SiteID).Debug("Shared in-flight endpoint lookup")
		}
		return res.Val.(addrcache.Endpoint), nil
	}
}

// Forget drops the cached endpoint for a site.
func (r *Resolver) Forget(ctx context.Context, siteID int64) error {
	return r.cache.Delete(ctx, siteID)
}
