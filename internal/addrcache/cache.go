// Package addrcache remembers the streaming endpoint resolved for each site.
package addrcache

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
)

var (
	// ErrNotFound is returned when no endpoint is cached for a site.
	ErrNotFound = errors.New("endpoint not cached")
)

// Endpoint is a resolved streaming server address.
type Endpoint struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Valid reports whether the endpoint can be dialed.
func (e Endpoint) Valid() bool {
	return e.Host != "" && e.Port > 0 && e.Port <= 65535
}

// Addr returns host:port.
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func (e Endpoint) String() string {
	return e.Addr()
}

// Cache is a site keyed endpoint store.
type Cache interface {
	// Get returns the endpoint for siteID or ErrNotFound.
	Get(ctx context.Context, siteID int64) (Endpoint, error)

	// Set stores the endpoint for siteID.
	Set(ctx context.Context, siteID int64, ep Endpoint) error

	// Delete drops the endpoint for siteID. Deleting a missing key is not an error.
	Delete(ctx context.Context, siteID int64) error

	// Close releases any resources held by the cache.
	Close() error
}

func siteKey(siteID int64) string {
	return fmt.Sprintf("site:%d", siteID)
}
