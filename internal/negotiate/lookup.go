package negotiate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/zsiec/lookout/internal/addrcache"
	"github.com/zsiec/lookout/internal/logger"
	"github.com/zsiec/lookout/internal/stream"
	"github.com/zsiec/lookout/pkg/version"
)

// Lookup asks the side channel which streaming server serves a session.
type Lookup interface {
	Lookup(ctx context.Context, opts stream.ConnectionOptions) (addrcache.Endpoint, error)
}

// LookupFunc adapts a function to Lookup.
type LookupFunc func(ctx context.Context, opts stream.ConnectionOptions) (addrcache.Endpoint, error)

func (f LookupFunc) Lookup(ctx context.Context, opts stream.ConnectionOptions) (addrcache.Endpoint, error) {
	return f(ctx, opts)
}

// StatusError is a non-2xx lookup response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("lookup returned status %d", e.Code)
	}
	return fmt.Sprintf("lookup returned status %d: %s", e.Code, e.Body)
}

// Retryable reports whether the status is worth retrying.
func (e *StatusError) Retryable() bool {
	switch e.Code {
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
		http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}

func shouldRetry(_ *http.Response, err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return true
}

// HTTPLookupConfig configures HTTPLookup.
type HTTPLookupConfig struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	// BreakerDelay is how long the circuit stays open after tripping.
	BreakerDelay time.Duration
}

// HTTPLookup calls POST {base}/v-apiserver/REST/{site}/startlive|startarchive
// through a retry policy and a circuit breaker.
type HTTPLookup struct {
	baseURL  string
	client   *http.Client
	executor failsafe.Executor[*http.Response]
	breaker  circuitbreaker.CircuitBreaker[*http.Response]
	logger   logger.Logger
}

func NewHTTPLookup(cfg HTTPLookupConfig, log logger.Logger) *HTTPLookup {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 100 * time.Millisecond
	}
	if cfg.BreakerDelay <= 0 {
		cfg.BreakerDelay = 15 * time.Second
	}
	log = log.WithField("component", "lookup")

	retry := retrypolicy.NewBuilder[*http.Response]().
		WithBackoff(cfg.RetryDelay, 10*cfg.RetryDelay).
		WithMaxRetries(cfg.MaxRetries).
		WithJitterFactor(0.1).
		HandleIf(shouldRetry).
		Build()

	breaker := circuitbreaker.NewBuilder[*http.Response]().
		WithFailureThresholdRatio(5, 10).
		WithDelay(cfg.BreakerDelay).
		WithSuccessThreshold(1).
		HandleIf(shouldRetry).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			log.WithFields(map[string]interface{}{
				"from_state": e.OldState.String(),
				"to_state":   e.NewState.String(),
			}).Warn("Lookup circuit breaker state change")
		}).
		Build()

	return &HTTPLookup{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		client:   &http.Client{Timeout: cfg.Timeout},
		executor: failsafe.With[*http.Response](retry, breaker),
		breaker:  breaker,
		logger:   log,
	}
}

// BreakerOpen reports whether the lookup circuit is currently open.
func (h *HTTPLookup) BreakerOpen() bool {
	return h.breaker.IsOpen()
}

type lookupRequest struct {
	ChannelID        int64 `json:"channelid"`
	ResolutionHeight int   `json:"resolutionheight"`
	ResolutionWidth  int   `json:"resolutionwidth"`
	WithAudio        bool  `json:"withaudio"`
	StartTimestamp   int64 `json:"starttimestamp,omitempty"`
}

type lookupResponse struct {
	Result []struct {
		Address string     `json:"streamingserveraddresspublic"`
		Port    portNumber `json:"streamingserverport"`
	} `json:"result"`
}

// portNumber accepts a port encoded as a JSON number or string.
type portNumber int

func (p *portNumber) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*p = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid port %s: %w", data, err)
	}
	*p = portNumber(n)
	return nil
}

func (h *HTTPLookup) Lookup(ctx context.Context, opts stream.ConnectionOptions) (addrcache.Endpoint, error) {
	ts := opts.EffectiveTimestamp()
	action := "startlive"
	req := lookupRequest{
		ChannelID:        opts.ChannelID,
		ResolutionHeight: 1080,
		ResolutionWidth:  1920,
		WithAudio:        true,
	}
	if ts > 0 {
		action = "startarchive"
		req.StartTimestamp = ts
	}
	body, err := json.Marshal(req)
	if err != nil {
		return addrcache.Endpoint{}, fmt.Errorf("failed to marshal lookup request: %w", err)
	}
	url := fmt.Sprintf("%s/v-apiserver/REST/%d/%s", h.baseURL, opts.SiteID, action)

	resp, err := h.executor.WithContext(ctx).Get(func() (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("User-Agent", version.UserAgent())

		resp, err := h.client.Do(httpReq)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
		}
		return resp, nil
	})
	if err != nil {
		return addrcache.Endpoint{}, fmt.Errorf("endpoint lookup for site %d: %w", opts.SiteID, err)
	}
	defer resp.Body.Close()

	var out lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return addrcache.Endpoint{}, fmt.Errorf("failed to decode lookup response: %w", err)
	}
	if len(out.Result) == 0 {
		return addrcache.Endpoint{}, ErrNoEndpoint
	}

	ep := addrcache.Endpoint{Host: out.Result[0].Address, Port: int(out.Result[0].Port)}
	h.logger.WithFields(map[string]interface{}{
		"site_id":  opts.SiteID,
		"action":   action,
		"endpoint": ep.Addr(),
	}).Debug("Endpoint looked up")
	return ep, nil
}
