package source

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/teranos/jobpulse/errors"
	"github.com/teranos/jobpulse/internal/httpclient"
	"github.com/teranos/jobpulse/pulse/limit"
)

// DefaultFetchTimeout bounds a fetch whose Config carries no timeout
const DefaultFetchTimeout = 30 * time.Second

// HTTPFetcher fetches feeds over HTTP with per-host pacing and a deadline
// covering the whole exchange, body included.
type HTTPFetcher struct {
	client  *httpclient.SaferClient
	limiter *limit.HostLimiter
}

// NewHTTPFetcher creates a fetcher. A nil limiter disables pacing.
func NewHTTPFetcher(client *httpclient.SaferClient, limiter *limit.HostLimiter) *HTTPFetcher {
	if limiter == nil {
		limiter = limit.NewHostLimiter(0)
	}
	return &HTTPFetcher{client: client, limiter: limiter}
}

// Fetch returns the response body. Transport failures, including ones that
// surface while the body is read, are *errors.FetchError.
func (f *HTTPFetcher) Fetch(ctx context.Context, cfg Config) (io.ReadCloser, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)

	if err := f.limiter.Wait(ctx, cfg.URL); err != nil {
		cancel()
		return nil, transportError(ctx, cfg, err)
	}

	resp, err := f.client.Get(ctx, cfg.URL, cfg.Headers)
	if err != nil {
		cancel()
		return nil, transportError(ctx, cfg, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		cancel()
		return nil, &errors.FetchError{
			Kind:       errors.FetchHTTPStatus,
			Source:     cfg.Name,
			URL:        cfg.URL,
			StatusCode: resp.StatusCode,
			Err:        errors.Newf("unexpected status %s", http.StatusText(resp.StatusCode)),
		}
	}

	return &fetchBody{rc: resp.Body, ctx: ctx, cancel: cancel, cfg: cfg}, nil
}

// transportError maps a client error to a FetchError kind
func transportError(ctx context.Context, cfg Config, err error) error {
	kind := errors.FetchNetwork
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		kind = errors.FetchTimeout
	}
	return &errors.FetchError{Kind: kind, Source: cfg.Name, URL: cfg.URL, Err: err}
}

// fetchBody keeps the deadline alive until the body is closed
type fetchBody struct {
	rc     io.ReadCloser
	ctx    context.Context
	cancel context.CancelFunc
	cfg    Config
}

func (b *fetchBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if err != nil && err != io.EOF {
		return n, transportError(b.ctx, b.cfg, err)
	}
	return n, err
}

func (b *fetchBody) Close() error {
	defer b.cancel()
	return b.rc.Close()
}

// asSourceError returns err unchanged when it is already a FetchError raised
// mid-body, otherwise wraps it as a ParseError.
func asSourceError(cfg Config, format string, err error) error {
	var fetchErr *errors.FetchError
	if errors.As(err, &fetchErr) {
		return fetchErr
	}
	return &errors.ParseError{Source: cfg.Name, Format: format, Err: err}
}
