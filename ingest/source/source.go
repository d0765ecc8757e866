// Package source reads raw job listings from external feeds.
//
// An Adapter knows one feed format. Stream pairs one fetch with one parse and
// yields records lazily; a stream is consumed once and never restarted.
package source

import (
	"context"
	"io"
	"iter"
	"time"

	"github.com/teranos/jobpulse/am"
)

// RawRecord is one listing as the feed presented it, before validation
type RawRecord struct {
	Source      string
	SourceURL   string
	ExternalID  string
	Title       string
	Company     string
	Location    string
	URL         string
	Description string
	PostedAt    string // unparsed; the normalizer owns date formats
}

// Config describes one configured feed
type Config struct {
	Name    string
	URL     string
	Format  string
	Timeout time.Duration
	Headers map[string]string
}

// ConfigFromAM converts a configured source, resolving its fetch timeout
func ConfigFromAM(cfg *am.Config, src am.SourceConfig) Config {
	return Config{
		Name:    src.Name,
		URL:     src.URL,
		Format:  src.Format,
		Timeout: cfg.FetchTimeout(src),
		Headers: src.Headers,
	}
}

// Fetcher performs the single outbound exchange for a feed
type Fetcher interface {
	Fetch(ctx context.Context, cfg Config) (io.ReadCloser, error)
}

// Adapter is the capability set of one feed format
type Adapter interface {
	Format() string
	Fetch(ctx context.Context, cfg Config) (io.ReadCloser, error)
	// Parse yields records in feed order. A failure is yielded as the final
	// element, after any records already produced.
	Parse(r io.Reader, cfg Config) iter.Seq2[RawRecord, error]
}

// Stream fetches cfg with a and yields its records
func Stream(ctx context.Context, a Adapter, cfg Config) iter.Seq2[RawRecord, error] {
	return func(yield func(RawRecord, error) bool) {
		body, err := a.Fetch(ctx, cfg)
		if err != nil {
			yield(RawRecord{}, err)
			return
		}
		defer body.Close()

		for rec, err := range a.Parse(body, cfg) {
			if !yield(rec, err) || err != nil {
				return
			}
		}
	}
}
