package source

import (
	"io"
	"iter"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"
)

// FormatRSS covers RSS 0.9x/2.0 and Atom feeds
const FormatRSS = "rss"

// RSSAdapter reads RSS and Atom job feeds. Company and location come from
// unprefixed item elements (<company>, <location>) or a namespaced job
// extension (<job:company>).
type RSSAdapter struct {
	Fetcher
}

// NewRSSAdapter creates an RSS adapter that fetches with f
func NewRSSAdapter(f Fetcher) *RSSAdapter {
	return &RSSAdapter{Fetcher: f}
}

// Format implements Adapter
func (a *RSSAdapter) Format() string { return FormatRSS }

// Parse implements Adapter. The feed document is parsed whole; items are
// yielded one by one.
func (a *RSSAdapter) Parse(r io.Reader, cfg Config) iter.Seq2[RawRecord, error] {
	return func(yield func(RawRecord, error) bool) {
		feed, err := gofeed.NewParser().Parse(r)
		if err != nil {
			yield(RawRecord{}, asSourceError(cfg, FormatRSS, err))
			return
		}
		for _, item := range feed.Items {
			if item == nil {
				continue
			}
			if !yield(rssRecord(cfg, item), nil) {
				return
			}
		}
	}
}

func rssRecord(cfg Config, item *gofeed.Item) RawRecord {
	rec := RawRecord{
		Source:      cfg.Name,
		SourceURL:   cfg.URL,
		ExternalID:  item.GUID,
		Title:       item.Title,
		URL:         item.Link,
		Description: item.Description,
		PostedAt:    item.Published,
	}
	if rec.Description == "" {
		rec.Description = item.Content
	}
	if rec.PostedAt == "" {
		rec.PostedAt = item.Updated
	}
	if rec.PostedAt == "" && item.PublishedParsed != nil {
		rec.PostedAt = item.PublishedParsed.UTC().Format(time.RFC3339)
	}

	rec.Company = itemField(item, "company", "company_name", "companyname", "hiringorganization")
	rec.Location = itemField(item, "location", "region", "joblocation")
	if rec.Company == "" && item.Author != nil {
		rec.Company = item.Author.Name
	}
	return rec
}

// itemField looks a value up in unknown elements, then in namespaced extensions
func itemField(item *gofeed.Item, names ...string) string {
	for _, name := range names {
		for k, v := range item.Custom {
			if strings.EqualFold(k, name) && strings.TrimSpace(v) != "" {
				return v
			}
		}
	}
	for _, name := range names {
		if v := extensionValue(item.Extensions, name); v != "" {
			return v
		}
	}
	return ""
}

func extensionValue(exts ext.Extensions, name string) string {
	for _, byName := range exts {
		for k, values := range byName {
			if !strings.EqualFold(k, name) {
				continue
			}
			for _, v := range values {
				if strings.TrimSpace(v.Value) != "" {
					return v.Value
				}
			}
		}
	}
	return ""
}
