// Package normalize turns raw feed records into canonical job records:
// cleaned text, parsed dates, a stable dedup key and a content fingerprint.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/teranos/jobpulse/errors"
	"github.com/teranos/jobpulse/ingest/source"
	"github.com/teranos/jobpulse/ingest/store"
)

// Field limits, in runes
const (
	MaxTitleLength       = 500
	MaxDescriptionLength = 16 * 1024
)

// Dedup key prefixes: x for external ids, c for content-derived keys
const (
	keyPrefixExternal = "x:"
	keyPrefixContent  = "c:"
)

// postedAtLayouts are tried in order; the first that parses wins
var postedAtLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Normalizer validates raw records. The zero value is ready to use.
type Normalizer struct {
	// Now stamps first/last seen times; defaults to time.Now
	Now func() time.Time
}

// New creates a Normalizer using the wall clock
func New() *Normalizer {
	return &Normalizer{Now: time.Now}
}

// Normalize validates raw and returns its canonical form, or a
// *errors.ValidationError naming the offending field.
func (n *Normalizer) Normalize(raw source.RawRecord) (store.JobRecord, error) {
	rec := store.JobRecord{
		Source:      collapse(raw.Source),
		SourceURL:   strings.TrimSpace(raw.SourceURL),
		ExternalID:  strings.TrimSpace(raw.ExternalID),
		Title:       truncate(collapse(StripHTML(raw.Title)), MaxTitleLength),
		Company:     collapse(raw.Company),
		Location:    collapse(raw.Location),
		URL:         strings.TrimSpace(raw.URL),
		Description: truncate(collapse(StripHTML(raw.Description)), MaxDescriptionLength),
	}

	if rec.Source == "" {
		return store.JobRecord{}, missing(rec.Source, "source")
	}
	if rec.Title == "" {
		return store.JobRecord{}, missing(rec.Source, "title")
	}
	if rec.ExternalID == "" && rec.Company == "" {
		// Without either there is nothing stable to identify the listing by
		return store.JobRecord{}, missing(rec.Source, "externalId")
	}

	if rec.URL != "" {
		if err := validateURL(rec.URL); err != nil {
			return store.JobRecord{}, &errors.ValidationError{
				Kind: errors.ValidationMalformedURL, Field: "url", Value: rec.URL, Source: rec.Source,
			}
		}
	}

	postedAt, err := ParsePostedAt(raw.PostedAt)
	if err != nil {
		return store.JobRecord{}, &errors.ValidationError{
			Kind: errors.ValidationMalformedDate, Field: "postedAt", Value: strings.TrimSpace(raw.PostedAt), Source: rec.Source,
		}
	}
	rec.PostedAt = postedAt

	rec.DedupKey = DedupKey(rec)
	rec.Fingerprint = Fingerprint(rec)

	now := n.now()
	rec.FirstSeenAt = now
	rec.LastSeenAt = now
	rec.UpdatedAt = now
	return rec, nil
}

func (n *Normalizer) now() time.Time {
	if n == nil || n.Now == nil {
		return time.Now().UTC()
	}
	return n.Now().UTC()
}

// DedupKey derives the stored identity of a normalized record. The same
// listing fetched again in a later run maps to the same key.
func DedupKey(rec store.JobRecord) string {
	if rec.ExternalID != "" {
		return keyPrefixExternal + digest(rec.Source, rec.ExternalID)
	}
	return keyPrefixContent + digest(
		rec.Source,
		strings.ToLower(rec.Title),
		strings.ToLower(rec.Company),
		strings.ToLower(rec.Location),
	)
}

// Fingerprint hashes the listing content; a changed fingerprint under the
// same dedup key is an update.
func Fingerprint(rec store.JobRecord) string {
	posted := ""
	if !rec.PostedAt.IsZero() {
		posted = rec.PostedAt.UTC().Format(time.RFC3339)
	}
	return digest(rec.Title, rec.Company, rec.Location, rec.URL, rec.Description, posted)
}

// ParsePostedAt accepts the date layouts feeds use in practice plus unix
// seconds. Empty input is the zero time.
func ParsePostedAt(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if isDigits(s) {
		secs, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return time.Time{}, errors.Wrapf(err, "parse unix time %q", s)
		}
		return time.Unix(secs, 0).UTC(), nil
	}
	for _, layout := range postedAtLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.Newf("unrecognized date %q", s)
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.Newf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

func missing(src, field string) error {
	return &errors.ValidationError{Kind: errors.ValidationMissingField, Field: field, Source: src}
}

func digest(parts ...string) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// collapse trims s and folds every whitespace run into one space
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
