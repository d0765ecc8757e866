// Package store persists canonical job records. At most one record exists
// per (source, dedup key); writes are conditional so concurrent upserts of
// the same key cannot both win.
package store

import "time"

// JobRecord is the canonical, normalized form of a listing
type JobRecord struct {
	ID          int64     `json:"id"`
	Source      string    `json:"source"`
	SourceURL   string    `json:"sourceUrl,omitempty"`
	DedupKey    string    `json:"dedupKey"`
	ExternalID  string    `json:"externalId,omitempty"`
	Title       string    `json:"title"`
	Company     string    `json:"company,omitempty"`
	Location    string    `json:"location,omitempty"`
	URL         string    `json:"url,omitempty"`
	Description string    `json:"description,omitempty"`
	PostedAt    time.Time `json:"postedAt,omitempty"` // zero when the feed gave none
	Fingerprint string    `json:"fingerprint"`
	FirstSeenAt time.Time `json:"firstSeenAt"`
	LastSeenAt  time.Time `json:"lastSeenAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Key identifies a record for locking and lookups
func (r *JobRecord) Key() string {
	return r.Source + "\x00" + r.DedupKey
}
