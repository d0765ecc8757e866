package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/jobpulse/errors"
	"github.com/teranos/jobpulse/ingest/source"
)

var fixedNow = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func newTestNormalizer() *Normalizer {
	return &Normalizer{Now: func() time.Time { return fixedNow }}
}

func validRaw() source.RawRecord {
	return source.RawRecord{
		Source:      "remoteok",
		SourceURL:   "https://remoteok.example/remote-jobs.rss",
		ExternalID:  " 4711 ",
		Title:       "  Senior   Go\nEngineer ",
		Company:     "Acme  Corp",
		Location:    "Remote",
		URL:         "https://remoteok.example/jobs/4711",
		Description: "<p>Build <b>pipelines</b></p><p>Ship&nbsp;often</p>",
		PostedAt:    "Mon, 02 Mar 2026 10:00:00 +0000",
	}
}

func TestNormalize_Valid(t *testing.T) {
	rec, err := newTestNormalizer().Normalize(validRaw())
	require.NoError(t, err)

	assert.Equal(t, "remoteok", rec.Source)
	assert.Equal(t, "4711", rec.ExternalID)
	assert.Equal(t, "Senior Go Engineer", rec.Title)
	assert.Equal(t, "Acme Corp", rec.Company)
	assert.Equal(t, "Build pipelines Ship often", rec.Description)
	assert.Equal(t, time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC), rec.PostedAt)
	assert.Equal(t, fixedNow, rec.FirstSeenAt)
	assert.Equal(t, fixedNow, rec.LastSeenAt)
	assert.Regexp(t, `^x:[0-9a-f]{64}$`, rec.DedupKey)
	assert.Len(t, rec.Fingerprint, 64)
}

func TestNormalize_ValidationErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*source.RawRecord)
		kind   errors.ValidationKind
		field  string
	}{
		{"blank title", func(r *source.RawRecord) { r.Title = "  " }, errors.ValidationMissingField, "title"},
		{"markup-only title", func(r *source.RawRecord) { r.Title = "<br/>" }, errors.ValidationMissingField, "title"},
		{"missing source", func(r *source.RawRecord) { r.Source = "" }, errors.ValidationMissingField, "source"},
		{"no identity", func(r *source.RawRecord) { r.ExternalID = ""; r.Company = "" }, errors.ValidationMissingField, "externalId"},
		{"bad date", func(r *source.RawRecord) { r.PostedAt = "last tuesday" }, errors.ValidationMalformedDate, "postedAt"},
		{"relative url", func(r *source.RawRecord) { r.URL = "/jobs/4711" }, errors.ValidationMalformedURL, "url"},
		{"javascript url", func(r *source.RawRecord) { r.URL = "javascript:alert(1)" }, errors.ValidationMalformedURL, "url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := validRaw()
			tt.mutate(&raw)

			_, err := newTestNormalizer().Normalize(raw)
			require.Error(t, err)
			var ve *errors.ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tt.kind, ve.Kind)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestNormalize_OptionalFields(t *testing.T) {
	raw := validRaw()
	raw.URL = ""
	raw.PostedAt = ""
	raw.Location = ""

	rec, err := newTestNormalizer().Normalize(raw)
	require.NoError(t, err)
	assert.True(t, rec.PostedAt.IsZero())
	assert.Empty(t, rec.URL)
}

func TestNormalize_NonBreakingSpacesCollapse(t *testing.T) {
	raw := validRaw()
	raw.Description = "Ship&nbsp;often&nbsp;&nbsp; and\u00a0well"

	rec, err := newTestNormalizer().Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, "Ship often and well", rec.Description)
	assert.NotContains(t, rec.Description, "\u00a0")
}

func TestDedupKey_StableAcrossRuns(t *testing.T) {
	n := newTestNormalizer()

	first, err := n.Normalize(validRaw())
	require.NoError(t, err)

	later := validRaw()
	later.Title = "Senior Go Engineer (updated)"
	later.Description = "new text"
	second, err := n.Normalize(later)
	require.NoError(t, err)

	assert.Equal(t, first.DedupKey, second.DedupKey, "external id wins over content")
	assert.NotEqual(t, first.Fingerprint, second.Fingerprint)

	other := validRaw()
	other.Source = "jobicy"
	third, err := n.Normalize(other)
	require.NoError(t, err)
	assert.NotEqual(t, first.DedupKey, third.DedupKey, "keys are scoped by source")
}

func TestDedupKey_ContentDerived(t *testing.T) {
	n := newTestNormalizer()

	a := validRaw()
	a.ExternalID = ""
	b := a
	b.Title = "SENIOR GO ENGINEER"
	b.Company = "acme corp"
	b.Description = "different body"

	ra, err := n.Normalize(a)
	require.NoError(t, err)
	rb, err := n.Normalize(b)
	require.NoError(t, err)

	assert.Regexp(t, `^c:`, ra.DedupKey)
	assert.Equal(t, ra.DedupKey, rb.DedupKey, "content keys ignore case and description")

	c := a
	c.Location = "Berlin"
	rc, err := n.Normalize(c)
	require.NoError(t, err)
	assert.NotEqual(t, ra.DedupKey, rc.DedupKey)
}

func TestFingerprint_IgnoresSeenTimes(t *testing.T) {
	raw := validRaw()
	a, err := (&Normalizer{Now: func() time.Time { return fixedNow }}).Normalize(raw)
	require.NoError(t, err)
	b, err := (&Normalizer{Now: func() time.Time { return fixedNow.Add(time.Hour) }}).Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, a.Fingerprint, b.Fingerprint)
}

func TestParsePostedAt(t *testing.T) {
	want := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2026-03-02T10:00:00Z", want},
		{"2026-03-02T11:00:00+01:00", want},
		{"Mon, 02 Mar 2026 10:00:00 +0000", want},
		{"Mon, 2 Mar 2026 10:00:00 +0000", want},
		{"02 Mar 26 10:00 +0000", want},
		{"2026-03-02 10:00:00", want},
		{"2026-03-02", time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)},
		{"1772445600", want},
		{"", time.Time{}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePostedAt(tt.in)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
		})
	}

	_, err := ParsePostedAt("03/02/2026")
	assert.Error(t, err)
}

func TestStripHTML(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain text", "plain text"},
		{"<p>one</p><p>two</p>", " one  two "},
		{"a<br>b", "a b"},
		{"R&amp;D &lt;3", "R&D <3"},
		{"<script>alert(1)</script>safe", "safe"},
		{"<style>p{}</style><b>bold</b>", "bold"},
		{"<ul><li>Go</li><li>SQL</li></ul>", "  Go  SQL  "},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StripHTML(tt.in), tt.in)
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "héll", truncate("héllo", 4))
	assert.Equal(t, "hi", truncate("hi", 4))
}
