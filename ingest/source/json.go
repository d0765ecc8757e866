package source

import (
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/teranos/jobpulse/errors"
)

// FormatJSON covers JSON job APIs: a top-level array of listings or an
// object wrapping that array under one of envelopeKeys
const FormatJSON = "json"

var envelopeKeys = []string{"jobs", "data", "results", "items"}

// field aliases seen across public job APIs, matched case-insensitively
var (
	idKeys          = []string{"id", "guid", "slug", "job_id", "jobid"}
	titleKeys       = []string{"title", "position", "jobtitle", "job_title", "name"}
	companyKeys     = []string{"company", "company_name", "companyname", "employer"}
	locationKeys    = []string{"location", "candidate_required_location", "jobgeo", "region"}
	urlKeys         = []string{"url", "link", "apply_url", "joburl"}
	descriptionKeys = []string{"description", "jobdescription", "job_description", "content"}
	dateKeys        = []string{"date", "posted_at", "published", "pubdate", "publication_date", "created_at", "epoch"}
)

// JSONAdapter decodes listings one array element at a time, so a large
// response is never held as a whole document.
type JSONAdapter struct {
	Fetcher
}

// NewJSONAdapter creates a JSON adapter that fetches with f
func NewJSONAdapter(f Fetcher) *JSONAdapter {
	return &JSONAdapter{Fetcher: f}
}

// Format implements Adapter
func (a *JSONAdapter) Format() string { return FormatJSON }

// Parse implements Adapter
func (a *JSONAdapter) Parse(r io.Reader, cfg Config) iter.Seq2[RawRecord, error] {
	return func(yield func(RawRecord, error) bool) {
		dec := json.NewDecoder(r)
		dec.UseNumber()

		fail := func(err error) {
			yield(RawRecord{}, asSourceError(cfg, FormatJSON, err))
		}

		if err := seekArray(dec); err != nil {
			fail(err)
			return
		}

		for dec.More() {
			var obj map[string]any
			if err := dec.Decode(&obj); err != nil {
				fail(errors.Wrap(err, "decode listing"))
				return
			}
			if !yield(jsonRecord(cfg, obj), nil) {
				return
			}
		}

		if _, err := dec.Token(); err != nil {
			fail(errors.Wrap(err, "read end of listing array"))
		}
	}
}

// seekArray positions dec just inside the listings array
func seekArray(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return errors.Wrap(err, "read document start")
	}
	switch tok {
	case json.Delim('['):
		return nil
	case json.Delim('{'):
	default:
		return errors.Newf("expected array or object, got %v", tok)
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return errors.Wrap(err, "read envelope key")
		}
		key, _ := keyTok.(string)
		if isEnvelopeKey(key) {
			tok, err := dec.Token()
			if err != nil {
				return errors.Wrapf(err, "read %q", key)
			}
			if tok != json.Delim('[') {
				return errors.Newf("envelope key %q is not an array", key)
			}
			return nil
		}
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return errors.Wrapf(err, "skip %q", key)
		}
	}
	return errors.Newf("object has no listings array (looked for %v)", envelopeKeys)
}

func isEnvelopeKey(key string) bool {
	for _, k := range envelopeKeys {
		if strings.EqualFold(k, key) {
			return true
		}
	}
	return false
}

func jsonRecord(cfg Config, obj map[string]any) RawRecord {
	return RawRecord{
		Source:      cfg.Name,
		SourceURL:   cfg.URL,
		ExternalID:  lookup(obj, idKeys),
		Title:       lookup(obj, titleKeys),
		Company:     lookup(obj, companyKeys),
		Location:    lookup(obj, locationKeys),
		URL:         lookup(obj, urlKeys),
		Description: lookup(obj, descriptionKeys),
		PostedAt:    lookup(obj, dateKeys),
	}
}

func lookup(obj map[string]any, keys []string) string {
	for _, want := range keys {
		for k, v := range obj {
			if !strings.EqualFold(k, want) {
				continue
			}
			if s := stringify(v); s != "" {
				return s
			}
		}
	}
	return ""
}

// stringify flattens scalars, {"name": ...} objects and arrays of either
func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		// epoch seconds stay numeric strings; the normalizer decides
		return x.String()
	case bool:
		return fmt.Sprint(x)
	case map[string]any:
		return lookup(x, []string{"name", "display_name", "title"})
	case []any:
		parts := make([]string, 0, len(x))
		for _, e := range x {
			if s := stringify(e); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprint(x)
	}
}
