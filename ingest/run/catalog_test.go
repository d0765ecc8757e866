package run

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/teranos/jobpulse/am"
	"github.com/teranos/jobpulse/ingest/source"
)

func TestCatalogResolve(t *testing.T) {
	c := NewCatalog([]source.Config{
		{Name: "remoteok", URL: "https://remoteok.example/feed", Format: "rss"},
		{Name: "jobicy", URL: "https://jobicy.example/api", Format: "json"},
	})

	all, unknown := c.Resolve(nil)
	assert.Len(t, all, 2)
	assert.Empty(t, unknown)

	some, unknown := c.Resolve([]string{"jobicy", "indeed"})
	assert.Len(t, some, 1)
	assert.Equal(t, "jobicy", some[0].Name)
	assert.Equal(t, []string{"indeed"}, unknown)

	assert.Equal(t, []string{"remoteok", "jobicy"}, c.Names())
}

func TestCatalogReload(t *testing.T) {
	cfg := &am.Config{
		Fetch: am.FetchConfig{TimeoutSeconds: 30},
		Import: am.ImportConfig{Sources: []am.SourceConfig{
			{Name: "remoteok", URL: "https://remoteok.example/feed", Format: "rss"},
			{Name: "jobicy", URL: "https://jobicy.example/api", Format: "json", Disabled: true},
		}},
	}
	c := CatalogFromAM(cfg)
	assert.Equal(t, []string{"remoteok"}, c.Names())
	assert.Equal(t, 30*time.Second, c.All()[0].Timeout)

	held := c.All()
	cfg.Import.Sources[1].Disabled = false
	c.Reload(cfg)
	assert.Equal(t, []string{"remoteok", "jobicy"}, c.Names())
	assert.Len(t, held, 1, "earlier snapshots are unaffected by reload")
}
