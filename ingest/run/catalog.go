package run

import (
	"sync"

	"github.com/teranos/jobpulse/am"
	"github.com/teranos/jobpulse/ingest/source"
)

// Catalog is the live list of enabled sources. It is replaced wholesale on
// config reload; runs already resolving keep the list they saw.
type Catalog struct {
	mu      sync.RWMutex
	sources []source.Config
}

// NewCatalog creates a catalog holding sources in order
func NewCatalog(sources []source.Config) *Catalog {
	c := &Catalog{}
	c.Set(sources)
	return c
}

// CatalogFromAM builds a catalog of the enabled sources in cfg
func CatalogFromAM(cfg *am.Config) *Catalog {
	c := &Catalog{}
	c.Reload(cfg)
	return c
}

// Reload replaces the catalog with the enabled sources in cfg
func (c *Catalog) Reload(cfg *am.Config) {
	enabled := cfg.EnabledSources()
	sources := make([]source.Config, 0, len(enabled))
	for _, src := range enabled {
		sources = append(sources, source.ConfigFromAM(cfg, src))
	}
	c.Set(sources)
}

// Set replaces the catalog
func (c *Catalog) Set(sources []source.Config) {
	cp := append([]source.Config(nil), sources...)
	c.mu.Lock()
	c.sources = cp
	c.mu.Unlock()
}

// All returns every source
func (c *Catalog) All() []source.Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]source.Config(nil), c.sources...)
}

// Names returns the source names in catalog order
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, len(c.sources))
	for i, s := range c.sources {
		names[i] = s.Name
	}
	return names
}

// Resolve maps requested names to sources. No names selects every source;
// names the catalog does not know are returned in unknown.
func (c *Catalog) Resolve(names []string) (sources []source.Config, unknown []string) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(names) == 0 {
		return append([]source.Config(nil), c.sources...), nil
	}

	byName := make(map[string]source.Config, len(c.sources))
	for _, s := range c.sources {
		byName[s.Name] = s
	}
	for _, name := range names {
		if s, ok := byName[name]; ok {
			sources = append(sources, s)
		} else {
			unknown = append(unknown, name)
		}
	}
	return sources, unknown
}
