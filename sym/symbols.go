// Package sym defines the glyphs jobpulse attaches to log lines and CLI output.
// These symbols are stable across CLI output and structured logs.
package sym

// System markers
const (
	Pulse      = "꩜" // pulse: queue engine, workers, scheduler
	PulseOpen  = "✿" // graceful startup
	PulseClose = "❀" // graceful shutdown
	DB         = "⊔" // database operations
	IX         = "⨳" // ix: ingest/import external data
	AM         = "≡" // am: configuration
)
