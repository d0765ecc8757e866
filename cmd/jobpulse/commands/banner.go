package commands

import (
	"fmt"

	"github.com/teranos/jobpulse/am"
	"github.com/teranos/jobpulse/sym"
	"github.com/teranos/jobpulse/version"
)

// printStartupBanner prints the user-facing startup summary
func printStartupBanner(cfg *am.Config, dbPath, configPath string) {
	green := "\033[32m"
	cyan := "\033[36m"
	bold := "\033[1m"
	reset := "\033[0m"

	info := version.Get()
	sources := cfg.EnabledSources()

	fmt.Printf("\n%s%s   %s jobpulse %s%s\n\n", cyan, bold, sym.Pulse, info.Version, reset)

	fmt.Printf("%s%s┌─ jobpulse ───────────────────────────────────────────┐%s\n", green, bold, reset)
	fmt.Printf("%s│%s Version:   %s (commit %s)\n", green, reset, info.Version, info.Short())
	fmt.Printf("%s│%s Database:  %s\n", green, reset, dbPath)
	if configPath != "" {
		fmt.Printf("%s│%s Config:    %s (watched)\n", green, reset, configPath)
	}
	fmt.Printf("%s│%s API:       http://localhost:%d/api/import\n", green, reset, cfg.ServerPort())
	fmt.Printf("%s│%s Workers:   %d\n", green, reset, cfg.Pulse.Workers)
	fmt.Printf("%s│%s Interval:  %s (auto start: %t)\n", green, reset, cfg.ImportInterval(), cfg.Import.AutoStart)
	fmt.Printf("%s│%s Sources:   %d enabled\n", green, reset, len(sources))
	for _, src := range sources {
		fmt.Printf("%s│%s   %s %-12s %s (%s)\n", green, reset, sym.IX, src.Name, src.URL, src.Format)
	}
	fmt.Printf("%s└──────────────────────────────────────────────────────┘%s\n\n", green, reset)
}
