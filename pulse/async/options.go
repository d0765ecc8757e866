package async

import (
	"strings"

	"github.com/teranos/jobpulse/errors"
)

// TriggerType records what asked for an import run
type TriggerType string

const (
	TriggerManual TriggerType = "manual"
	TriggerCron   TriggerType = "cron"
	TriggerAPI    TriggerType = "api"
)

// Option bounds
const (
	MinPriority    = -100
	MaxPriority    = 100
	MinConcurrency = 1
	MaxConcurrency = 16
	MinBatchSize   = 1
	MaxBatchSize   = 1000

	DefaultBatchSize   = 100
	DefaultConcurrency = 3
)

// TriggerOptions are the caller-supplied parameters of an import run
type TriggerOptions struct {
	Priority    int         `json:"priority"`
	Concurrency int         `json:"concurrency"`
	BatchSize   int         `json:"batchSize"`
	Sources     []string    `json:"sources,omitempty"`
	TriggerType TriggerType `json:"triggerType,omitempty"`
	TriggeredBy string      `json:"triggeredBy,omitempty"`
}

// WithDefaults fills zero-valued fields. Priority 0 is already the default.
func (o TriggerOptions) WithDefaults(concurrency, batchSize int) TriggerOptions {
	if o.Concurrency == 0 {
		o.Concurrency = concurrency
		if o.Concurrency == 0 {
			o.Concurrency = DefaultConcurrency
		}
	}
	if o.BatchSize == 0 {
		o.BatchSize = batchSize
		if o.BatchSize == 0 {
			o.BatchSize = DefaultBatchSize
		}
	}
	if o.TriggerType == "" {
		o.TriggerType = TriggerManual
	}
	if strings.TrimSpace(o.TriggeredBy) == "" {
		o.TriggeredBy = "system"
	}

	seen := make(map[string]bool, len(o.Sources))
	sources := o.Sources[:0:0]
	for _, s := range o.Sources {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		sources = append(sources, s)
	}
	o.Sources = sources
	return o
}

// Validate checks the options against their bounds. Errors wrap ErrInvalidRequest.
func (o TriggerOptions) Validate() error {
	var problems []string
	if o.Priority < MinPriority || o.Priority > MaxPriority {
		problems = append(problems, "priority must be between -100 and 100")
	}
	if o.Concurrency < MinConcurrency || o.Concurrency > MaxConcurrency {
		problems = append(problems, "concurrency must be between 1 and 16")
	}
	if o.BatchSize < MinBatchSize || o.BatchSize > MaxBatchSize {
		problems = append(problems, "batchSize must be between 1 and 1000")
	}
	switch o.TriggerType {
	case TriggerManual, TriggerCron, TriggerAPI:
	default:
		problems = append(problems, "triggerType must be one of manual, cron, api")
	}
	if len(problems) == 0 {
		return nil
	}
	return errors.Wrap(errors.ErrInvalidRequest, strings.Join(problems, "; "))
}
