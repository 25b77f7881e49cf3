package types

import "time"

// ModelCost is the token and currency accounting for calls to one model.
type ModelCost struct {
	Model        string  `json:"model" yaml:"model"`
	InputTokens  int     `json:"input_tokens" yaml:"input_tokens"`
	OutputTokens int     `json:"output_tokens" yaml:"output_tokens"`
	CostUSD      float64 `json:"cost_usd" yaml:"cost_usd"`
	CachedCalls  int     `json:"cached_calls,omitempty" yaml:"cached_calls,omitempty"`
}

// CostRecord aggregates per-model cost across a Task.
type CostRecord struct {
	ByModel []ModelCost `json:"by_model" yaml:"by_model"`
	TotalUSD float64    `json:"total_usd" yaml:"total_usd"`
}

// TimingRecord captures stage durations for a Task's trace summary.
type TimingRecord struct {
	StageDurations map[string]time.Duration `json:"stage_durations" yaml:"stage_durations"`
	TotalDuration  time.Duration            `json:"total_duration" yaml:"total_duration"`
}

// Result is the Task Supervisor's final output: the ordered Generated
// Sections, the set of papers referenced anywhere in those sections, and
// aggregate cost/timing accounting.
type Result struct {
	Sections        []GeneratedSection `json:"sections" yaml:"sections"`
	ReferencedPapers []PaperRecord     `json:"referenced_papers" yaml:"referenced_papers"`
	Cost            CostRecord         `json:"cost" yaml:"cost"`
	Timing          TimingRecord       `json:"timing" yaml:"timing"`
}
