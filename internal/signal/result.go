package signal

import "time"

// EvaluationResult is the outcome of a single layer evaluation. Diagnostics
// carry the derived statistic and the thresholds that were actually applied
// so downstream tooling can explain the grade.
type EvaluationResult struct {
	Level       Level              `json:"level"`
	Diagnostics map[string]float64 `json:"diagnostics,omitempty"`
}

// NoneResult builds a LevelNone result with the given diagnostics.
func NoneResult(diags map[string]float64) EvaluationResult {
	return EvaluationResult{Level: LevelNone, Diagnostics: diags}
}

// InsufficientData marks a result that could not be computed for lack of
// history. Partial data is an expected steady-state condition, so this is a
// soft signal, never an error.
func InsufficientData(reason float64) EvaluationResult {
	return EvaluationResult{
		Level:       LevelNone,
		Diagnostics: map[string]float64{"insufficient_data": reason},
	}
}

// ConfluenceResult is the per-asset aggregate: the overall level plus the
// per-layer levels and diagnostics that produced it. JSON-serializable for
// the alerting collaborators.
type ConfluenceResult struct {
	Asset       string                     `json:"asset"`
	Timestamp   time.Time                  `json:"timestamp"`
	Level       Level                      `json:"level"`
	Layers      map[Layer]Level            `json:"layers"`
	Diagnostics map[Layer]EvaluationResult `json:"layer_diagnostics,omitempty"`
	ActionCount int                        `json:"action_count"`
	WatchCount  int                        `json:"watch_count"`
	Dampened    bool                       `json:"dampened"`
}
