package signal

import (
	"encoding/json"
	"fmt"
)

// Level is the graded anomaly signal emitted by every layer evaluator and by
// the confluence aggregator. The ordering None < Watch < Action is load-bearing:
// confluence comparisons rely on it.
type Level int

const (
	LevelNone Level = iota
	LevelWatch
	LevelAction
)

// String returns the wire representation used in JSON payloads and logs.
func (l Level) String() string {
	switch l {
	case LevelWatch:
		return "watch"
	case LevelAction:
		return "action"
	default:
		return "none"
	}
}

// ParseLevel converts a wire string back into a Level.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "none":
		return LevelNone, nil
	case "watch":
		return LevelWatch, nil
	case "action":
		return LevelAction, nil
	default:
		return LevelNone, fmt.Errorf("unknown signal level %q", s)
	}
}

// MarshalJSON encodes the level as its wire string.
func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// UnmarshalJSON decodes a wire string into the level.
func (l *Level) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseLevel(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// MaxLevel returns the stronger of two levels.
func MaxLevel(a, b Level) Level {
	if b > a {
		return b
	}
	return a
}

// Layer identifies one of the six evaluation layers.
type Layer string

const (
	LayerBias         Layer = "bias"
	LayerFunding      Layer = "funding"
	LayerOpenInterest Layer = "open_interest"
	LayerTakerRatio   Layer = "taker_ratio"
	LayerLiquidation  Layer = "liquidation"
	LayerETFFlow      Layer = "etf_flow"
)

// AllLayers lists every layer in evaluation order.
func AllLayers() []Layer {
	return []Layer{
		LayerBias,
		LayerFunding,
		LayerOpenInterest,
		LayerTakerRatio,
		LayerLiquidation,
		LayerETFFlow,
	}
}
