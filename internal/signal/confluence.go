package signal

import (
	"github.com/rs/zerolog/log"
)

// ConfluenceConfig is the global escalation policy shared by all assets.
type ConfluenceConfig struct {
	// WatchMin is the minimum number of layers at watch-or-better required
	// for an overall watch.
	WatchMin int `yaml:"watch_min" json:"watch_min"`
	// ActionMin is the minimum number of layers at watch-or-better required
	// for an overall action (at least one of them must itself be action).
	ActionMin int `yaml:"action_min" json:"action_min"`
	// AntiLiqFlip downgrades action to watch when a liquidation spike points
	// against the rest of the confluence.
	AntiLiqFlip bool `yaml:"anti_liq_flip" json:"anti_liq_flip"`
}

// DefaultConfluenceConfig returns the policy used when no config is supplied.
func DefaultConfluenceConfig() ConfluenceConfig {
	return ConfluenceConfig{WatchMin: 2, ActionMin: 3, AntiLiqFlip: true}
}

// Aggregate combines per-layer levels into the overall asset level.
//
// Escalation rules:
//   - action iff at least one layer is action AND (action+watch) >= ActionMin
//   - otherwise watch iff (action+watch) >= WatchMin, or any layer reached
//     action on its own (a standalone action never drops below watch)
//   - otherwise none
//
// With AntiLiqFlip enabled, a contrarian liquidation spike downgrades an
// action result to watch, never to none.
func Aggregate(levels map[Layer]Level, cfg ConfluenceConfig, liqDirectionConflict bool) (Level, int, int, bool) {
	actionCount, watchCount := 0, 0
	for _, lvl := range levels {
		switch lvl {
		case LevelAction:
			actionCount++
		case LevelWatch:
			watchCount++
		}
	}

	total := actionCount + watchCount
	overall := LevelNone
	switch {
	case actionCount >= 1 && total >= cfg.ActionMin:
		overall = LevelAction
	case total >= cfg.WatchMin || actionCount >= 1:
		overall = LevelWatch
	}

	dampened := false
	if overall == LevelAction && cfg.AntiLiqFlip && liqDirectionConflict {
		overall = LevelWatch
		dampened = true
		log.Debug().
			Int("action_count", actionCount).
			Int("watch_count", watchCount).
			Msg("Confluence dampened: contrarian liquidation spike")
	}

	return overall, actionCount, watchCount, dampened
}
