package indicator

import (
	"fmt"
	"log/slog"
)

// ReloadConfigs swaps in new configurations, preserving state for indicators
// whose Type+Length already exist so warm windows survive adding an
// indicator. Returns the number of preserved token states and the number of
// TFs that gained cold indicators.
func (e *Engine) ReloadConfigs(newConfigs []TFIndicatorConfig) (preserved, created int, err error) {
	if err := ValidateConfigs(newConfigs); err != nil {
		return 0, 0, err
	}

	oldCfgByTF := make(map[int]TFIndicatorConfig, len(e.configs))
	oldStateByTF := make(map[int]map[string]*tokenIndicators, len(e.configs))
	for i, cfg := range e.configs {
		oldCfgByTF[cfg.TF] = cfg
		oldStateByTF[cfg.TF] = e.state[i]
	}

	newState := make([]map[string]*tokenIndicators, len(newConfigs))
	for i, newCfg := range newConfigs {
		oldCfg, tfExists := oldCfgByTF[newCfg.TF]
		oldTFState := oldStateByTF[newCfg.TF]

		if !tfExists || oldTFState == nil {
			newState[i] = make(map[string]*tokenIndicators, 64)
			created++
			slog.Info("new timeframe, cold-starting", "component", "reload", "tf", newCfg.TF)
			continue
		}

		if indicatorSetsEqual(oldCfg.Indicators, newCfg.Indicators) {
			// Keep the new ordering; instances are matched by key.
			migrated := make(map[string]*tokenIndicators, len(oldTFState))
			for tokenKey, oldTI := range oldTFState {
				migrated[tokenKey] = migrateTokenIndicators(oldTI, newCfg.Indicators)
			}
			newState[i] = migrated
			preserved += len(oldTFState)
			slog.Info("timeframe unchanged", "component", "reload", "tf", newCfg.TF, "tokens", len(oldTFState))
			continue
		}

		migrated := make(map[string]*tokenIndicators, len(oldTFState))
		for tokenKey, oldTI := range oldTFState {
			migrated[tokenKey] = migrateTokenIndicators(oldTI, newCfg.Indicators)
			preserved++
		}
		newState[i] = migrated
		created++
		slog.Info("timeframe migrated", "component", "reload", "tf", newCfg.TF, "tokens", len(migrated))
	}

	e.configs = newConfigs
	e.state = newState
	e.rebuildIndex()

	slog.Info("config reloaded", "component", "reload",
		"configs", len(newConfigs), "preserved", preserved, "created", created)
	return preserved, created, nil
}

// migrateTokenIndicators builds instances for newConfigs, reusing old ones
// that match by Type+Length. newConfigs must already be validated.
func migrateTokenIndicators(oldTI *tokenIndicators, newConfigs []IndicatorConfig) *tokenIndicators {
	oldByKey := make(map[string]Indicator, len(oldTI.indicators))
	for i, cfg := range oldTI.configs {
		oldByKey[cfg.Key()] = oldTI.indicators[i]
	}

	newInds := make([]Indicator, len(newConfigs))
	for i, cfg := range newConfigs {
		if existing, ok := oldByKey[cfg.Key()]; ok {
			newInds[i] = existing
			continue
		}
		newInds[i], _ = New(cfg)
	}

	return &tokenIndicators{
		indicators: newInds,
		configs:    newConfigs,
	}
}

// indicatorSetsEqual checks if two indicator config slices hold the same set
// of indicators, ignoring order.
func indicatorSetsEqual(a, b []IndicatorConfig) bool {
	if len(a) != len(b) {
		return false
	}
	setA := make(map[string]bool, len(a))
	for _, ic := range a {
		setA[ic.Key()] = true
	}
	for _, ic := range b {
		if !setA[ic.Key()] {
			return false
		}
	}
	return true
}

// ValidateConfigs checks a set of TFIndicatorConfigs for errors.
func ValidateConfigs(configs []TFIndicatorConfig) error {
	seen := make(map[int]bool, len(configs))
	for _, cfg := range configs {
		if cfg.TF <= 0 {
			return fmt.Errorf("invalid TF=%d: must be positive", cfg.TF)
		}
		if seen[cfg.TF] {
			return fmt.Errorf("duplicate TF=%d", cfg.TF)
		}
		seen[cfg.TF] = true

		dup := make(map[string]bool, len(cfg.Indicators))
		for _, ind := range cfg.Indicators {
			switch ind.Type {
			case TypeMin, TypeMax, TypeFastStoch, TypeROC:
			default:
				return fmt.Errorf("unknown indicator type %q for TF=%d: %w", ind.Type, cfg.TF, ErrInvalidParameter)
			}
			if ind.Length == 0 {
				return fmt.Errorf("zero length for %s on TF=%d: %w", ind.Type, cfg.TF, ErrInvalidParameter)
			}
			if dup[ind.Key()] {
				return fmt.Errorf("duplicate indicator %s on TF=%d", ind.Key(), cfg.TF)
			}
			dup[ind.Key()] = true
		}
	}
	return nil
}
