package indicator

import (
	"context"
	"fmt"
	"strconv"

	"stochroc/internal/model"
)

// Indicator type names accepted in configuration.
const (
	TypeMin       = "MIN"
	TypeMax       = "MAX"
	TypeFastStoch = "FAST_STOCH"
	TypeROC       = "ROC"
)

// IndicatorConfig specifies a single indicator to compute.
type IndicatorConfig struct {
	Type   string `json:"type"`
	Length uint32 `json:"length"`
}

// Key returns "TYPE_LENGTH", the result name and the identity used to match
// state across reloads and restores.
func (c IndicatorConfig) Key() string {
	return c.Type + "_" + strconv.FormatUint(uint64(c.Length), 10)
}

// TFIndicatorConfig groups indicator configs for a specific timeframe.
type TFIndicatorConfig struct {
	TF         int               `json:"tf"` // timeframe in seconds
	Indicators []IndicatorConfig `json:"indicators"`
}

// New constructs a fresh indicator for cfg.
func New(cfg IndicatorConfig) (Indicator, error) {
	switch cfg.Type {
	case TypeMin:
		return NewMinimum(cfg.Length)
	case TypeMax:
		return NewMaximum(cfg.Length)
	case TypeFastStoch:
		return NewFastStochastic(cfg.Length)
	case TypeROC:
		return NewRateOfChange(cfg.Length)
	}
	return nil, fmt.Errorf("unknown indicator type %q: %w", cfg.Type, ErrInvalidParameter)
}

// tokenIndicators holds live indicator instances for one token within a TF.
type tokenIndicators struct {
	indicators []Indicator
	configs    []IndicatorConfig
}

// Engine computes multiple indicators across multiple TFs for multiple tokens.
// Designed for single-goroutine usage; no locks.
type Engine struct {
	configs []TFIndicatorConfig
	tfIndex map[int]int

	// state[tfIdx][tokenKey] → *tokenIndicators
	state []map[string]*tokenIndicators

	// indicators whose snapshot was rejected by RestoreEngine
	restoreFailures int
}

// NewEngine creates an indicator engine with the given per-TF indicator configs.
func NewEngine(configs []TFIndicatorConfig) (*Engine, error) {
	if err := ValidateConfigs(configs); err != nil {
		return nil, err
	}
	state := make([]map[string]*tokenIndicators, len(configs))
	for i := range state {
		state[i] = make(map[string]*tokenIndicators, 64)
	}
	e := &Engine{
		configs: configs,
		state:   state,
	}
	e.rebuildIndex()
	return e, nil
}

func (e *Engine) rebuildIndex() {
	e.tfIndex = make(map[int]int, len(e.configs))
	for i, cfg := range e.configs {
		e.tfIndex[cfg.TF] = i
	}
}

// RestoreFailures returns how many indicator instances RestoreEngine had to
// cold-start because their snapshot was rejected.
func (e *Engine) RestoreFailures() int { return e.restoreFailures }

// Configs returns the active per-TF configuration.
func (e *Engine) Configs() []TFIndicatorConfig { return e.configs }

// Process feeds a finalized candle into every indicator configured for its
// TF and token, returning one result per indicator. Candles for an
// unconfigured TF return nil.
func (e *Engine) Process(c model.Candle) []model.IndicatorResult {
	tfIdx, ok := e.tfIndex[c.TF]
	if !ok {
		return nil
	}

	key := c.Key()
	ti, exists := e.state[tfIdx][key]
	if !exists {
		// Configs were validated, so construction cannot fail here.
		ti, _ = e.createTokenIndicators(tfIdx)
		e.state[tfIdx][key] = ti
	}

	results := make([]model.IndicatorResult, 0, len(ti.indicators))
	for i, ind := range ti.indicators {
		ind.Update(c)
		results = append(results, model.IndicatorResult{
			Name:     ti.configs[i].Key(),
			Token:    c.Token,
			Exchange: c.Exchange,
			TF:       c.TF,
			Value:    ind.Value(),
			TS:       c.TS,
			Ready:    ind.Ready(),
		})
	}
	return results
}

// Reset returns every indicator of one token on one TF to its initial state.
// Reports whether the token was known.
func (e *Engine) Reset(tf int, key string) bool {
	tfIdx, ok := e.tfIndex[tf]
	if !ok {
		return false
	}
	ti, ok := e.state[tfIdx][key]
	if !ok {
		return false
	}
	for _, ind := range ti.indicators {
		ind.Reset()
	}
	return true
}

// Tokens returns the number of token states held across all TFs.
func (e *Engine) Tokens() int {
	n := 0
	for _, m := range e.state {
		n += len(m)
	}
	return n
}

// Run consumes candles and emits indicator results. Blocks until ctx is done
// or in is closed.
func (e *Engine) Run(ctx context.Context, in <-chan model.Candle, out chan<- model.IndicatorResult) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-in:
			if !ok {
				return
			}
			if c.Forming {
				continue
			}
			for _, r := range e.Process(c) {
				select {
				case out <- r:
				default:
					// drop if channel full
				}
			}
		}
	}
}

// createTokenIndicators creates fresh indicator instances for a TF config.
func (e *Engine) createTokenIndicators(tfIdx int) (*tokenIndicators, error) {
	cfg := e.configs[tfIdx]
	inds := make([]Indicator, len(cfg.Indicators))
	for i, ic := range cfg.Indicators {
		ind, err := New(ic)
		if err != nil {
			return nil, err
		}
		inds[i] = ind
	}
	return &tokenIndicators{
		indicators: inds,
		configs:    cfg.Indicators,
	}, nil
}
