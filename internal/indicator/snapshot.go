package indicator

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
)

// Float is a float64 that survives JSON round trips even when non-finite.
// Window sentinels are ±Inf and outputs may be NaN, which encoding/json rejects.
type Float float64

func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	switch {
	case math.IsNaN(v):
		return []byte(`"NaN"`), nil
	case math.IsInf(v, 1):
		return []byte(`"+Inf"`), nil
	case math.IsInf(v, -1):
		return []byte(`"-Inf"`), nil
	}
	return strconv.AppendFloat(nil, v, 'g', -1, 64), nil
}

func (f *Float) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("indicator: bad float %q: %w", s, err)
		}
		*f = Float(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = Float(v)
	return nil
}

func toFloats(in []float64) []Float {
	out := make([]Float, len(in))
	for i, v := range in {
		out[i] = Float(v)
	}
	return out
}

// Snapshottable is implemented by indicators that support state serialization.
type Snapshottable interface {
	Indicator
	Snapshot() IndicatorSnapshot
	RestoreFromSnapshot(snap IndicatorSnapshot) error
}

// WindowSnapshot is the serialized state of one extremum window.
type WindowSnapshot struct {
	Slots    []Float `json:"slots"`
	Cursor   int     `json:"cursor"`
	Extremum int     `json:"extremum"`
	Count    int     `json:"count"`
}

// IndicatorSnapshot holds the serialized state of a single indicator instance.
type IndicatorSnapshot struct {
	Type    string `json:"type"` // "MIN", "MAX", "FAST_STOCH", "ROC"
	Length  uint32 `json:"length"`
	Current Float  `json:"current"`

	// MIN, MAX, FAST_STOCH
	Min *WindowSnapshot `json:"min,omitempty"`
	Max *WindowSnapshot `json:"max,omitempty"`

	// ROC: retained prices oldest first
	Queue []Float `json:"queue,omitempty"`
	Count int     `json:"count,omitempty"`
}

func (w *window) snapshot() *WindowSnapshot {
	return &WindowSnapshot{
		Slots:    toFloats(w.slots),
		Cursor:   w.cursor,
		Extremum: w.extremum,
		Count:    w.count,
	}
}

func (w *window) restore(snap *WindowSnapshot) error {
	if snap == nil {
		return fmt.Errorf("missing window state")
	}
	n := len(w.slots)
	if len(snap.Slots) != n {
		return fmt.Errorf("window size %d, snapshot has %d slots", n, len(snap.Slots))
	}
	if snap.Cursor < 0 || snap.Cursor >= n || snap.Extremum < 0 || snap.Extremum >= n {
		return fmt.Errorf("window index out of range (cursor=%d, extremum=%d)", snap.Cursor, snap.Extremum)
	}
	for i, v := range snap.Slots {
		w.slots[i] = float64(v)
	}
	w.cursor = snap.Cursor
	w.count = min(snap.Count, n)
	// The cached index is derived state; recompute it rather than trust it.
	w.rescan()
	return nil
}

func checkSnapshot(snap IndicatorSnapshot, typ string, length uint32) error {
	if snap.Type != typ || snap.Length != length {
		return fmt.Errorf("snapshot %s(%d) does not match %s(%d)", snap.Type, snap.Length, typ, length)
	}
	return nil
}

// Snapshot serializes the Minimum state for checkpoint persistence.
func (m *Minimum) Snapshot() IndicatorSnapshot {
	return IndicatorSnapshot{Type: m.Name(), Length: m.Length(), Current: Float(m.current), Min: m.win.snapshot()}
}

// RestoreFromSnapshot restores Minimum state from a checkpoint.
func (m *Minimum) RestoreFromSnapshot(snap IndicatorSnapshot) error {
	if err := checkSnapshot(snap, m.Name(), m.Length()); err != nil {
		return err
	}
	if err := m.win.restore(snap.Min); err != nil {
		return err
	}
	m.current = float64(snap.Current)
	return nil
}

// Snapshot serializes the Maximum state for checkpoint persistence.
func (m *Maximum) Snapshot() IndicatorSnapshot {
	return IndicatorSnapshot{Type: m.Name(), Length: m.Length(), Current: Float(m.current), Max: m.win.snapshot()}
}

// RestoreFromSnapshot restores Maximum state from a checkpoint.
func (m *Maximum) RestoreFromSnapshot(snap IndicatorSnapshot) error {
	if err := checkSnapshot(snap, m.Name(), m.Length()); err != nil {
		return err
	}
	if err := m.win.restore(snap.Max); err != nil {
		return err
	}
	m.current = float64(snap.Current)
	return nil
}

// Snapshot serializes both trackers of the oscillator.
func (s *FastStochastic) Snapshot() IndicatorSnapshot {
	return IndicatorSnapshot{
		Type:    s.Name(),
		Length:  s.length,
		Current: Float(s.current),
		Min:     s.minimum.win.snapshot(),
		Max:     s.maximum.win.snapshot(),
	}
}

// RestoreFromSnapshot restores FastStochastic state from a checkpoint.
func (s *FastStochastic) RestoreFromSnapshot(snap IndicatorSnapshot) error {
	if err := checkSnapshot(snap, s.Name(), s.length); err != nil {
		return err
	}
	if err := s.minimum.win.restore(snap.Min); err != nil {
		return err
	}
	if err := s.maximum.win.restore(snap.Max); err != nil {
		s.minimum.Reset()
		return err
	}
	s.current = float64(snap.Current)
	return nil
}

// Snapshot serializes the ROC queue oldest first.
func (r *RateOfChange) Snapshot() IndicatorSnapshot {
	return IndicatorSnapshot{
		Type:    r.Name(),
		Length:  r.length,
		Current: Float(r.current),
		Queue:   toFloats(r.queue()),
		Count:   r.count,
	}
}

// RestoreFromSnapshot restores RateOfChange state from a checkpoint.
func (r *RateOfChange) RestoreFromSnapshot(snap IndicatorSnapshot) error {
	if err := checkSnapshot(snap, r.Name(), r.length); err != nil {
		return err
	}
	if len(snap.Queue) > int(r.length) {
		return fmt.Errorf("ROC(%d) snapshot holds %d prices", r.length, len(snap.Queue))
	}
	r.Reset()
	for _, v := range snap.Queue {
		r.pushBack(float64(v))
	}
	r.count = min(snap.Count, int(r.length)+1)
	r.current = float64(snap.Current)
	return nil
}

// TokenSnapshot holds indicator snapshots for a single token within a TF.
type TokenSnapshot struct {
	Token      string              `json:"token"`
	Exchange   string              `json:"exchange"`
	TF         int                 `json:"tf"`
	Indicators []IndicatorSnapshot `json:"indicators"`
}

// EngineSnapshot holds the full state of the indicator engine.
type EngineSnapshot struct {
	StreamID string          `json:"stream_id"` // highest stream ID folded into this state
	Tokens   []TokenSnapshot `json:"tokens"`
	Version  int             `json:"version"` // schema version for forward compat

	// Offsets holds the last processed entry ID per candle stream, so a
	// restart replays each stream from exactly where it stopped.
	Offsets map[string]string `json:"offsets,omitempty"`
}

const snapshotVersion = 2

// SnapshotEngine captures the full state of an indicator Engine.
func SnapshotEngine(e *Engine, streamID string) (*EngineSnapshot, error) {
	snap := &EngineSnapshot{
		StreamID: streamID,
		Version:  snapshotVersion,
	}

	for tfIdx, cfg := range e.configs {
		for tokenKey, ti := range e.state[tfIdx] {
			ts := TokenSnapshot{
				TF:         cfg.TF,
				Indicators: make([]IndicatorSnapshot, 0, len(ti.indicators)),
			}
			ts.Exchange, ts.Token = splitKey(tokenKey)

			for _, ind := range ti.indicators {
				si, ok := ind.(Snapshottable)
				if !ok {
					return nil, fmt.Errorf("indicator %s does not implement Snapshottable", ind)
				}
				ts.Indicators = append(ts.Indicators, si.Snapshot())
			}
			snap.Tokens = append(snap.Tokens, ts)
		}
	}

	return snap, nil
}

// RestoreEngine rebuilds an indicator Engine from a snapshot.
// Indicators are matched by Type+Length rather than by index: matching
// indicators get their state restored, new ones start cold, removed ones
// are skipped.
func RestoreEngine(configs []TFIndicatorConfig, snap *EngineSnapshot) (*Engine, error) {
	e, err := NewEngine(configs)
	if err != nil {
		return nil, err
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}

	for _, ts := range snap.Tokens {
		tfIdx, ok := e.tfIndex[ts.TF]
		if !ok {
			continue // TF no longer configured
		}

		ti, err := e.createTokenIndicators(tfIdx)
		if err != nil {
			return nil, err
		}

		snapLookup := make(map[string]IndicatorSnapshot, len(ts.Indicators))
		for _, indSnap := range ts.Indicators {
			snapLookup[IndicatorConfig{Type: indSnap.Type, Length: indSnap.Length}.Key()] = indSnap
		}

		restored, cold := 0, 0
		for i, ind := range ti.indicators {
			indSnap, found := snapLookup[ti.configs[i].Key()]
			if !found {
				cold++
				continue
			}
			si, ok := ind.(Snapshottable)
			if !ok {
				cold++
				continue
			}
			if err := si.RestoreFromSnapshot(indSnap); err != nil {
				slog.Warn("indicator restore failed, cold-starting",
					"component", "restorer", "indicator", ind.String(), "err", err)
				ind.Reset()
				e.restoreFailures++
				cold++
				continue
			}
			restored++
		}

		if cold > 0 {
			slog.Info("partial restore",
				"component", "restorer", "tf", ts.TF, "token", ts.Token,
				"restored", restored, "cold", cold)
		}

		// Same key as model.Candle.Key, including an empty exchange.
		e.state[tfIdx][ts.Exchange+":"+ts.Token] = ti
	}

	return e, nil
}

// splitKey splits "exchange:token"; a key without a colon is a bare token.
func splitKey(key string) (exchange, token string) {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return key[:i], key[i+1:]
	}
	return "", key
}
