package model

import (
	"encoding/json"
	"math"
	"strconv"
	"time"
)

// IndicatorResult holds a computed indicator value for a specific token + TF.
type IndicatorResult struct {
	Name     string    `json:"name"` // e.g. "MIN_14", "FAST_STOCH_14", "ROC_9"
	Token    string    `json:"token"`
	Exchange string    `json:"exchange"`
	TF       int       `json:"tf"`
	Value    float64   `json:"value"`
	TS       time.Time `json:"ts"`    // candle timestamp that produced this value
	Ready    bool      `json:"ready"` // true once a full window has been observed
}

// Finite reports whether Value can be encoded as a JSON number.
// Indicators propagate IEEE results (zero ROC baseline, NaN input).
func (r *IndicatorResult) Finite() bool {
	return !math.IsNaN(r.Value) && !math.IsInf(r.Value, 0)
}

// StreamKey returns the Redis stream key: "ind:{name}:{TF}s:{exchange}:{token}".
func (r *IndicatorResult) StreamKey() string {
	return "ind:" + r.Name + ":" + strconv.Itoa(r.TF) + "s:" + r.Exchange + ":" + r.Token
}

// LatestKey returns the Redis key holding the latest value.
func (r *IndicatorResult) LatestKey() string {
	return "ind:" + r.Name + ":" + strconv.Itoa(r.TF) + "s:latest:" + r.Exchange + ":" + r.Token
}

// PubSubChannel returns the channel real-time subscribers listen on.
func (r *IndicatorResult) PubSubChannel() string {
	return "pub:" + r.StreamKey()
}

// JSON returns the JSON-encoded result. Non-finite values fail to encode
// and yield nil; callers check Finite first.
func (r *IndicatorResult) JSON() []byte {
	b, err := json.Marshal(r)
	if err != nil {
		return nil
	}
	return b
}
