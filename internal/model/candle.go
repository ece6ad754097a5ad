package model

import (
	"encoding/json"
	"strconv"
	"time"
)

// Candle is a finalized (or forming) OHLC bar for one instrument and timeframe.
// It satisfies the indicator high/low/close capability.
type Candle struct {
	Token      string    `json:"token"`
	Exchange   string    `json:"exchange"`
	TF         int       `json:"tf"` // timeframe in seconds
	TS         time.Time `json:"ts"` // bucket start time (UTC, TF-aligned)
	OpenPrice  float64   `json:"open"`
	HighPrice  float64   `json:"high"`
	LowPrice   float64   `json:"low"`
	ClosePrice float64   `json:"close"`
	Volume     float64   `json:"volume"`
	Forming    bool      `json:"forming"` // true if bucket is still open
}

func (c Candle) High() float64  { return c.HighPrice }
func (c Candle) Low() float64   { return c.LowPrice }
func (c Candle) Close() float64 { return c.ClosePrice }

// Key returns "exchange:token".
func (c *Candle) Key() string {
	return c.Exchange + ":" + c.Token
}

// StreamKey returns the Redis stream key: "candle:{TF}s:{exchange}:{token}".
func (c *Candle) StreamKey() string {
	return CandleStreamKey(c.TF, c.Key())
}

// CandleStreamKey builds the stream key for a timeframe and "exchange:token" key.
func CandleStreamKey(tf int, key string) string {
	return "candle:" + strconv.Itoa(tf) + "s:" + key
}

// JSON returns the JSON-encoded candle.
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}
