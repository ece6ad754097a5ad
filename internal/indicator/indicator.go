// Package indicator provides streaming technical indicators over price bars.
//
// Every indicator consumes one observation per call and returns its new value
// synchronously. State is fixed-size and allocated once at construction, so
// updates are O(1) amortized with bounded memory. Instances are not safe for
// concurrent use; one goroutine owns each instance.
package indicator

import "errors"

// ErrInvalidParameter is returned by constructors when the window length is zero.
var ErrInvalidParameter = errors.New("indicator: invalid parameter")

// High is implemented by inputs exposing a high price.
type High interface {
	High() float64
}

// Low is implemented by inputs exposing a low price.
type Low interface {
	Low() float64
}

// Close is implemented by inputs exposing a close price.
type Close interface {
	Close() float64
}

// Bar is the capability set the engine feeds into indicators.
type Bar interface {
	High
	Low
	Close
}

// Indicator is the interface the Engine drives for every configured indicator.
type Indicator interface {
	// Name returns the indicator type (e.g., "MIN", "FAST_STOCH").
	Name() string

	// Length returns the configured window length.
	Length() uint32

	// Update feeds a new bar and recalculates.
	Update(bar Bar)

	// Value returns the value produced by the last Update. 0 before any input.
	Value() float64

	// Ready returns true once a full window has been observed.
	Ready() bool

	// Reset returns the indicator to its post-construction state.
	Reset()

	// String returns a display label such as "MIN(14)".
	String() string
}

// Default window lengths.
const (
	DefaultExtremumLength = 14
	DefaultROCLength      = 9
)
