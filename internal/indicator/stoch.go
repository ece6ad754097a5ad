package indicator

import "fmt"

// FastStochastic is the fast stochastic oscillator (%K): the position of the
// reference price within the range of the last n observations, scaled to
// [0, 100].
//
//	%K = (C - L) / (H - L) * 100
//
// A flat range (H == L) yields 50.
type FastStochastic struct {
	length  uint32
	minimum *Minimum
	maximum *Maximum
	current float64
}

// NewFastStochastic creates a FastStochastic over n observations.
func NewFastStochastic(n uint32) (*FastStochastic, error) {
	minimum, err := NewMinimum(n)
	if err != nil {
		return nil, err
	}
	maximum, err := NewMaximum(n)
	if err != nil {
		return nil, err
	}
	return &FastStochastic{
		length:  n,
		minimum: minimum,
		maximum: maximum,
	}, nil
}

// DefaultFastStochastic creates a FastStochastic with the conventional length of 14.
func DefaultFastStochastic() *FastStochastic {
	s, _ := NewFastStochastic(DefaultExtremumLength)
	return s
}

func (s *FastStochastic) Name() string   { return "FAST_STOCH" }
func (s *FastStochastic) Length() uint32 { return s.length }
func (s *FastStochastic) String() string { return fmt.Sprintf("FAST_STOCH(%d)", s.length) }

// Calc runs v through both trackers and returns its position in the range.
func (s *FastStochastic) Calc(v float64) float64 {
	lo := s.minimum.Calc(v)
	hi := s.maximum.Calc(v)
	s.current = percentK(v, lo, hi)
	return s.current
}

// Next tracks the high and low of bar and positions its close in that range.
func (s *FastStochastic) Next(bar Bar) float64 {
	hi := s.maximum.Next(bar)
	lo := s.minimum.Next(bar)
	s.current = percentK(bar.Close(), lo, hi)
	return s.current
}

func (s *FastStochastic) Update(bar Bar) { s.Next(bar) }

func (s *FastStochastic) Value() float64 { return s.current }
func (s *FastStochastic) Ready() bool    { return s.minimum.Ready() }

func (s *FastStochastic) Reset() {
	s.minimum.Reset()
	s.maximum.Reset()
	s.current = 0
}

func percentK(ref, lo, hi float64) float64 {
	if hi == lo {
		return 50.0
	}
	return (ref - lo) / (hi - lo) * 100.0
}
