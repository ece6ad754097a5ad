package indicator

import "fmt"

// Minimum returns the lowest value over the last n observations.
// Update is O(1) amortized; only evicting the current minimum costs a scan.
type Minimum struct {
	win     window
	current float64
}

// NewMinimum creates a Minimum over a window of n observations.
func NewMinimum(n uint32) (*Minimum, error) {
	if n == 0 {
		return nil, ErrInvalidParameter
	}
	return &Minimum{win: newWindow(lowest, int(n))}, nil
}

// DefaultMinimum creates a Minimum with the conventional length of 14.
func DefaultMinimum() *Minimum {
	m, _ := NewMinimum(DefaultExtremumLength)
	return m
}

func (m *Minimum) Name() string   { return "MIN" }
func (m *Minimum) Length() uint32 { return uint32(len(m.win.slots)) }
func (m *Minimum) String() string { return fmt.Sprintf("MIN(%d)", len(m.win.slots)) }

// Calc feeds a scalar and returns the current minimum.
func (m *Minimum) Calc(v float64) float64 {
	m.current = m.win.push(v)
	return m.current
}

// Next feeds the low of in.
func (m *Minimum) Next(in Low) float64 { return m.Calc(in.Low()) }

func (m *Minimum) Update(bar Bar) { m.Next(bar) }

func (m *Minimum) Value() float64 { return m.current }
func (m *Minimum) Ready() bool    { return m.win.full() }

// Reset clears the window back to the sentinel without reallocating.
func (m *Minimum) Reset() {
	m.win.reset()
	m.current = 0
}

// Maximum returns the highest value over the last n observations.
type Maximum struct {
	win     window
	current float64
}

// NewMaximum creates a Maximum over a window of n observations.
func NewMaximum(n uint32) (*Maximum, error) {
	if n == 0 {
		return nil, ErrInvalidParameter
	}
	return &Maximum{win: newWindow(highest, int(n))}, nil
}

// DefaultMaximum creates a Maximum with the conventional length of 14.
func DefaultMaximum() *Maximum {
	m, _ := NewMaximum(DefaultExtremumLength)
	return m
}

func (m *Maximum) Name() string   { return "MAX" }
func (m *Maximum) Length() uint32 { return uint32(len(m.win.slots)) }
func (m *Maximum) String() string { return fmt.Sprintf("MAX(%d)", len(m.win.slots)) }

// Calc feeds a scalar and returns the current maximum.
func (m *Maximum) Calc(v float64) float64 {
	m.current = m.win.push(v)
	return m.current
}

// Next feeds the high of in.
func (m *Maximum) Next(in High) float64 { return m.Calc(in.High()) }

func (m *Maximum) Update(bar Bar) { m.Next(bar) }

func (m *Maximum) Value() float64 { return m.current }
func (m *Maximum) Ready() bool    { return m.win.full() }

// Reset clears the window back to the sentinel without reallocating.
func (m *Maximum) Reset() {
	m.win.reset()
	m.current = 0
}
