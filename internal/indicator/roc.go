package indicator

import "fmt"

// RateOfChange is the percentage change against the value n observations back.
//
//	ROC = (P(t) - P(t-n)) / P(t-n) * 100
//
// Until n observations have passed, the oldest value seen is the baseline.
// The first observation returns 0. A zero baseline is not guarded.
type RateOfChange struct {
	length uint32
	// preallocated queue of up to length+1 prices, oldest at head
	buf     []float64
	head    int
	size    int
	count   int // observations seen, saturates at length+1
	current float64
}

// NewRateOfChange creates a RateOfChange over n observations.
func NewRateOfChange(n uint32) (*RateOfChange, error) {
	if n == 0 {
		return nil, ErrInvalidParameter
	}
	return &RateOfChange{
		length: n,
		buf:    make([]float64, int(n)+1),
	}, nil
}

// DefaultRateOfChange creates a RateOfChange with the conventional length of 9.
func DefaultRateOfChange() *RateOfChange {
	r, _ := NewRateOfChange(DefaultROCLength)
	return r
}

func (r *RateOfChange) Name() string   { return "ROC" }
func (r *RateOfChange) Length() uint32 { return r.length }
func (r *RateOfChange) String() string { return fmt.Sprintf("ROC(%d)", r.length) }

// Calc feeds a price and returns its percentage change against the baseline.
func (r *RateOfChange) Calc(v float64) float64 {
	r.pushBack(v)
	if r.count <= int(r.length) {
		r.count++
	}

	if r.size == 1 {
		r.current = 0
		return r.current
	}

	var baseline float64
	if r.size > int(r.length) {
		baseline = r.popFront()
	} else {
		baseline = r.buf[r.head]
	}

	r.current = (v - baseline) / baseline * 100.0
	return r.current
}

// Next feeds the close of in.
func (r *RateOfChange) Next(in Close) float64 { return r.Calc(in.Close()) }

func (r *RateOfChange) Update(bar Bar) { r.Next(bar) }

func (r *RateOfChange) Value() float64 { return r.current }

// Ready is true once the baseline is exactly length observations back.
func (r *RateOfChange) Ready() bool { return r.count > int(r.length) }

// Reset empties the queue.
func (r *RateOfChange) Reset() {
	r.head = 0
	r.size = 0
	r.count = 0
	r.current = 0
}

func (r *RateOfChange) pushBack(v float64) {
	r.buf[(r.head+r.size)%len(r.buf)] = v
	r.size++
}

func (r *RateOfChange) popFront() float64 {
	v := r.buf[r.head]
	r.head = (r.head + 1) % len(r.buf)
	r.size--
	return v
}

// queue returns the retained prices oldest first.
func (r *RateOfChange) queue() []float64 {
	out := make([]float64, r.size)
	for i := range out {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}
