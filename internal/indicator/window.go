package indicator

import "math"

// direction selects which extremum a window tracks.
type direction int

const (
	lowest direction = iota
	highest
)

// sentinel is the value of an unfilled slot. It never wins a comparison
// against a real observation.
func (d direction) sentinel() float64 {
	if d == highest {
		return math.Inf(-1)
	}
	return math.Inf(1)
}

// atLeast reports whether a is at least as extreme as b.
func (d direction) atLeast(a, b float64) bool {
	if d == highest {
		return a >= b
	}
	return a <= b
}

// window is a fixed-capacity circular history that caches the index of its
// current extremum. window[extremum] is always the min (or max) of all slots.
type window struct {
	dir      direction
	slots    []float64
	cursor   int // most recently written slot
	extremum int
	count    int // observations seen, saturates at len(slots)
}

func newWindow(dir direction, n int) window {
	w := window{
		dir:   dir,
		slots: make([]float64, n),
	}
	w.reset()
	return w
}

// push overwrites the oldest slot with v and returns the extremum of the
// last len(slots) observations.
func (w *window) push(v float64) float64 {
	n := len(w.slots)
	next := w.cursor + 1
	if next == n {
		next = 0
	}
	prev := w.slots[w.extremum]
	evicted := w.extremum == next

	w.cursor = next
	w.slots[w.cursor] = v
	if w.count < n {
		w.count++
	}

	switch {
	case w.dir.atLeast(v, prev):
		// Ties move to the newest slot so an expiring duplicate never
		// masquerades as the survivor.
		w.extremum = w.cursor
	case evicted:
		w.rescan()
	}
	return w.slots[w.extremum]
}

// rescan walks the slots oldest to newest; the newest of equal extremes wins.
func (w *window) rescan() {
	n := len(w.slots)
	best := w.dir.sentinel()
	idx := w.cursor
	for k := 1; k <= n; k++ {
		i := (w.cursor + k) % n
		if w.dir.atLeast(w.slots[i], best) {
			best = w.slots[i]
			idx = i
		}
	}
	w.extremum = idx
}

func (w *window) value() float64 { return w.slots[w.extremum] }

func (w *window) full() bool { return w.count == len(w.slots) }

func (w *window) reset() {
	s := w.dir.sentinel()
	for i := range w.slots {
		w.slots[i] = s
	}
	w.cursor = len(w.slots) - 1
	w.extremum = w.cursor
	w.count = 0
}
