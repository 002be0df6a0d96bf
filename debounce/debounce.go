// Package debounce turns noisy digital inputs sampled once per tick into
// clean press edges.
package debounce

// DefaultTicks is about 100ms at the 61Hz controller tick.
const DefaultTicks = 7

// Input filters one push button. A press is reported once, after the input
// has read asserted for the configured number of consecutive ticks. Release
// is immediate: the first de-asserted read clears the pending press.
type Input struct {
	ticks   int
	count   int
	pending bool
}

func New(ticks int) *Input {
	if ticks <= 0 {
		ticks = DefaultTicks
	}
	return &Input{ticks: ticks}
}

// Update samples the input level and reports whether a press edge occurred.
func (in *Input) Update(asserted bool) bool {
	if !asserted {
		in.count = 0
		in.pending = false
		return false
	}
	if in.pending {
		return false
	}
	in.count++
	if in.count < in.ticks {
		return false
	}
	in.pending = true
	return true
}

// Pressed reports whether a press is latched and not yet released.
func (in *Input) Pressed() bool {
	return in.pending
}
