package lockstep

import (
	"time"

	"warfront.io/internal/netstats"
)

// DelayController owns the scheduling delay for local commands. Each
// Recalculate moves the active delay at most one tick toward the target.
type DelayController struct {
	lo, hi int
	active int
	target int
	tick   time.Duration
}

func NewDelayController(initial, lo, hi int, tick time.Duration) *DelayController {
	d := &DelayController{lo: lo, hi: hi, tick: tick}
	d.active = d.clamp(initial)
	d.target = d.active
	return d
}

func (d *DelayController) Active() int { return d.active }
func (d *DelayController) Target() int { return d.target }

func (d *DelayController) Recalculate(st netstats.Stats) int {
	if st.Samples == 0 {
		return d.active
	}
	d.target = TargetDelay(st, d.tick, d.lo, d.hi)
	switch {
	case d.target > d.active:
		d.active++
	case d.target < d.active:
		d.active--
	}
	return d.active
}

// TargetDelay sizes the lead time to cover a one-way trip plus two jitter
// deviations, plus one tick of slack for frame alignment.
func TargetDelay(st netstats.Stats, tick time.Duration, lo, hi int) int {
	if tick <= 0 {
		return hi
	}
	need := st.AverageRTT/2 + 2*st.Jitter
	ticks := int((need+tick-1)/tick) + 1
	if ticks < lo {
		return lo
	}
	if ticks > hi {
		return hi
	}
	return ticks
}

func (d *DelayController) clamp(v int) int {
	if v < d.lo {
		return d.lo
	}
	if v > d.hi {
		return d.hi
	}
	return v
}
