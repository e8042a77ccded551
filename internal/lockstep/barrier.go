package lockstep

import "time"

// barrier tracks how long the loop has been held on one tick.
type barrier struct {
	tick    uint64
	since   time.Time
	waiting bool
}

// wait reports how long tick has been held, and whether this call began the
// wait.
func (b *barrier) wait(tick uint64, now time.Time) (time.Duration, bool) {
	if !b.waiting || b.tick != tick {
		b.tick, b.since, b.waiting = tick, now, true
		return 0, true
	}
	return now.Sub(b.since), false
}

func (b *barrier) reset() { *b = barrier{} }
