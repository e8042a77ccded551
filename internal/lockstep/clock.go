package lockstep

import "time"

// Clock converts wall time into fixed simulation steps. Elapsed time per
// frame is capped at maxFrame, and a frame runs at most maxSteps steps or
// budget wall time, so a long stall drains over several frames.
type Clock struct {
	step     time.Duration
	maxFrame time.Duration
	maxSteps int
	budget   time.Duration
	now      func() time.Time

	running bool
	last    time.Time
	acc     time.Duration
}

func NewClock(step, maxFrame time.Duration, maxSteps int, budget time.Duration, now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{step: step, maxFrame: maxFrame, maxSteps: maxSteps, budget: budget, now: now}
}

func (c *Clock) Start(now time.Time) {
	c.running = true
	c.last = now
	c.acc = 0
}

func (c *Clock) Stop() {
	c.running = false
	c.acc = 0
}

func (c *Clock) Running() bool { return c.running }

// Advance accumulates the time since the previous call and invokes step once
// per due tick. step returns false to hold the remaining time (barrier); the
// accumulator keeps it for the next frame.
func (c *Clock) Advance(now time.Time, step func() bool) int {
	if !c.running {
		return 0
	}
	elapsed := now.Sub(c.last)
	c.last = now
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed > c.maxFrame {
		elapsed = c.maxFrame
	}
	c.acc += elapsed
	if c.acc > c.maxFrame {
		c.acc = c.maxFrame
	}

	start := c.now()
	n := 0
	for c.running && c.acc >= c.step && n < c.maxSteps {
		if n > 0 && c.now().Sub(start) >= c.budget {
			break
		}
		if !step() {
			break
		}
		c.acc -= c.step
		n++
	}
	return n
}
