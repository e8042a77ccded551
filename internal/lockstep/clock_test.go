package lockstep

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClockRunsOneStepPerTick(t *testing.T) {
	fc := newFakeClock()
	c := NewClock(50*time.Millisecond, 250*time.Millisecond, 10, 30*time.Millisecond, fc.Now)
	c.Start(fc.Now())

	calls := 0
	step := func() bool { calls++; return true }

	fc.Advance(30 * time.Millisecond)
	require.Equal(t, 0, c.Advance(fc.Now(), step))
	fc.Advance(30 * time.Millisecond)
	require.Equal(t, 1, c.Advance(fc.Now(), step))
	fc.Advance(140 * time.Millisecond)
	require.Equal(t, 3, c.Advance(fc.Now(), step))
	require.Equal(t, 4, calls)
}

func TestClockCapsLongFrames(t *testing.T) {
	fc := newFakeClock()
	c := NewClock(50*time.Millisecond, 250*time.Millisecond, 10, time.Second, fc.Now)
	c.Start(fc.Now())

	fc.Advance(5 * time.Second)
	require.Equal(t, 5, c.Advance(fc.Now(), func() bool { return true }))
	fc.Advance(0)
	require.Equal(t, 0, c.Advance(fc.Now(), func() bool { return true }))
}

func TestClockLimitsStepsPerFrame(t *testing.T) {
	fc := newFakeClock()
	c := NewClock(10*time.Millisecond, 250*time.Millisecond, 4, time.Second, fc.Now)
	c.Start(fc.Now())

	fc.Advance(100 * time.Millisecond)
	require.Equal(t, 4, c.Advance(fc.Now(), func() bool { return true }))
	require.Equal(t, 4, c.Advance(fc.Now(), func() bool { return true }))
	require.Equal(t, 2, c.Advance(fc.Now(), func() bool { return true }))
}

func TestClockHoldsTimeWhenStepDeclines(t *testing.T) {
	fc := newFakeClock()
	c := NewClock(50*time.Millisecond, 250*time.Millisecond, 10, time.Second, fc.Now)
	c.Start(fc.Now())

	fc.Advance(100 * time.Millisecond)
	require.Equal(t, 0, c.Advance(fc.Now(), func() bool { return false }))
	require.Equal(t, 2, c.Advance(fc.Now(), func() bool { return true }))
}

func TestClockStopped(t *testing.T) {
	fc := newFakeClock()
	c := NewClock(50*time.Millisecond, 250*time.Millisecond, 10, time.Second, fc.Now)
	fc.Advance(time.Second)
	require.Equal(t, 0, c.Advance(fc.Now(), func() bool { return true }))

	c.Start(fc.Now())
	c.Stop()
	fc.Advance(time.Second)
	require.False(t, c.Running())
	require.Equal(t, 0, c.Advance(fc.Now(), func() bool { return true }))
}
