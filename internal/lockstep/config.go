package lockstep

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Mode selects how ticks are gated on remote input.
type Mode string

const (
	// ModeLocal runs a single peer: commands apply immediately, nothing is sent.
	ModeLocal Mode = "local"
	// ModeAdaptive schedules commands ahead by the adaptive delay and never
	// blocks; a command that misses its tick escalates to desync.
	ModeAdaptive Mode = "adaptive"
	// ModeStrict additionally holds every tick until each expected player has
	// a command or heartbeat for it, up to LockstepTimeoutTicks.
	ModeStrict Mode = "strict"
)

// Bounds on the command delay. Below MinDelayFloor a command cannot reach a
// peer before its tick; above MaxDelayCeiling input lag is unplayable.
const (
	MinDelayFloor   = 2
	MaxDelayCeiling = 10
)

type Config struct {
	SessionID       string
	LocalPlayerID   string
	RemotePlayerIDs []string
	Mode            Mode

	TickRateHz       int
	MaxFrameTime     time.Duration
	MaxStepsPerFrame int
	FrameBudget      time.Duration

	InitialDelayTicks   int
	MinDelayTicks       int
	MaxDelayTicks       int
	DelayRecalcInterval int

	MaxFutureTicks       int
	LockstepTimeoutTicks int
	ChecksumInterval     int
	HistoryTicks         int
	ResyncTimeout        time.Duration
}

func DefaultConfig() Config {
	return Config{
		Mode:                 ModeStrict,
		TickRateHz:           20,
		MaxFrameTime:         250 * time.Millisecond,
		MaxStepsPerFrame:     10,
		FrameBudget:          30 * time.Millisecond,
		InitialDelayTicks:    4,
		MinDelayTicks:        2,
		MaxDelayTicks:        10,
		DelayRecalcInterval:  20,
		MaxFutureTicks:       100,
		LockstepTimeoutTicks: 10,
		ChecksumInterval:     20,
		HistoryTicks:         200,
		ResyncTimeout:        10 * time.Second,
	}
}

// Normalize fills zero values from DefaultConfig and canonicalizes ids.
func (c *Config) Normalize() {
	d := DefaultConfig()
	c.LocalPlayerID = strings.TrimSpace(c.LocalPlayerID)
	ids := c.RemotePlayerIDs[:0:0]
	for _, id := range c.RemotePlayerIDs {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	c.RemotePlayerIDs = ids
	if c.Mode == "" {
		c.Mode = d.Mode
	}
	if c.TickRateHz <= 0 {
		c.TickRateHz = d.TickRateHz
	}
	if c.MaxFrameTime <= 0 {
		c.MaxFrameTime = d.MaxFrameTime
	}
	if c.MaxStepsPerFrame <= 0 {
		c.MaxStepsPerFrame = d.MaxStepsPerFrame
	}
	if c.FrameBudget <= 0 {
		c.FrameBudget = d.FrameBudget
	}
	if c.MinDelayTicks <= 0 {
		c.MinDelayTicks = d.MinDelayTicks
	}
	if c.MaxDelayTicks <= 0 {
		c.MaxDelayTicks = d.MaxDelayTicks
	}
	if c.InitialDelayTicks <= 0 {
		c.InitialDelayTicks = d.InitialDelayTicks
	}
	if c.DelayRecalcInterval <= 0 {
		c.DelayRecalcInterval = d.DelayRecalcInterval
	}
	if c.MaxFutureTicks <= 0 {
		c.MaxFutureTicks = d.MaxFutureTicks
	}
	if c.LockstepTimeoutTicks <= 0 {
		c.LockstepTimeoutTicks = d.LockstepTimeoutTicks
	}
	if c.ChecksumInterval <= 0 {
		c.ChecksumInterval = d.ChecksumInterval
	}
	if c.HistoryTicks <= 0 {
		c.HistoryTicks = d.HistoryTicks
	}
	if c.ResyncTimeout <= 0 {
		c.ResyncTimeout = d.ResyncTimeout
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.LocalPlayerID == "" {
		errs = append(errs, errors.New("local player id is required"))
	}
	switch c.Mode {
	case ModeLocal:
		if len(c.RemotePlayerIDs) > 0 {
			errs = append(errs, errors.New("local mode takes no remote players"))
		}
	case ModeAdaptive, ModeStrict:
		if len(c.RemotePlayerIDs) == 0 {
			errs = append(errs, fmt.Errorf("%s mode needs at least one remote player", c.Mode))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown mode %q", c.Mode))
	}
	seen := map[string]bool{c.LocalPlayerID: true}
	for _, id := range c.RemotePlayerIDs {
		if seen[id] {
			errs = append(errs, fmt.Errorf("duplicate player id %q", id))
		}
		seen[id] = true
	}
	if c.TickRateHz > 1000 {
		errs = append(errs, fmt.Errorf("tick rate %d Hz out of range", c.TickRateHz))
	}
	if c.MinDelayTicks < MinDelayFloor {
		errs = append(errs, fmt.Errorf("min delay %d below %d ticks", c.MinDelayTicks, MinDelayFloor))
	}
	if c.MaxDelayTicks > MaxDelayCeiling {
		errs = append(errs, fmt.Errorf("max delay %d above %d ticks", c.MaxDelayTicks, MaxDelayCeiling))
	}
	if c.MinDelayTicks > c.MaxDelayTicks {
		errs = append(errs, fmt.Errorf("delay bounds inverted: min=%d max=%d", c.MinDelayTicks, c.MaxDelayTicks))
	}
	if c.InitialDelayTicks < c.MinDelayTicks || c.InitialDelayTicks > c.MaxDelayTicks {
		errs = append(errs, fmt.Errorf("initial delay %d outside [%d,%d]", c.InitialDelayTicks, c.MinDelayTicks, c.MaxDelayTicks))
	}
	if c.MaxFutureTicks <= c.MaxDelayTicks {
		errs = append(errs, fmt.Errorf("max future ticks %d must exceed max delay %d", c.MaxFutureTicks, c.MaxDelayTicks))
	}
	if c.HistoryTicks < c.ChecksumInterval {
		errs = append(errs, fmt.Errorf("history of %d ticks cannot cover checksum interval %d", c.HistoryTicks, c.ChecksumInterval))
	}
	return errors.Join(errs...)
}

func (c Config) tickDuration() time.Duration {
	return time.Second / time.Duration(c.TickRateHz)
}
