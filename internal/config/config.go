package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"warfront.io/internal/lockstep"
)

type Config struct {
	Session     SessionSpec     `yaml:"session"`
	Timing      TimingSpec      `yaml:"timing"`
	Delay       DelaySpec       `yaml:"delay"`
	Barrier     LockstepSpec    `yaml:"lockstep"`
	Checksum    ChecksumSpec    `yaml:"checksum"`
	History     HistorySpec     `yaml:"history"`
	Resync      ResyncSpec      `yaml:"resync"`
	Transport   TransportSpec   `yaml:"transport"`
	Persistence PersistenceSpec `yaml:"persistence"`
}

type SessionSpec struct {
	ID            string   `yaml:"id"`
	LocalPlayer   string   `yaml:"local_player"`
	RemotePlayers []string `yaml:"remote_players"`
	Mode          string   `yaml:"mode"`
}

type TimingSpec struct {
	TickRateHz       int `yaml:"tick_rate_hz"`
	MaxFrameMs       int `yaml:"max_frame_ms"`
	MaxStepsPerFrame int `yaml:"max_steps_per_frame"`
	FrameBudgetMs    int `yaml:"frame_budget_ms"`
}

type DelaySpec struct {
	InitialTicks        int `yaml:"initial_ticks"`
	MinTicks            int `yaml:"min_ticks"`
	MaxTicks            int `yaml:"max_ticks"`
	RecalcIntervalTicks int `yaml:"recalc_interval_ticks"`
}

type LockstepSpec struct {
	TimeoutTicks   int `yaml:"timeout_ticks"`
	MaxFutureTicks int `yaml:"max_future_ticks"`
}

type ChecksumSpec struct {
	IntervalTicks int `yaml:"interval_ticks"`
}

type HistorySpec struct {
	Ticks int `yaml:"ticks"`
}

type ResyncSpec struct {
	TimeoutMs int `yaml:"timeout_ms"`
}

type TransportSpec struct {
	Listen           string            `yaml:"listen"`
	Peers            map[string]string `yaml:"peers"`
	PingIntervalMs   int               `yaml:"ping_interval_ms"`
	MaxMessageBytes  int64             `yaml:"max_message_bytes"`
	RateLimitPerSec  float64           `yaml:"rate_limit_per_sec"`
	RateLimitBurst   int               `yaml:"rate_limit_burst"`
	ReconnectDelayMs int               `yaml:"reconnect_delay_ms"`
}

type PersistenceSpec struct {
	DataDir     string `yaml:"data_dir"`
	TickLog     bool   `yaml:"tick_log"`
	EventLog    bool   `yaml:"event_log"`
	IndexDB     string `yaml:"index_db"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// Load applies defaults, then the YAML file at path (if any), then
// Normalize and Validate.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) == "" {
		cfg.Normalize()
		return cfg, cfg.Validate()
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	name := filepath.Base(path)
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", name, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", name, err)
	}
	return cfg, nil
}

func Defaults() Config {
	d := lockstep.DefaultConfig()
	return Config{
		Session: SessionSpec{Mode: string(d.Mode)},
		Timing: TimingSpec{
			TickRateHz:       d.TickRateHz,
			MaxFrameMs:       int(d.MaxFrameTime / time.Millisecond),
			MaxStepsPerFrame: d.MaxStepsPerFrame,
			FrameBudgetMs:    int(d.FrameBudget / time.Millisecond),
		},
		Delay: DelaySpec{
			InitialTicks:        d.InitialDelayTicks,
			MinTicks:            d.MinDelayTicks,
			MaxTicks:            d.MaxDelayTicks,
			RecalcIntervalTicks: d.DelayRecalcInterval,
		},
		Barrier:  LockstepSpec{TimeoutTicks: d.LockstepTimeoutTicks, MaxFutureTicks: d.MaxFutureTicks},
		Checksum: ChecksumSpec{IntervalTicks: d.ChecksumInterval},
		History:  HistorySpec{Ticks: d.HistoryTicks},
		Resync:   ResyncSpec{TimeoutMs: int(d.ResyncTimeout / time.Millisecond)},
		Transport: TransportSpec{
			Listen:           ":7420",
			PingIntervalMs:   1000,
			MaxMessageBytes:  1 << 20,
			RateLimitPerSec:  200,
			RateLimitBurst:   400,
			ReconnectDelayMs: 1000,
		},
		Persistence: PersistenceSpec{
			DataDir:     "./data",
			TickLog:     true,
			EventLog:    true,
			IndexDB:     "index.sqlite",
			MetricsAddr: ":9420",
		},
	}
}

// Normalize trims ids and assigns a fresh session id when none is set.
func (c *Config) Normalize() {
	c.Session.ID = strings.TrimSpace(c.Session.ID)
	if c.Session.ID == "" {
		c.Session.ID = uuid.NewString()
	}
	c.Session.LocalPlayer = strings.TrimSpace(c.Session.LocalPlayer)
	c.Session.Mode = strings.ToLower(strings.TrimSpace(c.Session.Mode))
	var remotes []string
	for _, p := range c.Session.RemotePlayers {
		if p = strings.TrimSpace(p); p != "" {
			remotes = append(remotes, p)
		}
	}
	c.Session.RemotePlayers = remotes
	if strings.TrimSpace(c.Persistence.DataDir) == "" {
		c.Persistence.DataDir = "./data"
	}
}

func (c Config) Validate() error {
	var errs []error
	if err := c.Lockstep().Validate(); err != nil {
		errs = append(errs, err)
	}
	for _, p := range c.Session.RemotePlayers {
		if _, ok := c.Transport.Peers[p]; !ok && c.Transport.Listen == "" {
			errs = append(errs, fmt.Errorf("remote player %q has no peer address and nothing is listening", p))
		}
	}
	for p := range c.Transport.Peers {
		if !contains(c.Session.RemotePlayers, p) {
			errs = append(errs, fmt.Errorf("transport peer %q is not a remote player", p))
		}
	}
	if c.Transport.RateLimitPerSec < 0 || c.Transport.RateLimitBurst < 0 {
		errs = append(errs, errors.New("transport rate limit must not be negative"))
	}
	return errors.Join(errs...)
}

// Lockstep converts the file layout into the session configuration.
func (c Config) Lockstep() lockstep.Config {
	lc := lockstep.Config{
		SessionID:            c.Session.ID,
		LocalPlayerID:        c.Session.LocalPlayer,
		RemotePlayerIDs:      append([]string(nil), c.Session.RemotePlayers...),
		Mode:                 lockstep.Mode(c.Session.Mode),
		TickRateHz:           c.Timing.TickRateHz,
		MaxFrameTime:         ms(c.Timing.MaxFrameMs),
		MaxStepsPerFrame:     c.Timing.MaxStepsPerFrame,
		FrameBudget:          ms(c.Timing.FrameBudgetMs),
		InitialDelayTicks:    c.Delay.InitialTicks,
		MinDelayTicks:        c.Delay.MinTicks,
		MaxDelayTicks:        c.Delay.MaxTicks,
		DelayRecalcInterval:  c.Delay.RecalcIntervalTicks,
		MaxFutureTicks:       c.Barrier.MaxFutureTicks,
		LockstepTimeoutTicks: c.Barrier.TimeoutTicks,
		ChecksumInterval:     c.Checksum.IntervalTicks,
		HistoryTicks:         c.History.Ticks,
		ResyncTimeout:        ms(c.Resync.TimeoutMs),
	}
	lc.Normalize()
	return lc
}

func (c Config) PingInterval() time.Duration   { return ms(c.Transport.PingIntervalMs) }
func (c Config) ReconnectDelay() time.Duration { return ms(c.Transport.ReconnectDelayMs) }

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
