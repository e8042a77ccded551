// Package lockstep keeps independently executing copies of a deterministic
// simulation in agreement. Every peer applies the same commands, in the same
// order, at the same tick; divergence is detected by exchanging state
// checksums, and a peer that fell behind is caught up from the command
// history of a live peer.
//
// A Session is driven by a single goroutine (Run, or a host calling Frame).
// Commands and network messages from other goroutines are only enqueued and
// take effect at the start of the next frame.
package lockstep

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"warfront.io/internal/protocol"
)

var (
	ErrDesynced        = errors.New("lockstep: session desynchronized")
	ErrStopped         = errors.New("lockstep: session stopped")
	ErrSimulationFault = errors.New("lockstep: simulation fault")
)

type RunState string

const (
	StateIdle          RunState = "idle"
	StateRunning       RunState = "running"
	StatePaused        RunState = "paused"
	StateSynchronizing RunState = "synchronizing"
	StateStopped       RunState = "stopped"
	StateDesynced      RunState = "desynced"
)

type Status struct {
	Tick       uint64        `json:"tick"`
	DelayTicks int           `json:"delay_ticks"`
	Mode       Mode          `json:"mode"`
	State      RunState      `json:"state"`
	Desync     *DesyncReport `json:"desync,omitempty"`
	WaitingOn  []string      `json:"waiting_on,omitempty"`
}

// Deps are the collaborators of a session. Sim is required; Owners defaults
// to Sim when it implements Ownership. Transport and RTT may be nil in local
// mode.
type Deps struct {
	Sim       TickableSimulation
	Owners    Ownership
	Transport Transport
	RTT       RTTSource
	Recorder  TickRecorder
	Now       func() time.Time
	Logger    zerolog.Logger
	Metrics   *Metrics
}

type renderFrame struct {
	tick  uint64
	state any
}

type Session struct {
	cfg     Config
	tickDur time.Duration

	sim       TickableSimulation
	transport Transport
	rtt       RTTSource
	recorder  TickRecorder
	now       func() time.Time
	log       zerolog.Logger
	secLog    zerolog.Logger
	metrics   *Metrics
	events    *Bus

	inbox inbox
	latch desyncLatch

	curTick    atomic.Uint64
	delayTicks atomic.Int64
	status     atomic.Pointer[Status]
	render     atomic.Pointer[renderFrame]

	// Loop state, guarded by mu.
	mu          sync.Mutex
	state       RunState
	tick        uint64
	seq         uint64
	sentThrough uint64
	peers       []string
	clock       *Clock
	queue       *commandQueue
	receipts    tickReceipts
	history     *commandHistory
	checksums   *checksumDetector
	delay       *DelayController
	authz       *Authorizer
	gate        barrier
	waitingOn   []string
	applied     []protocol.CommandMsg
	deferred    []protocol.CommandMsg
	held        []inboxItem
	resyncSince time.Time
	linksDown   map[string]bool
	netPaused   bool
}

func NewSession(cfg Config, deps Deps) (*Session, error) {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("lockstep config: %w", err)
	}
	if deps.Sim == nil {
		return nil, errors.New("lockstep: simulation is required")
	}
	if cfg.Mode != ModeLocal && deps.Transport == nil {
		return nil, fmt.Errorf("lockstep: %s mode requires a transport", cfg.Mode)
	}
	owners := deps.Owners
	if owners == nil {
		owners, _ = deps.Sim.(Ownership)
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	tickDur := cfg.tickDuration()
	log := deps.Logger.With().Str("session", cfg.SessionID).Str("player", cfg.LocalPlayerID).Logger()

	s := &Session{
		cfg:       cfg,
		tickDur:   tickDur,
		sim:       deps.Sim,
		transport: deps.Transport,
		rtt:       deps.RTT,
		recorder:  deps.Recorder,
		now:       now,
		log:       log,
		secLog:    log.Sample(&zerolog.BurstSampler{Burst: 20, Period: time.Second}),
		metrics:   deps.Metrics,
		events:    NewBus(),
		state:     StateIdle,
		peers:     append([]string(nil), cfg.RemotePlayerIDs...),
		clock:     NewClock(tickDur, cfg.MaxFrameTime, cfg.MaxStepsPerFrame, cfg.FrameBudget, now),
		queue:     newCommandQueue(),
		receipts:  tickReceipts{},
		history:   newCommandHistory(cfg.HistoryTicks),
		checksums: newChecksumDetector(cfg.ChecksumInterval, cfg.HistoryTicks),
		delay:     NewDelayController(cfg.InitialDelayTicks, cfg.MinDelayTicks, cfg.MaxDelayTicks, tickDur),
		authz:     NewAuthorizer(owners, cfg.MaxDelayTicks, cfg.MaxFutureTicks),
	}
	s.delayTicks.Store(int64(s.delay.Active()))
	s.publishStatus()
	return s, nil
}

// Start begins advancing ticks. It is a no-op unless the session is idle.
func (s *Session) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle {
		return
	}
	s.state = StateRunning
	s.clock.Start(s.now())
	s.metrics.delay(s.delay.Active())
	s.sendHeartbeats()
	s.log.Info().Str("mode", string(s.cfg.Mode)).Int("tick_rate_hz", s.cfg.TickRateHz).
		Int("delay_ticks", s.delay.Active()).Strs("peers", s.peers).Msg("session started")
	s.publishStatus()
}

// Run starts the session and drives frames until it stops, desyncs or ctx is
// done. It returns nil after Stop, ErrDesynced after a desync, and an
// ErrSimulationFault-wrapped error if the simulation panics.
func (s *Session) Run(ctx context.Context) error {
	if s.Status().State == StateStopped {
		return ErrStopped
	}
	s.Start()

	every := s.tickDur / 4
	if every < time.Millisecond {
		every = time.Millisecond
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if err := s.safeFrame(); err != nil {
			return err
		}
		st := s.Status()
		switch st.State {
		case StateStopped:
			return nil
		case StateDesynced:
			if st.Desync != nil {
				return fmt.Errorf("%w at tick %d: %s", ErrDesynced, st.Desync.Tick, st.Desync.Reason)
			}
			return ErrDesynced
		}
	}
}

func (s *Session) safeFrame() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrSimulationFault, r)
			s.fault(err)
		}
	}()
	s.Frame()
	return nil
}

// fault tears the session down after an unexpected internal error.
func (s *Session) fault(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log.Error().Err(err).Uint64("tick", s.tick).Str("code", protocol.ErrInternal).Msg("session aborted")
	s.state = StateStopped
	s.clock.Stop()
	s.publish(Event{Kind: EventSessionFault, Tick: s.tick, Code: protocol.ErrInternal, Detail: err.Error()})
	s.publishStatus()
}

// IssueCommand schedules a local command. PlayerID, Seq and Tick are
// assigned by the session.
func (s *Session) IssueCommand(cmd protocol.CommandMsg) {
	s.inbox.push(inboxItem{kind: inboxLocal, cmd: cmd})
}

// ReceiveRemoteMessage hands a message from the peer identified by from to
// the session. from is the identity the transport bound to the link.
func (s *Session) ReceiveRemoteMessage(from string, msg protocol.Message) {
	s.inbox.push(inboxItem{kind: inboxRemote, from: from, msg: msg})
}

func (s *Session) RequestResync() { s.inbox.push(inboxItem{kind: inboxResync}) }
func (s *Session) Pause()         { s.inbox.push(inboxItem{kind: inboxPause}) }
func (s *Session) Resume()        { s.inbox.push(inboxItem{kind: inboxResume}) }
func (s *Session) Stop()          { s.inbox.push(inboxItem{kind: inboxStop}) }

// Quit tells every peer this player is leaving, then stops.
func (s *Session) Quit() { s.inbox.push(inboxItem{kind: inboxQuit}) }

// PeerLinkLost reports that the transport link to a peer dropped. The session
// pauses until every lost link is back, then resyncs.
func (s *Session) PeerLinkLost(playerID string) {
	s.inbox.push(inboxItem{kind: inboxLinkLost, from: playerID})
}

// PeerLinkRestored reports that the transport link to a peer is up again.
func (s *Session) PeerLinkRestored(playerID string) {
	s.inbox.push(inboxItem{kind: inboxLinkUp, from: playerID})
}

func (s *Session) DesyncState() DesyncState { return s.latch.State() }
func (s *Session) CommandDelayTicks() int   { return int(s.delayTicks.Load()) }
func (s *Session) CurrentTick() uint64      { return s.curTick.Load() }
func (s *Session) Events() *Bus             { return s.events }

func (s *Session) Status() Status {
	if st := s.status.Load(); st != nil {
		return *st
	}
	return Status{}
}

// RenderState returns the most recent simulation snapshot, or nil when the
// simulation does not implement Snapshotter.
func (s *Session) RenderState() any {
	if f := s.render.Load(); f != nil {
		return f.state
	}
	return nil
}

func (s *Session) publishStatus() {
	st := &Status{
		Tick:       s.tick,
		DelayTicks: s.delay.Active(),
		Mode:       s.cfg.Mode,
		State:      s.state,
	}
	if r, ok := s.latch.Report(); ok {
		st.Desync = &r
	}
	if len(s.waitingOn) > 0 {
		st.WaitingOn = append([]string(nil), s.waitingOn...)
	}
	s.status.Store(st)
}

func (s *Session) publish(ev Event) {
	s.events.Publish(ev)
}

// declareDesync trips the session's latch; only the first call has effect.
func (s *Session) declareDesync(tick uint64, reason, detail string) {
	code := desyncCode(reason)
	if !s.latch.trip(DesyncReport{Tick: tick, Reason: reason, Code: code, Detail: detail}) {
		return
	}
	s.state = StateDesynced
	s.clock.Stop()
	s.metrics.desync(reason)
	s.log.Error().Uint64("tick", tick).Str("reason", reason).Str("code", code).Str("detail", detail).Msg("game desynchronized")
	s.publish(Event{Kind: EventDesyncDetected, Tick: tick, Reason: reason, Code: code, Detail: detail})
}

func (s *Session) pause() {
	if s.state != StateRunning {
		return
	}
	s.state = StatePaused
	s.clock.Stop()
	s.gate.reset()
	if p, ok := s.sim.(Pausable); ok {
		p.Pause()
	}
	s.log.Info().Uint64("tick", s.tick).Msg("session paused")
}

func (s *Session) resume(now time.Time) {
	if s.state != StatePaused {
		return
	}
	if s.netPaused {
		s.log.Info().Strs("links_down", s.lostLinks()).Msg("resume ignored while a peer link is down")
		return
	}
	s.state = StateRunning
	s.clock.Start(now)
	if p, ok := s.sim.(Pausable); ok {
		p.Resume()
	}
	s.log.Info().Uint64("tick", s.tick).Msg("session resumed")
}

// stop ends the session and drops all buffered input. The desync latch is
// left as it is.
func (s *Session) stop() {
	if s.state == StateStopped {
		return
	}
	if s.state != StateDesynced {
		s.state = StateStopped
	}
	s.clock.Stop()
	s.queue.clear()
	s.receipts = tickReceipts{}
	s.history.clear()
	s.checksums.clear()
	s.gate.reset()
	s.waitingOn = nil
	s.applied = nil
	s.deferred = nil
	s.held = nil
	s.linksDown = nil
	s.netPaused = false
	s.log.Info().Uint64("tick", s.tick).Msg("session stopped")
}

func (s *Session) quit() {
	if s.state == StateStopped {
		return
	}
	s.broadcast(protocol.QuitMsg{PlayerID: s.cfg.LocalPlayerID})
	s.stop()
}

func (s *Session) broadcast(msg protocol.Message) {
	if s.transport == nil {
		return
	}
	for _, p := range s.peers {
		s.send(p, msg)
	}
}

func (s *Session) send(peer string, msg protocol.Message) {
	if err := s.transport.Send(peer, msg); err != nil {
		s.log.Debug().Err(err).Str("peer", peer).Str("type", msg.MessageType()).Msg("send failed")
	}
}

func (s *Session) isPeer(id string) bool {
	for _, p := range s.cfg.RemotePlayerIDs {
		if p == id {
			return true
		}
	}
	return false
}

func (s *Session) isLive(id string) bool {
	for _, p := range s.peers {
		if p == id {
			return true
		}
	}
	return false
}

func (s *Session) dropPeer(id string) bool {
	for i, p := range s.peers {
		if p == id {
			s.peers = append(s.peers[:i:i], s.peers[i+1:]...)
			delete(s.linksDown, id)
			return true
		}
	}
	return false
}
