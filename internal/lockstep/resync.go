package lockstep

import (
	"fmt"
	"sort"
	"time"

	"warfront.io/internal/protocol"
)

// beginResync halts advancement and asks every live peer for the commands
// executed since our last tick. The first valid response wins.
func (s *Session) beginResync(now time.Time) {
	switch s.state {
	case StateIdle, StateRunning, StatePaused:
	default:
		return
	}
	if len(s.peers) == 0 || s.transport == nil {
		return
	}
	s.state = StateSynchronizing
	s.clock.Stop()
	s.gate.reset()
	s.waitingOn = nil
	s.resyncSince = now
	s.metrics.resync("requester", "requested")
	s.log.Info().Uint64("last_known_tick", s.tick).Strs("peers", s.peers).Msg("requesting resync")
	s.broadcast(protocol.SyncRequestMsg{LastKnownTick: s.tick, PlayerID: s.cfg.LocalPlayerID})
	s.publish(Event{Kind: EventNetworkPause, Tick: s.tick, Reason: "resync"})
}

// serveResync answers from the executed history, plus what is already
// queued for future ticks and the heartbeats this peer has promised. A peer
// that is itself synchronizing answers with what it has executed so far.
func (s *Session) serveResync(from string, req protocol.SyncRequestMsg) {
	if req.PlayerID != from {
		s.reject(EventSpoofedPlayerID, from, protocol.ErrSpoofedPlayer,
			fmt.Errorf("sync request for %q from %q", req.PlayerID, from), nil)
		return
	}
	if s.state == StateIdle {
		s.log.Debug().Str("peer", from).Str("state", string(s.state)).Msg("cannot serve resync")
		return
	}
	resp := protocol.SyncResponseMsg{
		CurrentTick: s.tick,
		OldestTick:  s.history.oldest(s.tick),
		PlayerID:    s.cfg.LocalPlayerID,
	}
	entries := s.history.between(req.LastKnownTick, s.tick)
	entries = append(entries, s.queue.after(s.tick)...)
	if s.cfg.Mode == ModeStrict {
		local := s.cfg.LocalPlayerID
		for u := s.tick + 1; u <= s.sentThrough; u++ {
			if s.queue.has(u, local) {
				continue
			}
			entries = append(entries, protocol.TickCommands{Tick: u, Commands: []protocol.CommandMsg{
				{Tick: u, PlayerID: local, CommandType: protocol.CmdHeartbeat},
			}})
		}
	}
	resp.Commands = mergeTickCommands(entries)
	s.metrics.resync("responder", "served")
	s.log.Info().Str("peer", from).Uint64("from_tick", req.LastKnownTick).Uint64("current_tick", s.tick).
		Int("ticks", len(resp.Commands)).Msg("serving resync")
	s.send(from, resp)
}

// applyResync fast-forwards through every tick up to the responder's current
// tick, queues the entries beyond it, and resumes.
func (s *Session) applyResync(from string, resp protocol.SyncResponseMsg) {
	if s.state != StateSynchronizing {
		return
	}
	if resp.PlayerID != from {
		s.reject(EventSpoofedPlayerID, from, protocol.ErrSpoofedPlayer,
			fmt.Errorf("sync response for %q from %q", resp.PlayerID, from), nil)
		return
	}
	if resp.CurrentTick > s.tick && resp.OldestTick > s.tick+1 {
		s.metrics.resync("requester", "window_exceeded")
		s.declareDesync(s.tick, ReasonResyncWindow,
			fmt.Sprintf("peer history starts at tick %d, local tick is %d", resp.OldestTick, s.tick))
		return
	}

	// The responder's history is what was executed; anything we queued for
	// those ticks and it never saw must not run here.
	if n := s.queue.dropThrough(resp.CurrentTick); n > 0 {
		s.log.Warn().Int("dropped", n).Uint64("through", resp.CurrentTick).Msg("discarding commands superseded by peer history")
	}
	replayed := 0
	for _, e := range mergeTickCommands(resp.Commands) {
		if e.Tick <= s.tick {
			continue
		}
		for _, c := range e.Commands {
			c.Tick = e.Tick
			c.Type, c.ProtocolVersion = "", ""
			s.receipts.mark(c.Tick, c.PlayerID)
			if c.CommandType == protocol.CmdHeartbeat {
				continue
			}
			if s.queue.add(c) && c.Tick <= resp.CurrentTick {
				replayed++
			}
		}
	}
	fromTick := s.tick
	for t := s.tick + 1; t <= resp.CurrentTick; t++ {
		s.executeTick(t, true)
		if s.state != StateSynchronizing {
			return
		}
	}

	now := s.now()
	s.state = StateRunning
	s.clock.Start(now)
	s.gate.reset()
	if p, ok := s.sim.(Pausable); ok {
		p.Resume()
	}
	if s.sentThrough < s.tick {
		s.sentThrough = s.tick
	}
	s.reannounce()
	s.sendHeartbeats()

	summary := SyncSummary{FromTick: fromTick, ToTick: s.tick, CommandsReplayed: replayed}
	s.metrics.resync("requester", "completed")
	s.log.Info().Uint64("from_tick", summary.FromTick).Uint64("to_tick", summary.ToTick).
		Int("commands_replayed", replayed).Dur("took", now.Sub(s.resyncSince)).Msg("resync complete")
	s.publish(Event{Kind: EventSyncComplete, Tick: s.tick, Sync: &summary})

	deferred, held := s.deferred, s.held
	s.deferred, s.held = nil, nil
	for _, c := range deferred {
		s.issueLocal(c)
	}
	for _, it := range held {
		s.receive(it.from, it.msg)
	}
}

// reannounce repeats what this peer has promised for upcoming ticks: frames
// sent while the link was down are gone, and peers drop the duplicates.
func (s *Session) reannounce() {
	local := s.cfg.LocalPlayerID
	for _, e := range s.queue.after(s.tick) {
		for _, c := range e.Commands {
			if c.PlayerID == local {
				s.broadcast(c)
			}
		}
	}
	if s.cfg.Mode != ModeStrict {
		return
	}
	for u := s.tick + 1; u <= s.sentThrough; u++ {
		if !s.queue.has(u, local) {
			s.broadcast(protocol.CommandMsg{Tick: u, PlayerID: local, CommandType: protocol.CmdHeartbeat})
		}
	}
}

// mergeTickCommands folds entries sharing a tick and orders them by tick.
func mergeTickCommands(entries []protocol.TickCommands) []protocol.TickCommands {
	byTick := map[uint64][]protocol.CommandMsg{}
	for _, e := range entries {
		byTick[e.Tick] = append(byTick[e.Tick], e.Commands...)
	}
	out := make([]protocol.TickCommands, 0, len(byTick))
	for t, cmds := range byTick {
		out = append(out, protocol.TickCommands{Tick: t, Commands: cmds})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tick < out[j].Tick })
	return out
}
