package lockstep

import (
	"fmt"
	"time"

	"warfront.io/internal/protocol"
)

// Frame is one scheduling callback: it applies queued input, then runs as
// many fixed steps as the clock allows. It returns the number of ticks
// executed.
func (s *Session) Frame() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.drainInbox(now)

	steps := 0
	switch s.state {
	case StateSynchronizing:
		if !s.netPaused && now.Sub(s.resyncSince) > s.cfg.ResyncTimeout {
			s.metrics.resync("requester", "timeout")
			s.declareDesync(s.tick, ReasonResyncTimeout,
				fmt.Sprintf("no sync response within %s", s.cfg.ResyncTimeout))
		}
	case StateRunning:
		steps = s.clock.Advance(now, func() bool { return s.tryStep(now) })
	}
	s.publishStatus()
	return steps
}

func (s *Session) drainInbox(now time.Time) {
	for _, it := range s.inbox.drain() {
		switch it.kind {
		case inboxLocal:
			s.issueLocal(it.cmd)
		case inboxRemote:
			s.receive(it.from, it.msg)
		case inboxPause:
			s.pause()
		case inboxResume:
			s.resume(now)
		case inboxResync:
			s.beginResync(now)
		case inboxStop:
			s.stop()
		case inboxQuit:
			s.quit()
		case inboxLinkLost:
			s.linkLost(it.from)
		case inboxLinkUp:
			s.linkRestored(it.from, now)
		}
	}
}

// issueLocal stamps and schedules a command of the local player. In local
// mode it is applied at once and recorded with the next tick.
func (s *Session) issueLocal(cmd protocol.CommandMsg) {
	switch s.state {
	case StateStopped, StateDesynced:
		return
	case StateSynchronizing:
		s.deferred = append(s.deferred, cmd)
		return
	}
	s.seq++
	cmd.PlayerID = s.cfg.LocalPlayerID
	cmd.Seq = s.seq
	cmd.Type, cmd.ProtocolVersion = "", ""

	if s.cfg.Mode == ModeLocal {
		cmd.Tick = s.tick + 1
		if err := s.authz.Authorize(cmd); err != nil {
			s.reject(EventUnauthorizedCommand, cmd.PlayerID, protocol.ErrUnauthorized, err, &cmd)
			return
		}
		s.sim.ApplyCommand(cmd)
		s.applied = append(s.applied, cmd)
		return
	}

	cmd.Tick = s.tick + uint64(s.delay.Active())
	if s.cfg.Mode == ModeStrict && cmd.Tick <= s.sentThrough {
		// A heartbeat already promised peers there is nothing more for
		// that tick.
		cmd.Tick = s.sentThrough + 1
	}
	s.queue.add(cmd)
	s.receipts.mark(cmd.Tick, cmd.PlayerID)
	s.broadcast(cmd)
}

// tryStep runs the next tick if the barrier allows it. Returning false holds
// the clock's remaining time for a later frame.
func (s *Session) tryStep(now time.Time) bool {
	if s.state != StateRunning {
		return false
	}
	next := s.tick + 1
	if s.cfg.Mode == ModeStrict {
		if missing := s.receipts.missing(next, s.peers); len(missing) > 0 {
			waited, first := s.gate.wait(next, now)
			s.waitingOn = missing
			if first {
				s.metrics.barrierWait()
				s.log.Debug().Uint64("tick", next).Strs("waiting_on", missing).Msg("waiting for peer input")
			}
			if limit := time.Duration(s.cfg.LockstepTimeoutTicks) * s.tickDur; waited > limit {
				s.declareDesync(next, ReasonLockstepTimeout,
					fmt.Sprintf("no input from %v for tick %d after %d ticks", missing, next, s.cfg.LockstepTimeoutTicks))
			}
			return false
		}
		s.gate.reset()
		s.waitingOn = nil
	}
	s.executeTick(next, false)
	return s.state == StateRunning
}

// executeTick is the per-tick pipeline: drain and order the tick's commands,
// check ownership, apply, step, record, then verify no stale command is left
// and sample the checksum. replaying skips delay tuning and heartbeats.
func (s *Session) executeTick(t uint64, replaying bool) {
	start := time.Now()
	s.tick = t
	s.curTick.Store(t)

	executed := s.applied
	s.applied = nil
	var rejected []processedKey
	for _, c := range s.queue.pop(t) {
		if c.CommandType == protocol.CmdHeartbeat {
			continue
		}
		if err := s.authz.Authorize(c); err != nil {
			cmd := c
			s.reject(EventUnauthorizedCommand, c.PlayerID, protocol.ErrUnauthorized, err, &cmd)
			rejected = append(rejected, processedKey{playerID: c.PlayerID, seq: c.Seq})
			continue
		}
		s.sim.ApplyCommand(c)
		executed = append(executed, c)
	}
	s.receipts.evictThrough(t)
	s.sim.Step(t, s.tickDur)
	s.history.record(t, executed, rejected)

	if n := s.queue.countBefore(t); n > 0 {
		s.declareDesync(t, ReasonStaleCommands, fmt.Sprintf("%d queued commands target ticks before %d", n, t))
		return
	}

	rec := TickRecord{Tick: t, Commands: executed}
	if s.checksums.due(t) {
		sum := s.sim.HashObservableState(t)
		sum.Tick = t
		rec.Checksum = &sum
		s.broadcast(sum.Message(s.cfg.LocalPlayerID))
		for _, m := range s.checksums.addLocal(sum) {
			s.declareDesync(t, ReasonChecksumMismatch, fmt.Sprintf("game desynchronized at tick %d: %s", t, m))
		}
	}
	s.checksums.prune(t)

	if s.recorder != nil {
		if err := s.recorder.RecordTick(rec); err != nil {
			s.log.Warn().Err(err).Uint64("tick", t).Msg("record tick")
		}
	}
	if snap, ok := s.sim.(Snapshotter); ok {
		s.render.Store(&renderFrame{tick: t, state: snap.Snapshot(t)})
	}
	s.metrics.tick(time.Since(start).Seconds(), len(executed))

	if replaying || s.state == StateDesynced {
		return
	}
	if s.cfg.Mode != ModeLocal && s.rtt != nil && t%uint64(s.cfg.DelayRecalcInterval) == 0 {
		before := s.delay.Active()
		after := s.delay.Recalculate(s.rtt.RTTStats())
		s.delayTicks.Store(int64(after))
		s.metrics.delay(after)
		if after != before {
			s.log.Debug().Int("from", before).Int("to", after).Int("target", s.delay.Target()).Msg("command delay adjusted")
		}
	}
	s.sendHeartbeats()
}

// sendHeartbeats covers every upcoming tick inside the delay window for which
// the local player has issued nothing, so strict peers can pass their barrier.
func (s *Session) sendHeartbeats() {
	if s.cfg.Mode != ModeStrict || len(s.peers) == 0 {
		return
	}
	through := s.tick + uint64(s.delay.Active()) - 1
	local := s.cfg.LocalPlayerID
	for u := s.sentThrough + 1; u <= through; u++ {
		if s.receipts.has(u, local) {
			continue
		}
		s.receipts.mark(u, local)
		s.broadcast(protocol.CommandMsg{Tick: u, PlayerID: local, CommandType: protocol.CmdHeartbeat})
	}
	if through > s.sentThrough {
		s.sentThrough = through
	}
}

func (s *Session) reject(kind EventKind, from, code string, err error, cmd *protocol.CommandMsg) {
	s.metrics.security(kind)
	s.secLog.Warn().Str("kind", string(kind)).Str("from", from).Str("code", code).
		Uint64("tick", s.tick).Err(err).Msg("input rejected")
	ev := Event{Kind: kind, Tick: s.tick, PlayerID: from, Code: code, Command: cmd}
	if err != nil {
		ev.Detail = err.Error()
	}
	s.publish(ev)
}
