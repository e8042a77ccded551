package lockstep

import (
	"sort"
	"time"

	"warfront.io/internal/protocol"
)

// linkLost puts the session into a network pause. Frames sent while a link
// is down are lost, so ticks must not advance until the peers resync.
func (s *Session) linkLost(peer string) {
	if !s.isLive(peer) {
		return
	}
	switch s.state {
	case StateRunning:
		s.pause()
	case StatePaused, StateSynchronizing:
	default:
		return
	}
	if s.linksDown == nil {
		s.linksDown = map[string]bool{}
	}
	s.linksDown[peer] = true
	s.netPaused = true
	s.log.Warn().Str("peer", peer).Uint64("tick", s.tick).Msg("peer link lost, pausing")
	s.publish(Event{Kind: EventNetworkPause, Tick: s.tick, PlayerID: peer, Reason: "link_lost"})
}

// linkRestored resyncs once the last lost link is back. Both sides of a
// dropped link pause, so both request; each answers the other.
func (s *Session) linkRestored(peer string, now time.Time) {
	delete(s.linksDown, peer)
	if !s.netPaused || len(s.linksDown) > 0 {
		return
	}
	s.netPaused = false
	s.log.Info().Str("peer", peer).Uint64("tick", s.tick).Msg("peer links restored")
	switch s.state {
	case StatePaused:
		s.beginResync(now)
	case StateSynchronizing:
		// The pending request may have gone out on the dead link.
		s.resyncSince = now
		s.broadcast(protocol.SyncRequestMsg{LastKnownTick: s.tick, PlayerID: s.cfg.LocalPlayerID})
	}
}

func (s *Session) lostLinks() []string {
	out := make([]string, 0, len(s.linksDown))
	for p := range s.linksDown {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
