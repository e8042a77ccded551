package lockstep

import (
	"fmt"

	"warfront.io/internal/protocol"
)

func (s *Session) receive(from string, msg protocol.Message) {
	switch s.state {
	case StateStopped, StateDesynced:
		return
	case StateSynchronizing:
		// Live traffic is relative to ticks this peer has not reached yet;
		// it is replayed once the catch-up is done. Sync traffic is not held
		// so two peers resyncing at once can answer each other.
		switch msg.(type) {
		case protocol.SyncRequestMsg, protocol.SyncResponseMsg:
		default:
			s.held = append(s.held, inboxItem{kind: inboxRemote, from: from, msg: msg})
			return
		}
	}
	if !s.isPeer(from) {
		s.reject(EventSpoofedPlayerID, from, protocol.ErrUnknownPeer, fmt.Errorf("%q is not a session peer", from), nil)
		return
	}

	switch m := msg.(type) {
	case protocol.CommandMsg:
		s.receiveCommand(from, m)
	case protocol.ChecksumMsg:
		s.receiveChecksum(from, m)
	case protocol.SyncRequestMsg:
		s.serveResync(from, m)
	case protocol.SyncResponseMsg:
		s.applyResync(from, m)
	case protocol.QuitMsg:
		s.receiveQuit(from, m)
	case protocol.HelloMsg:
	default:
		s.log.Debug().Str("from", from).Str("type", msg.MessageType()).Msg("ignoring message")
	}
}

// receiveCommand applies the receipt checks. Ownership is checked later, at
// execution, against the state every peer shares at that tick.
func (s *Session) receiveCommand(from string, cmd protocol.CommandMsg) {
	if err := s.authz.CheckIdentity(from, cmd); err != nil {
		s.reject(EventSpoofedPlayerID, from, protocol.ErrSpoofedPlayer, err, &cmd)
		return
	}
	if err := s.authz.CheckTick(cmd.Tick, s.tick); err != nil {
		s.reject(EventInvalidCommandTick, from, protocol.ErrTickWindow, err, &cmd)
		return
	}
	if cmd.Tick <= s.tick {
		// A re-announced command that already ran, or was rejected when its
		// tick ran, is a duplicate, not a late arrival.
		if cmd.CommandType == protocol.CmdHeartbeat || s.history.processed(cmd.Tick, cmd.PlayerID, cmd.Seq) {
			return
		}
	}
	s.receipts.mark(cmd.Tick, cmd.PlayerID)
	if cmd.CommandType == protocol.CmdHeartbeat {
		return
	}
	cmd.Type, cmd.ProtocolVersion = "", ""
	s.queue.add(cmd)
}

func (s *Session) receiveChecksum(from string, m protocol.ChecksumMsg) {
	if m.PeerID != from {
		s.reject(EventSpoofedPlayerID, from, protocol.ErrSpoofedPlayer,
			fmt.Errorf("checksum peer id %q from %q", m.PeerID, from), nil)
		return
	}
	if s.cfg.Mode == ModeLocal {
		return
	}
	if mm, ok := s.checksums.addRemote(from, RecordFromMessage(m), s.tick); ok {
		s.declareDesync(m.Tick, ReasonChecksumMismatch, fmt.Sprintf("game desynchronized at tick %d: %s", m.Tick, mm))
	}
}

func (s *Session) receiveQuit(from string, m protocol.QuitMsg) {
	if m.PlayerID != from {
		s.reject(EventSpoofedPlayerID, from, protocol.ErrSpoofedPlayer,
			fmt.Errorf("quit for %q from %q", m.PlayerID, from), nil)
		return
	}
	if !s.dropPeer(from) {
		return
	}
	s.waitingOn = nil
	s.gate.reset()
	s.log.Info().Str("peer", from).Uint64("tick", s.tick).Msg("peer quit")
	s.publish(Event{Kind: EventPeerQuit, Tick: s.tick, PlayerID: from})
}
