package lockstep

import "warfront.io/internal/protocol"

type processedKey struct {
	playerID string
	seq      uint64
}

// historySlot holds what ran at a tick. Rejected commands are kept by key
// only, so a re-announced copy is still known as processed.
type historySlot struct {
	tick     uint64
	cmds     []protocol.CommandMsg
	rejected []processedKey
	set      bool
}

// commandHistory is a ring of the last N executed ticks. Recording tick t
// overwrites t-N, which is the eviction.
type commandHistory struct {
	slots []historySlot
}

func newCommandHistory(n int) *commandHistory {
	if n <= 0 {
		n = 1
	}
	return &commandHistory{slots: make([]historySlot, n)}
}

func (h *commandHistory) record(tick uint64, cmds []protocol.CommandMsg, rejected []processedKey) {
	h.slots[tick%uint64(len(h.slots))] = historySlot{tick: tick, cmds: cmds, rejected: rejected, set: true}
}

func (h *commandHistory) get(tick uint64) ([]protocol.CommandMsg, bool) {
	s := h.slots[tick%uint64(len(h.slots))]
	if !s.set || s.tick != tick {
		return nil, false
	}
	return s.cmds, true
}

// processed reports whether (tick, player, seq) was executed or rejected at
// tick.
func (h *commandHistory) processed(tick uint64, playerID string, seq uint64) bool {
	s := h.slots[tick%uint64(len(h.slots))]
	if !s.set || s.tick != tick {
		return false
	}
	for _, c := range s.cmds {
		if c.PlayerID == playerID && c.Seq == seq {
			return true
		}
	}
	for _, k := range s.rejected {
		if k.playerID == playerID && k.seq == seq {
			return true
		}
	}
	return false
}

// oldest returns the first tick still retained when current is the last
// executed tick.
func (h *commandHistory) oldest(current uint64) uint64 {
	n := uint64(len(h.slots))
	if current < n {
		return 1
	}
	return current - n + 1
}

// between returns the executed commands for ticks in (from, to], skipping
// ticks with no commands.
func (h *commandHistory) between(from, to uint64) []protocol.TickCommands {
	if lo := h.oldest(to); from+1 < lo {
		from = lo - 1
	}
	var out []protocol.TickCommands
	for t := from + 1; t <= to; t++ {
		cmds, ok := h.get(t)
		if !ok || len(cmds) == 0 {
			continue
		}
		out = append(out, protocol.TickCommands{Tick: t, Commands: append([]protocol.CommandMsg(nil), cmds...)})
	}
	return out
}

func (h *commandHistory) clear() {
	for i := range h.slots {
		h.slots[i] = historySlot{}
	}
}
