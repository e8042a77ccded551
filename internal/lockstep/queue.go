package lockstep

import (
	"sort"

	"warfront.io/internal/protocol"
)

type commandKey struct {
	Tick     uint64
	PlayerID string
	Seq      uint64
}

func keyOf(c protocol.CommandMsg) commandKey {
	return commandKey{Tick: c.Tick, PlayerID: c.PlayerID, Seq: c.Seq}
}

// commandQueue buffers accepted commands by execution tick. Re-adding a
// (tick, player, seq) already held is a no-op, so replays are idempotent.
type commandQueue struct {
	byTick map[uint64][]protocol.CommandMsg
	seen   map[commandKey]struct{}
}

func newCommandQueue() *commandQueue {
	return &commandQueue{
		byTick: map[uint64][]protocol.CommandMsg{},
		seen:   map[commandKey]struct{}{},
	}
}

func (q *commandQueue) add(c protocol.CommandMsg) bool {
	k := keyOf(c)
	if _, dup := q.seen[k]; dup {
		return false
	}
	q.seen[k] = struct{}{}
	q.byTick[c.Tick] = append(q.byTick[c.Tick], c)
	return true
}

// pop removes and returns the commands for tick in canonical order.
func (q *commandQueue) pop(tick uint64) []protocol.CommandMsg {
	cmds := q.byTick[tick]
	delete(q.byTick, tick)
	for _, c := range cmds {
		delete(q.seen, keyOf(c))
	}
	sortCanonical(cmds)
	return cmds
}

// countBefore reports how many queued commands target a tick < tick.
func (q *commandQueue) countBefore(tick uint64) int {
	n := 0
	for t, cmds := range q.byTick {
		if t < tick {
			n += len(cmds)
		}
	}
	return n
}

// after returns queued commands with tick > tick, ordered by tick.
func (q *commandQueue) after(tick uint64) []protocol.TickCommands {
	ticks := make([]uint64, 0, len(q.byTick))
	for t := range q.byTick {
		if t > tick {
			ticks = append(ticks, t)
		}
	}
	sort.Slice(ticks, func(i, j int) bool { return ticks[i] < ticks[j] })
	out := make([]protocol.TickCommands, 0, len(ticks))
	for _, t := range ticks {
		cmds := append([]protocol.CommandMsg(nil), q.byTick[t]...)
		sortCanonical(cmds)
		out = append(out, protocol.TickCommands{Tick: t, Commands: cmds})
	}
	return out
}

// dropThrough discards queued commands for every tick <= tick.
func (q *commandQueue) dropThrough(tick uint64) int {
	n := 0
	for t, cmds := range q.byTick {
		if t > tick {
			continue
		}
		for _, c := range cmds {
			delete(q.seen, keyOf(c))
		}
		n += len(cmds)
		delete(q.byTick, t)
	}
	return n
}

func (q *commandQueue) has(tick uint64, playerID string) bool {
	for _, c := range q.byTick[tick] {
		if c.PlayerID == playerID {
			return true
		}
	}
	return false
}

func (q *commandQueue) len() int { return len(q.seen) }

func (q *commandQueue) clear() {
	q.byTick = map[uint64][]protocol.CommandMsg{}
	q.seen = map[commandKey]struct{}{}
}

// sortCanonical orders commands by (player id, seq): the peer-independent
// order every peer executes a tick in.
func sortCanonical(cmds []protocol.CommandMsg) {
	sort.SliceStable(cmds, func(i, j int) bool {
		if cmds[i].PlayerID != cmds[j].PlayerID {
			return cmds[i].PlayerID < cmds[j].PlayerID
		}
		return cmds[i].Seq < cmds[j].Seq
	})
}

// tickReceipts records which players contributed input for a tick.
type tickReceipts map[uint64]map[string]struct{}

func (r tickReceipts) mark(tick uint64, playerID string) {
	set := r[tick]
	if set == nil {
		set = map[string]struct{}{}
		r[tick] = set
	}
	set[playerID] = struct{}{}
}

func (r tickReceipts) has(tick uint64, playerID string) bool {
	_, ok := r[tick][playerID]
	return ok
}

// missing returns the expected players without a receipt for tick, sorted.
func (r tickReceipts) missing(tick uint64, expected []string) []string {
	var out []string
	for _, id := range expected {
		if !r.has(tick, id) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// evictThrough drops receipts for every tick <= tick.
func (r tickReceipts) evictThrough(tick uint64) {
	for t := range r {
		if t <= tick {
			delete(r, t)
		}
	}
}
