package lockstep

import (
	"sort"
	"sync"

	"warfront.io/internal/protocol"
)

type EventKind string

const (
	EventSpoofedPlayerID     EventKind = "security:spoofedPlayerId"
	EventInvalidCommandTick  EventKind = "security:invalidCommandTick"
	EventUnauthorizedCommand EventKind = "security:unauthorizedCommand"
	EventDesyncDetected      EventKind = "desync:detected"
	EventSyncComplete        EventKind = "multiplayer:syncComplete"
	EventNetworkPause        EventKind = "multiplayer:networkPause"
	EventPeerQuit            EventKind = "multiplayer:peerQuit"
	EventSessionFault        EventKind = "session:fault"
)

func (k EventKind) Security() bool {
	switch k {
	case EventSpoofedPlayerID, EventInvalidCommandTick, EventUnauthorizedCommand:
		return true
	}
	return false
}

type SyncSummary struct {
	FromTick         uint64 `json:"from_tick"`
	ToTick           uint64 `json:"to_tick"`
	CommandsReplayed int    `json:"commands_replayed"`
}

type Event struct {
	Kind     EventKind            `json:"kind"`
	Tick     uint64               `json:"tick"`
	PlayerID string               `json:"player_id,omitempty"`
	Code     string               `json:"code,omitempty"`
	Reason   string               `json:"reason,omitempty"`
	Detail   string               `json:"detail,omitempty"`
	Command  *protocol.CommandMsg `json:"command,omitempty"`
	Sync     *SyncSummary         `json:"sync,omitempty"`
}

// Bus delivers events to subscribers synchronously, in subscription order, on
// the goroutine that publishes (the session loop). Handlers must not block.
type Bus struct {
	mu   sync.RWMutex
	next int
	subs map[int]func(Event)
}

func NewBus() *Bus { return &Bus{subs: map[int]func(Event){}} }

func (b *Bus) Subscribe(fn func(Event)) (unsubscribe func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	ids := make([]int, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, b.subs[id])
	}
	b.mu.RUnlock()
	for _, fn := range fns {
		fn(ev)
	}
}
