package lockstep

import (
	"time"

	"warfront.io/internal/netstats"
	"warfront.io/internal/protocol"
)

// TickableSimulation is the opaque deterministic game step driven by a
// session. Implementations must produce identical state for identical
// command sequences.
type TickableSimulation interface {
	ApplyCommand(cmd protocol.CommandMsg)
	Step(tick uint64, dt time.Duration)
	HashObservableState(tick uint64) ChecksumRecord
}

type Ownership interface {
	OwnerOf(id protocol.EntityID) (playerID string, ok bool)
}

// Transport delivers a message to one peer. Delivery may be delayed,
// reordered or lost; errors are reported, never retried here.
type Transport interface {
	Send(playerID string, msg protocol.Message) error
}

type RTTSource interface {
	RTTStats() netstats.Stats
}

type TickRecord struct {
	Tick     uint64                `json:"tick"`
	Commands []protocol.CommandMsg `json:"commands,omitempty"`
	Checksum *ChecksumRecord       `json:"checksum,omitempty"`
}

type TickRecorder interface {
	RecordTick(rec TickRecord) error
}

// Snapshotter is an optional capability of a simulation: its snapshot is
// published once per tick for read-only consumers such as a renderer.
type Snapshotter interface {
	Snapshot(tick uint64) any
}

// Pausable is an optional capability; sessions implement it, and a
// simulation that implements it is paused and resumed with its session.
type Pausable interface {
	Pause()
	Resume()
}
