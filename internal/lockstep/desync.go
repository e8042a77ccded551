package lockstep

import (
	"sync"
	"sync/atomic"

	"warfront.io/internal/protocol"
)

type DesyncState int32

const (
	Synced DesyncState = iota
	Desynced
)

func (s DesyncState) String() string {
	if s == Desynced {
		return "desynced"
	}
	return "synced"
}

// Desync reasons.
const (
	ReasonChecksumMismatch = "checksum_mismatch"
	ReasonStaleCommands    = "stale_commands"
	ReasonLockstepTimeout  = "lockstep_timeout"
	ReasonResyncTimeout    = "resync_timeout"
	ReasonResyncWindow     = "resync_window_exceeded"
)

type DesyncReport struct {
	Tick   uint64 `json:"tick"`
	Reason string `json:"reason"`
	Code   string `json:"code,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// desyncCode maps a desync reason to the shared rejection code.
func desyncCode(reason string) string {
	switch reason {
	case ReasonChecksumMismatch:
		return protocol.ErrChecksumMismatch
	case ReasonStaleCommands, ReasonLockstepTimeout:
		return protocol.ErrStale
	case ReasonResyncTimeout, ReasonResyncWindow:
		return protocol.ErrResync
	}
	return protocol.ErrInternal
}

// desyncLatch is set at most once per session and never cleared.
type desyncLatch struct {
	state atomic.Int32

	mu     sync.Mutex
	report DesyncReport
}

func (l *desyncLatch) State() DesyncState { return DesyncState(l.state.Load()) }

// trip records r and reports whether this call moved the latch.
func (l *desyncLatch) trip(r DesyncReport) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.Load() == int32(Desynced) {
		return false
	}
	l.report = r
	l.state.Store(int32(Desynced))
	return true
}

func (l *desyncLatch) Report() (DesyncReport, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.report, l.state.Load() == int32(Desynced)
}
