package lockstep

import (
	"sync"

	"warfront.io/internal/protocol"
)

type inboxKind uint8

const (
	inboxLocal inboxKind = iota
	inboxRemote
	inboxPause
	inboxResume
	inboxResync
	inboxStop
	inboxQuit
	inboxLinkLost
	inboxLinkUp
)

type inboxItem struct {
	kind inboxKind
	from string
	msg  protocol.Message
	cmd  protocol.CommandMsg
}

// inbox is the only state shared with other goroutines; everything it
// carries is applied by the loop at the start of the next frame.
type inbox struct {
	mu    sync.Mutex
	items []inboxItem
}

func (b *inbox) push(it inboxItem) {
	b.mu.Lock()
	b.items = append(b.items, it)
	b.mu.Unlock()
}

func (b *inbox) drain() []inboxItem {
	b.mu.Lock()
	items := b.items
	b.items = nil
	b.mu.Unlock()
	return items
}
