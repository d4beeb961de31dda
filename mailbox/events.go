package mailbox

import (
	"sync"

	imap "github.com/dyd1024/imapstore"
)

// Event is a change to one mailbox, published after it was persisted.
type Event interface {
	Mailbox() ID
	// Origin is the session that caused the change, or "".
	Origin() string
}

type eventBase struct {
	MailboxID ID
	Source    string
}

func (e eventBase) Mailbox() ID    { return e.MailboxID }
func (e eventBase) Origin() string { return e.Source }

// Added reports appended or copied messages. Recent is the recent hint the
// messages were stored with.
type Added struct {
	eventBase
	Messages []MessageMetaData
	Recent   bool
}

// FlagsUpdated reports flag changes.
type FlagsUpdated struct {
	eventBase
	Updates []UpdatedFlags
}

// Expunged reports removed messages.
type Expunged struct {
	eventBase
	UIDs []imap.UID
}

// MailboxDeleted reports that the mailbox is gone.
type MailboxDeleted struct {
	eventBase
}

// Listener receives events. Listeners run on the publishing goroutine and
// must not block.
type Listener interface {
	Event(ev Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ev Event)

// Event implements Listener.
func (f ListenerFunc) Event(ev Event) { f(ev) }

// EventBus dispatches events to listeners registered on a mailbox.
type EventBus struct {
	mu        sync.RWMutex
	listeners map[ID]map[*registration]struct{}
}

type registration struct {
	l Listener
}

// NewEventBus creates an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{listeners: make(map[ID]map[*registration]struct{})}
}

// Register subscribes l to the events of mailbox id. The returned function
// removes the subscription.
func (b *EventBus) Register(id ID, l Listener) (unregister func()) {
	reg := &registration{l: l}
	b.mu.Lock()
	if b.listeners[id] == nil {
		b.listeners[id] = make(map[*registration]struct{})
	}
	b.listeners[id][reg] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.listeners[id], reg)
			if len(b.listeners[id]) == 0 {
				delete(b.listeners, id)
			}
		})
	}
}

// Publish delivers ev to the listeners of its mailbox.
func (b *EventBus) Publish(ev Event) {
	b.mu.RLock()
	regs := make([]*registration, 0, len(b.listeners[ev.Mailbox()]))
	for reg := range b.listeners[ev.Mailbox()] {
		regs = append(regs, reg)
	}
	b.mu.RUnlock()

	for _, reg := range regs {
		reg.l.Event(ev)
	}
}

// Listeners returns the number of listeners on mailbox id.
func (b *EventBus) Listeners(id ID) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners[id])
}
