package mailbox_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	imap "github.com/dyd1024/imapstore"
	"github.com/dyd1024/imapstore/mailbox"
)

func TestEventBusRegistration(t *testing.T) {
	bus := mailbox.NewEventBus()
	var got []mailbox.Event
	l := mailbox.ListenerFunc(func(ev mailbox.Event) { got = append(got, ev) })

	unregister := bus.Register("a", l)
	other := bus.Register("a", mailbox.ListenerFunc(func(mailbox.Event) {}))
	assert.Equal(t, 2, bus.Listeners("a"))
	assert.Zero(t, bus.Listeners("b"))

	ev := mailbox.Expunged{UIDs: []imap.UID{1}}
	ev.MailboxID = "a"
	bus.Publish(ev)
	ev.MailboxID = "b"
	bus.Publish(ev)
	assert.Len(t, got, 1)

	unregister()
	unregister()
	assert.Equal(t, 1, bus.Listeners("a"))
	other()
	assert.Zero(t, bus.Listeners("a"))

	ev.MailboxID = "a"
	bus.Publish(ev)
	assert.Len(t, got, 1)
}
