package server

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	imap "github.com/dyd1024/imapstore"
	"github.com/dyd1024/imapstore/mailbox"
)

// Delimiter is the mailbox hierarchy separator.
const Delimiter = '/'

// Session is the per-connection state: the authenticated user and the
// selected mailbox. It is owned by one connection.
type Session struct {
	id      string
	manager *mailbox.Manager

	mu       sync.Mutex
	user     string
	selected *SelectedMailbox
}

func newSession(m *mailbox.Manager) *Session {
	return &Session{id: uuid.NewString(), manager: m}
}

// ID identifies the session as the origin of the changes it makes.
func (s *Session) ID() string {
	return s.id
}

// Manager returns the mailbox manager.
func (s *Session) Manager() *mailbox.Manager {
	return s.manager
}

// User returns the authenticated user, or "".
func (s *Session) User() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// Login binds the session to user and makes sure the INBOX exists.
func (s *Session) Login(ctx context.Context, user string) error {
	_, err := s.manager.CreateMailbox(ctx, mailbox.UserPath(user, mailbox.Inbox))
	if err != nil && !errors.Is(err, mailbox.ErrMailboxExists) {
		return err
	}
	s.mu.Lock()
	s.user = user
	s.mu.Unlock()
	return nil
}

// Path converts a client mailbox name into a path of the session user.
func (s *Session) Path(name string) (mailbox.Path, error) {
	if name == "" {
		return mailbox.Path{}, imap.ErrBad("empty mailbox name")
	}
	if strings.HasPrefix(name, string(Delimiter)) || strings.HasSuffix(name, string(Delimiter)) ||
		strings.Contains(name, string(Delimiter)+string(Delimiter)) {
		return mailbox.Path{}, imap.ErrBad("invalid mailbox name")
	}
	return mailbox.UserPath(s.User(), name), nil
}

// Selected returns the selected mailbox, or nil.
func (s *Session) Selected() *SelectedMailbox {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// Select replaces the current selection with the mailbox called name.
// The previous selection, and its recent set, is discarded first, so a
// failed SELECT leaves nothing selected.
func (s *Session) Select(ctx context.Context, name string, readOnly bool) (*SelectedMailbox, *imap.SelectData, error) {
	s.Unselect()

	path, err := s.Path(name)
	if err != nil {
		return nil, nil, err
	}
	mb, err := s.manager.GetMailbox(ctx, path)
	if err != nil {
		return nil, nil, err
	}

	sel := newSelectedMailbox(name, mb.ID, readOnly, s.id)
	sel.unregister = s.manager.Events().Register(mb.ID, sel)
	snapshot, err := s.manager.Select(ctx, mb.ID, !readOnly)
	if err != nil {
		sel.close()
		return nil, nil, err
	}
	sel.load(snapshot)

	s.mu.Lock()
	s.selected = sel
	s.mu.Unlock()
	return sel, selectData(snapshot, sel), nil
}

func selectData(snapshot *mailbox.Selection, sel *SelectedMailbox) *imap.SelectData {
	data := &imap.SelectData{
		Flags:         imap.SystemFlags(),
		NumMessages:   sel.NumMessages(),
		NumRecent:     sel.NumRecent(),
		UIDNext:       snapshot.Mailbox.UIDNext,
		UIDValidity:   snapshot.Mailbox.UIDValidity,
		HighestModSeq: snapshot.Mailbox.HighestModSeq,
		ReadOnly:      sel.ReadOnly(),
	}
	if !data.ReadOnly {
		data.PermanentFlags = append(imap.SystemFlags(), imap.FlagWildcard)
	}

	msgs := append([]mailbox.MessageMetaData(nil), snapshot.Messages...)
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].UID < msgs[j].UID })
	for i, m := range msgs {
		if !m.Flags.Has(imap.FlagSeen) {
			data.FirstUnseen = uint32(i + 1)
			break
		}
	}
	return data
}

// Unselect drops the current selection, if any.
func (s *Session) Unselect() {
	s.mu.Lock()
	sel := s.selected
	s.selected = nil
	s.mu.Unlock()
	if sel != nil {
		sel.close()
	}
}

// Close releases the session.
func (s *Session) Close() error {
	s.Unselect()
	return nil
}
