// Package memory is the volatile reference implementation of the mailbox
// storage mappers.
package memory

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	imap "github.com/dyd1024/imapstore"
	"github.com/dyd1024/imapstore/mailbox"
)

// Store keeps everything in process memory. Counters are advanced with
// compare-and-swap; message rows are guarded per mailbox, never globally.
type Store struct {
	mu        sync.RWMutex
	mailboxes map[mailbox.ID]*entry
	paths     map[mailbox.Path]mailbox.ID

	attMu       sync.RWMutex
	attachments map[mailbox.AttachmentID]*mailbox.Attachment
	links       map[mailbox.AttachmentID]map[mailbox.MessageID]struct{}

	closed atomic.Bool
}

type entry struct {
	id          mailbox.ID
	path        mailbox.Path
	uidValidity uint32

	uidNext       atomic.Uint32
	highestModSeq atomic.Uint64

	mu          sync.RWMutex
	messages    map[imap.UID]*mailbox.Message
	annotations map[mailbox.AnnotationKey]string
}

var _ mailbox.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		mailboxes:   make(map[mailbox.ID]*entry),
		paths:       make(map[mailbox.Path]mailbox.ID),
		attachments: make(map[mailbox.AttachmentID]*mailbox.Attachment),
		links:       make(map[mailbox.AttachmentID]map[mailbox.MessageID]struct{}),
	}
}

// Close makes every later call fail with mailbox.ErrStoreClosed.
func (s *Store) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *Store) check(ctx context.Context) error {
	if s.closed.Load() {
		return mailbox.ErrStoreClosed
	}
	return ctx.Err()
}

func (s *Store) entry(ctx context.Context, id mailbox.ID) (*entry, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	e, ok := s.mailboxes[id]
	s.mu.RUnlock()
	if !ok {
		return nil, mailbox.ErrMailboxNotFound
	}
	return e, nil
}

func (e *entry) snapshot(path mailbox.Path) *mailbox.Mailbox {
	return &mailbox.Mailbox{
		ID:            e.id,
		Path:          path,
		UIDValidity:   e.uidValidity,
		UIDNext:       imap.UID(e.uidNext.Load()),
		HighestModSeq: imap.ModSeq(e.highestModSeq.Load()),
	}
}

// CreateMailbox implements mailbox.MailboxMapper.
func (s *Store) CreateMailbox(ctx context.Context, mb *mailbox.Mailbox) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.paths[mb.Path]; ok {
		return mailbox.ErrMailboxExists
	}
	e := &entry{
		id:          mb.ID,
		path:        mb.Path,
		uidValidity: mb.UIDValidity,
		messages:    make(map[imap.UID]*mailbox.Message),
		annotations: make(map[mailbox.AnnotationKey]string),
	}
	uidNext := uint32(mb.UIDNext)
	if uidNext == 0 {
		uidNext = 1
	}
	e.uidNext.Store(uidNext)
	e.highestModSeq.Store(uint64(mb.HighestModSeq))
	s.mailboxes[mb.ID] = e
	s.paths[mb.Path] = mb.ID
	return nil
}

// FindMailboxByPath implements mailbox.MailboxMapper.
func (s *Store) FindMailboxByPath(ctx context.Context, path mailbox.Path) (*mailbox.Mailbox, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.paths[path]
	if !ok {
		return nil, mailbox.ErrMailboxNotFound
	}
	e := s.mailboxes[id]
	return e.snapshot(e.path), nil
}

// FindMailboxByID implements mailbox.MailboxMapper.
func (s *Store) FindMailboxByID(ctx context.Context, id mailbox.ID) (*mailbox.Mailbox, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.mailboxes[id]
	if !ok {
		return nil, mailbox.ErrMailboxNotFound
	}
	return e.snapshot(e.path), nil
}

// ListMailboxes implements mailbox.MailboxMapper.
func (s *Store) ListMailboxes(ctx context.Context, user string) ([]*mailbox.Mailbox, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	var out []*mailbox.Mailbox
	for _, e := range s.mailboxes {
		if e.path.User == user {
			out = append(out, e.snapshot(e.path))
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Path.Name < out[j].Path.Name })
	return out, nil
}

// RenameMailbox implements mailbox.MailboxMapper.
func (s *Store) RenameMailbox(ctx context.Context, id mailbox.ID, to mailbox.Path) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.mailboxes[id]
	if !ok {
		return mailbox.ErrMailboxNotFound
	}
	if other, taken := s.paths[to]; taken && other != id {
		return mailbox.ErrMailboxExists
	}
	delete(s.paths, e.path)
	e.path = to
	s.paths[to] = id
	return nil
}

// DeleteMailbox implements mailbox.MailboxMapper.
func (s *Store) DeleteMailbox(ctx context.Context, id mailbox.ID) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.mailboxes[id]
	if !ok {
		return mailbox.ErrMailboxNotFound
	}
	delete(s.paths, e.path)
	delete(s.mailboxes, id)
	return nil
}

// AllocateUID implements mailbox.MailboxMapper.
func (s *Store) AllocateUID(ctx context.Context, id mailbox.ID) (imap.UID, error) {
	e, err := s.entry(ctx, id)
	if err != nil {
		return 0, err
	}
	for {
		cur := e.uidNext.Load()
		if e.uidNext.CompareAndSwap(cur, cur+1) {
			return imap.UID(cur), nil
		}
	}
}

// AllocateModSeq implements mailbox.MailboxMapper.
func (s *Store) AllocateModSeq(ctx context.Context, id mailbox.ID) (imap.ModSeq, error) {
	e, err := s.entry(ctx, id)
	if err != nil {
		return 0, err
	}
	for {
		cur := e.highestModSeq.Load()
		if e.highestModSeq.CompareAndSwap(cur, cur+1) {
			return imap.ModSeq(cur + 1), nil
		}
	}
}
