package server

import (
	"context"
	"errors"
	"sort"
	"sync"

	imap "github.com/dyd1024/imapstore"
	"github.com/dyd1024/imapstore/mailbox"
)

// Update is a change queued for a session until its next flush.
type Update interface {
	isUpdate()
}

// ExistsUpdate reports messages added to the mailbox.
type ExistsUpdate struct {
	UIDs []imap.UID
}

// ExpungeUpdate reports removed messages.
type ExpungeUpdate struct {
	UIDs []imap.UID
}

// FetchFlagsUpdate reports the new flags of a message.
type FetchFlagsUpdate struct {
	UID   imap.UID
	Flags []imap.Flag
}

func (ExistsUpdate) isUpdate()     {}
func (ExpungeUpdate) isUpdate()    {}
func (FetchFlagsUpdate) isUpdate() {}

// SelectedMailbox is a session's view of its selected mailbox: the
// sequence number of every message, the session-local recent set and the
// changes made by others that the client has not been told about yet.
//
// It listens on the event bus of its Manager and reads the store back
// before each flush, so changes made through other Managers sharing the
// store show up too. Changes are only queued and applied to the view in
// Flush, so sequence numbers never move while a command runs.
//
// The view only grows at its tail: a UID lower than the highest one in
// the view is never inserted, because that would renumber messages the
// client already knows. UIDs at or above holdFrom, the lowest UID still
// being stored by this process, are kept back until it lands.
type SelectedMailbox struct {
	id       mailbox.ID
	name     string
	readOnly bool
	origin   string

	mu sync.Mutex
	// uids is ordered by UID; the sequence number of uids[i] is i+1.
	uids            []imap.UID
	modSeqs         map[imap.UID]imap.ModSeq
	recent          map[imap.UID]struct{}
	pending         []Update
	needClaim       bool
	deleted         bool
	announced       int
	announcedRecent int
	holdFrom        imap.UID

	// Store counters as of the last sync.
	syncedUIDNext imap.UID
	syncedModSeq  imap.ModSeq

	unregister func()
}

func newSelectedMailbox(name string, id mailbox.ID, readOnly bool, origin string) *SelectedMailbox {
	return &SelectedMailbox{
		id:       id,
		name:     name,
		readOnly: readOnly,
		origin:   origin,
		modSeqs:  make(map[imap.UID]imap.ModSeq),
		recent:   make(map[imap.UID]struct{}),
	}
}

func (s *SelectedMailbox) load(sel *mailbox.Selection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uids = s.uids[:0]
	for _, m := range sel.Messages {
		s.uids = append(s.uids, m.UID)
		s.modSeqs[m.UID] = m.ModSeq
	}
	sort.Slice(s.uids, func(i, j int) bool { return s.uids[i] < s.uids[j] })
	for _, uid := range sel.Recent {
		s.recent[uid] = struct{}{}
	}
	s.announced = len(s.uids)
	s.announcedRecent = s.numRecent()
	if sel.Mailbox != nil {
		s.syncedUIDNext = sel.Mailbox.UIDNext
		s.syncedModSeq = sel.Mailbox.HighestModSeq
	}
}

// ID returns the mailbox id.
func (s *SelectedMailbox) ID() mailbox.ID { return s.id }

// Name returns the mailbox name as the client spelled it.
func (s *SelectedMailbox) Name() string { return s.name }

// ReadOnly reports whether the mailbox was opened with EXAMINE.
func (s *SelectedMailbox) ReadOnly() bool { return s.readOnly }

// Deleted reports whether the mailbox was deleted under the session.
func (s *SelectedMailbox) Deleted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleted
}

// NumMessages returns the message count the client knows.
func (s *SelectedMailbox) NumMessages() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return uint32(len(s.uids))
}

// NumRecent returns the number of messages recent to this session.
func (s *SelectedMailbox) NumRecent() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return uint32(s.numRecent())
}

func (s *SelectedMailbox) numRecent() int {
	n := 0
	for uid := range s.recent {
		if _, ok := s.index(uid); ok {
			n++
		}
	}
	return n
}

// IsRecent reports whether uid is recent to this session.
func (s *SelectedMailbox) IsRecent(uid imap.UID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.recent[uid]
	return ok
}

// SeqNum returns the sequence number of uid.
func (s *SelectedMailbox) SeqNum(uid imap.UID) (uint32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index(uid)
	return uint32(i + 1), ok
}

func (s *SelectedMailbox) index(uid imap.UID) (int, bool) {
	i := sort.Search(len(s.uids), func(i int) bool { return s.uids[i] >= uid })
	return i, i < len(s.uids) && s.uids[i] == uid
}

// Resolve returns the UIDs addressed by set, in ascending order. Sequence
// numbers are resolved against the session's view and must exist; UIDs
// not in the view are skipped.
func (s *SelectedMailbox) Resolve(set imap.NumSet) ([]imap.UID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch set := set.(type) {
	case *imap.UIDSet:
		if len(s.uids) == 0 {
			return nil, nil
		}
		last := s.uids[len(s.uids)-1]
		var out []imap.UID
		for _, uid := range s.uids {
			if set.Contains(uid, last) {
				out = append(out, uid)
			}
		}
		return out, nil
	case *imap.SeqSet:
		count := uint32(len(s.uids))
		for _, r := range set.Ranges() {
			if count == 0 || r.Start > count || r.Stop > count {
				return nil, imap.ErrBad("invalid sequence number")
			}
		}
		var out []imap.UID
		for i, uid := range s.uids {
			if set.Contains(uint32(i+1), count) {
				out = append(out, uid)
			}
		}
		return out, nil
	default:
		return nil, imap.ErrBad("invalid message set")
	}
}

// Event implements mailbox.Listener. It runs on the publishing goroutine
// and only queues.
func (s *SelectedMailbox) Event(ev mailbox.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev := ev.(type) {
	case mailbox.Added:
		s.queueAdded(ev.Messages, ev.Recent)
	case mailbox.FlagsUpdated:
		for _, fu := range ev.Updates {
			if fu.ModSeq <= s.modSeqs[fu.UID] {
				continue
			}
			s.modSeqs[fu.UID] = fu.ModSeq
			// The session reports its own STORE results directly.
			if ev.Origin() == s.origin {
				continue
			}
			s.pending = append(s.pending, FetchFlagsUpdate{UID: fu.UID, Flags: fu.NewFlags.Clone()})
		}
	case mailbox.Expunged:
		s.pending = append(s.pending, ExpungeUpdate{UIDs: append([]imap.UID(nil), ev.UIDs...)})
	case mailbox.MailboxDeleted:
		s.deleted = true
	}
}

func (s *SelectedMailbox) queueAdded(msgs []mailbox.MessageMetaData, recent bool) {
	u := ExistsUpdate{}
	for _, m := range msgs {
		u.UIDs = append(u.UIDs, m.UID)
		if cur, ok := s.modSeqs[m.UID]; !ok || m.ModSeq > cur {
			s.modSeqs[m.UID] = m.ModSeq
		}
	}
	s.pending = append(s.pending, u)
	if recent {
		if s.readOnly {
			for _, uid := range u.UIDs {
				s.recent[uid] = struct{}{}
			}
		} else {
			s.needClaim = true
		}
	}
}

// Syncer is the part of mailbox.Manager a selection reads the store
// through.
type Syncer interface {
	GetMailboxByID(ctx context.Context, id mailbox.ID) (*mailbox.Mailbox, error)
	Messages(ctx context.Context, id mailbox.ID, uids *imap.UIDSet, fetch mailbox.FetchType) ([]*mailbox.Message, error)
	LowestInFlightUID(id mailbox.ID) imap.UID
}

// Sync reads the mailbox back from the store and queues what changed
// since the last sync and was not delivered as an event: messages added,
// flags changed or messages expunged through another Manager. The message
// list is only read when UIDNEXT or HIGHESTMODSEQ moved.
func (s *SelectedMailbox) Sync(ctx context.Context, m Syncer) error {
	hold := m.LowestInFlightUID(s.id)
	s.mu.Lock()
	s.holdFrom = hold
	s.mu.Unlock()

	mb, err := m.GetMailboxByID(ctx, s.id)
	if errors.Is(err, mailbox.ErrMailboxNotFound) {
		s.mu.Lock()
		s.deleted = true
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		return err
	}

	s.mu.Lock()
	unchanged := mb.UIDNext == s.syncedUIDNext && mb.HighestModSeq == s.syncedModSeq
	s.mu.Unlock()
	if unchanged {
		return nil
	}

	msgs, err := m.Messages(ctx, s.id, nil, mailbox.FetchMetadata)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make(map[imap.UID]struct{}, len(msgs))
	var added []mailbox.MessageMetaData
	recent := false
	for _, msg := range msgs {
		stored[msg.UID] = struct{}{}
		known, ok := s.modSeqs[msg.UID]
		switch {
		case !ok:
			added = append(added, msg.MetaData())
			recent = recent || msg.Recent
		case msg.ModSeq > known:
			s.modSeqs[msg.UID] = msg.ModSeq
			s.pending = append(s.pending, FetchFlagsUpdate{UID: msg.UID, Flags: msg.Flags.Clone()})
		}
	}
	if len(added) > 0 {
		s.queueAdded(added, recent)
	}

	queued := make(map[imap.UID]struct{})
	for _, u := range s.pending {
		if u, ok := u.(ExpungeUpdate); ok {
			for _, uid := range u.UIDs {
				queued[uid] = struct{}{}
			}
		}
	}
	var gone []imap.UID
	for _, uid := range s.uids {
		_, ok := stored[uid]
		_, done := queued[uid]
		if !ok && !done {
			gone = append(gone, uid)
		}
	}
	if len(gone) > 0 {
		s.pending = append(s.pending, ExpungeUpdate{UIDs: gone})
	}

	s.syncedUIDNext = mb.UIDNext
	s.syncedModSeq = mb.HighestModSeq
	return nil
}

// needsClaim reports whether recent messages were added since the last
// claim, and resets the mark.
func (s *SelectedMailbox) needsClaim() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	need := s.needClaim
	s.needClaim = false
	return need
}

func (s *SelectedMailbox) markRecent(uids []imap.UID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, uid := range uids {
		s.recent[uid] = struct{}{}
	}
}

// Flush applies the queued changes to the view and writes the matching
// untagged responses. Expunges stay queued unless allowExpunge is set,
// because they would renumber messages under a sequence-number command.
// Messages added and expunged between two flushes are never announced.
func (s *SelectedMailbox) Flush(w *UpdateWriter, allowExpunge bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	gone := make(map[imap.UID]struct{})
	if allowExpunge {
		for _, u := range s.pending {
			u, ok := u.(ExpungeUpdate)
			if !ok {
				continue
			}
			for _, uid := range u.UIDs {
				gone[uid] = struct{}{}
				_, recent := s.recent[uid]
				delete(s.recent, uid)
				delete(s.modSeqs, uid)
				i, ok := s.index(uid)
				if !ok {
					continue
				}
				// The client drops recent messages it sees expunged.
				if recent {
					s.announcedRecent--
				}
				s.uids = append(s.uids[:i], s.uids[i+1:]...)
				s.announced--
				w.WriteExpunge(uint32(i + 1))
			}
		}
	}

	var (
		kept  []Update
		fresh []imap.UID
	)
	for _, u := range s.pending {
		switch u := u.(type) {
		case ExpungeUpdate:
			if !allowExpunge {
				kept = append(kept, u)
			}
		case ExistsUpdate:
			for _, uid := range u.UIDs {
				if _, ok := gone[uid]; !ok {
					fresh = append(fresh, uid)
				}
			}
		case FetchFlagsUpdate:
			i, ok := s.index(u.UID)
			if !ok {
				continue
			}
			flags := u.Flags
			if _, recent := s.recent[u.UID]; recent {
				flags = append(append([]imap.Flag(nil), flags...), imap.FlagRecent)
			}
			w.WriteMessageFlags(uint32(i+1), u.UID, flags)
		}
	}
	s.pending = kept
	if held := s.appendTail(fresh); len(held) > 0 {
		s.pending = append(s.pending, ExistsUpdate{UIDs: held})
	}

	if len(s.uids) != s.announced {
		s.announced = len(s.uids)
		w.WriteExists(uint32(s.announced))
	}
	if n := s.numRecent(); n != s.announcedRecent {
		s.announcedRecent = n
		w.WriteRecent(uint32(n))
	}
}

// appendTail adds the new UIDs that sort after the view and returns those
// held back by holdFrom. UIDs below the tail are dropped but stay in
// modSeqs so Sync does not offer them again; the client sees them on its
// next SELECT.
func (s *SelectedMailbox) appendTail(uids []imap.UID) []imap.UID {
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	var held []imap.UID
	for _, uid := range uids {
		if s.holdFrom != 0 && uid >= s.holdFrom {
			held = append(held, uid)
			continue
		}
		if n := len(s.uids); n > 0 && uid <= s.uids[n-1] {
			continue
		}
		s.uids = append(s.uids, uid)
	}
	return held
}

func (s *SelectedMailbox) close() {
	if s.unregister != nil {
		s.unregister()
	}
}
