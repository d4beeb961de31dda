package memory

import (
	"context"
	"sort"

	imap "github.com/dyd1024/imapstore"
	"github.com/dyd1024/imapstore/mailbox"
)

// PutMessage implements mailbox.MessageMapper.
func (s *Store) PutMessage(ctx context.Context, msg *mailbox.Message) error {
	e, err := s.entry(ctx, msg.MailboxID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.messages[msg.UID] = msg.Clone()
	return nil
}

// GetMessages implements mailbox.MessageMapper.
func (s *Store) GetMessages(ctx context.Context, id mailbox.ID, uids *imap.UIDSet, fetch mailbox.FetchType) ([]*mailbox.Message, error) {
	e, err := s.entry(ctx, id)
	if err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()

	var last imap.UID
	for uid := range e.messages {
		if uid > last {
			last = uid
		}
	}
	out := make([]*mailbox.Message, 0, len(e.messages))
	for uid, msg := range e.messages {
		if uids != nil && !uids.Contains(uid, last) {
			continue
		}
		c := msg.Clone()
		if fetch == mailbox.FetchMetadata {
			c.Content = nil
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out, nil
}

// UpdateFlags implements mailbox.MessageMapper.
func (s *Store) UpdateFlags(ctx context.Context, id mailbox.ID, uid imap.UID, expect imap.ModSeq, flags mailbox.Flags, modSeq imap.ModSeq) error {
	e, err := s.entry(ctx, id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	msg, ok := e.messages[uid]
	if !ok {
		return mailbox.ErrMessageNotFound
	}
	if msg.ModSeq != expect {
		return mailbox.ErrConflict
	}
	msg.Flags = flags.Clone()
	msg.ModSeq = modSeq
	return nil
}

// DeleteMessages implements mailbox.MessageMapper.
func (s *Store) DeleteMessages(ctx context.Context, id mailbox.ID, uids []imap.UID) error {
	e, err := s.entry(ctx, id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, uid := range uids {
		delete(e.messages, uid)
	}
	return nil
}

// ClaimRecent implements mailbox.MessageMapper.
func (s *Store) ClaimRecent(ctx context.Context, id mailbox.ID) ([]imap.UID, error) {
	e, err := s.entry(ctx, id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	var uids []imap.UID
	for uid, msg := range e.messages {
		if msg.Recent {
			msg.Recent = false
			uids = append(uids, uid)
		}
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	return uids, nil
}
