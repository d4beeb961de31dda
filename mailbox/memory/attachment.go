package memory

import (
	"context"
	"sort"

	"github.com/dyd1024/imapstore/mailbox"
)

// StoreAttachment implements mailbox.AttachmentMapper.
func (s *Store) StoreAttachment(ctx context.Context, a *mailbox.Attachment) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	s.attMu.Lock()
	defer s.attMu.Unlock()
	if _, ok := s.attachments[a.AttachmentID]; ok {
		return nil
	}
	c := *a
	c.Content = append([]byte(nil), a.Content...)
	s.attachments[a.AttachmentID] = &c
	return nil
}

// GetAttachment implements mailbox.AttachmentMapper.
func (s *Store) GetAttachment(ctx context.Context, id mailbox.AttachmentID) (*mailbox.Attachment, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	s.attMu.RLock()
	defer s.attMu.RUnlock()
	a, ok := s.attachments[id]
	if !ok {
		return nil, mailbox.ErrAttachmentNotFound
	}
	c := *a
	c.Content = append([]byte(nil), a.Content...)
	return &c, nil
}

// DeleteOrphanAttachment implements mailbox.AttachmentMapper.
func (s *Store) DeleteOrphanAttachment(ctx context.Context, id mailbox.AttachmentID) (bool, error) {
	if err := s.check(ctx); err != nil {
		return false, err
	}
	s.attMu.Lock()
	defer s.attMu.Unlock()
	if len(s.links[id]) > 0 {
		return false, nil
	}
	if _, ok := s.attachments[id]; !ok {
		return false, nil
	}
	delete(s.attachments, id)
	return true, nil
}

// LinkAttachment implements mailbox.AttachmentMapper.
func (s *Store) LinkAttachment(ctx context.Context, id mailbox.AttachmentID, msg mailbox.MessageID) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	s.attMu.Lock()
	defer s.attMu.Unlock()
	if s.links[id] == nil {
		s.links[id] = make(map[mailbox.MessageID]struct{})
	}
	s.links[id][msg] = struct{}{}
	return nil
}

// UnlinkAttachment implements mailbox.AttachmentMapper.
func (s *Store) UnlinkAttachment(ctx context.Context, id mailbox.AttachmentID, msg mailbox.MessageID) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	s.attMu.Lock()
	defer s.attMu.Unlock()
	delete(s.links[id], msg)
	if len(s.links[id]) == 0 {
		delete(s.links, id)
	}
	return nil
}

// ListOwners implements mailbox.AttachmentMapper.
func (s *Store) ListOwners(ctx context.Context, id mailbox.AttachmentID) ([]mailbox.MessageID, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	s.attMu.RLock()
	defer s.attMu.RUnlock()
	out := make([]mailbox.MessageID, 0, len(s.links[id]))
	for msg := range s.links[id] {
		out = append(out, msg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// ListAttachmentsOf implements mailbox.AttachmentMapper.
func (s *Store) ListAttachmentsOf(ctx context.Context, msg mailbox.MessageID) ([]mailbox.AttachmentID, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	s.attMu.RLock()
	defer s.attMu.RUnlock()
	var out []mailbox.AttachmentID
	for id, owners := range s.links {
		if _, ok := owners[msg]; ok {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// ListLinks implements mailbox.AttachmentMapper.
func (s *Store) ListLinks(ctx context.Context) ([]mailbox.AttachmentLink, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	s.attMu.RLock()
	defer s.attMu.RUnlock()
	var out []mailbox.AttachmentLink
	for id, owners := range s.links {
		for msg := range owners {
			out = append(out, mailbox.AttachmentLink{AttachmentID: id, MessageID: msg})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AttachmentID != out[j].AttachmentID {
			return out[i].AttachmentID < out[j].AttachmentID
		}
		return out[i].MessageID < out[j].MessageID
	})
	return out, nil
}
