// Package mappertest is the contract suite every mailbox.Store
// implementation must pass.
package mappertest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	imap "github.com/dyd1024/imapstore"
	"github.com/dyd1024/imapstore/mailbox"
)

// Factory returns an empty store. The suite closes it.
type Factory func(t *testing.T) mailbox.Store

// Run runs the contract suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s mailbox.Store)
	}{
		{"MailboxLifecycle", testMailboxLifecycle},
		{"DuplicatePath", testDuplicatePath},
		{"AllocateUIDSequential", testAllocateUIDSequential},
		{"AllocateUIDConcurrent", testAllocateUIDConcurrent},
		{"AllocateModSeqConcurrent", testAllocateModSeqConcurrent},
		{"Messages", testMessages},
		{"ConditionalFlagUpdate", testConditionalFlagUpdate},
		{"ClaimRecent", testClaimRecent},
		{"Annotations", testAnnotations},
		{"DeleteMailboxCascades", testDeleteMailboxCascades},
		{"AttachmentStore", testAttachmentStore},
		{"AttachmentLinks", testAttachmentLinks},
		{"OrphanDeleteRacesLink", testOrphanDeleteRacesLink},
		{"Closed", testClosed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

func newMailbox(t *testing.T, s mailbox.Store, name string) *mailbox.Mailbox {
	t.Helper()
	mb := &mailbox.Mailbox{
		ID:          mailbox.NewID(),
		Path:        mailbox.UserPath("alice", name),
		UIDValidity: 42,
		UIDNext:     1,
	}
	require.NoError(t, s.CreateMailbox(context.Background(), mb))
	return mb
}

func putMessage(t *testing.T, s mailbox.Store, mb *mailbox.Mailbox, recent bool, flags ...imap.Flag) *mailbox.Message {
	t.Helper()
	ctx := context.Background()
	uid, err := s.AllocateUID(ctx, mb.ID)
	require.NoError(t, err)
	modSeq, err := s.AllocateModSeq(ctx, mb.ID)
	require.NoError(t, err)
	msg := &mailbox.Message{
		MailboxID:    mb.ID,
		UID:          uid,
		ModSeq:       modSeq,
		MessageID:    mailbox.NewMessageID(),
		InternalDate: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		Size:         int64(len("Subject: hi\r\n\r\nbody\r\n")),
		Flags:        mailbox.NewFlags(flags...),
		Recent:       recent,
		Content:      []byte("Subject: hi\r\n\r\nbody\r\n"),
	}
	require.NoError(t, s.PutMessage(ctx, msg))
	return msg
}

func testMailboxLifecycle(t *testing.T, s mailbox.Store) {
	ctx := context.Background()
	mb := newMailbox(t, s, "INBOX")
	newMailbox(t, s, "Archive")

	got, err := s.FindMailboxByPath(ctx, mb.Path)
	require.NoError(t, err)
	assert.Equal(t, mb.ID, got.ID)
	assert.Equal(t, uint32(42), got.UIDValidity)
	assert.Equal(t, imap.UID(1), got.UIDNext)

	got, err = s.FindMailboxByID(ctx, mb.ID)
	require.NoError(t, err)
	assert.Equal(t, mb.Path, got.Path)

	list, err := s.ListMailboxes(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Archive", list[0].Path.Name)
	assert.Equal(t, "INBOX", list[1].Path.Name)

	list, err = s.ListMailboxes(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, list)

	to := mailbox.UserPath("alice", "Old")
	require.NoError(t, s.RenameMailbox(ctx, mb.ID, to))
	_, err = s.FindMailboxByPath(ctx, mb.Path)
	assert.ErrorIs(t, err, mailbox.ErrMailboxNotFound)
	got, err = s.FindMailboxByPath(ctx, to)
	require.NoError(t, err)
	assert.Equal(t, mb.ID, got.ID)

	err = s.RenameMailbox(ctx, mb.ID, mailbox.UserPath("alice", "Archive"))
	assert.ErrorIs(t, err, mailbox.ErrMailboxExists)

	require.NoError(t, s.DeleteMailbox(ctx, mb.ID))
	_, err = s.FindMailboxByID(ctx, mb.ID)
	assert.ErrorIs(t, err, mailbox.ErrMailboxNotFound)
	assert.ErrorIs(t, s.DeleteMailbox(ctx, mb.ID), mailbox.ErrMailboxNotFound)
	_, err = s.AllocateUID(ctx, mb.ID)
	assert.ErrorIs(t, err, mailbox.ErrMailboxNotFound)
}

func testDuplicatePath(t *testing.T, s mailbox.Store) {
	mb := newMailbox(t, s, "INBOX")
	dup := &mailbox.Mailbox{ID: mailbox.NewID(), Path: mb.Path, UIDValidity: 7, UIDNext: 1}
	assert.ErrorIs(t, s.CreateMailbox(context.Background(), dup), mailbox.ErrMailboxExists)
}

func testAllocateUIDSequential(t *testing.T, s mailbox.Store) {
	ctx := context.Background()
	mb := newMailbox(t, s, "INBOX")
	for want := imap.UID(1); want <= 5; want++ {
		uid, err := s.AllocateUID(ctx, mb.ID)
		require.NoError(t, err)
		assert.Equal(t, want, uid)
	}
	got, err := s.FindMailboxByID(ctx, mb.ID)
	require.NoError(t, err)
	assert.Equal(t, imap.UID(6), got.UIDNext)

	first, err := s.AllocateModSeq(ctx, mb.ID)
	require.NoError(t, err)
	second, err := s.AllocateModSeq(ctx, mb.ID)
	require.NoError(t, err)
	assert.Equal(t, first+1, second)
	got, err = s.FindMailboxByID(ctx, mb.ID)
	require.NoError(t, err)
	assert.Equal(t, second, got.HighestModSeq)
}

func testAllocateUIDConcurrent(t *testing.T, s mailbox.Store) {
	const workers, each = 8, 25
	ctx := context.Background()
	mb := newMailbox(t, s, "INBOX")

	var mu sync.Mutex
	seen := make(map[imap.UID]bool)
	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for i := 0; i < each; i++ {
				uid, err := s.AllocateUID(ctx, mb.ID)
				if err != nil {
					return err
				}
				mu.Lock()
				dup := seen[uid]
				seen[uid] = true
				mu.Unlock()
				assert.False(t, dup, "uid %d handed out twice", uid)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Len(t, seen, workers*each)

	got, err := s.FindMailboxByID(ctx, mb.ID)
	require.NoError(t, err)
	assert.Equal(t, imap.UID(workers*each+1), got.UIDNext)
}

func testAllocateModSeqConcurrent(t *testing.T, s mailbox.Store) {
	const workers, each = 8, 25
	ctx := context.Background()
	mb := newMailbox(t, s, "INBOX")

	var mu sync.Mutex
	seen := make(map[imap.ModSeq]bool)
	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			var prev imap.ModSeq
			for i := 0; i < each; i++ {
				ms, err := s.AllocateModSeq(ctx, mb.ID)
				if err != nil {
					return err
				}
				assert.Greater(t, ms, prev)
				prev = ms
				mu.Lock()
				seen[ms] = true
				mu.Unlock()
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Len(t, seen, workers*each)
}

func testMessages(t *testing.T, s mailbox.Store) {
	ctx := context.Background()
	mb := newMailbox(t, s, "INBOX")
	m1 := putMessage(t, s, mb, false)
	m2 := putMessage(t, s, mb, false, imap.FlagSeen)
	m3 := putMessage(t, s, mb, false)

	all, err := s.GetMessages(ctx, mb.ID, nil, mailbox.FetchFull)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []imap.UID{m1.UID, m2.UID, m3.UID}, []imap.UID{all[0].UID, all[1].UID, all[2].UID})
	assert.Equal(t, m2.Content, all[1].Content)
	assert.Equal(t, mailbox.Flags{imap.FlagSeen}, all[1].Flags)
	assert.Equal(t, m2.MessageID, all[1].MessageID)
	assert.True(t, m2.InternalDate.Equal(all[1].InternalDate))
	assert.Equal(t, m2.Size, all[1].Size)

	meta, err := s.GetMessages(ctx, mb.ID, imap.UIDSetOf(m2.UID), mailbox.FetchMetadata)
	require.NoError(t, err)
	require.Len(t, meta, 1)
	assert.Empty(t, meta[0].Content)

	set, err := imap.ParseUIDSet("2:*")
	require.NoError(t, err)
	tail, err := s.GetMessages(ctx, mb.ID, set, mailbox.FetchMetadata)
	require.NoError(t, err)
	assert.Len(t, tail, 2)

	none, err := s.GetMessages(ctx, mb.ID, imap.UIDSetOf(99), mailbox.FetchMetadata)
	require.NoError(t, err)
	assert.Empty(t, none)

	for _, tt := range []struct {
		set  string
		want []imap.UID
	}{
		{"1,3", []imap.UID{m1.UID, m3.UID}},
		{"*:2", []imap.UID{m2.UID, m3.UID}},
		{"100:*", []imap.UID{m3.UID}},
		{"*", []imap.UID{m3.UID}},
		{"2:2,1", []imap.UID{m1.UID, m2.UID}},
	} {
		set, err := imap.ParseUIDSet(tt.set)
		require.NoError(t, err)
		got, err := s.GetMessages(ctx, mb.ID, set, mailbox.FetchMetadata)
		require.NoError(t, err)
		var uids []imap.UID
		for _, m := range got {
			uids = append(uids, m.UID)
		}
		assert.Equal(t, tt.want, uids, tt.set)
	}

	many := &imap.UIDSet{}
	for uid := imap.UID(1); uid <= 400; uid += 2 {
		many.AddNum(uid)
	}
	sparse, err := s.GetMessages(ctx, mb.ID, many, mailbox.FetchMetadata)
	require.NoError(t, err)
	require.Len(t, sparse, 2)
	assert.Equal(t, m1.UID, sparse[0].UID)
	assert.Equal(t, m3.UID, sparse[1].UID)

	require.NoError(t, s.DeleteMessages(ctx, mb.ID, []imap.UID{m1.UID, 99}))
	all, err = s.GetMessages(ctx, mb.ID, nil, mailbox.FetchMetadata)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func testConditionalFlagUpdate(t *testing.T, s mailbox.Store) {
	ctx := context.Background()
	mb := newMailbox(t, s, "INBOX")
	msg := putMessage(t, s, mb, false)

	next, err := s.AllocateModSeq(ctx, mb.ID)
	require.NoError(t, err)
	require.NoError(t, s.UpdateFlags(ctx, mb.ID, msg.UID, msg.ModSeq, mailbox.NewFlags(imap.FlagSeen), next))

	err = s.UpdateFlags(ctx, mb.ID, msg.UID, msg.ModSeq, mailbox.NewFlags(imap.FlagFlagged), next+1)
	assert.ErrorIs(t, err, mailbox.ErrConflict)

	got, err := s.GetMessages(ctx, mb.ID, imap.UIDSetOf(msg.UID), mailbox.FetchMetadata)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, next, got[0].ModSeq)
	assert.Equal(t, mailbox.Flags{imap.FlagSeen}, got[0].Flags)

	err = s.UpdateFlags(ctx, mb.ID, 99, 1, nil, next+1)
	assert.ErrorIs(t, err, mailbox.ErrMessageNotFound)
}

func testClaimRecent(t *testing.T, s mailbox.Store) {
	ctx := context.Background()
	mb := newMailbox(t, s, "INBOX")
	putMessage(t, s, mb, false)
	m2 := putMessage(t, s, mb, true)
	m3 := putMessage(t, s, mb, true)

	uids, err := s.ClaimRecent(ctx, mb.ID)
	require.NoError(t, err)
	assert.Equal(t, []imap.UID{m2.UID, m3.UID}, uids)

	uids, err = s.ClaimRecent(ctx, mb.ID)
	require.NoError(t, err)
	assert.Empty(t, uids)
}

func testAnnotations(t *testing.T, s mailbox.Store) {
	ctx := context.Background()
	mb := newMailbox(t, s, "INBOX")
	k1 := mailbox.MustAnnotationKey("/private/comment")
	k2 := mailbox.MustAnnotationKey("/private/comment/sub")

	require.NoError(t, s.PutAnnotation(ctx, mb.ID, mailbox.NewAnnotation(k2, "b")))
	require.NoError(t, s.PutAnnotation(ctx, mb.ID, mailbox.NewAnnotation(k1, "a")))
	require.NoError(t, s.PutAnnotation(ctx, mb.ID, mailbox.NewAnnotation(k1, "a2")))

	list, err := s.ListAnnotations(ctx, mb.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, k1, list[0].Key)
	assert.Equal(t, "a2", *list[0].Value)
	assert.Equal(t, k2, list[1].Key)

	err = s.PutAnnotation(ctx, mb.ID, mailbox.NilAnnotation(k1))
	assert.ErrorIs(t, err, mailbox.ErrNilAnnotation)
	list, err = s.ListAnnotations(ctx, mb.ID)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	exists, err := s.AnnotationExists(ctx, mb.ID, k1)
	require.NoError(t, err)
	assert.True(t, exists)
	n, err := s.CountAnnotations(ctx, mb.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, s.DeleteAnnotation(ctx, mb.ID, k1))
	require.NoError(t, s.DeleteAnnotation(ctx, mb.ID, k1))
	list, err = s.ListAnnotations(ctx, mb.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, k2, list[0].Key)

	exists, err = s.AnnotationExists(ctx, mb.ID, k1)
	require.NoError(t, err)
	assert.False(t, exists)
	n, err = s.CountAnnotations(ctx, mb.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	other := newMailbox(t, s, "Other")
	n, err = s.CountAnnotations(ctx, other.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testDeleteMailboxCascades(t *testing.T, s mailbox.Store) {
	ctx := context.Background()
	mb := newMailbox(t, s, "INBOX")
	putMessage(t, s, mb, false)
	require.NoError(t, s.PutAnnotation(ctx, mb.ID, mailbox.NewAnnotation(mailbox.MustAnnotationKey("/shared/x"), "v")))
	require.NoError(t, s.DeleteMailbox(ctx, mb.ID))

	again := &mailbox.Mailbox{ID: mailbox.NewID(), Path: mb.Path, UIDValidity: 43, UIDNext: 1}
	require.NoError(t, s.CreateMailbox(ctx, again))
	msgs, err := s.GetMessages(ctx, again.ID, nil, mailbox.FetchMetadata)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	anns, err := s.ListAnnotations(ctx, again.ID)
	require.NoError(t, err)
	assert.Empty(t, anns)
}

func testAttachmentStore(t *testing.T, s mailbox.Store) {
	ctx := context.Background()
	content := []byte("attachment body")
	id := mailbox.NewAttachmentID(content)
	first := &mailbox.Attachment{
		AttachmentMetadata: mailbox.AttachmentMetadata{AttachmentID: id, ContentType: "text/plain", Size: int64(len(content)), MessageID: "m1"},
		Content:            content,
	}
	second := &mailbox.Attachment{
		AttachmentMetadata: mailbox.AttachmentMetadata{AttachmentID: id, ContentType: "application/octet-stream", Size: int64(len(content)), MessageID: "m2"},
		Content:            content,
	}
	require.NoError(t, s.StoreAttachment(ctx, first))
	require.NoError(t, s.StoreAttachment(ctx, second))

	got, err := s.GetAttachment(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "text/plain", got.ContentType)
	assert.Equal(t, mailbox.MessageID("m1"), got.MessageID)
	assert.Equal(t, content, got.Content)

	require.NoError(t, s.LinkAttachment(ctx, id, "m1"))
	deleted, err := s.DeleteOrphanAttachment(ctx, id)
	require.NoError(t, err)
	assert.False(t, deleted)
	_, err = s.GetAttachment(ctx, id)
	require.NoError(t, err)

	require.NoError(t, s.UnlinkAttachment(ctx, id, "m1"))
	deleted, err = s.DeleteOrphanAttachment(ctx, id)
	require.NoError(t, err)
	assert.True(t, deleted)
	_, err = s.GetAttachment(ctx, id)
	assert.ErrorIs(t, err, mailbox.ErrAttachmentNotFound)

	deleted, err = s.DeleteOrphanAttachment(ctx, id)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func testOrphanDeleteRacesLink(t *testing.T, s mailbox.Store) {
	ctx := context.Background()
	content := []byte("shared body")
	id := mailbox.NewAttachmentID(content)
	att := &mailbox.Attachment{
		AttachmentMetadata: mailbox.AttachmentMetadata{AttachmentID: id, ContentType: "text/plain", Size: int64(len(content)), MessageID: "old"},
		Content:            content,
	}
	require.NoError(t, s.StoreAttachment(ctx, att))
	require.NoError(t, s.LinkAttachment(ctx, id, "old"))

	for i := 0; i < 50; i++ {
		owner := mailbox.MessageID(fmt.Sprintf("new-%d", i))
		prev := mailbox.MessageID("old")
		if i > 0 {
			prev = mailbox.MessageID(fmt.Sprintf("new-%d", i-1))
		}
		var g errgroup.Group
		g.Go(func() error {
			if err := s.UnlinkAttachment(ctx, id, prev); err != nil {
				return err
			}
			_, err := s.DeleteOrphanAttachment(ctx, id)
			return err
		})
		g.Go(func() error {
			if err := s.LinkAttachment(ctx, id, owner); err != nil {
				return err
			}
			return s.StoreAttachment(ctx, att)
		})
		require.NoError(t, g.Wait())

		owners, err := s.ListOwners(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, []mailbox.MessageID{owner}, owners)
		_, err = s.GetAttachment(ctx, id)
		require.NoError(t, err, "owned attachment collected in round %d", i)
	}
}

func testAttachmentLinks(t *testing.T, s mailbox.Store) {
	ctx := context.Background()
	a := mailbox.NewAttachmentID([]byte("a"))
	b := mailbox.NewAttachmentID([]byte("b"))

	require.NoError(t, s.LinkAttachment(ctx, a, "m1"))
	require.NoError(t, s.LinkAttachment(ctx, a, "m1"))
	require.NoError(t, s.LinkAttachment(ctx, a, "m2"))
	require.NoError(t, s.LinkAttachment(ctx, a, "m3"))
	require.NoError(t, s.LinkAttachment(ctx, b, "m1"))

	owners, err := s.ListOwners(ctx, a)
	require.NoError(t, err)
	assert.ElementsMatch(t, []mailbox.MessageID{"m1", "m2", "m3"}, owners)

	require.NoError(t, s.UnlinkAttachment(ctx, a, "m2"))
	require.NoError(t, s.UnlinkAttachment(ctx, a, "m2"))
	require.NoError(t, s.UnlinkAttachment(ctx, a, "nobody"))
	owners, err = s.ListOwners(ctx, a)
	require.NoError(t, err)
	assert.ElementsMatch(t, []mailbox.MessageID{"m1", "m3"}, owners)

	atts, err := s.ListAttachmentsOf(ctx, "m1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []mailbox.AttachmentID{a, b}, atts)

	links, err := s.ListLinks(ctx)
	require.NoError(t, err)
	assert.Len(t, links, 3)
}

func testClosed(t *testing.T, s mailbox.Store) {
	ctx := context.Background()
	mb := newMailbox(t, s, "INBOX")
	require.NoError(t, s.Close())
	_, err := s.FindMailboxByID(ctx, mb.ID)
	assert.ErrorIs(t, err, mailbox.ErrStoreClosed)
	_, err = s.AllocateUID(ctx, mb.ID)
	assert.ErrorIs(t, err, mailbox.ErrStoreClosed)
}
