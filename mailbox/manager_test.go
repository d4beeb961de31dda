package mailbox_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	imap "github.com/dyd1024/imapstore"
	"github.com/dyd1024/imapstore/mailbox"
	"github.com/dyd1024/imapstore/mailbox/memory"
)

const plainMessage = "From: alice@example.org\r\nSubject: hello\r\n\r\nhi there\r\n"

var reportMessage = strings.Join([]string{
	"From: alice@example.org",
	"To: bob@example.org",
	"Subject: report",
	"MIME-Version: 1.0",
	`Content-Type: multipart/mixed; boundary="XX"`,
	"",
	"--XX",
	"Content-Type: text/plain",
	"",
	"see attached",
	"--XX",
	"Content-Type: application/pdf",
	`Content-Disposition: attachment; filename="r.pdf"`,
	"Content-Transfer-Encoding: base64",
	"",
	"JVBERi0xLjQK",
	"--XX--",
	"",
}, "\r\n")

func newManager(t *testing.T) (*mailbox.Manager, *mailbox.Mailbox) {
	t.Helper()
	l := logrus.New()
	l.SetLevel(logrus.WarnLevel)
	m := mailbox.NewManager(memory.New(), mailbox.WithLogger(logrus.NewEntry(l)))
	mb, err := m.CreateMailbox(context.Background(), mailbox.UserPath("alice", "INBOX"))
	require.NoError(t, err)
	return m, mb
}

func appendN(t *testing.T, m *mailbox.Manager, id mailbox.ID, n int) []imap.UID {
	t.Helper()
	var uids []imap.UID
	for i := 0; i < n; i++ {
		res, err := m.AppendMessage(context.Background(), id, []byte(plainMessage), time.Time{}, nil, false, "")
		require.NoError(t, err)
		uids = append(uids, res.UID)
	}
	return uids
}

func TestCreateMailbox(t *testing.T) {
	m, mb := newManager(t)
	assert.Equal(t, imap.UID(1), mb.UIDNext)
	assert.NotZero(t, mb.UIDValidity)

	_, err := m.CreateMailbox(context.Background(), mb.Path)
	assert.ErrorIs(t, err, mailbox.ErrMailboxExists)

	got, err := m.GetMailbox(context.Background(), mailbox.UserPath("alice", "inbox"))
	require.NoError(t, err)
	assert.Equal(t, mb.ID, got.ID)
}

func TestAppendAssignsIncreasingUIDs(t *testing.T) {
	m, mb := newManager(t)
	uids := appendN(t, m, mb.ID, 3)
	assert.Equal(t, []imap.UID{1, 2, 3}, uids)

	got, err := m.GetMailboxByID(context.Background(), mb.ID)
	require.NoError(t, err)
	assert.Equal(t, imap.UID(4), got.UIDNext)
	assert.Equal(t, imap.ModSeq(3), got.HighestModSeq)
}

func TestConcurrentAppendsNeverShareUID(t *testing.T) {
	const workers, each = 10, 20
	m, mb := newManager(t)
	ctx := context.Background()

	var mu sync.Mutex
	var uids []imap.UID
	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for i := 0; i < each; i++ {
				res, err := m.AppendMessage(ctx, mb.ID, []byte(plainMessage), time.Time{}, nil, false, "")
				if err != nil {
					return err
				}
				mu.Lock()
				uids = append(uids, res.UID)
				mu.Unlock()
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	seen := make(map[imap.UID]bool, len(uids))
	for _, uid := range uids {
		assert.False(t, seen[uid], "uid %d assigned twice", uid)
		seen[uid] = true
	}
	got, err := m.GetMailboxByID(ctx, mb.ID)
	require.NoError(t, err)
	assert.Equal(t, imap.UID(workers*each+1), got.UIDNext)

	msgs, err := m.Messages(ctx, mb.ID, nil, mailbox.FetchMetadata)
	require.NoError(t, err)
	assert.Len(t, msgs, workers*each)
}

func TestAppendToMissingMailbox(t *testing.T) {
	m, _ := newManager(t)
	_, err := m.AppendMessage(context.Background(), "nope", []byte(plainMessage), time.Time{}, nil, false, "")
	assert.ErrorIs(t, err, mailbox.ErrMailboxNotFound)
}

func TestAppendPublishesAdded(t *testing.T) {
	m, mb := newManager(t)
	var events []mailbox.Event
	unregister := m.Events().Register(mb.ID, mailbox.ListenerFunc(func(ev mailbox.Event) {
		events = append(events, ev)
	}))
	defer unregister()

	res, err := m.AppendMessage(context.Background(), mb.ID, []byte(plainMessage), time.Time{}, []imap.Flag{"\\seen"}, true, "s1")
	require.NoError(t, err)

	require.Len(t, events, 1)
	added, ok := events[0].(mailbox.Added)
	require.True(t, ok)
	assert.Equal(t, "s1", added.Origin())
	assert.True(t, added.Recent)
	require.Len(t, added.Messages, 1)
	assert.Equal(t, res.UID, added.Messages[0].UID)
	assert.Equal(t, mailbox.Flags{imap.FlagSeen}, added.Messages[0].Flags)
}

func TestMutateFlagsModSeq(t *testing.T) {
	m, mb := newManager(t)
	ctx := context.Background()
	appendN(t, m, mb.ID, 2)

	updated, err := m.MutateFlags(ctx, mb.ID, imap.AllUIDs(), mailbox.FlagsUpdate{Mode: mailbox.FlagsAdd, Flags: mailbox.NewFlags(imap.FlagSeen)}, "")
	require.NoError(t, err)
	require.Len(t, updated, 2)
	first := updated[0].ModSeq
	assert.Greater(t, first, imap.ModSeq(2))
	assert.Equal(t, first, updated[1].ModSeq)
	assert.Empty(t, updated[0].OldFlags)
	assert.Equal(t, mailbox.Flags{imap.FlagSeen}, updated[0].NewFlags)

	again, err := m.MutateFlags(ctx, mb.ID, imap.AllUIDs(), mailbox.FlagsUpdate{Mode: mailbox.FlagsAdd, Flags: mailbox.NewFlags(imap.FlagSeen)}, "")
	require.NoError(t, err)
	assert.Empty(t, again)
	got, err := m.GetMailboxByID(ctx, mb.ID)
	require.NoError(t, err)
	assert.Equal(t, first, got.HighestModSeq)

	updated, err = m.MutateFlags(ctx, mb.ID, imap.UIDSetOf(1), mailbox.FlagsUpdate{Mode: mailbox.FlagsRemove, Flags: mailbox.NewFlags(imap.FlagSeen)}, "")
	require.NoError(t, err)
	require.Len(t, updated, 1)
	assert.Greater(t, updated[0].ModSeq, first)
}

func TestConcurrentFlagMutationsAreNotLost(t *testing.T) {
	m, mb := newManager(t)
	ctx := context.Background()
	appendN(t, m, mb.ID, 1)

	flags := []imap.Flag{imap.FlagSeen, imap.FlagFlagged, imap.FlagAnswered, imap.FlagDraft, "$Label1", "$Label2"}
	var g errgroup.Group
	for _, f := range flags {
		f := f
		g.Go(func() error {
			_, err := m.MutateFlags(ctx, mb.ID, imap.UIDSetOf(1), mailbox.FlagsUpdate{Mode: mailbox.FlagsAdd, Flags: mailbox.NewFlags(f)}, "")
			return err
		})
	}
	require.NoError(t, g.Wait())

	msgs, err := m.Messages(ctx, mb.ID, nil, mailbox.FetchMetadata)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	for _, f := range flags {
		assert.True(t, msgs[0].Flags.Has(f), "missing %s", f)
	}
	got, err := m.GetMailboxByID(ctx, mb.ID)
	require.NoError(t, err)
	assert.Equal(t, got.HighestModSeq, msgs[0].ModSeq)
}

func TestExpungeRemovesDeleted(t *testing.T) {
	m, mb := newManager(t)
	ctx := context.Background()
	appendN(t, m, mb.ID, 3)
	_, err := m.MutateFlags(ctx, mb.ID, imap.UIDSetOf(1, 3), mailbox.FlagsUpdate{Mode: mailbox.FlagsAdd, Flags: mailbox.NewFlags(imap.FlagDeleted)}, "")
	require.NoError(t, err)

	var expunged []imap.UID
	m.Events().Register(mb.ID, mailbox.ListenerFunc(func(ev mailbox.Event) {
		if e, ok := ev.(mailbox.Expunged); ok {
			expunged = e.UIDs
		}
	}))

	removed, err := m.Expunge(ctx, mb.ID, imap.UIDSetOf(3), "")
	require.NoError(t, err)
	assert.Equal(t, []imap.UID{3}, removed)

	removed, err = m.Expunge(ctx, mb.ID, nil, "")
	require.NoError(t, err)
	assert.Equal(t, []imap.UID{1}, removed)
	assert.Equal(t, []imap.UID{1}, expunged)

	msgs, err := m.Messages(ctx, mb.ID, nil, mailbox.FetchMetadata)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, imap.UID(2), msgs[0].UID)
}

func TestSelectClaimsRecent(t *testing.T) {
	m, mb := newManager(t)
	ctx := context.Background()
	_, err := m.AppendMessage(ctx, mb.ID, []byte(plainMessage), time.Time{}, nil, true, "")
	require.NoError(t, err)

	examined, err := m.Select(ctx, mb.ID, false)
	require.NoError(t, err)
	assert.Equal(t, []imap.UID{1}, examined.Recent)

	st, err := m.Status(ctx, mb.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), st.Recent)
	assert.Equal(t, uint32(1), st.Unseen)

	first, err := m.Select(ctx, mb.ID, true)
	require.NoError(t, err)
	assert.Equal(t, []imap.UID{1}, first.Recent)
	require.Len(t, first.Messages, 1)

	second, err := m.Select(ctx, mb.ID, true)
	require.NoError(t, err)
	assert.Empty(t, second.Recent)
}

func TestRenameAndDeleteMailbox(t *testing.T) {
	m, mb := newManager(t)
	ctx := context.Background()
	appendN(t, m, mb.ID, 2)
	archive := mailbox.UserPath("alice", "Archive")
	_, err := m.CreateMailbox(ctx, archive)
	require.NoError(t, err)

	assert.ErrorIs(t, m.RenameMailbox(ctx, mb.Path, archive), mailbox.ErrMailboxExists)
	moved := mailbox.UserPath("alice", "Moved")
	require.NoError(t, m.RenameMailbox(ctx, mb.Path, moved))
	got, err := m.GetMailbox(ctx, moved)
	require.NoError(t, err)
	assert.Equal(t, mb.UIDValidity, got.UIDValidity)
	assert.Equal(t, imap.UID(3), got.UIDNext)

	deleted := false
	m.Events().Register(mb.ID, mailbox.ListenerFunc(func(ev mailbox.Event) {
		_, deleted = ev.(mailbox.MailboxDeleted)
	}))
	require.NoError(t, m.DeleteMailbox(ctx, moved, ""))
	assert.True(t, deleted)
	_, err = m.GetMailbox(ctx, moved)
	assert.ErrorIs(t, err, mailbox.ErrMailboxNotFound)
	assert.ErrorIs(t, m.DeleteMailbox(ctx, moved, ""), mailbox.ErrMailboxNotFound)
}

func TestCopy(t *testing.T) {
	m, mb := newManager(t)
	ctx := context.Background()
	appendN(t, m, mb.ID, 3)
	dst, err := m.CreateMailbox(ctx, mailbox.UserPath("alice", "Archive"))
	require.NoError(t, err)

	res, err := m.Copy(ctx, mb.ID, dst.ID, imap.UIDSetOf(2, 3), "")
	require.NoError(t, err)
	assert.Equal(t, dst.UIDValidity, res.UIDValidity)
	assert.Equal(t, []imap.UID{2, 3}, res.SourceUIDs)
	assert.Equal(t, []imap.UID{1, 2}, res.DestUIDs)

	msgs, err := m.Messages(ctx, dst.ID, nil, mailbox.FetchFull)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, plainMessage, string(msgs[0].Content))

	_, err = m.Copy(ctx, mb.ID, "missing", imap.AllUIDs(), "")
	assert.ErrorIs(t, err, mailbox.ErrMailboxNotFound)
}

func TestAppendExtractsAttachments(t *testing.T) {
	m, mb := newManager(t)
	ctx := context.Background()
	res, err := m.AppendMessage(ctx, mb.ID, []byte(reportMessage), time.Time{}, nil, false, "")
	require.NoError(t, err)

	links, err := m.AttachmentLinks(ctx)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, res.MessageID, links[0].MessageID)

	att, err := m.Attachment(ctx, links[0].AttachmentID)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", att.ContentType)
	assert.Equal(t, "%PDF-1.4\n", string(att.Content))
	assert.Equal(t, int64(len(att.Content)), att.Size)
	assert.Equal(t, res.MessageID, att.MessageID)
}

func TestExpungeCollectsUnownedAttachments(t *testing.T) {
	m, mb := newManager(t)
	ctx := context.Background()
	_, err := m.AppendMessage(ctx, mb.ID, []byte(reportMessage), time.Time{}, nil, false, "")
	require.NoError(t, err)
	dst, err := m.CreateMailbox(ctx, mailbox.UserPath("alice", "Archive"))
	require.NoError(t, err)
	_, err = m.Copy(ctx, mb.ID, dst.ID, imap.AllUIDs(), "")
	require.NoError(t, err)

	links, err := m.AttachmentLinks(ctx)
	require.NoError(t, err)
	require.Len(t, links, 2)
	id := links[0].AttachmentID

	deleteAll := mailbox.FlagsUpdate{Mode: mailbox.FlagsAdd, Flags: mailbox.NewFlags(imap.FlagDeleted)}
	_, err = m.MutateFlags(ctx, mb.ID, imap.AllUIDs(), deleteAll, "")
	require.NoError(t, err)
	_, err = m.Expunge(ctx, mb.ID, nil, "")
	require.NoError(t, err)

	owners, err := m.OwnersOf(ctx, id)
	require.NoError(t, err)
	assert.Len(t, owners, 1)
	_, err = m.Attachment(ctx, id)
	require.NoError(t, err)

	_, err = m.MutateFlags(ctx, dst.ID, imap.AllUIDs(), deleteAll, "")
	require.NoError(t, err)
	_, err = m.Expunge(ctx, dst.ID, nil, "")
	require.NoError(t, err)

	links, err = m.AttachmentLinks(ctx)
	require.NoError(t, err)
	assert.Empty(t, links)
	_, err = m.Attachment(ctx, id)
	assert.ErrorIs(t, err, mailbox.ErrAttachmentNotFound)
}

func TestAttachmentLinkIdempotence(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	id := mailbox.NewAttachmentID([]byte("shared"))
	owners := []mailbox.MessageID{"m1", "m2", "m3", "m4", "m5"}

	for _, o := range owners {
		require.NoError(t, m.LinkAttachment(ctx, id, o))
		require.NoError(t, m.LinkAttachment(ctx, id, o))
	}
	for _, o := range owners[:2] {
		require.NoError(t, m.UnlinkAttachment(ctx, id, o))
	}
	require.NoError(t, m.UnlinkAttachment(ctx, id, "never-linked"))

	got, err := m.OwnersOf(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, owners[2:], got)
}

func TestAnnotationDepth(t *testing.T) {
	m, mb := newManager(t)
	ctx := context.Background()
	a := mailbox.MustAnnotationKey("/private/a")
	ab := mailbox.MustAnnotationKey("/private/a/b")
	abc := mailbox.MustAnnotationKey("/private/a/b/c")
	other := mailbox.MustAnnotationKey("/private/ab")
	require.NoError(t, m.UpdateAnnotations(ctx, mb.ID, []mailbox.Annotation{
		mailbox.NewAnnotation(a, "1"),
		mailbox.NewAnnotation(ab, "2"),
		mailbox.NewAnnotation(abc, "3"),
		mailbox.NewAnnotation(other, "4"),
	}))

	keys := func(as []mailbox.Annotation) []mailbox.AnnotationKey {
		var out []mailbox.AnnotationKey
		for _, x := range as {
			out = append(out, x.Key)
		}
		return out
	}

	got, err := m.QueryAnnotations(ctx, mb.ID, []mailbox.AnnotationKey{a}, mailbox.DepthExact)
	require.NoError(t, err)
	assert.Equal(t, []mailbox.AnnotationKey{a}, keys(got))

	got, err = m.QueryAnnotations(ctx, mb.ID, []mailbox.AnnotationKey{a}, mailbox.DepthOne)
	require.NoError(t, err)
	assert.Equal(t, []mailbox.AnnotationKey{a, ab}, keys(got))

	got, err = m.QueryAnnotations(ctx, mb.ID, []mailbox.AnnotationKey{a}, mailbox.DepthAll)
	require.NoError(t, err)
	assert.Equal(t, []mailbox.AnnotationKey{a, ab, abc}, keys(got))

	got, err = m.QueryAnnotations(ctx, mb.ID, []mailbox.AnnotationKey{mailbox.MustAnnotationKey("/private/none")}, mailbox.DepthAll)
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, m.UpdateAnnotations(ctx, mb.ID, []mailbox.Annotation{mailbox.NilAnnotation(ab)}))
	got, err = m.QueryAnnotations(ctx, mb.ID, []mailbox.AnnotationKey{a}, mailbox.DepthAll)
	require.NoError(t, err)
	assert.Equal(t, []mailbox.AnnotationKey{a, abc}, keys(got))
}

func TestSetNilAnnotationRejected(t *testing.T) {
	m, mb := newManager(t)
	ctx := context.Background()
	k := mailbox.MustAnnotationKey("/shared/comment")
	require.NoError(t, m.SetAnnotation(ctx, mb.ID, mailbox.NewAnnotation(k, "keep")))

	err := m.SetAnnotation(ctx, mb.ID, mailbox.NilAnnotation(k))
	assert.ErrorIs(t, err, mailbox.ErrNilAnnotation)

	got, err := m.QueryAnnotations(ctx, mb.ID, []mailbox.AnnotationKey{k}, mailbox.DepthExact)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "keep", *got[0].Value)

	err = m.SetAnnotation(ctx, "missing", mailbox.NewAnnotation(k, "x"))
	assert.ErrorIs(t, err, mailbox.ErrMailboxNotFound)
}

// hookStore runs hooks around selected Store calls.
type hookStore struct {
	mailbox.Store
	afterUnlink func()
	onPut       func(ctx context.Context, msg *mailbox.Message) error
}

func (s *hookStore) UnlinkAttachment(ctx context.Context, id mailbox.AttachmentID, msg mailbox.MessageID) error {
	if err := s.Store.UnlinkAttachment(ctx, id, msg); err != nil {
		return err
	}
	if s.afterUnlink != nil {
		s.afterUnlink()
	}
	return nil
}

func (s *hookStore) PutMessage(ctx context.Context, msg *mailbox.Message) error {
	if s.onPut != nil {
		return s.onPut(ctx, msg)
	}
	return s.Store.PutMessage(ctx, msg)
}

func TestAttachmentSurvivesConcurrentRelink(t *testing.T) {
	ctx := context.Background()
	hs := &hookStore{Store: memory.New()}
	m := mailbox.NewManager(hs)
	mb, err := m.CreateMailbox(ctx, mailbox.UserPath("alice", "INBOX"))
	require.NoError(t, err)

	_, err = m.AppendMessage(ctx, mb.ID, []byte(reportMessage), time.Time{}, nil, false, "")
	require.NoError(t, err)

	var (
		once   sync.Once
		second *mailbox.AppendResult
	)
	hs.afterUnlink = func() {
		once.Do(func() {
			var aerr error
			second, aerr = m.AppendMessage(ctx, mb.ID, []byte(reportMessage), time.Time{}, nil, false, "")
			require.NoError(t, aerr)
		})
	}

	_, err = m.MutateFlags(ctx, mb.ID, imap.UIDSetOf(1), mailbox.FlagsUpdate{Mode: mailbox.FlagsAdd, Flags: mailbox.NewFlags(imap.FlagDeleted)}, "")
	require.NoError(t, err)
	_, err = m.Expunge(ctx, mb.ID, nil, "")
	require.NoError(t, err)
	require.NotNil(t, second)

	links, err := m.AttachmentLinks(ctx)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, second.MessageID, links[0].MessageID)
	_, err = m.Attachment(ctx, links[0].AttachmentID)
	assert.NoError(t, err)
}

func TestFailedAppendDropsLinksAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hs := &hookStore{Store: memory.New()}
	m := mailbox.NewManager(hs)
	mb, err := m.CreateMailbox(context.Background(), mailbox.UserPath("alice", "INBOX"))
	require.NoError(t, err)

	hs.onPut = func(ctx context.Context, _ *mailbox.Message) error {
		cancel()
		return ctx.Err()
	}
	_, err = m.AppendMessage(ctx, mb.ID, []byte(reportMessage), time.Time{}, nil, false, "")
	require.ErrorIs(t, err, context.Canceled)

	links, err := m.AttachmentLinks(context.Background())
	require.NoError(t, err)
	assert.Empty(t, links)
	id := mailbox.NewAttachmentID([]byte("%PDF-1.4\n"))
	_, err = m.Attachment(context.Background(), id)
	assert.ErrorIs(t, err, mailbox.ErrAttachmentNotFound)
}

func TestAnnotationLimit(t *testing.T) {
	ctx := context.Background()
	m := mailbox.NewManager(memory.New(), mailbox.WithMaxAnnotations(2))
	mb, err := m.CreateMailbox(ctx, mailbox.UserPath("alice", "INBOX"))
	require.NoError(t, err)
	a := mailbox.MustAnnotationKey("/private/a")
	b := mailbox.MustAnnotationKey("/private/b")
	c := mailbox.MustAnnotationKey("/private/c")

	require.NoError(t, m.UpdateAnnotations(ctx, mb.ID, []mailbox.Annotation{
		mailbox.NewAnnotation(a, "1"),
		mailbox.NewAnnotation(b, "2"),
	}))
	require.NoError(t, m.SetAnnotation(ctx, mb.ID, mailbox.NewAnnotation(a, "replaced")))

	err = m.UpdateAnnotations(ctx, mb.ID, []mailbox.Annotation{
		mailbox.NewAnnotation(a, "3"),
		mailbox.NewAnnotation(c, "4"),
	})
	require.ErrorIs(t, err, mailbox.ErrTooManyAnnotations)
	got, err := m.QueryAnnotations(ctx, mb.ID, []mailbox.AnnotationKey{a}, mailbox.DepthExact)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "replaced", *got[0].Value, "a rejected batch writes nothing")

	assert.ErrorIs(t, m.SetAnnotation(ctx, mb.ID, mailbox.NewAnnotation(c, "4")), mailbox.ErrTooManyAnnotations)

	require.NoError(t, m.UpdateAnnotations(ctx, mb.ID, []mailbox.Annotation{
		mailbox.NewAnnotation(c, "4"),
		mailbox.NilAnnotation(b),
	}))
}
