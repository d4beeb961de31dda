package mailbox

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	imap "github.com/dyd1024/imapstore"
)

// DefaultMaxRetries bounds conditional-update retries of one message.
const DefaultMaxRetries = 16

const cleanupTimeout = 5 * time.Second

// Manager implements the mailbox operations on top of a Store. Counters
// are allocated through the mapper and flag updates are conditional on the
// previous ModSeq, so several Managers, possibly in different processes,
// can share one Store. Events only reach listeners of the same Manager;
// sessions learn about changes made elsewhere by reading the store back.
type Manager struct {
	store      Store
	events     *EventBus
	log        *logrus.Entry
	maxRetries int
	// maxAnnotations caps the keys per mailbox; 0 means no limit.
	maxAnnotations int
	inFlight       inFlightUIDs
}

// inFlightUIDs tracks UIDs allocated by this Manager whose message is not
// stored yet.
type inFlightUIDs struct {
	mu   sync.Mutex
	uids map[ID]map[imap.UID]struct{}
}

func (f *inFlightUIDs) add(id ID, uid imap.UID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uids == nil {
		f.uids = make(map[ID]map[imap.UID]struct{})
	}
	if f.uids[id] == nil {
		f.uids[id] = make(map[imap.UID]struct{})
	}
	f.uids[id][uid] = struct{}{}
}

func (f *inFlightUIDs) done(id ID, uid imap.UID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.uids[id], uid)
	if len(f.uids[id]) == 0 {
		delete(f.uids, id)
	}
}

func (f *inFlightUIDs) lowest(id ID) imap.UID {
	f.mu.Lock()
	defer f.mu.Unlock()
	var low imap.UID
	for uid := range f.uids[id] {
		if low == 0 || uid < low {
			low = uid
		}
	}
	return low
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithEventBus sets the bus events are published on.
func WithEventBus(bus *EventBus) ManagerOption {
	return func(m *Manager) { m.events = bus }
}

// WithLogger sets the logger.
func WithLogger(l *logrus.Entry) ManagerOption {
	return func(m *Manager) { m.log = l }
}

// WithMaxRetries sets how often a lost conditional update is retried.
func WithMaxRetries(n int) ManagerOption {
	return func(m *Manager) { m.maxRetries = n }
}

// WithMaxAnnotations caps the number of annotation keys per mailbox.
func WithMaxAnnotations(n int) ManagerOption {
	return func(m *Manager) { m.maxAnnotations = n }
}

// NewManager creates a Manager over store.
func NewManager(store Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:      store,
		events:     NewEventBus(),
		log:        logrus.NewEntry(logrus.StandardLogger()),
		maxRetries: DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Events returns the bus the Manager publishes on.
func (m *Manager) Events() *EventBus {
	return m.events
}

// Store returns the underlying store.
func (m *Manager) Store() Store {
	return m.store
}

// CreateMailbox creates an empty mailbox at path with a fresh UIDVALIDITY.
func (m *Manager) CreateMailbox(ctx context.Context, path Path) (*Mailbox, error) {
	mb := &Mailbox{
		ID:          NewID(),
		Path:        path,
		UIDValidity: NewUIDValidity(),
		UIDNext:     1,
	}
	if err := m.store.CreateMailbox(ctx, mb); err != nil {
		return nil, err
	}
	m.log.WithFields(logrus.Fields{"mailbox": path.String(), "uidvalidity": mb.UIDValidity}).Debug("Created mailbox")
	return mb, nil
}

// GetMailbox resolves path.
func (m *Manager) GetMailbox(ctx context.Context, path Path) (*Mailbox, error) {
	return m.store.FindMailboxByPath(ctx, path)
}

// GetMailboxByID reloads a mailbox, counters included.
func (m *Manager) GetMailboxByID(ctx context.Context, id ID) (*Mailbox, error) {
	return m.store.FindMailboxByID(ctx, id)
}

// ListMailboxes returns the mailboxes of user.
func (m *Manager) ListMailboxes(ctx context.Context, user string) ([]*Mailbox, error) {
	return m.store.ListMailboxes(ctx, user)
}

// RenameMailbox moves the mailbox at from to to. Messages keep their UIDs.
func (m *Manager) RenameMailbox(ctx context.Context, from, to Path) error {
	mb, err := m.store.FindMailboxByPath(ctx, from)
	if err != nil {
		return err
	}
	return m.store.RenameMailbox(ctx, mb.ID, to)
}

// DeleteMailbox removes the mailbox at path, its messages, its annotations
// and the attachment links of its messages.
func (m *Manager) DeleteMailbox(ctx context.Context, path Path, origin string) error {
	mb, err := m.store.FindMailboxByPath(ctx, path)
	if err != nil {
		return err
	}
	msgs, err := m.store.GetMessages(ctx, mb.ID, nil, FetchMetadata)
	if err != nil {
		return err
	}
	for _, msg := range msgs {
		if err := m.releaseAttachments(ctx, msg.MessageID); err != nil {
			return err
		}
	}
	if err := m.store.DeleteMailbox(ctx, mb.ID); err != nil {
		return err
	}
	m.events.Publish(MailboxDeleted{eventBase{mb.ID, origin}})
	return nil
}

// AppendResult is what AppendMessage assigned.
type AppendResult struct {
	UID         imap.UID
	ModSeq      imap.ModSeq
	MessageID   MessageID
	UIDValidity uint32
}

// AppendMessage stores content in mailbox id. The UID and ModSeq are
// reserved first, each by one atomic increment; if the append fails later
// the reserved UID is skipped, never reused. isRecent is the recent hint
// other sessions see the message with.
func (m *Manager) AppendMessage(ctx context.Context, id ID, content []byte, internalDate time.Time, flags []imap.Flag, isRecent bool, origin string) (*AppendResult, error) {
	mb, err := m.store.FindMailboxByID(ctx, id)
	if err != nil {
		return nil, err
	}
	uid, err := m.store.AllocateUID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("could not allocate uid: %w", err)
	}
	m.inFlight.add(id, uid)
	defer m.inFlight.done(id, uid)
	modSeq, err := m.store.AllocateModSeq(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("could not allocate modseq: %w", err)
	}
	if internalDate.IsZero() {
		internalDate = time.Now()
	}

	msg := &Message{
		MailboxID:    id,
		UID:          uid,
		ModSeq:       modSeq,
		MessageID:    NewMessageID(),
		InternalDate: internalDate,
		Size:         int64(len(content)),
		Flags:        NewFlags(flags...),
		Recent:       isRecent,
		Content:      content,
	}

	linked, err := m.storeAttachments(ctx, msg)
	if err != nil {
		m.dropLinks(ctx, linked, msg.MessageID)
		return nil, err
	}
	if err := m.store.PutMessage(ctx, msg); err != nil {
		m.dropLinks(ctx, linked, msg.MessageID)
		return nil, fmt.Errorf("could not store message: %w", err)
	}

	m.events.Publish(Added{eventBase: eventBase{id, origin}, Messages: []MessageMetaData{msg.MetaData()}, Recent: isRecent})
	return &AppendResult{UID: uid, ModSeq: modSeq, MessageID: msg.MessageID, UIDValidity: mb.UIDValidity}, nil
}

func (m *Manager) storeAttachments(ctx context.Context, msg *Message) ([]AttachmentID, error) {
	parts, err := ExtractAttachments(msg.Content)
	if err != nil {
		m.log.WithError(err).WithField("message", msg.MessageID).Debug("Storing message without attachment extraction")
	}
	var linked []AttachmentID
	for _, p := range parts {
		md, err := NewAttachmentMetadataBuilder().
			AttachmentID(NewAttachmentID(p.Content)).
			MessageID(msg.MessageID).
			Type(p.ContentType).
			Size(int64(len(p.Content))).
			Build()
		if err != nil {
			return linked, err
		}
		// The link goes in before the content so a concurrent release of
		// the last other owner cannot collect it in between.
		if err := m.store.LinkAttachment(ctx, md.AttachmentID, msg.MessageID); err != nil {
			return linked, fmt.Errorf("could not link attachment: %w", err)
		}
		linked = append(linked, md.AttachmentID)
		if err := m.store.StoreAttachment(ctx, &Attachment{AttachmentMetadata: md, Content: p.Content}); err != nil {
			return linked, fmt.Errorf("could not store attachment: %w", err)
		}
	}
	return linked, nil
}

// dropLinks undoes the links of a message that was never stored. It runs
// detached from ctx so a cancelled request still cleans up.
func (m *Manager) dropLinks(ctx context.Context, ids []AttachmentID, msg MessageID) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	for _, id := range ids {
		if err := m.UnlinkAttachment(ctx, id, msg); err != nil {
			m.log.WithError(err).WithField("attachment", id).Warn("Could not unlink attachment of failed write")
		}
	}
}

// releaseAttachments unlinks the attachments of msg and deletes those left
// without owner.
func (m *Manager) releaseAttachments(ctx context.Context, msg MessageID) error {
	ids, err := m.store.ListAttachmentsOf(ctx, msg)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := m.UnlinkAttachment(ctx, id, msg); err != nil {
			return err
		}
	}
	return nil
}

// Messages returns the messages of mailbox id addressed by uids.
func (m *Manager) Messages(ctx context.Context, id ID, uids *imap.UIDSet, fetch FetchType) ([]*Message, error) {
	return m.store.GetMessages(ctx, id, uids, fetch)
}

// UpdatedFlags is one message changed by MutateFlags.
type UpdatedFlags struct {
	UID      imap.UID
	OldFlags Flags
	NewFlags Flags
	ModSeq   imap.ModSeq
}

// MutateFlags applies update to the messages of mailbox id addressed by
// uids and returns the messages whose flags actually changed.
//
// ModSeq is only bumped on an actual change. One ModSeq is allocated for
// the call and given to every changed message; a message whose
// conditional update loses a race is re-read and retried with a freshly
// allocated ModSeq, so its ModSeq never goes backwards.
func (m *Manager) MutateFlags(ctx context.Context, id ID, uids *imap.UIDSet, update FlagsUpdate, origin string) ([]UpdatedFlags, error) {
	msgs, err := m.store.GetMessages(ctx, id, uids, FetchMetadata)
	if err != nil {
		return nil, err
	}

	var modSeq imap.ModSeq
	var updated []UpdatedFlags
	for _, msg := range msgs {
		if update.Apply(msg.Flags).Equal(msg.Flags) {
			continue
		}
		if modSeq == 0 {
			if modSeq, err = m.store.AllocateModSeq(ctx, id); err != nil {
				return updated, fmt.Errorf("could not allocate modseq: %w", err)
			}
		}
		u, changed, err := m.updateMessageFlags(ctx, id, msg, update, modSeq)
		if err != nil {
			return updated, err
		}
		if changed {
			updated = append(updated, u)
		}
	}

	if len(updated) > 0 {
		m.events.Publish(FlagsUpdated{eventBase: eventBase{id, origin}, Updates: updated})
	}
	return updated, nil
}

func (m *Manager) updateMessageFlags(ctx context.Context, id ID, msg *Message, update FlagsUpdate, modSeq imap.ModSeq) (UpdatedFlags, bool, error) {
	current := msg
	for attempt := 0; ; attempt++ {
		newFlags := update.Apply(current.Flags)
		if newFlags.Equal(current.Flags) {
			return UpdatedFlags{}, false, nil
		}
		err := m.store.UpdateFlags(ctx, id, current.UID, current.ModSeq, newFlags, modSeq)
		switch {
		case err == nil:
			return UpdatedFlags{UID: current.UID, OldFlags: current.Flags, NewFlags: newFlags, ModSeq: modSeq}, true, nil
		case errors.Is(err, ErrMessageNotFound):
			return UpdatedFlags{}, false, nil
		case !errors.Is(err, ErrConflict):
			return UpdatedFlags{}, false, fmt.Errorf("could not update flags: %w", err)
		}

		if attempt >= m.maxRetries {
			return UpdatedFlags{}, false, fmt.Errorf("could not update flags of uid %d after %d attempts: %w", current.UID, attempt+1, ErrConflict)
		}
		m.log.WithFields(logrus.Fields{"mailbox": id, "uid": current.UID}).Debug("Flag update lost a race, retrying")

		reloaded, err := m.store.GetMessages(ctx, id, imap.UIDSetOf(current.UID), FetchMetadata)
		if err != nil {
			return UpdatedFlags{}, false, err
		}
		if len(reloaded) == 0 {
			return UpdatedFlags{}, false, nil
		}
		current = reloaded[0]
		if modSeq, err = m.store.AllocateModSeq(ctx, id); err != nil {
			return UpdatedFlags{}, false, fmt.Errorf("could not allocate modseq: %w", err)
		}
	}
}

// Expunge removes the \Deleted messages of mailbox id, restricted to uids
// when not nil, and returns their UIDs in ascending order.
func (m *Manager) Expunge(ctx context.Context, id ID, uids *imap.UIDSet, origin string) ([]imap.UID, error) {
	msgs, err := m.store.GetMessages(ctx, id, uids, FetchMetadata)
	if err != nil {
		return nil, err
	}
	var removed []imap.UID
	var owners []MessageID
	for _, msg := range msgs {
		if msg.Flags.Has(imap.FlagDeleted) {
			removed = append(removed, msg.UID)
			owners = append(owners, msg.MessageID)
		}
	}
	if len(removed) == 0 {
		return nil, nil
	}
	if _, err := m.store.AllocateModSeq(ctx, id); err != nil {
		return nil, fmt.Errorf("could not allocate modseq: %w", err)
	}
	if err := m.store.DeleteMessages(ctx, id, removed); err != nil {
		return nil, fmt.Errorf("could not delete messages: %w", err)
	}
	for _, owner := range owners {
		if err := m.releaseAttachments(ctx, owner); err != nil {
			m.log.WithError(err).WithField("message", owner).Warn("Could not release attachments")
		}
	}
	m.events.Publish(Expunged{eventBase: eventBase{id, origin}, UIDs: removed})
	return removed, nil
}

// CopyResult maps copied source UIDs to the UIDs assigned in the
// destination.
type CopyResult struct {
	UIDValidity uint32
	SourceUIDs  []imap.UID
	DestUIDs    []imap.UID
}

// Copy copies the messages of src addressed by uids into dst. Copies get
// new message ids and own links to the shared attachments.
func (m *Manager) Copy(ctx context.Context, src, dst ID, uids *imap.UIDSet, origin string) (*CopyResult, error) {
	target, err := m.store.FindMailboxByID(ctx, dst)
	if err != nil {
		return nil, err
	}
	msgs, err := m.store.GetMessages(ctx, src, uids, FetchFull)
	if err != nil {
		return nil, err
	}
	res := &CopyResult{UIDValidity: target.UIDValidity}
	var added []MessageMetaData
	for _, msg := range msgs {
		uid, err := m.store.AllocateUID(ctx, dst)
		if err != nil {
			return nil, fmt.Errorf("could not allocate uid: %w", err)
		}
		m.inFlight.add(dst, uid)
		defer m.inFlight.done(dst, uid)
		modSeq, err := m.store.AllocateModSeq(ctx, dst)
		if err != nil {
			return nil, fmt.Errorf("could not allocate modseq: %w", err)
		}
		cp := msg.Clone()
		cp.MailboxID = dst
		cp.UID = uid
		cp.ModSeq = modSeq
		cp.MessageID = NewMessageID()
		cp.Recent = true

		atts, err := m.store.ListAttachmentsOf(ctx, msg.MessageID)
		if err != nil {
			return nil, err
		}
		var linked []AttachmentID
		for _, att := range atts {
			if err := m.store.LinkAttachment(ctx, att, cp.MessageID); err != nil {
				m.dropLinks(ctx, linked, cp.MessageID)
				return nil, fmt.Errorf("could not link attachment: %w", err)
			}
			linked = append(linked, att)
		}
		if err := m.store.PutMessage(ctx, cp); err != nil {
			m.dropLinks(ctx, linked, cp.MessageID)
			return nil, fmt.Errorf("could not store message: %w", err)
		}
		res.SourceUIDs = append(res.SourceUIDs, msg.UID)
		res.DestUIDs = append(res.DestUIDs, uid)
		added = append(added, cp.MetaData())
	}
	if len(added) > 0 {
		m.events.Publish(Added{eventBase: eventBase{dst, origin}, Messages: added, Recent: true})
	}
	return res, nil
}

// Selection is the view of a mailbox taken when a session selects it.
type Selection struct {
	Mailbox  *Mailbox
	Messages []MessageMetaData
	// Recent holds the UIDs whose recent hint this selection claimed.
	Recent []imap.UID
}

// Select snapshots mailbox id. With claimRecent the persisted recent hints
// are cleared and returned, so only this session sees them as recent.
func (m *Manager) Select(ctx context.Context, id ID, claimRecent bool) (*Selection, error) {
	var recent []imap.UID
	if claimRecent {
		var err error
		if recent, err = m.store.ClaimRecent(ctx, id); err != nil {
			return nil, err
		}
	}
	mb, err := m.store.FindMailboxByID(ctx, id)
	if err != nil {
		return nil, err
	}
	msgs, err := m.store.GetMessages(ctx, id, nil, FetchMetadata)
	if err != nil {
		return nil, err
	}
	sel := &Selection{Mailbox: mb, Recent: recent}
	for _, msg := range msgs {
		sel.Messages = append(sel.Messages, msg.MetaData())
		if !claimRecent && msg.Recent {
			sel.Recent = append(sel.Recent, msg.UID)
		}
	}
	return sel, nil
}

// LowestInFlightUID returns the lowest UID of mailbox id that this
// Manager allocated but has not announced yet, or 0.
func (m *Manager) LowestInFlightUID(id ID) imap.UID {
	return m.inFlight.lowest(id)
}

// ClaimRecent clears the persisted recent hints of mailbox id and returns
// the UIDs that carried one. Each hint is handed to one caller only.
func (m *Manager) ClaimRecent(ctx context.Context, id ID) ([]imap.UID, error) {
	return m.store.ClaimRecent(ctx, id)
}

// Status is the summary returned by STATUS.
type Status struct {
	Mailbox       *Mailbox
	Messages      uint32
	Unseen        uint32
	Recent        uint32
	HighestModSeq imap.ModSeq
}

// Status summarises mailbox id.
func (m *Manager) Status(ctx context.Context, id ID) (*Status, error) {
	mb, err := m.store.FindMailboxByID(ctx, id)
	if err != nil {
		return nil, err
	}
	msgs, err := m.store.GetMessages(ctx, id, nil, FetchMetadata)
	if err != nil {
		return nil, err
	}
	st := &Status{Mailbox: mb, Messages: uint32(len(msgs)), HighestModSeq: mb.HighestModSeq}
	for _, msg := range msgs {
		if !msg.Flags.Has(imap.FlagSeen) {
			st.Unseen++
		}
		if msg.Recent {
			st.Recent++
		}
	}
	return st, nil
}

// SetAnnotation upserts a on mailbox id. Annotations without value are
// rejected before the store is touched.
func (m *Manager) SetAnnotation(ctx context.Context, id ID, a Annotation) error {
	if a.IsNil() {
		return ErrNilAnnotation
	}
	if _, err := m.store.FindMailboxByID(ctx, id); err != nil {
		return err
	}
	if err := m.checkAnnotationLimit(ctx, id, []Annotation{a}); err != nil {
		return err
	}
	return m.store.PutAnnotation(ctx, id, a)
}

// DeleteAnnotation removes key from mailbox id. Absent keys are ignored.
func (m *Manager) DeleteAnnotation(ctx context.Context, id ID, key AnnotationKey) error {
	if _, err := m.store.FindMailboxByID(ctx, id); err != nil {
		return err
	}
	return m.store.DeleteAnnotation(ctx, id, key)
}

// UpdateAnnotations applies SETMETADATA entries: values are upserted, nil
// values delete. Nothing is written when the entries would take the
// mailbox past its annotation limit; replacing a key does not count.
func (m *Manager) UpdateAnnotations(ctx context.Context, id ID, entries []Annotation) error {
	if _, err := m.store.FindMailboxByID(ctx, id); err != nil {
		return err
	}
	if err := m.checkAnnotationLimit(ctx, id, entries); err != nil {
		return err
	}
	for _, a := range entries {
		var err error
		if a.IsNil() {
			err = m.store.DeleteAnnotation(ctx, id, a.Key)
		} else {
			err = m.store.PutAnnotation(ctx, id, a)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) checkAnnotationLimit(ctx context.Context, id ID, entries []Annotation) error {
	if m.maxAnnotations <= 0 {
		return nil
	}
	count, err := m.store.CountAnnotations(ctx, id)
	if err != nil {
		return err
	}
	seen := make(map[AnnotationKey]struct{}, len(entries))
	for _, a := range entries {
		if _, ok := seen[a.Key]; ok {
			continue
		}
		seen[a.Key] = struct{}{}
		exists, err := m.store.AnnotationExists(ctx, id, a.Key)
		if err != nil {
			return err
		}
		switch {
		case a.IsNil() && exists:
			count--
		case !a.IsNil() && !exists:
			count++
		}
	}
	if count > m.maxAnnotations {
		return ErrTooManyAnnotations
	}
	return nil
}

// QueryAnnotations returns the annotations of mailbox id selected by keys
// at depth.
func (m *Manager) QueryAnnotations(ctx context.Context, id ID, keys []AnnotationKey, depth Depth) ([]Annotation, error) {
	all, err := m.store.ListAnnotations(ctx, id)
	if err != nil {
		return nil, err
	}
	return FilterAnnotations(all, keys, depth), nil
}

// LinkAttachment records msg as an owner of attachment id.
func (m *Manager) LinkAttachment(ctx context.Context, id AttachmentID, msg MessageID) error {
	return m.store.LinkAttachment(ctx, id, msg)
}

// UnlinkAttachment drops msg from the owners of id and deletes the
// attachment once nobody owns it. Unlinking an absent pair succeeds.
func (m *Manager) UnlinkAttachment(ctx context.Context, id AttachmentID, msg MessageID) error {
	if err := m.store.UnlinkAttachment(ctx, id, msg); err != nil {
		return err
	}
	deleted, err := m.store.DeleteOrphanAttachment(ctx, id)
	if err != nil {
		return err
	}
	if deleted {
		m.log.WithField("attachment", id).Debug("Collected attachment")
	}
	return nil
}

// OwnersOf returns the distinct messages owning attachment id.
func (m *Manager) OwnersOf(ctx context.Context, id AttachmentID) ([]MessageID, error) {
	owners, err := m.store.ListOwners(ctx, id)
	if err != nil {
		return nil, err
	}
	sort.Slice(owners, func(i, j int) bool { return owners[i] < owners[j] })
	return owners, nil
}

// AttachmentLinks returns every attachment association.
func (m *Manager) AttachmentLinks(ctx context.Context) ([]AttachmentLink, error) {
	return m.store.ListLinks(ctx)
}

// Attachment loads an attachment.
func (m *Manager) Attachment(ctx context.Context, id AttachmentID) (*Attachment, error) {
	return m.store.GetAttachment(ctx, id)
}
