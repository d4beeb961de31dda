package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	imap "github.com/dyd1024/imapstore"
	"github.com/dyd1024/imapstore/mailbox"
)

type messageRow struct {
	MailboxID    string `db:"mailbox_id"`
	UID          int64  `db:"uid"`
	ModSeq       int64  `db:"mod_seq"`
	MessageID    string `db:"message_id"`
	InternalDate string `db:"internal_date"`
	Size         int64  `db:"size"`
	Flags        string `db:"flags"`
	Recent       bool   `db:"recent"`
	Content      []byte `db:"content"`
}

func (r *messageRow) message() (*mailbox.Message, error) {
	date, err := time.Parse(time.RFC3339Nano, r.InternalDate)
	if err != nil {
		return nil, fmt.Errorf("could not parse internal date of uid %d: %w", r.UID, err)
	}
	var flags mailbox.Flags
	for _, f := range strings.Fields(r.Flags) {
		flags = append(flags, imap.Flag(f))
	}
	return &mailbox.Message{
		MailboxID:    mailbox.ID(r.MailboxID),
		UID:          imap.UID(r.UID),
		ModSeq:       imap.ModSeq(r.ModSeq),
		MessageID:    mailbox.MessageID(r.MessageID),
		InternalDate: date,
		Size:         r.Size,
		Flags:        flags,
		Recent:       r.Recent,
		Content:      r.Content,
	}, nil
}

func encodeFlags(flags mailbox.Flags) string {
	parts := make([]string, len(flags))
	for i, f := range flags {
		parts[i] = string(f)
	}
	return strings.Join(parts, " ")
}

const messageMetaColumns = `mailbox_id, uid, mod_seq, message_id, internal_date, size, flags, recent`

// PutMessage implements mailbox.MessageMapper.
func (s *Store) PutMessage(ctx context.Context, msg *mailbox.Message) error {
	if _, err := s.FindMailboxByID(ctx, msg.MailboxID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		s.q(`INSERT INTO messages (`+messageMetaColumns+`, content) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		string(msg.MailboxID), int64(msg.UID), int64(msg.ModSeq), string(msg.MessageID),
		msg.InternalDate.Format(time.RFC3339Nano), msg.Size, encodeFlags(msg.Flags), msg.Recent, msg.Content,
	)
	if err != nil {
		return fmt.Errorf("could not save message: %w", err)
	}
	return nil
}

// maxUIDRanges bounds the ranges pushed into one query. Larger sets are
// narrowed to their bounding range and filtered after loading.
const maxUIDRanges = 100

// GetMessages implements mailbox.MessageMapper. The UID ranges are part of
// the query, so only addressed rows are loaded.
func (s *Store) GetMessages(ctx context.Context, id mailbox.ID, uids *imap.UIDSet, fetch mailbox.FetchType) ([]*mailbox.Message, error) {
	if _, err := s.FindMailboxByID(ctx, id); err != nil {
		return nil, err
	}
	columns := messageMetaColumns
	if fetch == mailbox.FetchFull {
		columns += ", content"
	}
	query := `SELECT ` + columns + ` FROM messages WHERE mailbox_id = ?`
	args := []interface{}{string(id)}

	var last imap.UID
	if uids != nil {
		if uids.Dynamic() {
			var highest int64
			err := s.db.GetContext(ctx, &highest, s.q(`SELECT COALESCE(MAX(uid), 0) FROM messages WHERE mailbox_id = ?`), string(id))
			if err != nil {
				return nil, fmt.Errorf("could not query db: %w", err)
			}
			last = imap.UID(highest)
		}
		where, whereArgs := uidRangeClause(uids.Ranges(), last)
		query += ` AND ` + where
		args = append(args, whereArgs...)
	}

	var rows []messageRow
	if err := s.db.SelectContext(ctx, &rows, s.q(query+` ORDER BY uid`), args...); err != nil {
		return nil, fmt.Errorf("could not query db: %w", err)
	}

	out := make([]*mailbox.Message, 0, len(rows))
	for i := range rows {
		if uids != nil && !uids.Contains(imap.UID(rows[i].UID), last) {
			continue
		}
		msg, err := rows[i].message()
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}

// uidRangeClause turns ranges into a condition on uid, resolving "*" to
// last.
func uidRangeClause(ranges []imap.NumRange, last imap.UID) (string, []interface{}) {
	bounds := make([][2]int64, 0, len(ranges))
	for _, r := range ranges {
		lo, hi := r.Start, r.Stop
		if lo == 0 {
			lo = uint32(last)
		}
		if hi == 0 {
			hi = uint32(last)
		}
		if lo > hi {
			lo, hi = hi, lo
		}
		bounds = append(bounds, [2]int64{int64(lo), int64(hi)})
	}
	if len(bounds) == 0 {
		return `1 = 0`, nil
	}
	if len(bounds) > maxUIDRanges {
		lo, hi := bounds[0][0], bounds[0][1]
		for _, b := range bounds[1:] {
			if b[0] < lo {
				lo = b[0]
			}
			if b[1] > hi {
				hi = b[1]
			}
		}
		bounds = [][2]int64{{lo, hi}}
	}

	parts := make([]string, len(bounds))
	args := make([]interface{}, 0, 2*len(bounds))
	for i, b := range bounds {
		if b[0] == b[1] {
			parts[i] = `uid = ?`
			args = append(args, b[0])
			continue
		}
		parts[i] = `uid BETWEEN ? AND ?`
		args = append(args, b[0], b[1])
	}
	return `(` + strings.Join(parts, ` OR `) + `)`, args
}

// UpdateFlags implements mailbox.MessageMapper.
func (s *Store) UpdateFlags(ctx context.Context, id mailbox.ID, uid imap.UID, expect imap.ModSeq, flags mailbox.Flags, modSeq imap.ModSeq) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		s.q(`UPDATE messages SET flags = ?, mod_seq = ? WHERE mailbox_id = ? AND uid = ? AND mod_seq = ?`),
		encodeFlags(flags), int64(modSeq), string(id), int64(uid), int64(expect),
	)
	if err != nil {
		return fmt.Errorf("could not update flags: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("could not get num of affected rows: %w", err)
	}
	if affected == 1 {
		return nil
	}

	var n int
	if err := s.db.GetContext(ctx, &n, s.q(`SELECT COUNT(*) FROM messages WHERE mailbox_id = ? AND uid = ?`), string(id), int64(uid)); err != nil {
		return fmt.Errorf("could not query db: %w", err)
	}
	if n == 0 {
		return mailbox.ErrMessageNotFound
	}
	return mailbox.ErrConflict
}

// DeleteMessages implements mailbox.MessageMapper.
func (s *Store) DeleteMessages(ctx context.Context, id mailbox.ID, uids []imap.UID) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if len(uids) == 0 {
		return nil
	}
	args := make([]int64, len(uids))
	for i, uid := range uids {
		args[i] = int64(uid)
	}
	query, params, err := sqlxIn(`DELETE FROM messages WHERE mailbox_id = ? AND uid IN (?)`, string(id), args)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.q(query), params...); err != nil {
		return fmt.Errorf("could not delete messages: %w", err)
	}
	return nil
}

// ClaimRecent implements mailbox.MessageMapper.
func (s *Store) ClaimRecent(ctx context.Context, id mailbox.ID) ([]imap.UID, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	var candidates []int64
	err := s.db.SelectContext(ctx, &candidates, s.q(`SELECT uid FROM messages WHERE mailbox_id = ? AND recent = ? ORDER BY uid`), string(id), true)
	if err != nil {
		return nil, fmt.Errorf("could not query db: %w", err)
	}
	var claimed []imap.UID
	upd := s.q(`UPDATE messages SET recent = ? WHERE mailbox_id = ? AND uid = ? AND recent = ?`)
	for _, uid := range candidates {
		res, err := s.db.ExecContext(ctx, upd, false, string(id), uid, true)
		if err != nil {
			return nil, fmt.Errorf("could not claim recent: %w", err)
		}
		if affected, err := res.RowsAffected(); err == nil && affected == 1 {
			claimed = append(claimed, imap.UID(uid))
		}
	}
	return claimed, nil
}
