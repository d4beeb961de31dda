package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/dyd1024/imapstore/mailbox"
)

func sqlxIn(query string, args ...interface{}) (string, []interface{}, error) {
	query, params, err := sqlx.In(query, args...)
	if err != nil {
		return "", nil, fmt.Errorf("could not replace IN in query: %w", err)
	}
	return query, params, nil
}

// StoreAttachment implements mailbox.AttachmentMapper.
func (s *Store) StoreAttachment(ctx context.Context, a *mailbox.Attachment) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		s.q(`INSERT INTO attachments (id, content_type, size, message_id, content) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (id) DO NOTHING`),
		string(a.AttachmentID), a.ContentType, a.Size, string(a.MessageID), a.Content,
	)
	if err != nil {
		return fmt.Errorf("could not save attachment: %w", err)
	}
	return nil
}

// GetAttachment implements mailbox.AttachmentMapper.
func (s *Store) GetAttachment(ctx context.Context, id mailbox.AttachmentID) (*mailbox.Attachment, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	row := struct {
		ID          string `db:"id"`
		ContentType string `db:"content_type"`
		Size        int64  `db:"size"`
		MessageID   string `db:"message_id"`
		Content     []byte `db:"content"`
	}{}
	err := s.db.GetContext(ctx, &row, s.q(`SELECT id, content_type, size, message_id, content FROM attachments WHERE id = ?`), string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, mailbox.ErrAttachmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("could not query db: %w", err)
	}
	return &mailbox.Attachment{
		AttachmentMetadata: mailbox.AttachmentMetadata{
			AttachmentID: mailbox.AttachmentID(row.ID),
			ContentType:  row.ContentType,
			Size:         row.Size,
			MessageID:    mailbox.MessageID(row.MessageID),
		},
		Content: row.Content,
	}, nil
}

// DeleteOrphanAttachment implements mailbox.AttachmentMapper.
func (s *Store) DeleteOrphanAttachment(ctx context.Context, id mailbox.AttachmentID) (bool, error) {
	if err := s.check(ctx); err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx,
		s.q(`DELETE FROM attachments WHERE id = ?
			AND NOT EXISTS (SELECT 1 FROM attachment_links WHERE attachment_id = ?)`),
		string(id), string(id),
	)
	if err != nil {
		return false, fmt.Errorf("could not delete attachment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("could not get affected rows: %w", err)
	}
	return n > 0, nil
}

// LinkAttachment implements mailbox.AttachmentMapper.
func (s *Store) LinkAttachment(ctx context.Context, id mailbox.AttachmentID, msg mailbox.MessageID) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		s.q(`INSERT INTO attachment_links (attachment_id, message_id) VALUES (?, ?) ON CONFLICT DO NOTHING`),
		string(id), string(msg),
	)
	if err != nil {
		return fmt.Errorf("could not link attachment: %w", err)
	}
	return nil
}

// UnlinkAttachment implements mailbox.AttachmentMapper.
func (s *Store) UnlinkAttachment(ctx context.Context, id mailbox.AttachmentID, msg mailbox.MessageID) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		s.q(`DELETE FROM attachment_links WHERE attachment_id = ? AND message_id = ?`),
		string(id), string(msg),
	)
	if err != nil {
		return fmt.Errorf("could not unlink attachment: %w", err)
	}
	return nil
}

// ListOwners implements mailbox.AttachmentMapper.
func (s *Store) ListOwners(ctx context.Context, id mailbox.AttachmentID) ([]mailbox.MessageID, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	var owners []string
	err := s.db.SelectContext(ctx, &owners,
		s.q(`SELECT DISTINCT message_id FROM attachment_links WHERE attachment_id = ? ORDER BY message_id`), string(id))
	if err != nil {
		return nil, fmt.Errorf("could not query db: %w", err)
	}
	out := make([]mailbox.MessageID, len(owners))
	for i, o := range owners {
		out[i] = mailbox.MessageID(o)
	}
	return out, nil
}

// ListAttachmentsOf implements mailbox.AttachmentMapper.
func (s *Store) ListAttachmentsOf(ctx context.Context, msg mailbox.MessageID) ([]mailbox.AttachmentID, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	var ids []string
	err := s.db.SelectContext(ctx, &ids,
		s.q(`SELECT attachment_id FROM attachment_links WHERE message_id = ? ORDER BY attachment_id`), string(msg))
	if err != nil {
		return nil, fmt.Errorf("could not query db: %w", err)
	}
	out := make([]mailbox.AttachmentID, len(ids))
	for i, id := range ids {
		out[i] = mailbox.AttachmentID(id)
	}
	return out, nil
}

// ListLinks implements mailbox.AttachmentMapper.
func (s *Store) ListLinks(ctx context.Context) ([]mailbox.AttachmentLink, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	rows := []struct {
		AttachmentID string `db:"attachment_id"`
		MessageID    string `db:"message_id"`
	}{}
	err := s.db.SelectContext(ctx, &rows, `SELECT attachment_id, message_id FROM attachment_links ORDER BY attachment_id, message_id`)
	if err != nil {
		return nil, fmt.Errorf("could not query db: %w", err)
	}
	out := make([]mailbox.AttachmentLink, len(rows))
	for i, r := range rows {
		out[i] = mailbox.AttachmentLink{AttachmentID: mailbox.AttachmentID(r.AttachmentID), MessageID: mailbox.MessageID(r.MessageID)}
	}
	return out, nil
}
