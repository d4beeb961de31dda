package sqlstore

import (
	"context"
	"fmt"

	"github.com/dyd1024/imapstore/mailbox"
)

// PutAnnotation implements mailbox.AnnotationMapper.
func (s *Store) PutAnnotation(ctx context.Context, id mailbox.ID, a mailbox.Annotation) error {
	if a.IsNil() {
		return mailbox.ErrNilAnnotation
	}
	if err := s.check(ctx); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		s.q(`INSERT INTO annotations (mailbox_id, key, value) VALUES (?, ?, ?)
			ON CONFLICT (mailbox_id, key) DO UPDATE SET value = excluded.value`),
		string(id), string(a.Key), *a.Value,
	)
	if err != nil {
		return fmt.Errorf("could not save annotation: %w", err)
	}
	return nil
}

// DeleteAnnotation implements mailbox.AnnotationMapper.
func (s *Store) DeleteAnnotation(ctx context.Context, id mailbox.ID, key mailbox.AnnotationKey) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.q(`DELETE FROM annotations WHERE mailbox_id = ? AND key = ?`), string(id), string(key)); err != nil {
		return fmt.Errorf("could not delete annotation: %w", err)
	}
	return nil
}

// AnnotationExists implements mailbox.AnnotationMapper.
func (s *Store) AnnotationExists(ctx context.Context, id mailbox.ID, key mailbox.AnnotationKey) (bool, error) {
	if err := s.check(ctx); err != nil {
		return false, err
	}
	var n int
	err := s.db.GetContext(ctx, &n, s.q(`SELECT COUNT(*) FROM annotations WHERE mailbox_id = ? AND key = ?`), string(id), string(key))
	if err != nil {
		return false, fmt.Errorf("could not query db: %w", err)
	}
	return n > 0, nil
}

// CountAnnotations implements mailbox.AnnotationMapper.
func (s *Store) CountAnnotations(ctx context.Context, id mailbox.ID) (int, error) {
	if err := s.check(ctx); err != nil {
		return 0, err
	}
	var n int
	if err := s.db.GetContext(ctx, &n, s.q(`SELECT COUNT(*) FROM annotations WHERE mailbox_id = ?`), string(id)); err != nil {
		return 0, fmt.Errorf("could not query db: %w", err)
	}
	return n, nil
}

// ListAnnotations implements mailbox.AnnotationMapper.
func (s *Store) ListAnnotations(ctx context.Context, id mailbox.ID) ([]mailbox.Annotation, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	rows := []struct {
		Key   string `db:"key"`
		Value string `db:"value"`
	}{}
	if err := s.db.SelectContext(ctx, &rows, s.q(`SELECT key, value FROM annotations WHERE mailbox_id = ? ORDER BY key`), string(id)); err != nil {
		return nil, fmt.Errorf("could not query db: %w", err)
	}
	out := make([]mailbox.Annotation, 0, len(rows))
	for _, r := range rows {
		out = append(out, mailbox.NewAnnotation(mailbox.AnnotationKey(r.Key), r.Value))
	}
	return out, nil
}
