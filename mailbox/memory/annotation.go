package memory

import (
	"context"
	"sort"

	"github.com/dyd1024/imapstore/mailbox"
)

// PutAnnotation implements mailbox.AnnotationMapper.
func (s *Store) PutAnnotation(ctx context.Context, id mailbox.ID, a mailbox.Annotation) error {
	if a.IsNil() {
		return mailbox.ErrNilAnnotation
	}
	e, err := s.entry(ctx, id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.annotations[a.Key] = *a.Value
	return nil
}

// DeleteAnnotation implements mailbox.AnnotationMapper.
func (s *Store) DeleteAnnotation(ctx context.Context, id mailbox.ID, key mailbox.AnnotationKey) error {
	e, err := s.entry(ctx, id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.annotations, key)
	return nil
}

// AnnotationExists implements mailbox.AnnotationMapper.
func (s *Store) AnnotationExists(ctx context.Context, id mailbox.ID, key mailbox.AnnotationKey) (bool, error) {
	e, err := s.entry(ctx, id)
	if err != nil {
		return false, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.annotations[key]
	return ok, nil
}

// CountAnnotations implements mailbox.AnnotationMapper.
func (s *Store) CountAnnotations(ctx context.Context, id mailbox.ID) (int, error) {
	e, err := s.entry(ctx, id)
	if err != nil {
		return 0, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.annotations), nil
}

// ListAnnotations implements mailbox.AnnotationMapper.
func (s *Store) ListAnnotations(ctx context.Context, id mailbox.ID) ([]mailbox.Annotation, error) {
	e, err := s.entry(ctx, id)
	if err != nil {
		return nil, err
	}
	e.mu.RLock()
	out := make([]mailbox.Annotation, 0, len(e.annotations))
	for k, v := range e.annotations {
		out = append(out, mailbox.NewAnnotation(k, v))
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
