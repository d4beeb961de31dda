package mailbox

import "errors"

var (
	// ErrMailboxNotFound is returned when a mailbox does not exist at call
	// time, including when it was deleted after being resolved.
	ErrMailboxNotFound = errors.New("mailbox not found")
	// ErrMailboxExists is returned when creating or renaming onto a path
	// already in use.
	ErrMailboxExists = errors.New("mailbox already exists")
	// ErrMessageNotFound is returned when a message row vanished between
	// read and conditional update.
	ErrMessageNotFound = errors.New("message not found")
	// ErrAttachmentNotFound is returned for unknown attachment ids.
	ErrAttachmentNotFound = errors.New("attachment not found")
	// ErrNilAnnotation is returned when an annotation without value is
	// written. Deletion goes through DeleteAnnotation.
	ErrNilAnnotation = errors.New("annotation has no value")
	// ErrInvalidAnnotationKey is returned for malformed annotation keys.
	ErrInvalidAnnotationKey = errors.New("invalid annotation key")
	// ErrTooManyAnnotations is returned when a write would take a
	// mailbox past its annotation limit.
	ErrTooManyAnnotations = errors.New("too many annotations")
	// ErrConflict is returned by conditional writes that lost a race.
	ErrConflict = errors.New("concurrent modification")
	// ErrStorageUnavailable marks transient backend failures. Callers may
	// retry the whole operation.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrStoreClosed is returned once the store can no longer serve the
	// session at all.
	ErrStoreClosed = errors.New("store closed")
	// ErrInvalidAttachment is returned by the attachment metadata builder.
	ErrInvalidAttachment = errors.New("invalid attachment metadata")
)
