package wire

import (
	"errors"
	"fmt"
)

// DecodingError reports input that does not follow the command grammar.
// Non-fatal errors fail the current command only; the caller discards the
// rest of the line and keeps reading. Fatal errors leave the stream in an
// unknown position and the connection must be closed.
type DecodingError struct {
	// Tag is the tag of the failed command, if it was read.
	Tag   string
	Msg   string
	Fatal bool
	Err   error
}

func (e *DecodingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *DecodingError) Unwrap() error {
	return e.Err
}

// AsDecodingError returns the DecodingError wrapped in err, if any.
func AsDecodingError(err error) (*DecodingError, bool) {
	var de *DecodingError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

func syntaxErrorf(format string, args ...interface{}) error {
	return &DecodingError{Msg: fmt.Sprintf(format, args...)}
}

func fatalErrorf(err error, format string, args ...interface{}) error {
	return &DecodingError{Msg: fmt.Sprintf(format, args...), Fatal: true, Err: err}
}
