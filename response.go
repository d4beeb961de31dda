package imap

import (
	"fmt"
	"strings"
)

// StatusResponseType represents the type of a status response.
type StatusResponseType string

const (
	StatusResponseTypeOK  StatusResponseType = "OK"
	StatusResponseTypeNO  StatusResponseType = "NO"
	StatusResponseTypeBAD StatusResponseType = "BAD"
	StatusResponseTypeBYE StatusResponseType = "BYE"
)

// ResponseCode represents a response code in brackets.
type ResponseCode string

// Response codes emitted by the server.
const (
	ResponseCodeAlert             ResponseCode = "ALERT"
	ResponseCodeCapability        ResponseCode = "CAPABILITY"
	ResponseCodeParse             ResponseCode = "PARSE"
	ResponseCodePermanentFlags    ResponseCode = "PERMANENTFLAGS"
	ResponseCodeReadOnly          ResponseCode = "READ-ONLY"
	ResponseCodeReadWrite         ResponseCode = "READ-WRITE"
	ResponseCodeTryCreate         ResponseCode = "TRYCREATE"
	ResponseCodeUIDNext           ResponseCode = "UIDNEXT"
	ResponseCodeUIDValidity       ResponseCode = "UIDVALIDITY"
	ResponseCodeUnseen            ResponseCode = "UNSEEN"
	ResponseCodeAppendUID         ResponseCode = "APPENDUID"
	ResponseCodeCopyUID           ResponseCode = "COPYUID"
	ResponseCodeHighestModSeq     ResponseCode = "HIGHESTMODSEQ"
	ResponseCodeAlreadyExists     ResponseCode = "ALREADYEXISTS"
	ResponseCodeNonExistent       ResponseCode = "NONEXISTENT"
	ResponseCodeAuthFailed        ResponseCode = "AUTHENTICATIONFAILED"
	ResponseCodeServerUnavailable ResponseCode = "UNAVAILABLE"
	ResponseCodeCannot            ResponseCode = "CANNOT"
	ResponseCodeClientBug         ResponseCode = "CLIENTBUG"
	ResponseCodeMetadata          ResponseCode = "METADATA"
	ResponseCodeClosed            ResponseCode = "CLOSED"
)

// StatusResponse represents an IMAP status response.
type StatusResponse struct {
	Type StatusResponseType
	Code ResponseCode
	// CodeArg is the optional argument to the response code.
	CodeArg interface{}
	Text    string
}

// CodeString returns the bracketed part of the response without brackets.
func (r *StatusResponse) CodeString() string {
	if r.Code == "" {
		return ""
	}
	if r.CodeArg == nil {
		return string(r.Code)
	}
	return fmt.Sprintf("%s %v", r.Code, r.CodeArg)
}

// Error returns the status response as an error string.
func (r *StatusResponse) Error() string {
	var b strings.Builder
	b.WriteString(string(r.Type))
	if code := r.CodeString(); code != "" {
		b.WriteString(" [")
		b.WriteString(code)
		b.WriteString("]")
	}
	if r.Text != "" {
		b.WriteString(" ")
		b.WriteString(r.Text)
	}
	return b.String()
}

// IMAPError is an error carrying the status response a command should
// complete with.
type IMAPError struct {
	*StatusResponse
}

// Error implements the error interface.
func (e *IMAPError) Error() string {
	return e.StatusResponse.Error()
}

// ErrNo creates a NO error with the given text.
func ErrNo(text string) *IMAPError {
	return &IMAPError{&StatusResponse{Type: StatusResponseTypeNO, Text: text}}
}

// ErrNoWithCode creates a NO error with a response code.
func ErrNoWithCode(code ResponseCode, text string) *IMAPError {
	return &IMAPError{&StatusResponse{Type: StatusResponseTypeNO, Code: code, Text: text}}
}

// ErrBad creates a BAD error with the given text.
func ErrBad(text string) *IMAPError {
	return &IMAPError{&StatusResponse{Type: StatusResponseTypeBAD, Text: text}}
}

// ErrBadWithCode creates a BAD error with a response code.
func ErrBadWithCode(code ResponseCode, text string) *IMAPError {
	return &IMAPError{&StatusResponse{Type: StatusResponseTypeBAD, Code: code, Text: text}}
}

// ErrBye creates a BYE response. The connection is closed after it is sent.
func ErrBye(text string) *IMAPError {
	return &IMAPError{&StatusResponse{Type: StatusResponseTypeBYE, Text: text}}
}
