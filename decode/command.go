// Package decode turns the client byte stream into typed commands.
//
// A Command is only ever returned whole: every argument has been parsed
// and every literal payload read. Malformed input yields a
// *wire.DecodingError and no command.
package decode

import (
	imap "github.com/dyd1024/imapstore"
)

// Command is one decoded client command.
type Command struct {
	Tag string
	// Name is the upper-case verb, without the UID prefix.
	Name string
	// UID is set for UID FETCH, UID STORE, UID COPY and UID EXPUNGE.
	UID     bool
	Request interface{}
}

// NoArgs is the request of commands without arguments.
type NoArgs struct{}

// LoginRequest is LOGIN user password.
type LoginRequest struct {
	Username string
	Password string
}

// AuthenticateRequest is AUTHENTICATE mechanism [initial-response].
type AuthenticateRequest struct {
	Mechanism string
	// InitialResponse is the base64 SASL-IR argument; "=" stands for an
	// empty response.
	InitialResponse    string
	HasInitialResponse bool
}

// SelectRequest is SELECT or EXAMINE.
type SelectRequest struct {
	Mailbox  string
	ReadOnly bool
}

// CreateRequest is CREATE mailbox.
type CreateRequest struct {
	Mailbox string
}

// DeleteRequest is DELETE mailbox.
type DeleteRequest struct {
	Mailbox string
}

// RenameRequest is RENAME from to.
type RenameRequest struct {
	From string
	To   string
}

// ListRequest is LIST reference pattern.
type ListRequest struct {
	Reference string
	Pattern   string
}

// StatusRequest is STATUS mailbox (items).
type StatusRequest struct {
	Mailbox string
	Options imap.StatusOptions
}

// AppendRequest is APPEND mailbox [flags] [date-time] literal.
type AppendRequest struct {
	Mailbox string
	Options imap.AppendOptions
	Content []byte
}

// FetchRequest is [UID] FETCH set items.
type FetchRequest struct {
	Set     imap.NumSet
	Options imap.FetchOptions
}

// StoreRequest is [UID] STORE set action flags.
type StoreRequest struct {
	Set   imap.NumSet
	Flags imap.StoreFlags
}

// CopyRequest is [UID] COPY set mailbox.
type CopyRequest struct {
	Set     imap.NumSet
	Mailbox string
}

// ExpungeRequest is EXPUNGE, or UID EXPUNGE set when UIDs is set.
type ExpungeRequest struct {
	UIDs *imap.UIDSet
}

// SetMetadataRequest is SETMETADATA mailbox (entry value ...).
type SetMetadataRequest struct {
	Mailbox string
	Entries []imap.MetadataEntry
}

// GetMetadataRequest is GETMETADATA [(options)] mailbox entries.
type GetMetadataRequest struct {
	Mailbox string
	Depth   imap.MetadataDepth
	// MaxSize is 0 when no MAXSIZE option was given.
	MaxSize uint32
	Entries []string
}
