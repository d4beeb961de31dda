// Package imap holds the protocol types shared by the decoder, the session
// layer and the command processors of the mail store.
package imap

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// ConnState represents the state of an IMAP session.
type ConnState int

const (
	// ConnStateNotAuthenticated is the state before authentication.
	ConnStateNotAuthenticated ConnState = iota
	// ConnStateAuthenticated is the state after successful authentication.
	ConnStateAuthenticated
	// ConnStateSelected is the state after a mailbox has been selected.
	ConnStateSelected
	// ConnStateLogout is terminal.
	ConnStateLogout
)

// String returns the string representation of the connection state.
func (s ConnState) String() string {
	switch s {
	case ConnStateNotAuthenticated:
		return "not authenticated"
	case ConnStateAuthenticated:
		return "authenticated"
	case ConnStateSelected:
		return "selected"
	case ConnStateLogout:
		return "logout"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Flag represents an IMAP message flag or keyword.
type Flag string

// System flags. Matching is case-insensitive.
const (
	FlagSeen     Flag = "\\Seen"
	FlagAnswered Flag = "\\Answered"
	FlagFlagged  Flag = "\\Flagged"
	FlagDeleted  Flag = "\\Deleted"
	FlagDraft    Flag = "\\Draft"
	FlagRecent   Flag = "\\Recent"
	FlagWildcard Flag = "\\*"
)

var systemFlags = []Flag{FlagSeen, FlagAnswered, FlagFlagged, FlagDeleted, FlagDraft, FlagRecent}

// SystemFlags returns the flags advertised in FLAGS and PERMANENTFLAGS,
// without \Recent.
func SystemFlags() []Flag {
	return []Flag{FlagAnswered, FlagFlagged, FlagDeleted, FlagSeen, FlagDraft}
}

// IsSystem reports whether f is a backslash-prefixed flag.
func (f Flag) IsSystem() bool {
	return strings.HasPrefix(string(f), "\\")
}

// CanonicalFlag returns the canonical spelling of a system flag. Keywords
// are returned unchanged.
func CanonicalFlag(f Flag) Flag {
	for _, sf := range systemFlags {
		if strings.EqualFold(string(f), string(sf)) {
			return sf
		}
	}
	return f
}

// SortFlags sorts flags in place: system flags first, then keywords.
func SortFlags(flags []Flag) {
	sort.Slice(flags, func(i, j int) bool {
		si, sj := flags[i].IsSystem(), flags[j].IsSystem()
		if si != sj {
			return si
		}
		return flags[i] < flags[j]
	})
}

// InternalDateLayout is the format used for IMAP internal dates.
const InternalDateLayout = "02-Jan-2006 15:04:05 -0700"

// ParseInternalDate parses a date-time argument as sent by APPEND.
func ParseInternalDate(s string) (time.Time, error) {
	for _, layout := range []string{InternalDateLayout, "2-Jan-2006 15:04:05 -0700", time.RFC822Z} {
		if t, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("imap: invalid date-time %q", s)
}

// Address represents an email address in an envelope.
type Address struct {
	Name    string
	Mailbox string
	Host    string
}

// String returns the email address in "Name <mailbox@host>" format.
func (a *Address) String() string {
	addr := a.Mailbox + "@" + a.Host
	if a.Name != "" {
		return fmt.Sprintf("%s <%s>", a.Name, addr)
	}
	return addr
}

// Envelope represents the envelope structure of a message.
type Envelope struct {
	Date      time.Time
	Subject   string
	From      []*Address
	Sender    []*Address
	ReplyTo   []*Address
	To        []*Address
	Cc        []*Address
	Bcc       []*Address
	InReplyTo string
	MessageID string
}
