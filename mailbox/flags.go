package mailbox

import (
	"strings"

	imap "github.com/dyd1024/imapstore"
)

// Flags is a set of message flags. System flags compare case-insensitively
// and are stored in their canonical spelling. Keywords keep the spelling
// they were first stored with and also compare case-insensitively.
type Flags []imap.Flag

// NewFlags normalises flags into a set. \Recent is dropped: it is never
// stored as a flag.
func NewFlags(flags ...imap.Flag) Flags {
	var fs Flags
	for _, f := range flags {
		f = imap.CanonicalFlag(f)
		if f == imap.FlagRecent || f == "" {
			continue
		}
		if !fs.Has(f) {
			fs = append(fs, f)
		}
	}
	imap.SortFlags(fs)
	return fs
}

// Has reports whether f is in the set.
func (fs Flags) Has(f imap.Flag) bool {
	for _, x := range fs {
		if strings.EqualFold(string(x), string(f)) {
			return true
		}
	}
	return false
}

// Clone returns a copy.
func (fs Flags) Clone() Flags {
	if fs == nil {
		return nil
	}
	return append(Flags(nil), fs...)
}

// Equal reports set equality.
func (fs Flags) Equal(other Flags) bool {
	if len(fs) != len(other) {
		return false
	}
	for _, f := range fs {
		if !other.Has(f) {
			return false
		}
	}
	return true
}

// FlagsMode is the operation of a flag mutation.
type FlagsMode int

const (
	FlagsReplace FlagsMode = iota
	FlagsAdd
	FlagsRemove
)

// FlagsUpdate describes a flag mutation.
type FlagsUpdate struct {
	Mode  FlagsMode
	Flags []imap.Flag
}

// Apply returns the flags resulting from applying u to fs.
func (u FlagsUpdate) Apply(fs Flags) Flags {
	switch u.Mode {
	case FlagsAdd:
		return NewFlags(append(fs.Clone(), u.Flags...)...)
	case FlagsRemove:
		remove := NewFlags(u.Flags...)
		var out Flags
		for _, f := range fs {
			if !remove.Has(f) {
				out = append(out, f)
			}
		}
		return NewFlags(out...)
	default:
		return NewFlags(u.Flags...)
	}
}
