package imap

// FetchOptions specifies what message data items to fetch.
type FetchOptions struct {
	BodySection  []*FetchItemBodySection
	Envelope     bool
	Flags        bool
	InternalDate bool
	RFC822Size   bool
	UID          bool
	ModSeq       bool
}

// SetsSeen reports whether serving these items marks messages \Seen.
func (o *FetchOptions) SetsSeen() bool {
	for _, bs := range o.BodySection {
		if !bs.Peek {
			return true
		}
	}
	return false
}

// Section specifiers supported in BODY[...].
const (
	SectionAll    = ""
	SectionHeader = "HEADER"
	SectionText   = "TEXT"
)

// FetchItemBodySection represents a BODY[section] or RFC822.* fetch item.
type FetchItemBodySection struct {
	Specifier string
	Peek      bool
	Partial   *SectionPartial
	// Alias is the RFC822 form the client asked for ("RFC822",
	// "RFC822.HEADER", "RFC822.TEXT"), echoed back in the response.
	Alias string
}

// SectionPartial represents a <offset.count> byte range.
type SectionPartial struct {
	Offset int64
	Count  int64
}
