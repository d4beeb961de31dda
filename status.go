package imap

// StatusOptions specifies which mailbox status items to request.
type StatusOptions struct {
	NumMessages   bool
	UIDNext       bool
	UIDValidity   bool
	NumUnseen     bool
	NumRecent     bool
	HighestModSeq bool
}

// StatusData represents the data returned by a STATUS command.
type StatusData struct {
	Mailbox       string
	NumMessages   *uint32
	UIDNext       *uint32
	UIDValidity   *uint32
	NumUnseen     *uint32
	NumRecent     *uint32
	HighestModSeq *uint64
}
