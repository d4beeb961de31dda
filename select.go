package imap

// SelectData represents the data returned by SELECT/EXAMINE.
type SelectData struct {
	Flags          []Flag
	PermanentFlags []Flag
	NumMessages    uint32
	NumRecent      uint32
	UIDNext        UID
	UIDValidity    uint32
	// FirstUnseen is the sequence number of the first unseen message, or 0.
	FirstUnseen   uint32
	HighestModSeq ModSeq
	ReadOnly      bool
}
