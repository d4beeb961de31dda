package imap

import "time"

// AppendOptions specifies options for the APPEND command.
type AppendOptions struct {
	Flags        []Flag
	InternalDate time.Time
	// Binary is set for ~{n} literals.
	Binary bool
}
