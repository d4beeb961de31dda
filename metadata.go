package imap

import "fmt"

// MetadataEntry represents a SETMETADATA/GETMETADATA entry. A nil Value
// asks for the entry to be removed.
type MetadataEntry struct {
	Name  string
	Value *string
}

// MetadataDepth is the DEPTH option of GETMETADATA.
type MetadataDepth int

const (
	MetadataDepthZero MetadataDepth = iota
	MetadataDepthOne
	MetadataDepthInfinity
)

// ParseMetadataDepth parses "0", "1" or "infinity".
func ParseMetadataDepth(s string) (MetadataDepth, error) {
	switch s {
	case "0":
		return MetadataDepthZero, nil
	case "1":
		return MetadataDepthOne, nil
	case "infinity", "INFINITY", "Infinity":
		return MetadataDepthInfinity, nil
	}
	return 0, fmt.Errorf("imap: invalid metadata depth %q", s)
}
