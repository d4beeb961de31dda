package imap

import (
	"sort"
	"strings"
	"sync"
)

// Cap represents an IMAP capability.
type Cap string

// Capabilities the server knows how to advertise.
const (
	CapIMAP4rev1     Cap = "IMAP4rev1"
	CapAuthPlain     Cap = "AUTH=PLAIN"
	CapSASLIR        Cap = "SASL-IR"
	CapStartTLS      Cap = "STARTTLS"
	CapLogindisabled Cap = "LOGINDISABLED"
	CapLiteralPlus   Cap = "LITERAL+"
	CapUIDPlus       Cap = "UIDPLUS"
	CapUnselect      Cap = "UNSELECT"
	CapMetadata      Cap = "METADATA"
	CapChildren      Cap = "CHILDREN"
)

// CapSet is a set of IMAP capabilities.
type CapSet struct {
	mu   sync.RWMutex
	caps map[Cap]bool
}

// NewCapSet creates a new CapSet with the given capabilities.
func NewCapSet(caps ...Cap) *CapSet {
	cs := &CapSet{caps: make(map[Cap]bool, len(caps))}
	for _, c := range caps {
		cs.caps[c] = true
	}
	return cs
}

// Has returns true if the set contains the given capability.
func (cs *CapSet) Has(cap Cap) bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.caps[cap]
}

// Add adds capabilities to the set.
func (cs *CapSet) Add(caps ...Cap) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	for _, c := range caps {
		cs.caps[c] = true
	}
}

// Remove removes capabilities from the set.
func (cs *CapSet) Remove(caps ...Cap) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	for _, c := range caps {
		delete(cs.caps, c)
	}
}

// All returns the capabilities with IMAP4rev1 first and the rest sorted.
func (cs *CapSet) All() []Cap {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	result := make([]Cap, 0, len(cs.caps))
	for c := range cs.caps {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool {
		if (result[i] == CapIMAP4rev1) != (result[j] == CapIMAP4rev1) {
			return result[i] == CapIMAP4rev1
		}
		return result[i] < result[j]
	})
	return result
}

// String returns the capabilities as a space-separated string.
func (cs *CapSet) String() string {
	caps := cs.All()
	strs := make([]string, len(caps))
	for i, c := range caps {
		strs[i] = string(c)
	}
	return strings.Join(strs, " ")
}

// Clone returns a copy of the capability set.
func (cs *CapSet) Clone() *CapSet {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	clone := &CapSet{caps: make(map[Cap]bool, len(cs.caps))}
	for c := range cs.caps {
		clone.caps[c] = true
	}
	return clone
}
