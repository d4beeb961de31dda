package imap

import (
	"fmt"
	"strconv"
	"strings"
)

// UID represents an IMAP unique identifier.
type UID uint32

// ModSeq is a per-mailbox modification sequence.
type ModSeq uint64

// NumRange represents a range of numbers (sequence or UID).
// A zero bound stands for "*", the largest number in use.
type NumRange struct {
	Start uint32
	Stop  uint32
}

// Contains checks if num is within this range. last is the value "*"
// resolves to.
func (r NumRange) Contains(num, last uint32) bool {
	start, stop := r.Start, r.Stop
	if start == 0 {
		start = last
	}
	if stop == 0 {
		stop = last
	}
	if start > stop {
		start, stop = stop, start
	}
	return num >= start && num <= stop
}

// String returns the string representation of the range.
func (r NumRange) String() string {
	if r.Start == r.Stop {
		return formatNum(r.Start)
	}
	return formatNum(r.Start) + ":" + formatNum(r.Stop)
}

func formatNum(n uint32) string {
	if n == 0 {
		return "*"
	}
	return strconv.FormatUint(uint64(n), 10)
}

// NumSet is the interface implemented by SeqSet and UIDSet.
type NumSet interface {
	String() string
	Dynamic() bool
	Ranges() []NumRange
}

// SeqSet represents a set of message sequence numbers.
type SeqSet struct {
	Set []NumRange
}

// ParseSeqSet parses a sequence set string like "1,2:5,10:*".
func ParseSeqSet(s string) (*SeqSet, error) {
	ranges, err := parseNumSet(s)
	if err != nil {
		return nil, err
	}
	return &SeqSet{Set: ranges}, nil
}

// String returns the IMAP string representation.
func (ss *SeqSet) String() string { return formatNumSet(ss.Set) }

// Dynamic returns true if the set contains "*".
func (ss *SeqSet) Dynamic() bool { return dynamic(ss.Set) }

// Ranges returns the underlying ranges.
func (ss *SeqSet) Ranges() []NumRange { return ss.Set }

// Contains checks if a sequence number is in the set given the current
// message count.
func (ss *SeqSet) Contains(num, count uint32) bool {
	return contains(ss.Set, num, count)
}

// UIDSet represents a set of UIDs.
type UIDSet struct {
	Set []NumRange
}

// ParseUIDSet parses a UID set string like "1,2:5,10:*".
func ParseUIDSet(s string) (*UIDSet, error) {
	ranges, err := parseNumSet(s)
	if err != nil {
		return nil, err
	}
	return &UIDSet{Set: ranges}, nil
}

// UIDSetOf builds a set holding exactly the given UIDs.
func UIDSetOf(uids ...UID) *UIDSet {
	us := &UIDSet{}
	us.AddNum(uids...)
	return us
}

// AllUIDs returns the set "1:*".
func AllUIDs() *UIDSet {
	return &UIDSet{Set: []NumRange{{Start: 1, Stop: 0}}}
}

// String returns the IMAP string representation.
func (us *UIDSet) String() string { return formatNumSet(us.Set) }

// Dynamic returns true if the set contains "*".
func (us *UIDSet) Dynamic() bool { return dynamic(us.Set) }

// Ranges returns the underlying ranges.
func (us *UIDSet) Ranges() []NumRange { return us.Set }

// Contains checks if uid is in the set. last is the highest UID in use and
// is what "*" resolves to.
func (us *UIDSet) Contains(uid, last UID) bool {
	return contains(us.Set, uint32(uid), uint32(last))
}

// AddNum adds single UIDs to the set, merging with the previous range when
// contiguous.
func (us *UIDSet) AddNum(uids ...UID) {
	for _, u := range uids {
		n := uint32(u)
		if l := len(us.Set); l > 0 {
			last := &us.Set[l-1]
			if last.Stop != 0 && last.Stop+1 == n && last.Start <= last.Stop {
				last.Stop = n
				continue
			}
		}
		us.Set = append(us.Set, NumRange{Start: n, Stop: n})
	}
}

// IsEmpty returns true if the set contains no ranges.
func (us *UIDSet) IsEmpty() bool {
	return len(us.Set) == 0
}

func dynamic(ranges []NumRange) bool {
	for _, r := range ranges {
		if r.Start == 0 || r.Stop == 0 {
			return true
		}
	}
	return false
}

func contains(ranges []NumRange, num, last uint32) bool {
	for _, r := range ranges {
		if r.Contains(num, last) {
			return true
		}
	}
	return false
}

func parseNumSet(s string) ([]NumRange, error) {
	if s == "" {
		return nil, fmt.Errorf("imap: empty number set")
	}

	parts := strings.Split(s, ",")
	ranges := make([]NumRange, 0, len(parts))

	for _, part := range parts {
		if part == "" {
			return nil, fmt.Errorf("imap: empty range in number set")
		}

		startStr, stopStr, isRange := strings.Cut(part, ":")
		start, err := parseSeqNum(startStr)
		if err != nil {
			return nil, err
		}
		stop := start
		if isRange {
			if stop, err = parseSeqNum(stopStr); err != nil {
				return nil, err
			}
		}
		ranges = append(ranges, NumRange{Start: start, Stop: stop})
	}

	return ranges, nil
}

func parseSeqNum(s string) (uint32, error) {
	if s == "*" {
		return 0, nil
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("imap: invalid number %q: %w", s, err)
	}
	if n == 0 {
		return 0, fmt.Errorf("imap: sequence number must be non-zero")
	}
	return uint32(n), nil
}

func formatNumSet(ranges []NumRange) string {
	parts := make([]string, len(ranges))
	for i, r := range ranges {
		parts[i] = r.String()
	}
	return strings.Join(parts, ",")
}
