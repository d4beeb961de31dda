package sqlstore

import (
	"testing"

	"github.com/stretchr/testify/assert"

	imap "github.com/dyd1024/imapstore"
)

func TestUIDRangeClause(t *testing.T) {
	tests := []struct {
		name     string
		ranges   []imap.NumRange
		last     imap.UID
		want     string
		wantArgs []interface{}
	}{
		{
			name:     "single",
			ranges:   []imap.NumRange{{Start: 4, Stop: 4}},
			want:     `(uid = ?)`,
			wantArgs: []interface{}{int64(4)},
		},
		{
			name:     "ranges",
			ranges:   []imap.NumRange{{Start: 1, Stop: 3}, {Start: 9, Stop: 9}},
			want:     `(uid BETWEEN ? AND ? OR uid = ?)`,
			wantArgs: []interface{}{int64(1), int64(3), int64(9)},
		},
		{
			name:     "star resolves to last",
			ranges:   []imap.NumRange{{Start: 5, Stop: 0}},
			last:     12,
			want:     `(uid BETWEEN ? AND ?)`,
			wantArgs: []interface{}{int64(5), int64(12)},
		},
		{
			name:     "star below start",
			ranges:   []imap.NumRange{{Start: 20, Stop: 0}},
			last:     12,
			want:     `(uid BETWEEN ? AND ?)`,
			wantArgs: []interface{}{int64(12), int64(20)},
		},
		{
			name:   "empty",
			ranges: nil,
			want:   `1 = 0`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, args := uidRangeClause(tt.ranges, tt.last)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestUIDRangeClauseBoundsLargeSets(t *testing.T) {
	var ranges []imap.NumRange
	for i := uint32(0); i < maxUIDRanges+1; i++ {
		ranges = append(ranges, imap.NumRange{Start: 10 + 2*i, Stop: 10 + 2*i})
	}
	got, args := uidRangeClause(ranges, 0)
	assert.Equal(t, `(uid BETWEEN ? AND ?)`, got)
	assert.Equal(t, []interface{}{int64(10), int64(10 + 2*maxUIDRanges)}, args)
}
