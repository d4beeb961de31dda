package imap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUIDSet(t *testing.T) {
	tests := []struct {
		input   string
		want    []NumRange
		wantErr bool
	}{
		{input: "1", want: []NumRange{{1, 1}}},
		{input: "1:5", want: []NumRange{{1, 5}}},
		{input: "3,7:*", want: []NumRange{{3, 3}, {7, 0}}},
		{input: "*", want: []NumRange{{0, 0}}},
		{input: "", wantErr: true},
		{input: "0", wantErr: true},
		{input: "1,,2", wantErr: true},
		{input: "a:3", wantErr: true},
		{input: "-1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			set, err := ParseUIDSet(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, set.Set)
			assert.Equal(t, tt.input, set.String())
		})
	}
}

func TestUIDSetContainsResolvesStar(t *testing.T) {
	set, err := ParseUIDSet("2,5:*")
	require.NoError(t, err)

	assert.False(t, set.Contains(1, 9))
	assert.True(t, set.Contains(2, 9))
	assert.False(t, set.Contains(3, 9))
	assert.True(t, set.Contains(9, 9))
	assert.False(t, set.Contains(10, 9))
	// "5:*" with a highest UID below 5 still matches the highest UID.
	assert.True(t, set.Contains(3, 3))
}

func TestUIDSetAddNumMerges(t *testing.T) {
	set := UIDSetOf(1, 2, 3, 7, 8, 10)
	assert.Equal(t, "1:3,7:8,10", set.String())
	assert.False(t, set.Dynamic())
	assert.True(t, AllUIDs().Dynamic())
}

func TestSeqSetContains(t *testing.T) {
	set, err := ParseSeqSet("1:*")
	require.NoError(t, err)
	assert.True(t, set.Contains(4, 4))
	assert.False(t, set.Contains(5, 4))
}
