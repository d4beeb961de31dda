package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"

	imap "github.com/dyd1024/imapstore"
)

func TestMatchMailbox(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		want    bool
	}{
		{"INBOX", "*", true},
		{"INBOX", "inbox", true},
		{"INBOX", "In%", false},
		{"Work", "%", true},
		{"Work/Projects", "%", false},
		{"Work/Projects", "*", true},
		{"Work/Projects", "Work/%", true},
		{"Work/Projects/2024", "Work/%", false},
		{"Work/Projects/2024", "Work/*", true},
		{"Work/Projects", "*jects", true},
		{"Work", "Work", true},
		{"Work", "work", false},
		{"Workshop", "Work", false},
	}
	for _, tt := range tests {
		t.Run(tt.name+" "+tt.pattern, func(t *testing.T) {
			assert.Equal(t, tt.want, matchMailbox(tt.name, tt.pattern))
		})
	}
}

func TestHasChildren(t *testing.T) {
	names := []string{"INBOX", "Work", "Work/Projects", "Workshop"}
	assert.True(t, hasChildren("Work", names))
	assert.False(t, hasChildren("Workshop", names))
	assert.False(t, hasChildren("INBOX", names))
}

func TestSectionData(t *testing.T) {
	content := []byte("Subject: x\r\n\r\nbody\r\n")

	tests := []struct {
		section *imap.FetchItemBodySection
		name    string
		data    string
	}{
		{&imap.FetchItemBodySection{}, "BODY[]", string(content)},
		{&imap.FetchItemBodySection{Specifier: imap.SectionHeader}, "BODY[HEADER]", "Subject: x\r\n\r\n"},
		{&imap.FetchItemBodySection{Specifier: imap.SectionText}, "BODY[TEXT]", "body\r\n"},
		{&imap.FetchItemBodySection{Alias: "RFC822"}, "RFC822", string(content)},
		{&imap.FetchItemBodySection{Specifier: imap.SectionText, Partial: &imap.SectionPartial{Offset: 1, Count: 2}}, "BODY[TEXT]<1>", "od"},
		{&imap.FetchItemBodySection{Partial: &imap.SectionPartial{Offset: 100, Count: 2}}, "BODY[]<100>", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.name, sectionName(tt.section))
			assert.Equal(t, tt.data, string(sectionData(content, tt.section)))
		})
	}
}

func TestFlagList(t *testing.T) {
	assert.Equal(t, "()", flagList(nil))
	assert.Equal(t, `(\Seen \*)`, flagList([]imap.Flag{imap.FlagSeen, imap.FlagWildcard}))
}
