package commands

import (
	"sort"
	"strings"

	"github.com/dyd1024/imapstore/decode"
	"github.com/dyd1024/imapstore/mailbox"
	"github.com/dyd1024/imapstore/server"
)

// Mailbox attributes returned by LIST.
const (
	attrNoselect      = `\Noselect`
	attrHasChildren   = `\HasChildren`
	attrHasNoChildren = `\HasNoChildren`
)

// List returns a handler for the LIST command.
// LIST returns the mailboxes of the user matching reference+pattern, in
// name order. Missing parents of existing mailboxes are listed \Noselect.
func List() server.CommandHandlerFunc {
	return func(ctx *server.CommandContext) error {
		req, err := request[*decode.ListRequest](ctx)
		if err != nil {
			return err
		}

		w := server.NewListWriter(ctx.Conn.Encoder())

		// An empty pattern asks for the hierarchy delimiter.
		if req.Pattern == "" {
			w.WriteList([]string{attrNoselect}, server.Delimiter, "")
			return nil
		}

		mailboxes, err := ctx.Manager().ListMailboxes(ctx.Context, ctx.Session.User())
		if err != nil {
			return err
		}

		tree := make(map[string]bool) // name -> selectable
		for _, mb := range mailboxes {
			name := mb.Path.Name
			tree[name] = true
			for i := strings.LastIndexByte(name, server.Delimiter); i > 0; i = strings.LastIndexByte(name[:i], server.Delimiter) {
				if _, ok := tree[name[:i]]; !ok {
					tree[name[:i]] = false
				}
			}
		}

		names := make([]string, 0, len(tree))
		for name := range tree {
			names = append(names, name)
		}
		sort.Strings(names)

		pattern := req.Reference + req.Pattern
		for _, name := range names {
			if !matchMailbox(name, pattern) {
				continue
			}
			var attrs []string
			if !tree[name] {
				attrs = append(attrs, attrNoselect)
			}
			if hasChildren(name, names) {
				attrs = append(attrs, attrHasChildren)
			} else {
				attrs = append(attrs, attrHasNoChildren)
			}
			w.WriteList(attrs, server.Delimiter, name)
		}
		return nil
	}
}

// matchMailbox matches name against a LIST pattern. INBOX matches
// case-insensitively.
func matchMailbox(name, pattern string) bool {
	if name == mailbox.Inbox && len(pattern) >= len(mailbox.Inbox) && strings.EqualFold(pattern[:len(mailbox.Inbox)], mailbox.Inbox) {
		pattern = mailbox.Inbox + pattern[len(mailbox.Inbox):]
	}
	return matchPattern(name, pattern, server.Delimiter)
}

// matchPattern matches a mailbox name against an IMAP LIST pattern.
// '%' matches any character except the hierarchy delimiter.
// '*' matches any characters including the hierarchy delimiter.
func matchPattern(name, pattern string, delim byte) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case '*':
			pattern = pattern[1:]
			if len(pattern) == 0 {
				return true
			}
			for i := 0; i <= len(name); i++ {
				if matchPattern(name[i:], pattern, delim) {
					return true
				}
			}
			return false
		case '%':
			pattern = pattern[1:]
			if len(pattern) == 0 {
				return strings.IndexByte(name, delim) < 0
			}
			for i := 0; i <= len(name); i++ {
				if i > 0 && name[i-1] == delim {
					break
				}
				if matchPattern(name[i:], pattern, delim) {
					return true
				}
			}
			return false
		default:
			if len(name) == 0 || name[0] != pattern[0] {
				return false
			}
			name = name[1:]
			pattern = pattern[1:]
		}
	}
	return len(name) == 0
}

func hasChildren(name string, sorted []string) bool {
	prefix := name + string(server.Delimiter)
	i := sort.SearchStrings(sorted, prefix)
	return i < len(sorted) && strings.HasPrefix(sorted[i], prefix)
}
