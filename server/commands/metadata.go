package commands

import (
	"fmt"

	imap "github.com/dyd1024/imapstore"
	"github.com/dyd1024/imapstore/decode"
	"github.com/dyd1024/imapstore/mailbox"
	"github.com/dyd1024/imapstore/server"
)

var errServerMetadata = imap.ErrNo("server annotations are not supported")

// SetMetadata returns a handler for the SETMETADATA command (RFC 5464).
// Entries with a NIL value are removed.
func SetMetadata() server.CommandHandlerFunc {
	return func(ctx *server.CommandContext) error {
		req, err := request[*decode.SetMetadataRequest](ctx)
		if err != nil {
			return err
		}
		if req.Mailbox == "" {
			return errServerMetadata
		}
		ctx.Mailbox = req.Mailbox

		entries := make([]mailbox.Annotation, 0, len(req.Entries))
		for _, e := range req.Entries {
			key, err := mailbox.NewAnnotationKey(e.Name)
			if err != nil {
				return err
			}
			if e.Value == nil {
				entries = append(entries, mailbox.NilAnnotation(key))
			} else {
				entries = append(entries, mailbox.NewAnnotation(key, *e.Value))
			}
		}

		mb, err := metadataMailbox(ctx, req.Mailbox)
		if err != nil {
			return err
		}
		return ctx.Manager().UpdateAnnotations(ctx.Context, mb.ID, entries)
	}
}

// GetMetadata returns a handler for the GETMETADATA command (RFC 5464).
// With MAXSIZE, larger values are left out and counted in LONGENTRIES.
func GetMetadata() server.CommandHandlerFunc {
	return func(ctx *server.CommandContext) error {
		req, err := request[*decode.GetMetadataRequest](ctx)
		if err != nil {
			return err
		}
		if req.Mailbox == "" {
			return errServerMetadata
		}
		ctx.Mailbox = req.Mailbox

		keys := make([]mailbox.AnnotationKey, 0, len(req.Entries))
		for _, name := range req.Entries {
			key, err := mailbox.NewAnnotationKey(name)
			if err != nil {
				return err
			}
			keys = append(keys, key)
		}

		mb, err := metadataMailbox(ctx, req.Mailbox)
		if err != nil {
			return err
		}
		found, err := ctx.Manager().QueryAnnotations(ctx.Context, mb.ID, keys, metadataDepth(req.Depth))
		if err != nil {
			return err
		}

		var entries []imap.MetadataEntry
		longest := 0
		for _, a := range found {
			if req.MaxSize > 0 && len(*a.Value) > int(req.MaxSize) {
				if len(*a.Value) > longest {
					longest = len(*a.Value)
				}
				continue
			}
			entries = append(entries, imap.MetadataEntry{Name: string(a.Key), Value: a.Value})
		}
		if len(entries) > 0 {
			server.NewListWriter(ctx.Conn.Encoder()).WriteMetadata(req.Mailbox, entries)
		}
		if longest > 0 {
			ctx.WriteOK(imap.ResponseCodeMetadata, fmt.Sprintf("LONGENTRIES %d", longest), "GETMETADATA completed")
		}
		return nil
	}
}

func metadataMailbox(ctx *server.CommandContext, name string) (*mailbox.Mailbox, error) {
	path, err := ctx.Session.Path(name)
	if err != nil {
		return nil, err
	}
	return ctx.Manager().GetMailbox(ctx.Context, path)
}

func metadataDepth(d imap.MetadataDepth) mailbox.Depth {
	switch d {
	case imap.MetadataDepthOne:
		return mailbox.DepthOne
	case imap.MetadataDepthInfinity:
		return mailbox.DepthAll
	default:
		return mailbox.DepthExact
	}
}
