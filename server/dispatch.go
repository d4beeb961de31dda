package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	imap "github.com/dyd1024/imapstore"
	"github.com/dyd1024/imapstore/decode"
	"github.com/dyd1024/imapstore/mailbox"
	"github.com/dyd1024/imapstore/state"
)

// Dispatcher manages command handler registration and dispatch.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]CommandHandler
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string]CommandHandler),
	}
}

// Register registers a handler for a command name.
func (d *Dispatcher) Register(name string, handler CommandHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[strings.ToUpper(name)] = handler
}

// RegisterFunc registers a handler function for a command name.
func (d *Dispatcher) RegisterFunc(name string, fn CommandHandlerFunc) {
	d.Register(name, fn)
}

// Get returns the handler for a command, or nil if not registered.
func (d *Dispatcher) Get(name string) CommandHandler {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.handlers[strings.ToUpper(name)]
}

// Wrap wraps an existing handler with a wrapper function.
// If no handler is registered, this is a no-op.
func (d *Dispatcher) Wrap(name string, wrapper func(CommandHandler) CommandHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	upper := strings.ToUpper(name)
	if h, ok := d.handlers[upper]; ok {
		d.handlers[upper] = wrapper(h)
	}
}

// Names returns all registered command names.
func (d *Dispatcher) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		names = append(names, name)
	}
	return names
}

// errBye is returned by dispatch once a BYE went out.
var errBye = errors.New("connection closed by server")

// dispatch runs one decoded command to completion. A non-nil error means
// the connection must be closed.
func (srv *Server) dispatch(c *Conn, cmd *decode.Command) error {
	ctx := &CommandContext{
		Context: c.ctx,
		Tag:     cmd.Tag,
		Name:    cmd.Name,
		UID:     cmd.UID,
		Request: cmd.Request,
		Conn:    c,
		Session: c.session,
		Server:  srv,
		Logger:  c.logger.WithFields(logrus.Fields{"tag": cmd.Tag, "command": cmd.Name}),
	}

	allowed := state.CommandAllowedStates(cmd.Name)

	if sel := c.session.Selected(); sel != nil && sel.Deleted() {
		c.session.Unselect()
		_ = c.state.Transition(imap.ConnStateAuthenticated)
		if !stateAllowed(allowed, imap.ConnStateAuthenticated) {
			ctx.complete(&imap.StatusResponse{Type: imap.StatusResponseTypeNO, Code: imap.ResponseCodeNonExistent, Text: "selected mailbox was deleted"})
			return nil
		}
	}

	handler := srv.dispatcher.Get(cmd.Name)
	if handler == nil {
		ctx.complete(&imap.StatusResponse{Type: imap.StatusResponseTypeBAD, Text: fmt.Sprintf("command %s not implemented", cmd.Name)})
		return nil
	}
	if allowed != nil {
		if err := c.state.RequireState(allowed...); err != nil {
			ctx.complete(&imap.StatusResponse{Type: imap.StatusResponseTypeBAD, Text: err.Error()})
			return nil
		}
	}

	err := handler.Handle(ctx)
	if err == nil {
		ctx.WriteOK("", nil, cmd.Name+" completed")
		return nil
	}

	resp := srv.translateError(ctx, err)
	if resp == nil {
		return err
	}
	if resp.Type == imap.StatusResponseTypeBYE {
		c.writeStatus("*", resp)
		return errBye
	}
	ctx.complete(resp)
	return nil
}

func stateAllowed(allowed []imap.ConnState, s imap.ConnState) bool {
	for _, a := range allowed {
		if a == s {
			return true
		}
	}
	return false
}

// translateError maps a handler error to the response completing the
// command. It returns nil when the connection is gone and nothing can be
// written.
func (srv *Server) translateError(ctx *CommandContext, err error) *imap.StatusResponse {
	logger := ctx.Logger
	if ctx.Mailbox != "" {
		logger = logger.WithField("mailbox", ctx.Mailbox)
	}

	var imapErr *imap.IMAPError
	switch {
	case errors.As(err, &imapErr):
		return imapErr.StatusResponse

	case errors.Is(err, context.Canceled):
		return nil

	case errors.Is(err, mailbox.ErrStoreClosed):
		logger.WithError(err).Error("Storage closed")
		return &imap.StatusResponse{Type: imap.StatusResponseTypeBYE, Text: "storage unavailable"}

	case errors.Is(err, mailbox.ErrMailboxNotFound):
		logger.Debug("Mailbox not found")
		if ctx.Name == imap.CommandAppend || ctx.Name == imap.CommandCopy {
			return &imap.StatusResponse{Type: imap.StatusResponseTypeNO, Code: imap.ResponseCodeTryCreate, Text: "mailbox does not exist"}
		}
		return &imap.StatusResponse{Type: imap.StatusResponseTypeNO, Code: imap.ResponseCodeNonExistent, Text: "mailbox does not exist"}

	case errors.Is(err, mailbox.ErrMailboxExists):
		return &imap.StatusResponse{Type: imap.StatusResponseTypeNO, Code: imap.ResponseCodeAlreadyExists, Text: "mailbox already exists"}

	case errors.Is(err, mailbox.ErrInvalidAnnotationKey), errors.Is(err, mailbox.ErrNilAnnotation),
		errors.Is(err, mailbox.ErrInvalidAttachment):
		return &imap.StatusResponse{Type: imap.StatusResponseTypeBAD, Text: err.Error()}

	case errors.Is(err, mailbox.ErrTooManyAnnotations):
		return &imap.StatusResponse{Type: imap.StatusResponseTypeNO, Code: imap.ResponseCodeMetadata, CodeArg: "TOOMANY", Text: "too many annotations"}

	case errors.Is(err, mailbox.ErrStorageUnavailable):
		logger.WithError(err).Warn("Storage unavailable")
		return &imap.StatusResponse{Type: imap.StatusResponseTypeNO, Code: imap.ResponseCodeServerUnavailable, Text: ctx.Name + " failed, try again"}

	default:
		logger.WithError(err).Error("Command failed")
		return &imap.StatusResponse{Type: imap.StatusResponseTypeNO, Text: ctx.Name + " failed"}
	}
}
