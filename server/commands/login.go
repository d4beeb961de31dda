package commands

import (
	"encoding/base64"
	"errors"
	"strings"

	"github.com/emersion/go-sasl"

	imap "github.com/dyd1024/imapstore"
	"github.com/dyd1024/imapstore/decode"
	"github.com/dyd1024/imapstore/server"
)

var errAuthFailed = imap.ErrNoWithCode(imap.ResponseCodeAuthFailed, "invalid credentials")

// Login returns a handler for the LOGIN command.
func Login() server.CommandHandlerFunc {
	return func(ctx *server.CommandContext) error {
		req, err := request[*decode.LoginRequest](ctx)
		if err != nil {
			return err
		}
		if !authAllowed(ctx) {
			return imap.ErrNo("LOGIN disabled without TLS")
		}

		user, err := authenticate(ctx, req.Username, req.Password)
		if err != nil {
			return err
		}
		return completeLogin(ctx, user, "LOGIN completed")
	}
}

// Authenticate returns a handler for the AUTHENTICATE command. Only the
// PLAIN mechanism is offered, with or without an initial response.
func Authenticate() server.CommandHandlerFunc {
	return func(ctx *server.CommandContext) error {
		req, err := request[*decode.AuthenticateRequest](ctx)
		if err != nil {
			return err
		}
		if !strings.EqualFold(req.Mechanism, sasl.Plain) {
			return imap.ErrNoWithCode(imap.ResponseCodeCannot, "unsupported authentication mechanism")
		}
		if !authAllowed(ctx) {
			return imap.ErrNo("authentication disabled without TLS")
		}

		var user string
		mech := sasl.NewPlainServer(func(identity, username, password string) error {
			if identity != "" && identity != username {
				return errors.New("authorization identity differs from authentication identity")
			}
			u, err := authenticate(ctx, username, password)
			if err != nil {
				return err
			}
			user = u
			return nil
		})

		var response []byte
		if req.HasInitialResponse {
			if response, err = decodeSASL(req.InitialResponse); err != nil {
				return err
			}
		}

		for {
			challenge, done, err := mech.Next(response)
			if err != nil {
				var imapErr *imap.IMAPError
				if errors.As(err, &imapErr) {
					return imapErr
				}
				ctx.Logger.WithError(err).Info("Authentication failed")
				return errAuthFailed
			}
			if done {
				break
			}

			ctx.Conn.WriteContinuation(base64.StdEncoding.EncodeToString(challenge))
			line, err := ctx.Conn.ReadContinuation()
			if err != nil {
				return err
			}
			if line == "*" {
				return imap.ErrBad("AUTHENTICATE cancelled")
			}
			if response, err = decodeSASL(line); err != nil {
				return err
			}
		}
		return completeLogin(ctx, user, "AUTHENTICATE completed")
	}
}

func decodeSASL(s string) ([]byte, error) {
	if s == "=" {
		return []byte{}, nil
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, imap.ErrBad("invalid base64 response")
	}
	return b, nil
}

func authAllowed(ctx *server.CommandContext) bool {
	return ctx.Conn.IsTLS() || ctx.Server.Options().AllowInsecureAuth
}

func authenticate(ctx *server.CommandContext, username, password string) (string, error) {
	auth := ctx.Server.Options().Authenticator
	if auth == nil {
		return "", errAuthFailed
	}
	user, err := auth.Authenticate(ctx.Context, username, password)
	if err != nil {
		if errors.Is(err, server.ErrAuthFailed) {
			return "", errAuthFailed
		}
		return "", err
	}
	return user, nil
}

func completeLogin(ctx *server.CommandContext, user, text string) error {
	if err := ctx.Session.Login(ctx.Context, user); err != nil {
		return err
	}
	if err := ctx.Conn.SetState(imap.ConnStateAuthenticated); err != nil {
		return err
	}
	ctx.Logger.WithField("user", user).Info("Authenticated")

	caps := ctx.Server.Capabilities(ctx.Conn)
	names := make([]string, len(caps))
	for i, c := range caps {
		names[i] = string(c)
	}
	ctx.WriteOK(imap.ResponseCodeCapability, strings.Join(names, " "), text)
	return nil
}
