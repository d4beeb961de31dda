package middleware

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dyd1024/imapstore/server"
)

// Logging logs each command at debug level and failures at warn level.
func Logging() Middleware {
	return func(next server.CommandHandler) server.CommandHandler {
		return server.CommandHandlerFunc(func(ctx *server.CommandContext) error {
			start := time.Now()
			logger := entry(ctx).WithFields(logrus.Fields{
				"tag":     ctx.Tag,
				"command": ctx.Name,
			})
			if ctx.Conn != nil {
				logger = logger.WithField("state", ctx.State().String())
			}
			logger.Debug("Command start")

			err := next.Handle(ctx)

			logger = logger.WithField("duration", time.Since(start))
			if ctx.Mailbox != "" {
				logger = logger.WithField("mailbox", ctx.Mailbox)
			}
			if err != nil {
				logger.WithError(err).Warn("Command failed")
			} else {
				logger.Debug("Command done")
			}
			return err
		})
	}
}
