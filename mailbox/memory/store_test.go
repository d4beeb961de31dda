package memory_test

import (
	"testing"

	"github.com/dyd1024/imapstore/mailbox"
	"github.com/dyd1024/imapstore/mailbox/mappertest"
	"github.com/dyd1024/imapstore/mailbox/memory"
)

func TestStore(t *testing.T) {
	mappertest.Run(t, func(t *testing.T) mailbox.Store {
		return memory.New()
	})
}
