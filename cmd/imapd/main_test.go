package main

import (
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyd1024/imapstore/config"
)

func TestOpenStore(t *testing.T) {
	log := logrus.NewEntry(logrus.New())

	store, err := openStore(config.StorageConfig{Backend: config.BackendMemory}, log)
	require.NoError(t, err)
	assert.NoError(t, store.Close())

	dsn := filepath.Join(t.TempDir(), "mail.db")
	store, err = openStore(config.StorageConfig{Backend: config.BackendSQLite, DSN: dsn}, log)
	require.NoError(t, err)
	assert.NoError(t, store.Close())

	_, err = openStore(config.StorageConfig{Backend: "redis"}, log)
	assert.Error(t, err)
}

func TestListenPlain(t *testing.T) {
	l, err := listen(config.ServerConfig{Addr: "127.0.0.1:0"}, nil)
	require.NoError(t, err)
	defer l.Close()
	assert.Contains(t, l.Addr().String(), "127.0.0.1:")
}
