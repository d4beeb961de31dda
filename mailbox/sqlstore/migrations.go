package sqlstore

import (
	"fmt"

	migrate "github.com/rubenv/sql-migrate"
)

func migrations(driver string) *migrate.MemoryMigrationSource {
	blob := "BLOB"
	if driver == DriverPostgres {
		blob = "BYTEA"
	}
	return &migrate.MemoryMigrationSource{
		Migrations: []*migrate.Migration{
			{
				Id: "0001_mailboxes",
				Up: []string{
					`CREATE TABLE mailboxes (
						id TEXT PRIMARY KEY,
						namespace TEXT NOT NULL,
						owner TEXT NOT NULL,
						name TEXT NOT NULL,
						uid_validity BIGINT NOT NULL,
						uid_next BIGINT NOT NULL,
						highest_mod_seq BIGINT NOT NULL,
						UNIQUE (namespace, owner, name)
					)`,
				},
				Down: []string{`DROP TABLE mailboxes`},
			},
			{
				Id: "0002_messages",
				Up: []string{
					fmt.Sprintf(`CREATE TABLE messages (
						mailbox_id TEXT NOT NULL,
						uid BIGINT NOT NULL,
						mod_seq BIGINT NOT NULL,
						message_id TEXT NOT NULL,
						internal_date TEXT NOT NULL,
						size BIGINT NOT NULL,
						flags TEXT NOT NULL,
						recent BOOLEAN NOT NULL,
						content %s,
						PRIMARY KEY (mailbox_id, uid)
					)`, blob),
				},
				Down: []string{`DROP TABLE messages`},
			},
			{
				Id: "0003_annotations",
				Up: []string{
					`CREATE TABLE annotations (
						mailbox_id TEXT NOT NULL,
						key TEXT NOT NULL,
						value TEXT NOT NULL,
						PRIMARY KEY (mailbox_id, key)
					)`,
				},
				Down: []string{`DROP TABLE annotations`},
			},
			{
				Id: "0004_attachments",
				Up: []string{
					fmt.Sprintf(`CREATE TABLE attachments (
						id TEXT PRIMARY KEY,
						content_type TEXT NOT NULL,
						size BIGINT NOT NULL,
						message_id TEXT NOT NULL,
						content %s
					)`, blob),
					`CREATE TABLE attachment_links (
						attachment_id TEXT NOT NULL,
						message_id TEXT NOT NULL,
						PRIMARY KEY (attachment_id, message_id)
					)`,
					`CREATE INDEX attachment_links_message ON attachment_links (message_id)`,
				},
				Down: []string{`DROP TABLE attachment_links`, `DROP TABLE attachments`},
			},
		},
	}
}
