// Package sqlstore implements the mailbox storage mappers on a SQL
// database shared by every server instance. Counters are advanced with
// conditional UPDATEs, so instances need no lock besides the database.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	migrate "github.com/rubenv/sql-migrate"
	"github.com/sirupsen/logrus"

	imap "github.com/dyd1024/imapstore"
	"github.com/dyd1024/imapstore/mailbox"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Store is a mailbox.Store backed by sqlx.
type Store struct {
	db     *sqlx.DB
	driver string
	l      *logrus.Entry
	closed atomic.Bool
}

var _ mailbox.Store = (*Store)(nil)

// Open connects to datasource with driver and migrates the schema.
func Open(driver, datasource string, l *logrus.Entry) (*Store, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
	if l == nil {
		l = logrus.NewEntry(logrus.StandardLogger())
	}
	db, err := sqlx.Connect(driver, datasource)
	if err != nil {
		return nil, fmt.Errorf("could not open db: %w", err)
	}

	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
		if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
			db.Close()
			return nil, fmt.Errorf("could not set journal mode: %w", err)
		}
		if _, err := db.Exec(`PRAGMA synchronous=normal`); err != nil {
			db.Close()
			return nil, fmt.Errorf("could not set synchronous mode: %w", err)
		}
	}
	l.WithField("driver", driver).Info("Connected")

	applied, err := migrate.Exec(db.DB, driver, migrations(driver), migrate.Up)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("could not migrate to newest version: %w", err)
	}
	l.WithField("migrations", applied).Debug("Executed migrations")

	return &Store{db: db, driver: driver, l: l}, nil
}

// Close closes the database. Later calls fail with mailbox.ErrStoreClosed.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("could not close db: %w", err)
	}
	s.l.Info("Disconnected")
	return nil
}

func (s *Store) check(ctx context.Context) error {
	if s.closed.Load() {
		return mailbox.ErrStoreClosed
	}
	return ctx.Err()
}

// q rewrites ? placeholders for the driver.
func (s *Store) q(query string) string {
	return s.db.Rebind(query)
}

func isUniqueViolation(err error) bool {
	var sqErr sqlite3.Error
	if errors.As(err, &sqErr) {
		return sqErr.ExtendedCode == sqlite3.ErrConstraintUnique || sqErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

func txEnd(tx *sqlx.Tx, err error) error {
	if err == nil {
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("could not commit tx: %w", err)
		}
		return nil
	}
	if rollbackErr := tx.Rollback(); rollbackErr != nil {
		return fmt.Errorf("%s, could not rollback tx: %w", err.Error(), rollbackErr)
	}
	return err
}

type mailboxRow struct {
	ID            string `db:"id"`
	Namespace     string `db:"namespace"`
	Owner         string `db:"owner"`
	Name          string `db:"name"`
	UIDValidity   int64  `db:"uid_validity"`
	UIDNext       int64  `db:"uid_next"`
	HighestModSeq int64  `db:"highest_mod_seq"`
}

func (r *mailboxRow) mailbox() *mailbox.Mailbox {
	return &mailbox.Mailbox{
		ID:            mailbox.ID(r.ID),
		Path:          mailbox.Path{Namespace: r.Namespace, User: r.Owner, Name: r.Name},
		UIDValidity:   uint32(r.UIDValidity),
		UIDNext:       imap.UID(r.UIDNext),
		HighestModSeq: imap.ModSeq(r.HighestModSeq),
	}
}

const mailboxColumns = `id, namespace, owner, name, uid_validity, uid_next, highest_mod_seq`

// CreateMailbox implements mailbox.MailboxMapper.
func (s *Store) CreateMailbox(ctx context.Context, mb *mailbox.Mailbox) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	uidNext := mb.UIDNext
	if uidNext == 0 {
		uidNext = 1
	}
	_, err := s.db.ExecContext(ctx,
		s.q(`INSERT INTO mailboxes (`+mailboxColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`),
		string(mb.ID), mb.Path.Namespace, mb.Path.User, mb.Path.Name,
		int64(mb.UIDValidity), int64(uidNext), int64(mb.HighestModSeq),
	)
	if isUniqueViolation(err) {
		return mailbox.ErrMailboxExists
	}
	if err != nil {
		return fmt.Errorf("could not save mailbox: %w", err)
	}
	s.l.WithFields(logrus.Fields{"mailbox": mb.Path.String(), "id": mb.ID}).Debug("Persisted mailbox")
	return nil
}

func (s *Store) findMailbox(ctx context.Context, where string, args ...interface{}) (*mailbox.Mailbox, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	var row mailboxRow
	err := s.db.GetContext(ctx, &row, s.q(`SELECT `+mailboxColumns+` FROM mailboxes WHERE `+where), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, mailbox.ErrMailboxNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("could not query db: %w", err)
	}
	return row.mailbox(), nil
}

// FindMailboxByPath implements mailbox.MailboxMapper.
func (s *Store) FindMailboxByPath(ctx context.Context, path mailbox.Path) (*mailbox.Mailbox, error) {
	return s.findMailbox(ctx, `namespace = ? AND owner = ? AND name = ?`, path.Namespace, path.User, path.Name)
}

// FindMailboxByID implements mailbox.MailboxMapper.
func (s *Store) FindMailboxByID(ctx context.Context, id mailbox.ID) (*mailbox.Mailbox, error) {
	return s.findMailbox(ctx, `id = ?`, string(id))
}

// ListMailboxes implements mailbox.MailboxMapper.
func (s *Store) ListMailboxes(ctx context.Context, user string) ([]*mailbox.Mailbox, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	var rows []mailboxRow
	err := s.db.SelectContext(ctx, &rows, s.q(`SELECT `+mailboxColumns+` FROM mailboxes WHERE owner = ? ORDER BY name`), user)
	if err != nil {
		return nil, fmt.Errorf("could not query db: %w", err)
	}
	out := make([]*mailbox.Mailbox, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].mailbox())
	}
	return out, nil
}

// RenameMailbox implements mailbox.MailboxMapper.
func (s *Store) RenameMailbox(ctx context.Context, id mailbox.ID, to mailbox.Path) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		s.q(`UPDATE mailboxes SET namespace = ?, owner = ?, name = ? WHERE id = ?`),
		to.Namespace, to.User, to.Name, string(id),
	)
	if isUniqueViolation(err) {
		return mailbox.ErrMailboxExists
	}
	if err != nil {
		return fmt.Errorf("could not rename mailbox: %w", err)
	}
	return expectOne(res, mailbox.ErrMailboxNotFound)
}

// DeleteMailbox implements mailbox.MailboxMapper.
func (s *Store) DeleteMailbox(ctx context.Context, id mailbox.ID) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not start transaction: %w", err)
	}
	for _, table := range []string{"messages", "annotations"} {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM `+table+` WHERE mailbox_id = ?`), string(id)); err != nil {
			return txEnd(tx, fmt.Errorf("could not delete %s: %w", table, err))
		}
	}
	res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM mailboxes WHERE id = ?`), string(id))
	if err != nil {
		return txEnd(tx, fmt.Errorf("could not delete mailbox: %w", err))
	}
	return txEnd(tx, expectOne(res, mailbox.ErrMailboxNotFound))
}

func expectOne(res sql.Result, notFound error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("could not get num of affected rows: %w", err)
	}
	if affected == 0 {
		return notFound
	}
	return nil
}

// casIncrement advances column of mailbox id by one with a conditional
// UPDATE, retrying when another writer got there first. It returns the
// value before the increment.
func (s *Store) casIncrement(ctx context.Context, id mailbox.ID, column string) (int64, error) {
	if err := s.check(ctx); err != nil {
		return 0, err
	}
	sel := s.q(`SELECT ` + column + ` FROM mailboxes WHERE id = ?`)
	upd := s.q(`UPDATE mailboxes SET ` + column + ` = ? WHERE id = ? AND ` + column + ` = ?`)
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		var cur int64
		err := s.db.GetContext(ctx, &cur, sel, string(id))
		if errors.Is(err, sql.ErrNoRows) {
			return 0, mailbox.ErrMailboxNotFound
		}
		if err != nil {
			return 0, fmt.Errorf("could not query db: %w", err)
		}
		res, err := s.db.ExecContext(ctx, upd, cur+1, string(id), cur)
		if err != nil {
			return 0, fmt.Errorf("could not update %s: %w", column, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("could not get num of affected rows: %w", err)
		}
		if affected == 1 {
			return cur, nil
		}
		s.l.WithFields(logrus.Fields{"mailbox": id, "column": column, "attempt": attempt}).Debug("Counter update lost a race, retrying")
	}
}

// AllocateUID implements mailbox.MailboxMapper.
func (s *Store) AllocateUID(ctx context.Context, id mailbox.ID) (imap.UID, error) {
	cur, err := s.casIncrement(ctx, id, "uid_next")
	return imap.UID(cur), err
}

// AllocateModSeq implements mailbox.MailboxMapper.
func (s *Store) AllocateModSeq(ctx context.Context, id mailbox.ID) (imap.ModSeq, error) {
	cur, err := s.casIncrement(ctx, id, "highest_mod_seq")
	if err != nil {
		return 0, err
	}
	return imap.ModSeq(cur + 1), nil
}

// Truncate removes every row, keeping the schema. It resets databases
// shared between test runs.
func Truncate(s *Store) error {
	for _, table := range []string{"attachment_links", "attachments", "annotations", "messages", "mailboxes"} {
		if _, err := s.db.Exec(`DELETE FROM ` + table); err != nil {
			return fmt.Errorf("could not truncate %s: %w", table, err)
		}
	}
	return nil
}
