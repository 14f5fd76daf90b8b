package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"panda/models"
	"strings"
	"time"

	sqlbuilder "github.com/huandu/go-sqlbuilder"
	"github.com/lib/pq"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Timestamps are stored as fixed width UTC text so that string order is time order
const timeLayout = "2006-01-02T15:04:05.000000Z"

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// ops holds every query. It runs against either the pool or an open transaction.
type ops struct {
	q      querier
	flavor sqlbuilder.Flavor
}

// DB handles all database operations with a shared connection pool
type DB struct {
	ops
	conn   *sql.DB
	driver string
}

// Tx is a running transaction. Code holding a Tx must not use the DB it came
// from, SQLite runs with a single connection.
type Tx struct {
	ops
	tx *sql.Tx
}

func Open(cfg Config) (*DB, error) {
	var (
		conn   *sql.DB
		flavor sqlbuilder.Flavor
		err    error
	)

	switch cfg.Driver {
	case DriverSQLite, "":
		conn, err = sqliteConnection(cfg.Path)
		flavor = sqlbuilder.SQLite
		cfg.Driver = DriverSQLite
	case DriverPostgres:
		conn, err = postgresConnection(cfg.DSN)
		flavor = sqlbuilder.PostgreSQL
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Driver, err)
	}

	return &DB{ops: ops{q: conn, flavor: flavor}, conn: conn, driver: cfg.Driver}, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) Driver() string {
	return db.driver
}

// InTx runs fn inside a single transaction. The transaction is rolled back when
// fn returns an error or panics.
func (db *DB) InTx(ctx context.Context, fn func(tx *Tx) error) (err error) {
	sqlTx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin transaction", err)
	}
	tx := &Tx{ops: ops{q: sqlTx, flavor: db.flavor}, tx: sqlTx}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				log.Errorf("Rollback failed: %v", rbErr)
			}
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return storageErr("commit transaction", err)
	}
	return nil
}

func (o ops) exec(ctx context.Context, b sqlbuilder.Builder) (sql.Result, error) {
	query, args := b.BuildWithFlavor(o.flavor)
	return o.q.ExecContext(ctx, query, args...)
}

func (o ops) query(ctx context.Context, b sqlbuilder.Builder) (*sql.Rows, error) {
	query, args := b.BuildWithFlavor(o.flavor)
	return o.q.QueryContext(ctx, query, args...)
}

func (o ops) queryRow(ctx context.Context, b sqlbuilder.Builder) *sql.Row {
	query, args := b.BuildWithFlavor(o.flavor)
	return o.q.QueryRowContext(ctx, query, args...)
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, models.ErrStorage, err)
}

// mutationErr maps constraint violations onto the model error taxonomy
func mutationErr(op string, err error) error {
	switch {
	case isUniqueViolation(err):
		return fmt.Errorf("%s: %w", op, models.ErrAlreadyExists)
	case isForeignKeyViolation(err):
		return fmt.Errorf("%s: %w: %v", op, models.ErrIntegrity, err)
	}
	return storageErr(op, err)
}

// sqliteConstraint matches an extended result code, falling back to the
// primary code plus message for connections without extended codes
func sqliteConstraint(err *sqlite.Error, extended []int, message string) bool {
	code := err.Code()
	if lo.Contains(extended, code) {
		return true
	}
	return code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(err.Error(), message)
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteConstraint(sqliteErr,
			[]int{sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY}, "UNIQUE")
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteConstraint(sqliteErr, []int{sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY}, "FOREIGN KEY")
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23503"
	}
	return false
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Rows written by other tools may carry plain RFC 3339
		t, err = time.Parse(time.RFC3339Nano, s)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}

func nullInt64(i sql.NullInt64) *int64 {
	if !i.Valid {
		return nil
	}
	return &i.Int64
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
