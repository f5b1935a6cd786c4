// Package sqlstore implements storage.Store on top of database/sql.
//
// Two dialects are supported: SQLite through the pure Go modernc.org/sqlite
// driver and PostgreSQL through pgx's database/sql adapter. The schema is a
// straightforward relational rendering of the property graph:
//
//	nodes(id, labels, properties, created_at, updated_at)
//	node_labels(node_id, label)
//	edges(seq, id, start_node, end_node, type, created_at)
//
// labels and properties are JSON documents. edges.seq is an auto-increment
// key and gives outgoing edges their creation order.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	_ "modernc.org/sqlite"             // pure go sqlite driver

	"github.com/orneryd/bundledb/pkg/storage"
)

// Dialect selects the SQL flavour spoken to the database.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

const defaultDSN = "postgres://localhost/bundledb?sslmode=disable"

// Store is a storage.Store backed by a SQL database.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

var _ storage.Store = (*Store)(nil)

// OpenSQLite opens (creating if needed) a SQLite database at path. The
// special path ":memory:" yields a private in-memory database.
func OpenSQLite(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		path = "bundledb.db"
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows one writer; an in-memory database is also per connection.
	db.SetMaxOpenConns(1)
	return open(ctx, db, SQLite)
}

// OpenPostgres connects to PostgreSQL with dsn, falling back to a local
// default when dsn is empty.
func OpenPostgres(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return open(ctx, db, Postgres)
}

func open(ctx context.Context, db *sql.DB, dialect Dialect) (*Store, error) {
	s := &Store{db: db, dialect: dialect}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// DB exposes the underlying sql.DB.
func (s *Store) DB() *sql.DB { return s.db }

// Dialect reports which database the store talks to.
func (s *Store) Dialect() Dialect { return s.dialect }

func (s *Store) migrate(ctx context.Context) error {
	edgeSeq := "seq INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.dialect == Postgres {
		edgeSeq = "seq BIGSERIAL PRIMARY KEY"
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS nodes (
			id TEXT PRIMARY KEY,
			labels TEXT NOT NULL,
			properties TEXT NOT NULL,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS node_labels (
			node_id TEXT NOT NULL,
			label TEXT NOT NULL,
			PRIMARY KEY (node_id, label)
		)`,
		`CREATE INDEX IF NOT EXISTS node_labels_label ON node_labels (label)`,
		`CREATE TABLE IF NOT EXISTS edges (
			` + edgeSeq + `,
			id TEXT NOT NULL UNIQUE,
			start_node TEXT NOT NULL,
			end_node TEXT NOT NULL,
			type TEXT NOT NULL,
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS edges_start ON edges (start_node)`,
		`CREATE INDEX IF NOT EXISTS edges_end ON edges (end_node)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Begin implements storage.Store.
func (s *Store) Begin(ctx context.Context) (storage.Tx, error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		if errors.Is(err, sql.ErrConnDone) || strings.Contains(err.Error(), "database is closed") {
			return nil, storage.ErrStorageClosed
		}
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &Tx{ctx: ctx, tx: sqlTx, dialect: s.dialect}, nil
}

// Close implements storage.Store.
func (s *Store) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders into $n for PostgreSQL.
func rebind(dialect Dialect, query string) string {
	if dialect != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
