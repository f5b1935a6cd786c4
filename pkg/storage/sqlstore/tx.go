package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/orneryd/bundledb/pkg/storage"
)

// Tx wraps a sql.Tx. It is not safe for concurrent use.
type Tx struct {
	ctx     context.Context
	tx      *sql.Tx
	dialect Dialect
	done    bool
}

var _ storage.Tx = (*Tx)(nil)

func (t *Tx) exec(query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(t.ctx, rebind(t.dialect, query), args...)
}

func (t *Tx) query(query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(t.ctx, rebind(t.dialect, query), args...)
}

func (t *Tx) queryRow(query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(t.ctx, rebind(t.dialect, query), args...)
}

func (t *Tx) active() error {
	if t.done {
		return storage.ErrTransactionClosed
	}
	return nil
}

// isUniqueViolation reports whether err is a primary key or unique
// constraint failure in either dialect.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

// Exists implements storage.Tx.
func (t *Tx) Exists(id storage.NodeID) (bool, error) {
	if err := t.active(); err != nil {
		return false, err
	}
	var one int
	err := t.queryRow(`SELECT 1 FROM nodes WHERE id = ?`, string(id)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", id, err)
	}
	return true, nil
}

// GetNode implements storage.Tx.
func (t *Tx) GetNode(id storage.NodeID) (*storage.Node, error) {
	if id == "" {
		return nil, storage.ErrInvalidID
	}
	if err := t.active(); err != nil {
		return nil, err
	}
	var (
		labels, props        string
		createdAt, updatedAt int64
	)
	err := t.queryRow(`SELECT labels, properties, created_at, updated_at FROM nodes WHERE id = ?`, string(id)).
		Scan(&labels, &props, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select node %s: %w", id, err)
	}
	n := &storage.Node{
		ID:        id,
		CreatedAt: time.Unix(0, createdAt),
		UpdatedAt: time.Unix(0, updatedAt),
	}
	if err := json.Unmarshal([]byte(labels), &n.Labels); err != nil {
		return nil, fmt.Errorf("decode labels of %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(props), &n.Properties); err != nil {
		return nil, fmt.Errorf("decode properties of %s: %w", id, err)
	}
	return n, nil
}

func encodeNode(n *storage.Node) (labels, props string, err error) {
	labelsJSON, err := json.Marshal(n.Labels)
	if err != nil {
		return "", "", err
	}
	properties := n.Properties
	if properties == nil {
		properties = map[string]any{}
	}
	propsJSON, err := json.Marshal(properties)
	if err != nil {
		return "", "", err
	}
	return string(labelsJSON), string(propsJSON), nil
}

func (t *Tx) writeLabels(n *storage.Node) error {
	if _, err := t.exec(`DELETE FROM node_labels WHERE node_id = ?`, string(n.ID)); err != nil {
		return fmt.Errorf("clear labels of %s: %w", n.ID, err)
	}
	seen := make(map[string]bool, len(n.Labels))
	for _, label := range n.Labels {
		label = strings.ToLower(label)
		if seen[label] {
			continue
		}
		seen[label] = true
		if _, err := t.exec(`INSERT INTO node_labels (node_id, label) VALUES (?, ?)`, string(n.ID), label); err != nil {
			return fmt.Errorf("insert label of %s: %w", n.ID, err)
		}
	}
	return nil
}

// CreateNode implements storage.Tx.
func (t *Tx) CreateNode(n *storage.Node) error {
	if n == nil {
		return storage.ErrInvalidData
	}
	if n.ID == "" {
		return storage.ErrInvalidID
	}
	if err := t.active(); err != nil {
		return err
	}
	exists, err := t.Exists(n.ID)
	if err != nil {
		return err
	}
	if exists {
		return storage.ErrAlreadyExists
	}

	labels, props, err := encodeNode(n)
	if err != nil {
		return fmt.Errorf("encode node %s: %w", n.ID, err)
	}
	now := time.Now().UnixNano()
	_, err = t.exec(`INSERT INTO nodes (id, labels, properties, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		string(n.ID), labels, props, now, now)
	if isUniqueViolation(err) {
		return storage.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert node %s: %w", n.ID, err)
	}
	return t.writeLabels(n)
}

// UpdateNode implements storage.Tx.
func (t *Tx) UpdateNode(n *storage.Node) error {
	if n == nil {
		return storage.ErrInvalidData
	}
	if n.ID == "" {
		return storage.ErrInvalidID
	}
	if err := t.active(); err != nil {
		return err
	}
	labels, props, err := encodeNode(n)
	if err != nil {
		return fmt.Errorf("encode node %s: %w", n.ID, err)
	}
	res, err := t.exec(`UPDATE nodes SET labels = ?, properties = ?, updated_at = ? WHERE id = ?`,
		labels, props, time.Now().UnixNano(), string(n.ID))
	if err != nil {
		return fmt.Errorf("update node %s: %w", n.ID, err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return storage.ErrNotFound
	}
	return t.writeLabels(n)
}

// DeleteNode implements storage.Tx.
func (t *Tx) DeleteNode(id storage.NodeID) error {
	if err := t.active(); err != nil {
		return err
	}
	res, err := t.exec(`DELETE FROM nodes WHERE id = ?`, string(id))
	if err != nil {
		return fmt.Errorf("delete node %s: %w", id, err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return storage.ErrNotFound
	}
	if _, err := t.exec(`DELETE FROM edges WHERE start_node = ? OR end_node = ?`, string(id), string(id)); err != nil {
		return fmt.Errorf("delete edges of %s: %w", id, err)
	}
	if _, err := t.exec(`DELETE FROM node_labels WHERE node_id = ?`, string(id)); err != nil {
		return fmt.Errorf("delete labels of %s: %w", id, err)
	}
	return nil
}

// CreateEdge implements storage.Tx.
func (t *Tx) CreateEdge(e *storage.Edge) error {
	if e == nil {
		return storage.ErrInvalidData
	}
	if e.ID == "" || e.StartNode == "" || e.EndNode == "" || e.Type == "" {
		return storage.ErrInvalidID
	}
	if err := t.active(); err != nil {
		return err
	}
	var one int
	err := t.queryRow(`SELECT 1 FROM edges WHERE id = ?`, string(e.ID)).Scan(&one)
	if err == nil {
		return storage.ErrAlreadyExists
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("select edge %s: %w", e.ID, err)
	}
	for _, end := range []storage.NodeID{e.StartNode, e.EndNode} {
		ok, err := t.Exists(end)
		if err != nil {
			return err
		}
		if !ok {
			return storage.ErrInvalidEdge
		}
	}

	_, err = t.exec(`INSERT INTO edges (id, start_node, end_node, type, created_at) VALUES (?, ?, ?, ?, ?)`,
		string(e.ID), string(e.StartNode), string(e.EndNode), e.Type, time.Now().UnixNano())
	if isUniqueViolation(err) {
		return storage.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert edge %s: %w", e.ID, err)
	}
	return nil
}

// DeleteEdge implements storage.Tx.
func (t *Tx) DeleteEdge(id storage.EdgeID) error {
	if err := t.active(); err != nil {
		return err
	}
	res, err := t.exec(`DELETE FROM edges WHERE id = ?`, string(id))
	if err != nil {
		return fmt.Errorf("delete edge %s: %w", id, err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetOutgoingEdges implements storage.Tx.
func (t *Tx) GetOutgoingEdges(id storage.NodeID) ([]*storage.Edge, error) {
	if err := t.active(); err != nil {
		return nil, err
	}
	rows, err := t.query(`SELECT seq, id, end_node, type, created_at FROM edges WHERE start_node = ? ORDER BY seq`, string(id))
	if err != nil {
		return nil, fmt.Errorf("select edges of %s: %w", id, err)
	}
	defer func() { _ = rows.Close() }()

	var edges []*storage.Edge
	for rows.Next() {
		var (
			seq       int64
			edgeID    string
			end       string
			typ       string
			createdAt int64
		)
		if err := rows.Scan(&seq, &edgeID, &end, &typ, &createdAt); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		edges = append(edges, &storage.Edge{
			ID:        storage.EdgeID(edgeID),
			StartNode: id,
			EndNode:   storage.NodeID(end),
			Type:      typ,
			Seq:       uint64(seq),
			CreatedAt: time.Unix(0, createdAt),
		})
	}
	return edges, rows.Err()
}

// NodesByLabel implements storage.Tx.
func (t *Tx) NodesByLabel(label string) ([]storage.NodeID, error) {
	if err := t.active(); err != nil {
		return nil, err
	}
	rows, err := t.query(`SELECT node_id FROM node_labels WHERE label = ? ORDER BY node_id`, strings.ToLower(label))
	if err != nil {
		return nil, fmt.Errorf("select label %s: %w", label, err)
	}
	defer func() { _ = rows.Close() }()

	var ids []storage.NodeID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan node id: %w", err)
		}
		ids = append(ids, storage.NodeID(id))
	}
	return ids, rows.Err()
}

// Commit implements storage.Tx.
func (t *Tx) Commit() error {
	if err := t.active(); err != nil {
		return err
	}
	t.done = true
	if err := t.tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Rollback implements storage.Tx. Rolling back a finished transaction is a
// no-op.
func (t *Tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}
