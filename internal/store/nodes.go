package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/resgraph/internal/graph"
)

var _ graph.Persistence = (*Store)(nil)

// LoadNodes returns every stored node in path order.
func (s *Store) LoadNodes() ([]graph.NodeRecord, error) {
	return s.ReadNodes(context.Background())
}

// ReadNodes returns every stored node in path order.
func (s *Store) ReadNodes(ctx context.Context) ([]graph.NodeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT path, type, active, reference, value, seq
		FROM nodes
		ORDER BY path ASC COLLATE BINARY
	`)
	if err != nil {
		return nil, fmt.Errorf("read nodes: %w", err)
	}
	defer rows.Close()

	var out []graph.NodeRecord
	for rows.Next() {
		rec, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("read nodes: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read nodes: %w", err)
	}
	return out, nil
}

// ReadNode returns one stored node. ok is false when none is stored at
// path.
func (s *Store) ReadNode(ctx context.Context, path string) (rec graph.NodeRecord, ok bool, err error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT path, type, active, reference, value, seq
		FROM nodes
		WHERE path = ?
	`, path)
	rec, err = scanNode(row)
	if err == sql.ErrNoRows {
		return graph.NodeRecord{}, false, nil
	}
	if err != nil {
		return graph.NodeRecord{}, false, fmt.Errorf("read node %s: %w", path, err)
	}
	return rec, true, nil
}

// LastSeq returns the highest stored sequence number, 0 when empty.
func (s *Store) LastSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM nodes`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return seq.Int64, nil
}

// Apply writes one commit's changes in a single transaction.
func (s *Store) Apply(changes graph.Changes) error {
	if changes.Empty() {
		return nil
	}
	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("apply: begin: %w", err)
	}
	defer tx.Rollback()

	for _, path := range changes.Deletes {
		if err := deleteNode(ctx, tx, path); err != nil {
			return fmt.Errorf("apply: %w", err)
		}
	}
	for _, rec := range changes.Saves {
		if err := saveNode(ctx, tx, rec); err != nil {
			return fmt.Errorf("apply: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("apply: commit: %w", err)
	}
	return nil
}

// SaveNode inserts or replaces one node.
func (s *Store) SaveNode(ctx context.Context, rec graph.NodeRecord) error {
	return saveNode(ctx, s.db, rec)
}

// DeleteNode removes one node. Deleting a missing node is not an error.
func (s *Store) DeleteNode(ctx context.Context, path string) error {
	return deleteNode(ctx, s.db, path)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type scanner interface {
	Scan(dest ...any) error
}

func saveNode(ctx context.Context, db execer, rec graph.NodeRecord) error {
	value, err := marshalValue(rec.Value)
	if err != nil {
		return fmt.Errorf("save node %s: %w", rec.Path, err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO nodes (path, type, active, reference, value, seq)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			type = excluded.type,
			active = excluded.active,
			reference = excluded.reference,
			value = excluded.value,
			seq = excluded.seq
	`,
		rec.Path,
		rec.Type,
		rec.Active,
		rec.Reference,
		value,
		rec.Seq,
	)
	if err != nil {
		return fmt.Errorf("save node %s: %w", rec.Path, err)
	}
	return nil
}

func deleteNode(ctx context.Context, db execer, path string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM nodes WHERE path = ?`, path); err != nil {
		return fmt.Errorf("delete node %s: %w", path, err)
	}
	return nil
}

func scanNode(row scanner) (graph.NodeRecord, error) {
	var (
		rec   graph.NodeRecord
		value string
	)
	if err := row.Scan(&rec.Path, &rec.Type, &rec.Active, &rec.Reference, &value, &rec.Seq); err != nil {
		return graph.NodeRecord{}, err
	}
	v, err := unmarshalValue(value)
	if err != nil {
		return graph.NodeRecord{}, fmt.Errorf("node %s: %w", rec.Path, err)
	}
	rec.Value = v
	return rec, nil
}
