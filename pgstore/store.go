// Package pgstore keeps serialized tracker memories in PostgreSQL.
package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lib-x/facetrack"
)

// DefaultTable holds the memories unless another table is named.
const DefaultTable = "tracker_memory"

// Store implements facetrack.MemoryStore on a pgx connection pool.
type Store struct {
	pool  *pgxpool.Pool
	table string // sanitized identifier
}

// New connects to the database and creates the table if needed.
func New(ctx context.Context, connString, table string) (*Store, error) {
	if table == "" {
		table = DefaultTable
	}
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}

	s := &Store{pool: pool, table: pgx.Identifier{table}.Sanitize()}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+s.table+` (
			name TEXT PRIMARY KEY,
			data BYTEA NOT NULL,
			saved_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	return err
}

// Save implements facetrack.MemoryStore.
func (s *Store) Save(ctx context.Context, name string, data []byte) error {
	if err := facetrack.ValidateName("Save", name); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO `+s.table+` (name, data, saved_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO UPDATE SET data = EXCLUDED.data, saved_at = NOW()
	`, name, data)
	if err != nil {
		return fmt.Errorf("save %s: %w", name, err)
	}
	return nil
}

// Load implements facetrack.MemoryStore.
func (s *Store) Load(ctx context.Context, name string) ([]byte, error) {
	if err := facetrack.ValidateName("Load", name); err != nil {
		return nil, err
	}
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM `+s.table+` WHERE name = $1`, name).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, facetrack.NotFoundError("Load", name)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", name, err)
	}
	return data, nil
}

// Delete implements facetrack.MemoryStore.
func (s *Store) Delete(ctx context.Context, name string) error {
	if err := facetrack.ValidateName("Delete", name); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+s.table+` WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("delete %s: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return facetrack.NotFoundError("Delete", name)
	}
	return nil
}

// List implements facetrack.MemoryStore.
func (s *Store) List(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT name FROM `+s.table+` ORDER BY name`)
	if err != nil {
		return nil, err
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

// Close implements facetrack.MemoryStore.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
