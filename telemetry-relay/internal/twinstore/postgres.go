package twinstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"twin-relay/pkg/twin"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("twinstore: ping postgres: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) EnsureTwin(ctx context.Context, twinID string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO twins (id)
		VALUES ($1)
		ON CONFLICT (id) DO NOTHING
	`, twinID)
	return err
}

// UpdateTwin applies every operation of patch to the twin's properties in one transaction.
func (p *PostgresStore) UpdateTwin(ctx context.Context, twinID string, patch twin.Patch) error {
	if err := patch.Validate(); err != nil {
		return err
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var version int64
	err = tx.QueryRowContext(ctx, `SELECT version FROM twins WHERE id = $1 FOR UPDATE`, twinID).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrTwinNotFound, twinID)
	}
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		UPDATE twins
		SET properties = jsonb_set(properties, $2::text[], $3::jsonb, true)
		WHERE id = $1
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, op := range patch {
		path, value, err := opArgs(op)
		if err != nil {
			return fmt.Errorf("operation %d: %w", i, err)
		}
		if _, err := stmt.ExecContext(ctx, twinID, pq.Array(path), value); err != nil {
			return fmt.Errorf("operation %d (%s): %w", i, op.Path, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE twins
		SET version = $2, updated_at = now()
		WHERE id = $1
	`, twinID, version+1); err != nil {
		return err
	}

	return tx.Commit()
}

// opArgs returns the jsonb_set path array and JSON encoded value for op.
func opArgs(op twin.Operation) ([]string, string, error) {
	path, err := twin.SplitPath(op.Path)
	if err != nil {
		return nil, "", err
	}
	value, err := json.Marshal(op.Value)
	if err != nil {
		return nil, "", fmt.Errorf("encode value for %s: %w", op.Path, err)
	}
	return path, string(value), nil
}

func (p *PostgresStore) Close() error {
	return p.db.Close()
}
