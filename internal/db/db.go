package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type DB struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*DB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{pool: pool}, nil
}

func (db *DB) Close() {
	db.pool.Close()
}

// RunMigrations creates the story tables.
func (db *DB) RunMigrations(ctx context.Context) error {
	_, err := db.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS stories (
			id TEXT PRIMARY KEY,
			max_lines INTEGER NOT NULL,
			remainder_policy TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS story_lines (
			story_id TEXT NOT NULL REFERENCES stories(id),
			idx INTEGER NOT NULL,
			text TEXT NOT NULL,
			author TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (story_id, idx)
		);
		CREATE TABLE IF NOT EXISTS story_donations (
			id BIGSERIAL PRIMARY KEY,
			story_id TEXT NOT NULL REFERENCES stories(id),
			donor TEXT NOT NULL,
			amount NUMERIC(78, 0) NOT NULL CHECK (amount > 0),
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_story_donations_story_id ON story_donations(story_id);
		CREATE TABLE IF NOT EXISTS story_settlements (
			story_id TEXT PRIMARY KEY REFERENCES stories(id),
			total NUMERIC(78, 0) NOT NULL,
			share NUMERIC(78, 0) NOT NULL,
			remainder NUMERIC(78, 0) NOT NULL,
			remainder_policy TEXT NOT NULL,
			settled_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS story_payouts (
			story_id TEXT NOT NULL REFERENCES story_settlements(story_id),
			position INTEGER NOT NULL,
			recipient TEXT NOT NULL,
			amount NUMERIC(78, 0) NOT NULL,
			PRIMARY KEY (story_id, position)
		);
	`)
	return err
}
