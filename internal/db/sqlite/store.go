// Package sqlite provides a SQLite-backed story store for single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/susu3304/monkibaat/internal/story"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

var _ story.Store = (*Store)(nil)

// Store persists stories in SQLite.
type Store struct {
	sqlDB *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS stories (
	id TEXT PRIMARY KEY,
	max_lines INTEGER NOT NULL,
	remainder_policy TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS story_lines (
	story_id TEXT NOT NULL REFERENCES stories(id),
	idx INTEGER NOT NULL,
	text TEXT NOT NULL,
	author TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (story_id, idx)
);
CREATE TABLE IF NOT EXISTS story_donations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	story_id TEXT NOT NULL REFERENCES stories(id),
	donor TEXT NOT NULL,
	amount TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_story_donations_story_id ON story_donations(story_id);
CREATE TABLE IF NOT EXISTS story_settlements (
	story_id TEXT PRIMARY KEY REFERENCES stories(id),
	total TEXT NOT NULL,
	share TEXT NOT NULL,
	remainder TEXT NOT NULL,
	remainder_policy TEXT NOT NULL,
	settled_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS story_payouts (
	story_id TEXT NOT NULL REFERENCES story_settlements(story_id),
	position INTEGER NOT NULL,
	recipient TEXT NOT NULL,
	amount TEXT NOT NULL,
	PRIMARY KEY (story_id, position)
);
`

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens the database at path and creates the schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func isConstraintViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return false
}

func (s *Store) CreateStory(ctx context.Context, info story.Info) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO stories (id, max_lines, remainder_policy, created_at) VALUES (?, ?, ?, ?)`,
		info.ID, info.MaxLines, string(info.Remainder), toMillis(info.CreatedAt),
	)
	return err
}

func (s *Store) SaveLine(ctx context.Context, storyID string, line story.Line) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO story_lines (story_id, idx, text, author, created_at) VALUES (?, ?, ?, ?, ?)`,
		storyID, line.Index, line.Text, string(line.Author), toMillis(line.CreatedAt),
	)
	if isConstraintViolation(err) {
		return story.ErrIndexCollision
	}
	return err
}

func (s *Store) SaveDonation(ctx context.Context, storyID string, d story.Donation) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO story_donations (story_id, donor, amount, created_at) VALUES (?, ?, ?, ?)`,
		storyID, string(d.From), d.Amount.WeiString(), toMillis(d.CreatedAt),
	)
	return err
}

func (s *Store) SaveSettlement(ctx context.Context, storyID string, st story.Settlement) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO story_settlements (story_id, total, share, remainder, remainder_policy, settled_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		storyID, st.Total.WeiString(), st.Share.WeiString(), st.Remainder.WeiString(), string(st.Policy), toMillis(st.SettledAt),
	); err != nil {
		if isConstraintViolation(err) {
			return story.ErrAlreadyDistributed
		}
		return err
	}
	for i, p := range st.Payouts {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO story_payouts (story_id, position, recipient, amount) VALUES (?, ?, ?, ?)`,
			storyID, i, string(p.Recipient), p.Amount.WeiString(),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) LoadStories(ctx context.Context) ([]story.Record, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, max_lines, remainder_policy, created_at FROM stories ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	var records []story.Record
	for rows.Next() {
		var rec story.Record
		var policy string
		var createdAt int64
		if err := rows.Scan(&rec.ID, &rec.MaxLines, &policy, &createdAt); err != nil {
			rows.Close()
			return nil, err
		}
		rec.Remainder = story.RemainderPolicy(policy)
		rec.CreatedAt = fromMillis(createdAt)
		records = append(records, rec)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range records {
		rec := &records[i]
		if rec.Lines, err = s.lines(ctx, rec.ID); err != nil {
			return nil, fmt.Errorf("load lines of %s: %w", rec.ID, err)
		}
		if rec.Donations, err = s.donations(ctx, rec.ID); err != nil {
			return nil, fmt.Errorf("load donations of %s: %w", rec.ID, err)
		}
		if rec.Settlement, err = s.LoadSettlement(ctx, rec.ID); err != nil {
			return nil, fmt.Errorf("load settlement of %s: %w", rec.ID, err)
		}
	}
	return records, nil
}

func (s *Store) lines(ctx context.Context, storyID string) ([]story.Line, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT idx, text, author, created_at FROM story_lines WHERE story_id = ? ORDER BY idx`, storyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []story.Line
	for rows.Next() {
		var l story.Line
		var author string
		var createdAt int64
		if err := rows.Scan(&l.Index, &l.Text, &author, &createdAt); err != nil {
			return nil, err
		}
		l.Author = story.Address(author)
		l.CreatedAt = fromMillis(createdAt)
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) donations(ctx context.Context, storyID string) ([]story.Donation, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT donor, amount, created_at FROM story_donations WHERE story_id = ? ORDER BY id`, storyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []story.Donation
	for rows.Next() {
		var d story.Donation
		var donor, amount string
		var createdAt int64
		if err := rows.Scan(&donor, &amount, &createdAt); err != nil {
			return nil, err
		}
		if d.Amount, err = story.AmountFromWei(amount); err != nil {
			return nil, err
		}
		d.From = story.Address(donor)
		d.CreatedAt = fromMillis(createdAt)
		out = append(out, d)
	}
	return out, rows.Err()
}

// LoadSettlement reads the persisted settlement, or nil if there is none.
func (s *Store) LoadSettlement(ctx context.Context, storyID string) (*story.Settlement, error) {
	var st story.Settlement
	var total, share, remainder, policy string
	var settledAt int64
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT total, share, remainder, remainder_policy, settled_at FROM story_settlements WHERE story_id = ?`,
		storyID,
	).Scan(&total, &share, &remainder, &policy, &settledAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if st.Total, err = story.AmountFromWei(total); err != nil {
		return nil, err
	}
	if st.Share, err = story.AmountFromWei(share); err != nil {
		return nil, err
	}
	if st.Remainder, err = story.AmountFromWei(remainder); err != nil {
		return nil, err
	}
	st.Policy = story.RemainderPolicy(policy)
	st.SettledAt = fromMillis(settledAt)

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT recipient, amount FROM story_payouts WHERE story_id = ? ORDER BY position`, storyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var recipient, amount string
		if err := rows.Scan(&recipient, &amount); err != nil {
			return nil, err
		}
		a, err := story.AmountFromWei(amount)
		if err != nil {
			return nil, err
		}
		st.Payouts = append(st.Payouts, story.Payout{Recipient: story.Address(recipient), Amount: a})
	}
	return &st, rows.Err()
}
