package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/susu3304/monkibaat/internal/story"
)

var _ story.Store = (*DB)(nil)

const uniqueViolation = "23505"

func numeric(a story.Amount) pgtype.Numeric {
	return pgtype.Numeric{Int: a.Wei(), Valid: true}
}

func (db *DB) CreateStory(ctx context.Context, info story.Info) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO stories (id, max_lines, remainder_policy, created_at) VALUES ($1, $2, $3, $4)`,
		info.ID, info.MaxLines, string(info.Remainder), info.CreatedAt,
	)
	return err
}

// SaveLine inserts a line. The (story_id, idx) key rejects a second line at the same index.
func (db *DB) SaveLine(ctx context.Context, storyID string, line story.Line) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO story_lines (story_id, idx, text, author, created_at) VALUES ($1, $2, $3, $4, $5)`,
		storyID, line.Index, line.Text, string(line.Author), line.CreatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return story.ErrIndexCollision
	}
	return err
}

func (db *DB) SaveDonation(ctx context.Context, storyID string, d story.Donation) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO story_donations (story_id, donor, amount, created_at) VALUES ($1, $2, $3, $4)`,
		storyID, string(d.From), numeric(d.Amount), d.CreatedAt,
	)
	return err
}

// SaveSettlement writes the settlement and its payouts atomically.
func (db *DB) SaveSettlement(ctx context.Context, storyID string, s story.Settlement) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`INSERT INTO story_settlements (story_id, total, share, remainder, remainder_policy, settled_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		storyID, numeric(s.Total), numeric(s.Share), numeric(s.Remainder), string(s.Policy), s.SettledAt,
	); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return story.ErrAlreadyDistributed
		}
		return err
	}
	for i, p := range s.Payouts {
		if _, err := tx.Exec(ctx,
			`INSERT INTO story_payouts (story_id, position, recipient, amount) VALUES ($1, $2, $3, $4)`,
			storyID, i, string(p.Recipient), numeric(p.Amount),
		); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// LoadStories reads every story with its lines, donations and settlement.
func (db *DB) LoadStories(ctx context.Context) ([]story.Record, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, max_lines, remainder_policy, created_at FROM stories ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (story.Record, error) {
		var rec story.Record
		var policy string
		err := row.Scan(&rec.ID, &rec.MaxLines, &policy, &rec.CreatedAt)
		rec.Remainder = story.RemainderPolicy(policy)
		return rec, err
	})
	if err != nil {
		return nil, err
	}

	for i := range records {
		rec := &records[i]
		if rec.Lines, err = db.lines(ctx, rec.ID); err != nil {
			return nil, fmt.Errorf("load lines of %s: %w", rec.ID, err)
		}
		if rec.Donations, err = db.donations(ctx, rec.ID); err != nil {
			return nil, fmt.Errorf("load donations of %s: %w", rec.ID, err)
		}
		if rec.Settlement, err = db.LoadSettlement(ctx, rec.ID); err != nil {
			return nil, fmt.Errorf("load settlement of %s: %w", rec.ID, err)
		}
	}
	return records, nil
}

func (db *DB) lines(ctx context.Context, storyID string) ([]story.Line, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT idx, text, author, created_at FROM story_lines WHERE story_id = $1 ORDER BY idx`, storyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []story.Line
	for rows.Next() {
		var l story.Line
		var author string
		if err := rows.Scan(&l.Index, &l.Text, &author, &l.CreatedAt); err != nil {
			return nil, err
		}
		l.Author = story.Address(author)
		out = append(out, l)
	}
	return out, rows.Err()
}

func (db *DB) donations(ctx context.Context, storyID string) ([]story.Donation, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT donor, amount::text, created_at FROM story_donations WHERE story_id = $1 ORDER BY id`, storyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []story.Donation
	for rows.Next() {
		var d story.Donation
		var donor, amount string
		if err := rows.Scan(&donor, &amount, &d.CreatedAt); err != nil {
			return nil, err
		}
		if d.Amount, err = story.AmountFromWei(amount); err != nil {
			return nil, err
		}
		d.From = story.Address(donor)
		out = append(out, d)
	}
	return out, rows.Err()
}

// LoadSettlement reads the persisted settlement, or nil if there is none.
func (db *DB) LoadSettlement(ctx context.Context, storyID string) (*story.Settlement, error) {
	var s story.Settlement
	var total, share, remainder, policy string
	var settledAt time.Time
	err := db.pool.QueryRow(ctx,
		`SELECT total::text, share::text, remainder::text, remainder_policy, settled_at
		 FROM story_settlements WHERE story_id = $1`, storyID,
	).Scan(&total, &share, &remainder, &policy, &settledAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if s.Total, err = story.AmountFromWei(total); err != nil {
		return nil, err
	}
	if s.Share, err = story.AmountFromWei(share); err != nil {
		return nil, err
	}
	if s.Remainder, err = story.AmountFromWei(remainder); err != nil {
		return nil, err
	}
	s.Policy = story.RemainderPolicy(policy)
	s.SettledAt = settledAt

	rows, err := db.pool.Query(ctx,
		`SELECT recipient, amount::text FROM story_payouts WHERE story_id = $1 ORDER BY position`, storyID)
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
		s.Payouts = append(s.Payouts, story.Payout{Recipient: story.Address(recipient), Amount: a})
	}
	return &s, rows.Err()
}
