package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ispdesk/portal/internal/platform/db"
)

// Repository persists the session audit trail.
type Repository interface {
	OpenSession(ctx context.Context, rec SessionRecord) error
	CloseSession(ctx context.Context, id string, at time.Time) error
	PruneSessions(ctx context.Context, closedBefore, staleBefore time.Time) (int64, error)
	RecentSessions(ctx context.Context, userID int64, limit int) ([]SessionRecord, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const openSessionSQL = `
INSERT INTO portal_sessions (id, user_id, email, opened_at, ip, user_agent)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO NOTHING`

// OpenSession inserts a sign-in record. Replays of the same id are ignored.
func (r *PGRepository) OpenSession(ctx context.Context, rec SessionRecord) error {
	_, err := r.pool.Exec(ctx, openSessionSQL,
		rec.ID,
		rec.UserID,
		rec.Email,
		pgtype.Timestamptz{Time: rec.OpenedAt.UTC(), Valid: true},
		rec.IP,
		rec.UserAgent,
	)
	if err != nil {
		return fmt.Errorf("auth: open session: %w", err)
	}
	return nil
}

const closeSessionSQL = `
UPDATE portal_sessions SET closed_at = $2
WHERE id = $1 AND closed_at IS NULL`

// CloseSession stamps the sign-out time. Unknown or already closed ids are
// not an error.
func (r *PGRepository) CloseSession(ctx context.Context, id string, at time.Time) error {
	if _, err := r.pool.Exec(ctx, closeSessionSQL, id, pgtype.Timestamptz{Time: at.UTC(), Valid: true}); err != nil {
		return fmt.Errorf("auth: close session: %w", err)
	}
	return nil
}

// PruneSessions deletes closed rows older than closedBefore and open rows
// opened before staleBefore, in one transaction.
func (r *PGRepository) PruneSessions(ctx context.Context, closedBefore, staleBefore time.Time) (int64, error) {
	var removed int64
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM portal_sessions WHERE closed_at IS NOT NULL AND closed_at < $1`, closedBefore.UTC())
		if err != nil {
			return fmt.Errorf("auth: prune closed sessions: %w", err)
		}
		removed += tag.RowsAffected()
		tag, err = tx.Exec(ctx, `DELETE FROM portal_sessions WHERE closed_at IS NULL AND opened_at < $1`, staleBefore.UTC())
		if err != nil {
			return fmt.Errorf("auth: prune stale sessions: %w", err)
		}
		removed += tag.RowsAffected()
		return nil
	})
	return removed, err
}

const recentSessionsSQL = `
SELECT id, user_id, email, opened_at, closed_at, ip, user_agent
FROM portal_sessions
WHERE user_id = $1
ORDER BY opened_at DESC
LIMIT $2`

// RecentSessions lists the latest sign-ins of a user.
func (r *PGRepository) RecentSessions(ctx context.Context, userID int64, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.pool.Query(ctx, recentSessionsSQL, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("auth: recent sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var (
			rec      SessionRecord
			openedAt pgtype.Timestamptz
			closedAt pgtype.Timestamptz
			ip, ua   pgtype.Text
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Email, &openedAt, &closedAt, &ip, &ua); err != nil {
			return nil, fmt.Errorf("auth: scan session: %w", err)
		}
		rec.OpenedAt = openedAt.Time
		if closedAt.Valid {
			t := closedAt.Time
			rec.ClosedAt = &t
		}
		rec.IP = ip.String
		rec.UserAgent = ua.String
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("auth: recent sessions: %w", err)
	}
	return out, nil
}

var _ Repository = (*PGRepository)(nil)
