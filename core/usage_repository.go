package core

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrUsageSessionNotFound is returned when a ping references an unknown session.
var ErrUsageSessionNotFound = errors.New("usage session not found")

// UsageSession is one tracked period of activity: opened by a start call,
// kept alive by pings.
type UsageSession struct {
	ID         int64     `json:"id"`
	Subject    string    `json:"subject"`
	StartedAt  time.Time `json:"started_at"`
	LastPingAt time.Time `json:"last_ping_at"`
	PingCount  int64     `json:"ping_count"`
}

// UsageRepository defines persistence operations for usage sessions.
// Pings are keyed by subject rather than session id: heartbeat clients are
// fire-and-forget and carry no state between calls.
type UsageRepository interface {
	Start(ctx context.Context, subject string) (*UsageSession, error)
	Ping(ctx context.Context, subject string) (*UsageSession, error)
	List(ctx context.Context, page, perPage int) ([]UsageSession, int, error)
}

// PgUsageRepository implements UsageRepository using pgxpool.
type PgUsageRepository struct {
	db *pgxpool.Pool
}

func NewPgUsageRepository(db *pgxpool.Pool) *PgUsageRepository {
	return &PgUsageRepository{db: db}
}

func (r *PgUsageRepository) Start(ctx context.Context, subject string) (*UsageSession, error) {
	const q = `INSERT INTO usage_sessions (subject, started_at, last_ping_at, ping_count)
VALUES ($1, now(), now(), 0)
RETURNING id, subject, started_at, last_ping_at, ping_count`
	var s UsageSession
	if err := r.db.QueryRow(ctx, q, subject).Scan(&s.ID, &s.Subject, &s.StartedAt, &s.LastPingAt, &s.PingCount); err != nil {
		return nil, err
	}
	return &s, nil
}

// Ping touches the subject's most recent session.
func (r *PgUsageRepository) Ping(ctx context.Context, subject string) (*UsageSession, error) {
	const q = `UPDATE usage_sessions SET last_ping_at=now(), ping_count=ping_count+1
WHERE id = (SELECT id FROM usage_sessions WHERE subject=$1 ORDER BY id DESC LIMIT 1)
RETURNING id, subject, started_at, last_ping_at, ping_count`
	var s UsageSession
	if err := r.db.QueryRow(ctx, q, subject).Scan(&s.ID, &s.Subject, &s.StartedAt, &s.LastPingAt, &s.PingCount); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUsageSessionNotFound
		}
		return nil, err
	}
	return &s, nil
}

// List returns paginated sessions, newest first.
func (r *PgUsageRepository) List(ctx context.Context, page, perPage int) ([]UsageSession, int, error) {
	if page <= 0 || perPage <= 0 {
		return nil, 0, errors.New("invalid pagination")
	}
	const countQ = `SELECT COUNT(*) FROM usage_sessions`
	var total int
	if err := r.db.QueryRow(ctx, countQ).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.db.Query(ctx, `SELECT id, subject, started_at, last_ping_at, ping_count FROM usage_sessions ORDER BY id DESC LIMIT $1 OFFSET $2`, perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	items := make([]UsageSession, 0, perPage)
	for rows.Next() {
		var s UsageSession
		if err := rows.Scan(&s.ID, &s.Subject, &s.StartedAt, &s.LastPingAt, &s.PingCount); err != nil {
			return nil, 0, err
		}
		items = append(items, s)
	}
	return items, total, rows.Err()
}
