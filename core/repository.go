package core

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// OperatorRecord represents a minimal projection stored in persistence layer.
type OperatorRecord struct {
	ID           int64
	Username     string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}

// OperatorListItem is a projection for operator listing (no password hash).
type OperatorListItem struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// OperatorRepository defines persistence operations for console operators.
type OperatorRepository interface {
	FindByUsername(ctx context.Context, username string) (*OperatorRecord, error)
	Create(ctx context.Context, username, passwordHash, role string) (int64, error)
	HasAdmin(ctx context.Context) (bool, error)
	List(ctx context.Context, page, perPage int) ([]OperatorListItem, int, error)
}

// PgOperatorRepository implements OperatorRepository using pgxpool.
type PgOperatorRepository struct {
	db *pgxpool.Pool
}

func NewPgOperatorRepository(db *pgxpool.Pool) *PgOperatorRepository {
	return &PgOperatorRepository{db: db}
}

func (r *PgOperatorRepository) FindByUsername(ctx context.Context, username string) (*OperatorRecord, error) {
	const q = `SELECT id, username, password_hash, role, created_at FROM operators WHERE username=$1`
	var u OperatorRecord
	if err := r.db.QueryRow(ctx, q, username).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *PgOperatorRepository) Create(ctx context.Context, username, passwordHash, role string) (int64, error) {
	const q = `INSERT INTO operators (username, password_hash, role) VALUES ($1,$2,$3) RETURNING id`
	var id int64
	if err := r.db.QueryRow(ctx, q, username, passwordHash, role).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (r *PgOperatorRepository) HasAdmin(ctx context.Context) (bool, error) {
	const q = `SELECT 1 FROM operators WHERE role='admin' LIMIT 1`
	var one int
	if err := r.db.QueryRow(ctx, q).Scan(&one); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// List returns paginated operators without password hash.
func (r *PgOperatorRepository) List(ctx context.Context, page, perPage int) ([]OperatorListItem, int, error) {
	if page <= 0 || perPage <= 0 {
		return nil, 0, errors.New("invalid pagination")
	}
	const countQ = `SELECT COUNT(*) FROM operators`
	var total int
	if err := r.db.QueryRow(ctx, countQ).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.db.Query(ctx, `SELECT id, username, role, created_at FROM operators ORDER BY id LIMIT $1 OFFSET $2`, perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	items := make([]OperatorListItem, 0, perPage)
	for rows.Next() {
		var u OperatorListItem
		if err := rows.Scan(&u.ID, &u.Username, &u.Role, &u.CreatedAt); err != nil {
			return nil, 0, err
		}
		items = append(items, u)
	}
	return items, total, rows.Err()
}
