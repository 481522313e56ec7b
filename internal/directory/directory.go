package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pingup-app/eventd/internal/model"
	"github.com/pingup-app/eventd/internal/workflow"
)

// DB is the subset of pgxpool.Pool the service uses.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row
}

// Service is the Postgres-backed view of the social records workflow steps
// read and write. It implements workflow.Directory.
type Service struct {
	db DB
}

func NewService(db DB) *Service {
	return &Service{db: db}
}

func (s *Service) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	err := s.db.QueryRow(ctx,
		`SELECT id, email, full_name, username, profile_picture, created_at, updated_at
		 FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Email, &u.FullName, &u.Username, &u.ProfilePicture, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, workflow.Permanent(fmt.Errorf("user %s not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	return &u, nil
}

func (s *Service) UsernameTaken(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE username = $1)`, username,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check username %s: %w", username, err)
	}
	return exists, nil
}

func (s *Service) UpsertUser(ctx context.Context, u *model.User) error {
	now := time.Now()
	_, err := s.db.Exec(ctx,
		`INSERT INTO users (id, email, full_name, username, profile_picture, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $6)
		 ON CONFLICT (id) DO UPDATE SET
		   email = EXCLUDED.email,
		   full_name = EXCLUDED.full_name,
		   profile_picture = EXCLUDED.profile_picture,
		   updated_at = EXCLUDED.updated_at`,
		u.ID, u.Email, u.FullName, u.Username, u.ProfilePicture, now,
	)
	if err != nil {
		return fmt.Errorf("upsert user %s: %w", u.ID, err)
	}
	return nil
}

func (s *Service) UpdateUser(ctx context.Context, u *model.User) error {
	_, err := s.db.Exec(ctx,
		`UPDATE users SET email = $2, full_name = $3, profile_picture = $4, updated_at = $5
		 WHERE id = $1`,
		u.ID, u.Email, u.FullName, u.ProfilePicture, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("update user %s: %w", u.ID, err)
	}
	return nil
}

func (s *Service) DeleteUser(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user %s: %w", id, err)
	}
	return nil
}

func (s *Service) GetConnection(ctx context.Context, id string) (*model.Connection, error) {
	var c model.Connection
	err := s.db.QueryRow(ctx,
		`SELECT id, from_user_id, to_user_id, status, created_at
		 FROM connections WHERE id = $1`, id,
	).Scan(&c.ID, &c.FromUserID, &c.ToUserID, &c.Status, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, workflow.Permanent(fmt.Errorf("connection %s not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("get connection %s: %w", id, err)
	}
	return &c, nil
}

// DeleteStory removes the story row. Deleting an already-deleted story is
// a no-op so the expiry step stays idempotent.
func (s *Service) DeleteStory(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM stories WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete story %s: %w", id, err)
	}
	return nil
}

func (s *Service) UnseenMessageCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.Query(ctx,
		`SELECT to_user_id, COUNT(*) FROM messages WHERE seen = false GROUP BY to_user_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("count unseen messages: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var userID string
		var count int
		if err := rows.Scan(&userID, &count); err != nil {
			return nil, fmt.Errorf("scan unseen count: %w", err)
		}
		counts[userID] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unseen counts: %w", err)
	}
	return counts, nil
}
