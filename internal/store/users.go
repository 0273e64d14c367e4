package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vigil-mon/vigil/internal/model"
)

// ErrUserNotFound is returned when a user lookup matches no row.
var ErrUserNotFound = errors.New("user not found")

// UpsertUser creates or refreshes a user keyed by the external account id.
func (s *Store) UpsertUser(ctx context.Context, u *model.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	if u.Status == "" {
		u.Status = model.UserActive
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, chat_id, username, role, status, max_targets,
			min_interval_sec, last_activity_ns, created_at_ns, deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			chat_id = excluded.chat_id,
			username = excluded.username,
			role = excluded.role,
			status = excluded.status,
			max_targets = excluded.max_targets,
			min_interval_sec = excluded.min_interval_sec,
			last_activity_ns = excluded.last_activity_ns,
			deleted = excluded.deleted`,
		u.ID, u.ChatID, u.Username, u.Role, string(u.Status), u.MaxTargets,
		u.MinIntervalSec, tsNS(u.LastActivity), tsNS(u.CreatedAt), u.Deleted)
	if err != nil {
		return fmt.Errorf("upsert user %d: %w", u.ID, err)
	}
	return nil
}

// GetUser fetches one user by external account id.
func (s *Store) GetUser(ctx context.Context, id int64) (*model.User, error) {
	var (
		u                         model.User
		status                    string
		lastActivityNS, createdNS int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, chat_id, username, role, status, max_targets,
			min_interval_sec, last_activity_ns, created_at_ns, deleted
		FROM users WHERE id = ?`, id).Scan(
		&u.ID, &u.ChatID, &u.Username, &u.Role, &status, &u.MaxTargets,
		&u.MinIntervalSec, &lastActivityNS, &createdNS, &u.Deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}
	u.Status = model.UserStatus(status)
	u.LastActivity = fromNS(lastActivityNS)
	u.CreatedAt = fromNS(createdNS)
	return &u, nil
}

// ChatIDFor resolves the external account id to its delivery route.
func (s *Store) ChatIDFor(ctx context.Context, ownerID int64) (string, error) {
	var chatID string
	err := s.db.QueryRowContext(ctx,
		`SELECT chat_id FROM users WHERE id = ? AND deleted = 0`, ownerID).Scan(&chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrUserNotFound
	}
	if err != nil {
		return "", fmt.Errorf("resolve chat id for user %d: %w", ownerID, err)
	}
	return chatID, nil
}

// TouchActivity bumps the user's last-activity timestamp.
func (s *Store) TouchActivity(ctx context.Context, userID int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET last_activity_ns = ? WHERE id = ?`, at.UnixNano(), userID)
	if err != nil {
		return fmt.Errorf("touch activity for user %d: %w", userID, err)
	}
	return nil
}

// MarkInactiveUsers flips active users with no activity since cutoff to
// inactive. Users who never recorded any activity age out by their creation
// time. Returns the number of rows changed.
func (s *Store) MarkInactiveUsers(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET status = ?
		WHERE status = ? AND deleted = 0
		  AND COALESCE(NULLIF(last_activity_ns, 0), created_at_ns) < ?`,
		string(model.UserInactive), string(model.UserActive), cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("mark inactive users: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark inactive users: rows affected: %w", err)
	}
	return n, nil
}

// UserCounts is the user slice of the daily stats aggregation.
type UserCounts struct {
	Total  int64
	Active int64
}

// AggregateUsers counts live and active users.
func (s *Store) AggregateUsers(ctx context.Context) (*UserCounts, error) {
	var c UserCounts
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(status = 'active'), 0)
		FROM users WHERE deleted = 0`).Scan(&c.Total, &c.Active)
	if err != nil {
		return nil, fmt.Errorf("aggregate users: %w", err)
	}
	return &c, nil
}
