package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vigil-mon/vigil/internal/model"
)

// InsertAlert persists one alert row and sets its id.
func (s *Store) InsertAlert(ctx context.Context, a *model.Alert) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	channels, err := json.Marshal(a.Channels)
	if err != nil {
		return fmt.Errorf("marshal alert channels: %w", err)
	}
	var targetID any
	if a.TargetID != 0 {
		targetID = a.TargetID
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts (owner_id, target_id, kind, title, body, priority,
			channels_json, sent, sent_at_ns, retries, max_retries, created_at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.OwnerID, targetID, string(a.Kind), a.Title, a.Body, a.Priority,
		string(channels), a.Sent, tsNS(a.SentAt), a.Retries, a.MaxRetries,
		tsNS(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	a.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("alert insert id: %w", err)
	}
	return nil
}

// MarkAlertSent records a successful delivery.
func (s *Store) MarkAlertSent(ctx context.Context, id int64, at time.Time, retries int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET sent = 1, sent_at_ns = ?, retries = ? WHERE id = ?`,
		at.UnixNano(), retries, id)
	if err != nil {
		return fmt.Errorf("mark alert %d sent: %w", id, err)
	}
	return nil
}

// MarkAlertUnsent records an exhausted or abandoned delivery attempt.
func (s *Store) MarkAlertUnsent(ctx context.Context, id int64, retries int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET sent = 0, retries = ? WHERE id = ?`, retries, id)
	if err != nil {
		return fmt.Errorf("mark alert %d unsent: %w", id, err)
	}
	return nil
}

// ListAlertsByOwner returns an owner's alerts, newest first.
func (s *Store) ListAlertsByOwner(ctx context.Context, ownerID int64, limit int) ([]*model.Alert, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, target_id, kind, title, body, priority,
			channels_json, sent, sent_at_ns, retries, max_retries, created_at_ns
		FROM alerts WHERE owner_id = ?
		ORDER BY created_at_ns DESC LIMIT ?`, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list alerts for owner %d: %w", ownerID, err)
	}
	defer rows.Close()
	var out []*model.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alerts: %w", err)
	}
	return out, nil
}

func scanAlert(rows *sql.Rows) (*model.Alert, error) {
	var (
		a                   model.Alert
		kind, channelsJSON  string
		targetID            sql.NullInt64
		sentAtNS, createdNS int64
	)
	if err := rows.Scan(&a.ID, &a.OwnerID, &targetID, &kind, &a.Title, &a.Body,
		&a.Priority, &channelsJSON, &a.Sent, &sentAtNS, &a.Retries,
		&a.MaxRetries, &createdNS); err != nil {
		return nil, fmt.Errorf("scan alert: %w", err)
	}
	a.Kind = model.AlertKind(kind)
	if targetID.Valid {
		a.TargetID = targetID.Int64
	}
	if err := json.Unmarshal([]byte(channelsJSON), &a.Channels); err != nil {
		return nil, fmt.Errorf("parse alert channels: %w", err)
	}
	a.SentAt = fromNS(sentAtNS)
	a.CreatedAt = fromNS(createdNS)
	return &a, nil
}

// CountAlerts reports persisted and delivered totals for diagnostics.
func (s *Store) CountAlerts(ctx context.Context) (total, sent int64, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(sent), 0) FROM alerts`).Scan(&total, &sent)
	if err != nil {
		return 0, 0, fmt.Errorf("count alerts: %w", err)
	}
	return total, sent, nil
}
