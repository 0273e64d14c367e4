package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vigil-mon/vigil/internal/model"
)

// InsertProbeLog appends a probe log row outside of a probe-cycle transaction.
// The recorder's normal path goes through RecordProbe; this entry point exists
// for synthetic engine-fault rows.
func (s *Store) InsertProbeLog(ctx context.Context, lg *model.ProbeLog) error {
	return s.tx(ctx, func(tx *sql.Tx) error {
		return insertProbeLog(ctx, tx, lg)
	})
}

func insertProbeLog(ctx context.Context, tx *sql.Tx, lg *model.ProbeLog) error {
	headers, err := marshalHeaders(lg.Headers)
	if err != nil {
		return err
	}
	var tlsVerified any
	if lg.TLSVerified != nil {
		tlsVerified = *lg.TLSVerified
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO probe_logs (target_id, checked_at_ns, success, status_code,
			response_time, response_size, error_kind, error_message, dns_time,
			connect_time, ip_address, country, tls_verified, tls_error,
			retry_count, headers_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		lg.TargetID, tsNS(lg.CheckedAt), lg.Success, lg.StatusCode,
		lg.ResponseTime, lg.ResponseSize, lg.ErrorKind, lg.ErrorMessage,
		lg.DNSTime, lg.ConnectTime, lg.IPAddress, lg.Country, tlsVerified,
		lg.TLSError, lg.RetryCount, headers)
	if err != nil {
		return fmt.Errorf("insert probe log for target %d: %w", lg.TargetID, err)
	}
	lg.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("probe log insert id: %w", err)
	}
	return nil
}

// ListProbeLogs returns the most recent probe logs for a target, newest first.
func (s *Store) ListProbeLogs(ctx context.Context, targetID int64, limit int) ([]*model.ProbeLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, target_id, checked_at_ns, success, status_code,
			response_time, response_size, error_kind, error_message, dns_time,
			connect_time, ip_address, country, tls_verified, tls_error,
			retry_count
		FROM probe_logs WHERE target_id = ?
		ORDER BY checked_at_ns DESC LIMIT ?`, targetID, limit)
	if err != nil {
		return nil, fmt.Errorf("list probe logs for target %d: %w", targetID, err)
	}
	defer rows.Close()
	var out []*model.ProbeLog
	for rows.Next() {
		var (
			lg          model.ProbeLog
			checkedNS   int64
			tlsVerified sql.NullBool
		)
		if err := rows.Scan(&lg.ID, &lg.TargetID, &checkedNS, &lg.Success,
			&lg.StatusCode, &lg.ResponseTime, &lg.ResponseSize, &lg.ErrorKind,
			&lg.ErrorMessage, &lg.DNSTime, &lg.ConnectTime, &lg.IPAddress,
			&lg.Country, &tlsVerified, &lg.TLSError, &lg.RetryCount); err != nil {
			return nil, fmt.Errorf("scan probe log: %w", err)
		}
		lg.CheckedAt = fromNS(checkedNS)
		if tlsVerified.Valid {
			v := tlsVerified.Bool
			lg.TLSVerified = &v
		}
		out = append(out, &lg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate probe logs: %w", err)
	}
	return out, nil
}

// DeleteOldProbeLogs removes probe log rows older than cutoff.
func (s *Store) DeleteOldProbeLogs(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM probe_logs WHERE checked_at_ns < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("delete old probe logs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete old probe logs: rows affected: %w", err)
	}
	return n, nil
}

// InsertActivityLog appends one user-activity row. Written by the chat
// surface; owned here so retention covers it.
func (s *Store) InsertActivityLog(ctx context.Context, lg *model.ActivityLog) error {
	if lg.CreatedAt.IsZero() {
		lg.CreatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO activity_logs (user_id, action, detail, created_at_ns)
		VALUES (?, ?, ?, ?)`,
		lg.UserID, lg.Action, lg.Detail, tsNS(lg.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert activity log: %w", err)
	}
	lg.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("activity log insert id: %w", err)
	}
	return nil
}

// DeleteOldActivityLogs removes activity rows older than cutoff.
func (s *Store) DeleteOldActivityLogs(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM activity_logs WHERE created_at_ns < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("delete old activity logs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete old activity logs: rows affected: %w", err)
	}
	return n, nil
}
