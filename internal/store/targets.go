package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vigil-mon/vigil/internal/model"
)

// ErrTargetNotFound is returned when a target lookup matches no row.
var ErrTargetNotFound = errors.New("target not found")

const targetColumns = `id, uuid, owner_id, name, url, kind, http_method,
	interval_sec, timeout_sec, retry_count, retry_delay_sec,
	expected_codes_json, expected_content, headers_json, request_body,
	slow_threshold_sec, alert_on_down, alert_on_recovery, alert_on_slow,
	is_active, is_up, deleted, last_probe_at_ns, next_due_at_ns,
	last_status, last_resp_time, total_probes, successful_probes,
	failed_probes, uptime_percent, min_resp_time, avg_resp_time,
	max_resp_time, total_downtime_sec, downtime_events, downtime_start_ns,
	tls_expiry_ns, tls_issuer, tls_days_remaining, created_at_ns`

// CreateTarget inserts a new target and sets its surrogate id.
func (s *Store) CreateTarget(ctx context.Context, t *model.Target) error {
	if t.UUID == uuid.Nil {
		t.UUID = uuid.New()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	// TLS state is unknown until the first probe. New targets start up, so
	// downtime accounting begins at the first failed probe.
	t.TLSDaysRemaining = -1
	t.IsUp = true
	codes, err := json.Marshal(t.ExpectedCodes)
	if err != nil {
		return fmt.Errorf("marshal expected codes: %w", err)
	}
	headers, err := marshalHeaders(t.Headers)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO targets (uuid, owner_id, name, url, kind, http_method,
			interval_sec, timeout_sec, retry_count, retry_delay_sec,
			expected_codes_json, expected_content, headers_json, request_body,
			slow_threshold_sec, alert_on_down, alert_on_recovery, alert_on_slow,
			is_active, is_up, deleted, next_due_at_ns, tls_days_remaining, created_at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.UUID.String(), t.OwnerID, t.Name, t.URL, string(t.Kind), t.HTTPMethod,
		t.IntervalSec, t.TimeoutSec, t.RetryCount, t.RetryDelaySec,
		string(codes), t.ExpectedContent, headers, t.RequestBody,
		t.SlowThresholdSec, t.AlertOnDown, t.AlertOnRecovery, t.AlertOnSlow,
		t.IsActive, t.IsUp, t.Deleted, tsNS(t.NextDueAt), t.TLSDaysRemaining, tsNS(t.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert target: %w", err)
	}
	t.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("target insert id: %w", err)
	}
	return nil
}

// GetTarget fetches one target by surrogate id.
func (s *Store) GetTarget(ctx context.Context, id int64) (*model.Target, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+targetColumns+` FROM targets WHERE id = ?`, id)
	t, err := scanTarget(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTargetNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get target %d: %w", id, err)
	}
	return t, nil
}

// CountActiveTargetsByOwner counts live targets for quota checks.
func (s *Store) CountActiveTargetsByOwner(ctx context.Context, ownerID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM targets WHERE owner_id = ? AND deleted = 0`, ownerID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count targets for owner %d: %w", ownerID, err)
	}
	return n, nil
}

// ClaimDue atomically selects up to limit due targets and provisionally
// advances their next_due_at so an overlapping sweep cannot claim the same
// rows. The recorder overwrites next_due_at with the authoritative value
// after the probe completes. Targets registered without an interval run on
// defInterval; the stored interval_sec is left as registered.
func (s *Store) ClaimDue(ctx context.Context, now time.Time, limit int, defInterval time.Duration) ([]*model.Target, error) {
	var claimed []*model.Target
	err := s.tx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT `+targetColumns+` FROM targets
			 WHERE is_active = 1 AND deleted = 0 AND next_due_at_ns <= ?
			 ORDER BY next_due_at_ns ASC
			 LIMIT ?`, now.UnixNano(), limit)
		if err != nil {
			return fmt.Errorf("select due targets: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			t, err := scanTarget(rows)
			if err != nil {
				return fmt.Errorf("scan due target: %w", err)
			}
			if t.IntervalSec <= 0 && defInterval > 0 {
				t.IntervalSec = int(defInterval / time.Second)
			}
			claimed = append(claimed, t)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate due targets: %w", err)
		}
		for _, t := range claimed {
			if _, err := tx.ExecContext(ctx,
				`UPDATE targets SET next_due_at_ns = ? WHERE id = ?`,
				now.Add(t.Interval()).UnixNano(), t.ID); err != nil {
				return fmt.Errorf("claim target %d: %w", t.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// RecordProbe persists one probe cycle: the probe log row and the target's
// mutated state, in a single transaction so readers never observe a partial
// update.
func (s *Store) RecordProbe(ctx context.Context, t *model.Target, lg *model.ProbeLog) error {
	return s.tx(ctx, func(tx *sql.Tx) error {
		if err := insertProbeLog(ctx, tx, lg); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE targets SET
				is_up = ?, last_probe_at_ns = ?, next_due_at_ns = ?,
				last_status = ?, last_resp_time = ?,
				total_probes = ?, successful_probes = ?, failed_probes = ?,
				uptime_percent = ?, min_resp_time = ?, avg_resp_time = ?,
				max_resp_time = ?, total_downtime_sec = ?, downtime_events = ?,
				downtime_start_ns = ?, tls_expiry_ns = ?, tls_issuer = ?,
				tls_days_remaining = ?
			WHERE id = ?`,
			t.IsUp, tsNS(t.LastProbeAt), tsNS(t.NextDueAt),
			t.LastStatus, t.LastRespTime,
			t.TotalProbes, t.SuccessfulProbes, t.FailedProbes,
			t.UptimePercent, t.MinRespTime, t.AvgRespTime,
			t.MaxRespTime, t.TotalDowntimeSec, t.DowntimeEvents,
			tsNS(t.DowntimeStart), tsNS(t.TLSExpiry), t.TLSIssuer,
			t.TLSDaysRemaining,
			t.ID); err != nil {
			return fmt.Errorf("update target %d: %w", t.ID, err)
		}
		return nil
	})
}

// ListTLSExpiring returns active TLS-bearing targets whose certificate is
// within the warning horizon or already expired. Targets with no recorded
// certificate yet are skipped. Used by the periodic sweep as a backstop for
// long-interval targets.
func (s *Store) ListTLSExpiring(ctx context.Context, maxDays int) ([]*model.Target, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+targetColumns+` FROM targets
		 WHERE is_active = 1 AND deleted = 0
		   AND kind IN ('https', 'tls')
		   AND tls_expiry_ns != 0 AND tls_days_remaining <= ?
		 ORDER BY tls_days_remaining ASC`, maxDays)
	if err != nil {
		return nil, fmt.Errorf("select tls-expiring targets: %w", err)
	}
	defer rows.Close()
	var out []*model.Target
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tls-expiring target: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tls-expiring targets: %w", err)
	}
	return out, nil
}

// TargetCounts is the slice of target aggregates the daily stats job needs.
type TargetCounts struct {
	Total            int64
	Active           int64
	Up               int64
	Down             int64
	TotalProbes      int64
	SuccessfulProbes int64
	FailedProbes     int64
	AvgRespTime      float64
	TotalDowntimeSec int64
}

// AggregateTargets computes fleet-wide counters from the targets table.
func (s *Store) AggregateTargets(ctx context.Context) (*TargetCounts, error) {
	var c TargetCounts
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(is_active = 1), 0),
			COALESCE(SUM(is_active = 1 AND is_up = 1), 0),
			COALESCE(SUM(is_active = 1 AND is_up = 0), 0),
			COALESCE(SUM(total_probes), 0),
			COALESCE(SUM(successful_probes), 0),
			COALESCE(SUM(failed_probes), 0),
			COALESCE(AVG(CASE WHEN total_probes > 0 THEN avg_resp_time END), 0),
			COALESCE(SUM(total_downtime_sec), 0)
		FROM targets WHERE deleted = 0`).Scan(
		&c.Total, &c.Active, &c.Up, &c.Down,
		&c.TotalProbes, &c.SuccessfulProbes, &c.FailedProbes,
		&c.AvgRespTime, &c.TotalDowntimeSec)
	if err != nil {
		return nil, fmt.Errorf("aggregate targets: %w", err)
	}
	return &c, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTarget(row rowScanner) (*model.Target, error) {
	var (
		t                                  model.Target
		uuidStr, kind, codesJSON, hdrsJSON string
		lastProbeNS, nextDueNS, downNS     int64
		tlsExpiryNS, createdNS             int64
	)
	err := row.Scan(&t.ID, &uuidStr, &t.OwnerID, &t.Name, &t.URL, &kind,
		&t.HTTPMethod, &t.IntervalSec, &t.TimeoutSec, &t.RetryCount,
		&t.RetryDelaySec, &codesJSON, &t.ExpectedContent, &hdrsJSON,
		&t.RequestBody, &t.SlowThresholdSec, &t.AlertOnDown,
		&t.AlertOnRecovery, &t.AlertOnSlow, &t.IsActive, &t.IsUp, &t.Deleted,
		&lastProbeNS, &nextDueNS, &t.LastStatus, &t.LastRespTime,
		&t.TotalProbes, &t.SuccessfulProbes, &t.FailedProbes,
		&t.UptimePercent, &t.MinRespTime, &t.AvgRespTime, &t.MaxRespTime,
		&t.TotalDowntimeSec, &t.DowntimeEvents, &downNS, &tlsExpiryNS,
		&t.TLSIssuer, &t.TLSDaysRemaining, &createdNS)
	if err != nil {
		return nil, err
	}
	t.UUID, err = uuid.Parse(uuidStr)
	if err != nil {
		return nil, fmt.Errorf("parse target uuid %q: %w", uuidStr, err)
	}
	t.Kind = model.TargetKind(kind)
	if err := json.Unmarshal([]byte(codesJSON), &t.ExpectedCodes); err != nil {
		return nil, fmt.Errorf("parse expected codes: %w", err)
	}
	if err := json.Unmarshal([]byte(hdrsJSON), &t.Headers); err != nil {
		return nil, fmt.Errorf("parse headers: %w", err)
	}
	t.LastProbeAt = fromNS(lastProbeNS)
	t.NextDueAt = fromNS(nextDueNS)
	t.DowntimeStart = fromNS(downNS)
	t.TLSExpiry = fromNS(tlsExpiryNS)
	t.CreatedAt = fromNS(createdNS)
	return &t, nil
}

func marshalHeaders(h map[string]string) (string, error) {
	if h == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(h)
	if err != nil {
		return "", fmt.Errorf("marshal headers: %w", err)
	}
	return string(raw), nil
}
