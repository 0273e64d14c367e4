package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vigil-mon/vigil/internal/model"
)

// ErrStatsNotFound is returned when no daily_stats row exists for a date.
var ErrStatsNotFound = errors.New("daily stats not found")

const statsDateLayout = "2006-01-02"

// UpsertDailyStats writes the aggregate row for the stats' UTC day.
// Running the aggregation twice for the same day overwrites in place, so the
// job is idempotent.
func (s *Store) UpsertDailyStats(ctx context.Context, d *model.DailyStats) error {
	date := d.Date.UTC().Format(statsDateLayout)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daily_stats (date, total_users, active_users, total_targets,
			active_targets, up_targets, down_targets, total_probes,
			successful_probes, failed_probes, avg_resp_time, total_downtime_sec)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			total_users = excluded.total_users,
			active_users = excluded.active_users,
			total_targets = excluded.total_targets,
			active_targets = excluded.active_targets,
			up_targets = excluded.up_targets,
			down_targets = excluded.down_targets,
			total_probes = excluded.total_probes,
			successful_probes = excluded.successful_probes,
			failed_probes = excluded.failed_probes,
			avg_resp_time = excluded.avg_resp_time,
			total_downtime_sec = excluded.total_downtime_sec`,
		date, d.TotalUsers, d.ActiveUsers, d.TotalTargets, d.ActiveTargets,
		d.UpTargets, d.DownTargets, d.TotalProbes, d.SuccessfulProbes,
		d.FailedProbes, d.AvgRespTime, d.TotalDowntimeSec)
	if err != nil {
		return fmt.Errorf("upsert daily stats for %s: %w", date, err)
	}
	return nil
}

// GetDailyStats fetches the aggregate row for one UTC day.
func (s *Store) GetDailyStats(ctx context.Context, day time.Time) (*model.DailyStats, error) {
	date := day.UTC().Format(statsDateLayout)
	var d model.DailyStats
	err := s.db.QueryRowContext(ctx, `
		SELECT total_users, active_users, total_targets, active_targets,
			up_targets, down_targets, total_probes, successful_probes,
			failed_probes, avg_resp_time, total_downtime_sec
		FROM daily_stats WHERE date = ?`, date).Scan(
		&d.TotalUsers, &d.ActiveUsers, &d.TotalTargets, &d.ActiveTargets,
		&d.UpTargets, &d.DownTargets, &d.TotalProbes, &d.SuccessfulProbes,
		&d.FailedProbes, &d.AvgRespTime, &d.TotalDowntimeSec)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStatsNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get daily stats for %s: %w", date, err)
	}
	parsed, err := time.ParseInLocation(statsDateLayout, date, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("parse stats date %q: %w", date, err)
	}
	d.Date = parsed
	return &d, nil
}

// DeleteOldDailyStats trims aggregate rows past the history horizon.
func (s *Store) DeleteOldDailyStats(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM daily_stats WHERE date < ?`,
		cutoff.UTC().Format(statsDateLayout))
	if err != nil {
		return 0, fmt.Errorf("delete old daily stats: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete old daily stats: rows affected: %w", err)
	}
	return n, nil
}
