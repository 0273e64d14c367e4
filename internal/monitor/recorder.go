package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/vigil-mon/vigil/internal/geoip"
	"github.com/vigil-mon/vigil/internal/model"
	"github.com/vigil-mon/vigil/internal/probe"
	"github.com/vigil-mon/vigil/internal/store"
)

// Recorder folds probe results into target state and persists the probe log
// and the mutated target in one transaction. It is the sole writer of target
// state during a probe cycle.
type Recorder struct {
	store *store.Store
	geo   *geoip.Resolver // nil disables country enrichment
}

// NewRecorder builds a recorder. geo may be nil.
func NewRecorder(st *store.Store, geo *geoip.Resolver) *Recorder {
	return &Recorder{store: st, geo: geo}
}

// Record applies res to t and persists both the log row and the target.
// Returns the downtime duration a recovery just ended (zero otherwise).
func (r *Recorder) Record(ctx context.Context, t *model.Target, res *probe.Result, now time.Time) (time.Duration, error) {
	ended := t.ApplyProbe(model.ProbeOutcome{
		Success:      res.Success,
		StatusCode:   res.StatusCode,
		ResponseTime: res.ResponseTime,
	}, now)

	if res.TLS != nil {
		t.TLSExpiry = res.TLS.NotAfter
		t.TLSIssuer = res.TLS.Issuer
		t.TLSDaysRemaining = res.TLS.DaysRemaining
	}

	lg := probeLogRow(t.ID, res, now)
	lg.Country = r.geo.Country(res.IPAddress)

	if err := r.store.RecordProbe(ctx, t, lg); err != nil {
		return ended, fmt.Errorf("record probe for target %d: %w", t.ID, err)
	}
	return ended, nil
}

// RecordEngineFault writes a synthetic failed probe log classifying an
// engine-side fault, so the target stays visible in its history even when
// the normal recording path broke.
func (r *Recorder) RecordEngineFault(ctx context.Context, targetID int64, cause error, now time.Time) error {
	lg := &model.ProbeLog{
		TargetID:     targetID,
		CheckedAt:    now,
		Success:      false,
		ErrorKind:    probe.ErrKindEngine,
		ErrorMessage: cause.Error(),
	}
	if err := r.store.InsertProbeLog(ctx, lg); err != nil {
		return fmt.Errorf("record engine fault for target %d: %w", targetID, err)
	}
	return nil
}

func probeLogRow(targetID int64, res *probe.Result, now time.Time) *model.ProbeLog {
	respTime := res.ResponseTime
	if respTime < 0 {
		respTime = 0
	}
	return &model.ProbeLog{
		TargetID:     targetID,
		CheckedAt:    now,
		Success:      res.Success,
		StatusCode:   res.StatusCode,
		ResponseTime: respTime,
		ResponseSize: res.ResponseSize,
		ErrorKind:    res.ErrorKind,
		ErrorMessage: res.ErrorMessage,
		DNSTime:      res.DNSTime,
		ConnectTime:  res.ConnectTime,
		IPAddress:    res.IPAddress,
		TLSVerified:  res.TLSVerified,
		TLSError:     res.TLSError,
		RetryCount:   res.Retries,
		Headers:      res.Headers,
	}
}
