package alert

import "time"

// ownerWindow is a per-owner sliding delivery window. Confined to the
// dispatcher goroutine; no locking.
type ownerWindow struct {
	span  time.Duration
	limit int
	times map[int64][]time.Time
}

func newOwnerWindow(span time.Duration, limit int) *ownerWindow {
	return &ownerWindow{
		span:  span,
		limit: limit,
		times: make(map[int64][]time.Time),
	}
}

// allow reports whether the owner has delivery budget left at now.
func (w *ownerWindow) allow(owner int64, now time.Time) bool {
	return len(w.prune(owner, now)) < w.limit
}

// record consumes one delivery slot. Called only when delivery is actually
// attempted, so persisted-unsent alerts never eat the budget.
func (w *ownerWindow) record(owner int64, now time.Time) {
	w.times[owner] = append(w.prune(owner, now), now)
}

func (w *ownerWindow) prune(owner int64, now time.Time) []time.Time {
	kept := w.times[owner][:0]
	cutoff := now.Add(-w.span)
	for _, t := range w.times[owner] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		delete(w.times, owner)
		return nil
	}
	w.times[owner] = kept
	return kept
}
