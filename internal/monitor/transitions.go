package monitor

import (
	"time"

	"github.com/vigil-mon/vigil/internal/alert"
	"github.com/vigil-mon/vigil/internal/model"
	"github.com/vigil-mon/vigil/internal/probe"
)

// DetectTransitions maps one probe outcome onto zero or more alert intents.
// Purely functional: wasUp is the target's state before the probe was
// applied, endedDowntime the downtime a recovery just closed. Multiple
// intents per probe are possible (slow response plus near-expiry cert).
func DetectTransitions(wasUp bool, t *model.Target, res *probe.Result, endedDowntime time.Duration, tlsWarningDays int, now time.Time) []alert.Intent {
	var intents []alert.Intent

	if wasUp && !res.Success && t.AlertOnDown {
		intents = append(intents, alert.DownIntent(t, res.ErrorMessage, now))
	}
	if !wasUp && res.Success && t.AlertOnRecovery {
		intents = append(intents, alert.UpIntent(t, endedDowntime, now))
	}
	if res.Success && t.AlertOnSlow && t.SlowThresholdSec > 0 && res.ResponseTime > t.SlowThresholdSec {
		intents = append(intents, alert.SlowIntent(t, res.ResponseTime, now))
	}
	if res.TLS != nil && res.TLS.DaysRemaining <= tlsWarningDays {
		intents = append(intents, alert.TLSExpiringIntent(t, res.TLS.DaysRemaining, now))
	}
	return intents
}
