package alert

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/vigil-mon/vigil/internal/model"
)

// Intent is an in-memory description of an alert to be dispatched.
type Intent struct {
	OwnerID  int64
	TargetID int64
	Kind     model.AlertKind
	Title    string
	Body     string
	Priority int
	At       time.Time
}

// HumanDuration renders a duration as "2h 30m 15s", dropping zero leading
// units.
func HumanDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	var parts []string
	if h > 0 {
		parts = append(parts, fmt.Sprintf("%dh", h))
	}
	if m > 0 || h > 0 {
		parts = append(parts, fmt.Sprintf("%dm", m))
	}
	parts = append(parts, fmt.Sprintf("%ds", s))
	return strings.Join(parts, " ")
}

func esc(s string) string { return html.EscapeString(s) }

// DownIntent builds the notification for a target going down.
func DownIntent(t *model.Target, errMsg string, at time.Time) Intent {
	body := fmt.Sprintf("🔴 <b>%s</b> is DOWN\n%s", esc(t.Name), esc(t.URL))
	if errMsg != "" {
		body += fmt.Sprintf("\nReason: %s", esc(errMsg))
	}
	return Intent{
		OwnerID:  t.OwnerID,
		TargetID: t.ID,
		Kind:     model.AlertDown,
		Title:    fmt.Sprintf("%s is down", t.Name),
		Body:     body,
		Priority: 2,
		At:       at,
	}
}

// UpIntent builds the recovery notification carrying the ended downtime.
func UpIntent(t *model.Target, downtime time.Duration, at time.Time) Intent {
	return Intent{
		OwnerID:  t.OwnerID,
		TargetID: t.ID,
		Kind:     model.AlertUp,
		Title:    fmt.Sprintf("%s recovered", t.Name),
		Body: fmt.Sprintf("🟢 <b>%s</b> is UP again\n%s\nWas down for %s",
			esc(t.Name), esc(t.URL), HumanDuration(downtime)),
		Priority: 1,
		At:       at,
	}
}

// SlowIntent builds the slow-response notification.
func SlowIntent(t *model.Target, respTime float64, at time.Time) Intent {
	return Intent{
		OwnerID:  t.OwnerID,
		TargetID: t.ID,
		Kind:     model.AlertSlow,
		Title:    fmt.Sprintf("%s is slow", t.Name),
		Body: fmt.Sprintf("🐌 <b>%s</b> responded in %.2fs (threshold %.2fs)\n%s",
			esc(t.Name), respTime, t.SlowThresholdSec, esc(t.URL)),
		Priority: 0,
		At:       at,
	}
}

// TLSExpiringIntent builds the certificate-expiry notification.
func TLSExpiringIntent(t *model.Target, daysRemaining int, at time.Time) Intent {
	return Intent{
		OwnerID:  t.OwnerID,
		TargetID: t.ID,
		Kind:     model.AlertTLSExpiry,
		Title:    fmt.Sprintf("%s certificate expiring", t.Name),
		Body: fmt.Sprintf("⚠️ TLS certificate for <b>%s</b> expires in %d days\n%s",
			esc(t.Name), daysRemaining, esc(t.URL)),
		Priority: 1,
		At:       at,
	}
}
