// Package model defines the persistent data model: users, monitored targets,
// probe logs, alerts, and daily statistics. Timestamps are Unix nanoseconds
// in storage; the structs carry time.Time and convert at the repo boundary.
package model

import (
	"time"

	"github.com/google/uuid"
)

// UserStatus is the lifecycle state of a user account.
type UserStatus string

const (
	UserActive    UserStatus = "active"
	UserInactive  UserStatus = "inactive"
	UserSuspended UserStatus = "suspended"
	UserBanned    UserStatus = "banned"
)

// IsValid reports whether s is a known user status.
func (s UserStatus) IsValid() bool {
	switch s {
	case UserActive, UserInactive, UserSuspended, UserBanned:
		return true
	}
	return false
}

// TargetKind selects which probe a target receives.
type TargetKind string

const (
	KindHTTP  TargetKind = "http"
	KindHTTPS TargetKind = "https"
	KindTCP   TargetKind = "tcp"
	KindDNS   TargetKind = "dns"
	KindTLS   TargetKind = "tls"
)

// IsValid reports whether k is a known target kind.
func (k TargetKind) IsValid() bool {
	switch k {
	case KindHTTP, KindHTTPS, KindTCP, KindDNS, KindTLS:
		return true
	}
	return false
}

// AlertKind classifies a notification event.
type AlertKind string

const (
	AlertDown        AlertKind = "down"
	AlertUp          AlertKind = "up"
	AlertSlow        AlertKind = "slow"
	AlertTLSExpiry   AlertKind = "tls_expiry"
	AlertMaintenance AlertKind = "maintenance"
	AlertError       AlertKind = "error"
	AlertWarning     AlertKind = "warning"
)

// IsValid reports whether k is a known alert kind.
func (k AlertKind) IsValid() bool {
	switch k {
	case AlertDown, AlertUp, AlertSlow, AlertTLSExpiry, AlertMaintenance, AlertError, AlertWarning:
		return true
	}
	return false
}

// User is an account identified by an external (chat platform) id.
type User struct {
	ID             int64 // external account id, also the PK
	ChatID         string
	Username       string
	Role           string
	Status         UserStatus
	MaxTargets     int
	MinIntervalSec int
	LastActivity   time.Time
	CreatedAt      time.Time
	Deleted        bool
}

// Target is a user-registered endpoint to be probed.
type Target struct {
	ID      int64
	UUID    uuid.UUID
	OwnerID int64 // external user id (see users.id)
	Name    string
	URL     string

	Kind             TargetKind
	HTTPMethod       string
	IntervalSec      int
	TimeoutSec       int
	RetryCount       int
	RetryDelaySec    int
	ExpectedCodes    []int             // empty means {200}
	ExpectedContent  string            // substring match; empty disables
	Headers          map[string]string // custom request headers; dns.* keys reserved
	RequestBody      string
	SlowThresholdSec float64

	AlertOnDown     bool
	AlertOnRecovery bool
	AlertOnSlow     bool

	IsActive     bool
	IsUp         bool
	Deleted      bool
	LastProbeAt  time.Time // zero until first probe
	NextDueAt    time.Time // zero means due immediately
	LastStatus   int
	LastRespTime float64

	TotalProbes      int64
	SuccessfulProbes int64
	FailedProbes     int64
	UptimePercent    float64
	MinRespTime      float64 // 0 until first timed probe
	AvgRespTime      float64
	MaxRespTime      float64
	TotalDowntimeSec int64
	DowntimeEvents   int64
	DowntimeStart    time.Time // zero iff IsUp

	TLSExpiry        time.Time
	TLSIssuer        string
	TLSDaysRemaining int // -1 when unknown

	CreatedAt time.Time
}

// ProbeOutcome is the slice of a probe result the target mutation needs.
type ProbeOutcome struct {
	Success      bool
	StatusCode   int
	ResponseTime float64 // seconds; <0 means not measured
}

// ApplyProbe folds one probe outcome into the target's state: counters,
// up/down transition bookkeeping, response-time stats, uptime percentage,
// and the next due time. It returns the downtime duration ended by a
// recovery (zero otherwise). Pure in-memory mutation; persistence is the
// store's job.
func (t *Target) ApplyProbe(out ProbeOutcome, now time.Time) time.Duration {
	t.TotalProbes++
	t.LastProbeAt = now

	var endedDowntime time.Duration
	if out.Success {
		t.SuccessfulProbes++
		if !t.IsUp {
			t.IsUp = true
			if !t.DowntimeStart.IsZero() {
				endedDowntime = now.Sub(t.DowntimeStart)
				t.TotalDowntimeSec += int64(endedDowntime.Seconds())
				t.DowntimeStart = time.Time{}
			}
		}
	} else {
		t.FailedProbes++
		if t.IsUp {
			t.IsUp = false
			t.DowntimeStart = now
			t.DowntimeEvents++
		}
	}

	if out.StatusCode != 0 {
		t.LastStatus = out.StatusCode
	}
	if out.ResponseTime >= 0 {
		t.LastRespTime = out.ResponseTime
		t.foldResponseTime(out.ResponseTime)
	}

	if t.TotalProbes > 0 {
		t.UptimePercent = 100 * float64(t.SuccessfulProbes) / float64(t.TotalProbes)
	} else {
		t.UptimePercent = 100
	}
	t.NextDueAt = now.Add(t.Interval())
	return endedDowntime
}

func (t *Target) foldResponseTime(rt float64) {
	if t.AvgRespTime == 0 && t.TotalProbes <= 1 {
		t.AvgRespTime = rt
	} else {
		// Running mean over all probes so far.
		t.AvgRespTime = (t.AvgRespTime*float64(t.TotalProbes-1) + rt) / float64(t.TotalProbes)
	}
	if t.MinRespTime == 0 || rt < t.MinRespTime {
		t.MinRespTime = rt
	}
	if rt > t.MaxRespTime {
		t.MaxRespTime = rt
	}
}

// Interval returns the probe interval as a duration (minimum one second).
func (t *Target) Interval() time.Duration {
	if t.IntervalSec <= 0 {
		return time.Second
	}
	return time.Duration(t.IntervalSec) * time.Second
}

// Timeout returns the per-probe timeout, falling back to def when unset.
func (t *Target) Timeout(def time.Duration) time.Duration {
	if t.TimeoutSec <= 0 {
		return def
	}
	return time.Duration(t.TimeoutSec) * time.Second
}

// ProbeLog is the append-only record of one probe.
type ProbeLog struct {
	ID           int64
	TargetID     int64
	CheckedAt    time.Time
	Success      bool
	StatusCode   int
	ResponseTime float64
	ResponseSize int64
	ErrorKind    string
	ErrorMessage string
	DNSTime      float64
	ConnectTime  float64
	IPAddress    string
	Country      string
	TLSVerified  *bool
	TLSError     string
	RetryCount   int
	Headers      map[string]string
}

// Alert is the persisted record of a dispatched (or attempted) notification.
type Alert struct {
	ID         int64
	OwnerID    int64
	TargetID   int64 // 0 when not tied to a target
	Kind       AlertKind
	Title      string
	Body       string
	Priority   int
	Channels   []string
	Sent       bool
	SentAt     time.Time
	Retries    int
	MaxRetries int
	CreatedAt  time.Time
}

// ActivityLog records one user interaction, written by the chat surface and
// garbage-collected here alongside probe logs.
type ActivityLog struct {
	ID        int64
	UserID    int64
	Action    string
	Detail    string
	CreatedAt time.Time
}

// DailyStats is one aggregate row per UTC calendar day.
type DailyStats struct {
	Date             time.Time // midnight UTC
	TotalUsers       int64
	ActiveUsers      int64
	TotalTargets     int64
	ActiveTargets    int64
	UpTargets        int64
	DownTargets      int64
	TotalProbes      int64
	SuccessfulProbes int64
	FailedProbes     int64
	AvgRespTime      float64
	TotalDowntimeSec int64
}
