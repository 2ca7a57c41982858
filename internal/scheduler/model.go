package scheduler

import "time"

// DigestMode controls how repeated fetch results are folded into a single
// scheduled-run message.
type DigestMode string

const (
	DigestModeNone   DigestMode = "none"   // always emit the latest fetch verbatim
	DigestModeLatest DigestMode = "latest" // emit the whole fetch only when it differs from the prior fetch
	DigestModeDiff   DigestMode = "diff"   // when it differs, emit the prior and the new fetch side by side
)

// MissedPolicy decides what happens when one or more firing minutes were
// missed (gateway was down, tick loop stalled, etc.) between last_fired
// and now.
type MissedPolicy string

const (
	// MissedFireOnce collapses any gap into exactly one run, as if only the
	// most recent missed firing mattered.
	MissedFireOnce MissedPolicy = "fire_once"
	// MissedFireAll fires once per missed occurrence, bounded by MaxCatchUp
	// to avoid a storm after a long outage.
	MissedFireAll MissedPolicy = "fire_all"
	// MissedSkip silently advances the watermark without firing.
	MissedSkip MissedPolicy = "skip"
)

// ScheduleStatus is the lifecycle state of a schedule.
type ScheduleStatus string

const (
	ScheduleEnabled  ScheduleStatus = "enabled"
	ScheduleDisabled ScheduleStatus = "disabled"
	ScheduleError    ScheduleStatus = "error" // disabled itself after repeated run failures
)

// DeliveryTarget names where the scheduled run's result should be queued
// as a Delivery once the run completes.
type DeliveryTarget struct {
	Channel string `json:"channel,omitempty"`
	ChatID  string `json:"chat_id,omitempty"`
	UserID  string `json:"user_id,omitempty"`
}

// FetchConfig optionally pulls URL content (with size caps, fetched anew on
// every fire) into the synthetic user message constructed for a fired
// schedule.
type FetchConfig struct {
	URL          string     `json:"url,omitempty"`
	MaxBytes     int        `json:"max_bytes,omitempty"` // 0 = package default
	Digest       DigestMode `json:"digest,omitempty"`
	PromptPrefix string     `json:"prompt_prefix,omitempty"` // prepended to fetched content in the synthetic message
}

// SourceState tracks what the last successful fetch produced, so a
// DigestMode of "latest" or "diff" has something to compare against.
type SourceState struct {
	LastFetchedAt time.Time `json:"last_fetched_at,omitempty"`
	LastHash      string    `json:"last_hash,omitempty"` // sha256 of the last fetch, for cheap diffing
	LastContent   string    `json:"last_content,omitempty"`
}

// Schedule is one durable cron-triggered job: when to fire, what message
// to synthesize, where to deliver the result, and how to cope with missed
// firings.
type Schedule struct {
	ID        string `json:"id"`
	AgentID   string `json:"agent_id"`
	Name      string `json:"name"`
	CronExpr  string `json:"cron_expr"`
	Timezone  string `json:"timezone"` // IANA zone, e.g. "America/New_York"
	Status    ScheduleStatus `json:"status"`
	Message   string       `json:"message,omitempty"` // static message; mutually usable alongside Fetch
	Fetch     *FetchConfig `json:"fetch,omitempty"`
	Target    DeliveryTarget `json:"target"`
	Missed    MissedPolicy   `json:"missed_policy"`
	MaxCatchUp int           `json:"max_catch_up,omitempty"` // bound for MissedFireAll; 0 = package default

	// LastFired is the watermark: the time of the last evaluation that found
	// at least one due minute (set even when MissedSkip fired nothing).
	// Later evaluations look only at minutes after it. Persisted alongside the
	// schedule itself so both live under the same store critical section.
	LastFired time.Time `json:"last_fired,omitempty"`

	Source SourceState `json:"source,omitempty"`

	WebhookSecret string `json:"webhook_secret,omitempty"` // HMAC key for POST /v1/schedules/{id}/trigger

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ConsecutiveFailures int    `json:"consecutive_failures,omitempty"`
	LastError           string `json:"last_error,omitempty"`
}

// ScheduleEventKind enumerates schedule store broadcast events.
type ScheduleEventKind int

const (
	ScheduleCreated ScheduleEventKind = iota
	ScheduleUpdated
	ScheduleDeleted
	ScheduleFired
)

// ScheduleEvent is broadcast by the store on create/update/delete/fire.
type ScheduleEvent struct {
	Kind       ScheduleEventKind
	ScheduleID string
}

// ScheduleView is the externally-facing read model for a schedule: every
// Schedule field except WebhookSecret, which must never round-trip to a
// client.
type ScheduleView struct {
	ID         string         `json:"id"`
	AgentID    string         `json:"agent_id"`
	Name       string         `json:"name"`
	CronExpr   string         `json:"cron_expr"`
	Timezone   string         `json:"timezone"`
	Status     ScheduleStatus `json:"status"`
	Message    string         `json:"message,omitempty"`
	Fetch      *FetchConfig   `json:"fetch,omitempty"`
	Target     DeliveryTarget `json:"target"`
	Missed     MissedPolicy   `json:"missed_policy"`
	MaxCatchUp int            `json:"max_catch_up,omitempty"`
	LastFired  time.Time      `json:"last_fired,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	HasWebhookSecret bool     `json:"has_webhook_secret"`
}

// View strips sensitive fields for API responses.
func (s *Schedule) View() ScheduleView {
	return ScheduleView{
		ID: s.ID, AgentID: s.AgentID, Name: s.Name, CronExpr: s.CronExpr,
		Timezone: s.Timezone, Status: s.Status, Message: s.Message, Fetch: s.Fetch,
		Target: s.Target, Missed: s.Missed, MaxCatchUp: s.MaxCatchUp,
		LastFired: s.LastFired, CreatedAt: s.CreatedAt, UpdatedAt: s.UpdatedAt,
		HasWebhookSecret: s.WebhookSecret != "",
	}
}

const (
	defaultMaxFetchBytes = 200_000
	defaultMaxCatchUp    = 5
)
