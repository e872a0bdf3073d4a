package models

import "time"

// AutomationRule is the tenant-owned configuration unit of the rule engine.
// Triggers/Conditions/Actions hold JSON validated by internal/rules before
// any write. Rules are never hard-deleted; disabling keeps the execution
// history auditable.
type AutomationRule struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	TenantID     string    `gorm:"index;not null" json:"tenant_id"`
	Name         string    `gorm:"not null" json:"name"`
	Description  string    `gorm:"type:text" json:"description"`
	Enabled      bool      `gorm:"default:false" json:"is_enabled"`
	Triggers     string    `gorm:"type:text;not null" json:"triggers"`     // JSON: [{type,...}]
	Conditions   string    `gorm:"type:text" json:"conditions"`            // JSON: [{op,field,value}|{op,conditions}]
	Actions      string    `gorm:"type:text;not null" json:"actions"`      // JSON: [{type,requires_confirm,params}]
	MaxPerMinute int       `gorm:"default:10" json:"max_executions_per_minute"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Pending action states.
const (
	PendingStatusPending   = "pending"
	PendingStatusConfirmed = "confirmed"
	PendingStatusExpired   = "expired"
	PendingStatusRejected  = "rejected"
)

// PendingAction is a staged side effect awaiting human confirmation. The
// confirm token is one-time: consumption flips status pending->confirmed in
// a single conditional update.
type PendingAction struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	TenantID     string     `gorm:"index;not null" json:"tenant_id"`
	RuleID       uint       `gorm:"index" json:"rule_id"`
	TriggerRef   string     `json:"trigger_ref"`
	ActionJSON   string     `gorm:"type:text;not null" json:"action"` // snapshot of the staged action
	ConfirmToken string     `gorm:"uniqueIndex;not null" json:"-"`
	Status       string     `gorm:"index;default:'pending'" json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	ExpiresAt    time.Time  `json:"expires_at"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
}

// Execution outcome reason codes. error_permanent/error_transient carry a
// reason suffix, e.g. "error_permanent:domain_not_allowed".
const (
	OutcomeClaimed        = "claimed"
	OutcomeOK             = "ok"
	OutcomeConditionFalse = "condition_false"
	OutcomeActionPending  = "action_pending"
	OutcomeRateLimited    = "rate_limited"
	OutcomeConfirmed      = "confirmed"
	OutcomeSimulation     = "simulation"
)

// ExecutionLog records exactly one outcome per (tenant, rule, trigger_ref).
// The composite unique index is the engine's idempotency guarantee: the
// insert acts as an atomic claim, concurrent duplicates lose and skip.
type ExecutionLog struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	TenantID   string    `gorm:"uniqueIndex:idx_execution_dedupe;not null" json:"tenant_id"`
	RuleID     uint      `gorm:"uniqueIndex:idx_execution_dedupe;not null" json:"rule_id"`
	TriggerRef string    `gorm:"uniqueIndex:idx_execution_dedupe;not null" json:"trigger_ref"`
	Outcome    string    `gorm:"index" json:"outcome"`
	Detail     string    `gorm:"type:text" json:"detail"`
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
}

// EventCursor points into the event feed per (tenant, source). It advances
// only after the whole batch up to Position is durably logged.
type EventCursor struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TenantID  string    `gorm:"uniqueIndex:idx_cursor_tenant_source;not null" json:"tenant_id"`
	Source    string    `gorm:"uniqueIndex:idx_cursor_tenant_source;not null" json:"source"`
	Position  uint      `json:"position"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TenantSettings carries per-tenant engine configuration: the webhook domain
// allow-list (exact host matches, JSON array), the pending-action expiry
// window and feature flags.
type TenantSettings struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	TenantID        string    `gorm:"uniqueIndex;not null" json:"tenant_id"`
	WebhookDomains  string    `gorm:"type:text" json:"webhook_domains"` // JSON: ["hooks.example.com"]
	PendingTTLHours int       `json:"pending_ttl_hours"`                // 0 = config default
	FeatureFlags    string    `gorm:"type:text" json:"feature_flags"`   // JSON: {"flag":true}
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
