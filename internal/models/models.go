package models

import "time"

// Event is one row of the append-only tenant event feed. ID order is the
// processing order; Ref is the stable reference other modules use and the
// idempotency key for eventlog-triggered rules.
type Event struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TenantID  string    `gorm:"index:idx_events_tenant_source;uniqueIndex:idx_events_tenant_ref;not null" json:"tenant_id"`
	Source    string    `gorm:"index:idx_events_tenant_source;not null" json:"source"` // crm, mail, tasks, documents
	EventType string    `gorm:"index;not null" json:"event_type"`
	Ref       string    `gorm:"uniqueIndex:idx_events_tenant_ref;not null" json:"ref"`
	Payload   string    `gorm:"type:text" json:"payload"` // JSON, flat scalar fields
	CreatedAt time.Time `json:"created_at"`
}

// Contact is the slice of the CRM model the automation engine needs:
// recipient validation for draft and send actions.
type Contact struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TenantID  string    `gorm:"index;not null" json:"tenant_id"`
	Ref       string    `gorm:"index;not null" json:"ref"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Task is created by the create_task action.
type Task struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	TenantID    string     `gorm:"index;not null" json:"tenant_id"`
	Title       string     `gorm:"not null" json:"title"`
	Description string     `gorm:"type:text" json:"description"`
	Status      string     `gorm:"default:'open'" json:"status"`
	DueAt       *time.Time `json:"due_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// FollowUp is created by the create_followup action.
type FollowUp struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	TenantID   string     `gorm:"index;not null" json:"tenant_id"`
	ContactRef string     `gorm:"index" json:"contact_ref"`
	Note       string     `gorm:"type:text;not null" json:"note"`
	Status     string     `gorm:"default:'open'" json:"status"`
	DueAt      *time.Time `json:"due_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// MailDraft lands in the tenant's Postfach. Rows are only written after a
// pending action was confirmed; Status moves draft->sent once the send
// backend picks the draft up.
type MailDraft struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TenantID  string    `gorm:"index;not null" json:"tenant_id"`
	AccountID string    `json:"account_id"`
	Recipient string    `gorm:"not null" json:"recipient"`
	Subject   string    `json:"subject"`
	Body      string    `gorm:"type:text" json:"body"`
	Folder    string    `gorm:"default:'postfach'" json:"folder"`
	Status    string    `gorm:"default:'draft'" json:"status"` // draft, sent
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
