package rules

// Trigger types. A rule fires either on matching event-log entries or on a
// restricted cron schedule.
const (
	TriggerEventlog = "eventlog"
	TriggerCron     = "cron"
)

// Condition operators. This is a closed set: anything else is rejected at
// validation time and fails closed at evaluation time.
const (
	OpEquals      = "equals"
	OpNotEquals   = "not_equals"
	OpContains    = "contains"
	OpNotContains = "not_contains"
	OpStartsWith  = "starts_with"
	OpEndsWith    = "ends_with"
	OpPresent     = "present"
	OpAll         = "all"
	OpAny         = "any"
)

// Action types.
const (
	ActionCreateTask          = "create_task"
	ActionCreatePostfachDraft = "create_postfach_draft"
	ActionCreateFollowup      = "create_followup"
	ActionEmailDraft          = "email_draft"
	ActionEmailSend           = "email_send"
	ActionWebhook             = "webhook"
)

// Trigger is a tagged variant: Type selects which config fields apply.
type Trigger struct {
	Type       string   `json:"type"`
	EventTypes []string `json:"event_types,omitempty"` // eventlog
	Schedule   string   `json:"schedule,omitempty"`    // cron, 5-field restricted syntax
}

// Condition is a node in the declarative condition tree. Leaf operators use
// Field/Value; the combinators all/any use Conditions.
type Condition struct {
	Op         string      `json:"op"`
	Field      string      `json:"field,omitempty"`
	Value      interface{} `json:"value,omitempty"`
	Conditions []Condition `json:"conditions,omitempty"`
}

// Action describes one configured side effect of a rule.
type Action struct {
	Type            string                 `json:"type"`
	RequiresConfirm bool                   `json:"requires_confirm"`
	Params          map[string]interface{} `json:"params,omitempty"`
}

// contextFields is the allow-list of field names a condition may reference.
// Values come from the triggering event's payload plus a few engine-provided
// entries (event_type, ref, source).
var contextFields = map[string]bool{
	"event_type":    true,
	"ref":           true,
	"source":        true,
	"subject":       true,
	"from_address":  true,
	"from_domain":   true,
	"to_address":    true,
	"body_excerpt":  true,
	"contact_ref":   true,
	"document_type": true,
	"amount":        true,
	"status":        true,
	"priority":      true,
	"tag":           true,
}

// IsContextField reports whether conditions may reference the given field.
func IsContextField(name string) bool {
	return contextFields[name]
}

// IsConfirmGated reports whether an action type must always go through the
// pending/confirm flow regardless of its requires_confirm flag. Drafts land
// in a user's Postfach and email_send has an external effect, so none of
// them may execute without an explicit confirmation.
func IsConfirmGated(actionType string) bool {
	switch actionType {
	case ActionCreatePostfachDraft, ActionEmailDraft, ActionEmailSend:
		return true
	}
	return false
}

func isKnownActionType(t string) bool {
	switch t {
	case ActionCreateTask, ActionCreatePostfachDraft, ActionCreateFollowup,
		ActionEmailDraft, ActionEmailSend, ActionWebhook:
		return true
	}
	return false
}
