package services

import (
	"strings"

	"kontor/internal/models"
)

// Outcome is the result of dispatching a single action or of one rule x
// trigger_ref execution. Status is one of the reason codes recorded in the
// execution log; Detail carries operator-facing context, never stack traces.
type Outcome struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

func okOutcome(detail string) Outcome {
	return Outcome{Status: models.OutcomeOK, Detail: detail}
}

func pendingOutcome(detail string) Outcome {
	return Outcome{Status: models.OutcomeActionPending, Detail: detail}
}

// permanentOutcome marks a failure that cannot succeed on retry without a
// configuration or data change.
func permanentOutcome(reason, detail string) Outcome {
	return Outcome{Status: "error_permanent:" + reason, Detail: detail}
}

// transientOutcome marks a failure that may succeed on retry (network
// timeout, 5xx, 429). The retry cap is enforced by the caller.
func transientOutcome(reason, detail string) Outcome {
	return Outcome{Status: "error_transient:" + reason, Detail: detail}
}

// IsError reports whether a status is a failure reason code.
func (o Outcome) IsError() bool {
	return strings.HasPrefix(o.Status, "error_")
}

// IsTransient reports whether a failed outcome may be retried.
func (o Outcome) IsTransient() bool {
	return strings.HasPrefix(o.Status, "error_transient:")
}
