package rules

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
)

// ExportSchema identifies the rule exchange format. Imports with a different
// schema value are rejected outright.
const ExportSchema = "kontor.automation/v1"

// maxConditionDepth bounds condition tree nesting for imported rules.
const maxConditionDepth = 8

// Definition is the parsed form of a rule's JSON columns.
type Definition struct {
	Triggers   []Trigger
	Conditions []Condition
	Actions    []Action
}

// Export is the interchange document for export_rule/import_rule. The
// is_enabled value is carried for round-trip fidelity but import always
// persists the rule disabled.
type Export struct {
	Schema       string      `json:"schema"`
	Name         string      `json:"name"`
	Description  string      `json:"description,omitempty"`
	Enabled      bool        `json:"is_enabled"`
	MaxPerMinute int         `json:"max_executions_per_minute,omitempty"`
	Triggers     []Trigger   `json:"triggers"`
	Conditions   []Condition `json:"conditions,omitempty"`
	Actions      []Action    `json:"actions"`
}

// ParseDefinition decodes and validates the three JSON columns of a stored
// rule. Stored rules were validated on write, so an error here means the row
// was tampered with or predates the current grammar; callers treat it as a
// permanent configuration error.
func ParseDefinition(triggersJSON, conditionsJSON, actionsJSON string) (*Definition, error) {
	var def Definition
	if err := json.Unmarshal([]byte(triggersJSON), &def.Triggers); err != nil {
		return nil, fmt.Errorf("triggers: %w", err)
	}
	if conditionsJSON != "" && conditionsJSON != "null" {
		if err := json.Unmarshal([]byte(conditionsJSON), &def.Conditions); err != nil {
			return nil, fmt.Errorf("conditions: %w", err)
		}
	}
	if err := json.Unmarshal([]byte(actionsJSON), &def.Actions); err != nil {
		return nil, fmt.Errorf("actions: %w", err)
	}
	if err := ValidateDefinition(&def); err != nil {
		return nil, err
	}
	return &def, nil
}

// ValidateDefinition checks a full rule definition against the closed
// grammar. It is used both for API writes and for imports, so nothing
// outside the known variants ever reaches the database.
func ValidateDefinition(def *Definition) error {
	if err := ValidateTriggers(def.Triggers); err != nil {
		return err
	}
	for i, c := range def.Conditions {
		if err := validateCondition(c, 0); err != nil {
			return fmt.Errorf("condition %d: %w", i, err)
		}
	}
	return ValidateActions(def.Actions)
}

// ValidateTriggers requires at least one trigger of a known variant.
func ValidateTriggers(triggers []Trigger) error {
	if len(triggers) == 0 {
		return fmt.Errorf("at least one trigger is required")
	}
	for i, t := range triggers {
		switch t.Type {
		case TriggerEventlog:
			if len(t.EventTypes) == 0 {
				return fmt.Errorf("trigger %d: eventlog trigger needs at least one event type", i)
			}
		case TriggerCron:
			if _, err := ParseCron(t.Schedule); err != nil {
				return fmt.Errorf("trigger %d: %w", i, err)
			}
		default:
			return fmt.Errorf("trigger %d: unknown trigger type %q", i, t.Type)
		}
	}
	return nil
}

func validateCondition(c Condition, depth int) error {
	if depth > maxConditionDepth {
		return fmt.Errorf("condition tree deeper than %d levels", maxConditionDepth)
	}
	switch c.Op {
	case OpAll, OpAny:
		if c.Field != "" || c.Value != nil {
			return fmt.Errorf("%s must not carry field/value", c.Op)
		}
		for _, nested := range c.Conditions {
			if err := validateCondition(nested, depth+1); err != nil {
				return err
			}
		}
		return nil
	case OpEquals, OpNotEquals, OpContains, OpNotContains, OpStartsWith, OpEndsWith, OpPresent:
		if len(c.Conditions) != 0 {
			return fmt.Errorf("%s must not nest conditions", c.Op)
		}
		if !IsContextField(c.Field) {
			return fmt.Errorf("field %q is not an allowed context field", c.Field)
		}
		if c.Op != OpPresent && c.Value == nil {
			return fmt.Errorf("%s on %q needs a comparison value", c.Op, c.Field)
		}
		return nil
	default:
		return fmt.Errorf("unknown operator %q", c.Op)
	}
}

// ValidateActions checks every action variant and its required params.
// Confirm-gated types must declare requires_confirm explicitly; an
// email_send without it is a misconfiguration, not something to fix up
// silently.
func ValidateActions(actions []Action) error {
	if len(actions) == 0 {
		return fmt.Errorf("at least one action is required")
	}
	for i, a := range actions {
		if !isKnownActionType(a.Type) {
			return fmt.Errorf("action %d: unknown action type %q", i, a.Type)
		}
		if IsConfirmGated(a.Type) && !a.RequiresConfirm {
			return fmt.Errorf("action %d: %s requires requires_confirm=true", i, a.Type)
		}
		switch a.Type {
		case ActionCreateTask:
			if paramString(a, "title") == "" {
				return fmt.Errorf("action %d: create_task needs a title param", i)
			}
		case ActionCreateFollowup:
			if paramString(a, "note") == "" {
				return fmt.Errorf("action %d: create_followup needs a note param", i)
			}
		case ActionEmailDraft, ActionEmailSend, ActionCreatePostfachDraft:
			if paramString(a, "recipient") == "" {
				return fmt.Errorf("action %d: %s needs a recipient param", i, a.Type)
			}
		case ActionWebhook:
			raw := paramString(a, "url")
			if raw == "" {
				return fmt.Errorf("action %d: webhook needs a url param", i)
			}
			u, err := url.Parse(raw)
			if err != nil || u.Scheme != "https" || u.Host == "" {
				return fmt.Errorf("action %d: webhook url must be absolute https", i)
			}
		}
	}
	return nil
}

func paramString(a Action, key string) string {
	s, _ := a.Params[key].(string)
	return s
}

// ParseImport decodes an exported rule document strictly: unknown fields
// anywhere in the document are rejected, then the full grammar validation
// runs. Callers must persist the result with is_enabled=false.
func ParseImport(data []byte) (*Export, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var exp Export
	if err := dec.Decode(&exp); err != nil {
		return nil, fmt.Errorf("invalid rule document: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("invalid rule document: trailing data")
	}
	if exp.Schema != ExportSchema {
		return nil, fmt.Errorf("unsupported schema %q", exp.Schema)
	}
	if exp.Name == "" {
		return nil, fmt.Errorf("rule name is required")
	}
	if exp.MaxPerMinute < 0 {
		return nil, fmt.Errorf("max_executions_per_minute must not be negative")
	}
	def := Definition{Triggers: exp.Triggers, Conditions: exp.Conditions, Actions: exp.Actions}
	if err := ValidateDefinition(&def); err != nil {
		return nil, err
	}
	return &exp, nil
}
