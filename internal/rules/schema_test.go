package rules

import (
	"strings"
	"testing"
)

func validExportDoc() string {
	return `{
		"schema": "kontor.automation/v1",
		"name": "Invoice follow-up",
		"is_enabled": true,
		"max_executions_per_minute": 5,
		"triggers": [{"type": "eventlog", "event_types": ["email.received"]}],
		"conditions": [{"op": "equals", "field": "from_domain", "value": "example.com"}],
		"actions": [{"type": "create_task", "params": {"title": "Check invoice"}}]
	}`
}

func TestParseImportValid(t *testing.T) {
	exp, err := ParseImport([]byte(validExportDoc()))
	if err != nil {
		t.Fatalf("ParseImport: %v", err)
	}
	if exp.Name != "Invoice follow-up" {
		t.Errorf("unexpected name %q", exp.Name)
	}
	if len(exp.Triggers) != 1 || len(exp.Actions) != 1 {
		t.Error("triggers/actions not carried over")
	}
}

func TestParseImportRejectsUnknownFields(t *testing.T) {
	docs := map[string]string{
		"top level":  strings.Replace(validExportDoc(), `"name"`, `"surprise": 1, "name"`, 1),
		"in trigger": strings.Replace(validExportDoc(), `"event_types"`, `"shell": "rm -rf /", "event_types"`, 1),
		"in action":  strings.Replace(validExportDoc(), `"params"`, `"exec": true, "params"`, 1),
	}
	for name, doc := range docs {
		if _, err := ParseImport([]byte(doc)); err == nil {
			t.Errorf("%s: unknown field must be rejected", name)
		}
	}
}

func TestParseImportRejectsWrongSchema(t *testing.T) {
	doc := strings.Replace(validExportDoc(), "kontor.automation/v1", "kontor.automation/v2", 1)
	if _, err := ParseImport([]byte(doc)); err == nil {
		t.Error("unsupported schema must be rejected")
	}
}

func TestParseImportRejectsTrailingData(t *testing.T) {
	if _, err := ParseImport([]byte(validExportDoc() + `{"schema":"kontor.automation/v1"}`)); err == nil {
		t.Error("trailing data must be rejected")
	}
}

func TestParseImportRejectsInvalidCron(t *testing.T) {
	doc := strings.Replace(validExportDoc(),
		`[{"type": "eventlog", "event_types": ["email.received"]}]`,
		`[{"type": "cron", "schedule": "*/5 * * * *"}]`, 1)
	if _, err := ParseImport([]byte(doc)); err == nil {
		t.Error("extended cron syntax must be rejected on import")
	}
}

func TestValidateTriggers(t *testing.T) {
	tests := []struct {
		name     string
		triggers []Trigger
		wantErr  bool
	}{
		{"none", nil, true},
		{"eventlog ok", []Trigger{{Type: TriggerEventlog, EventTypes: []string{"email.received"}}}, false},
		{"eventlog without types", []Trigger{{Type: TriggerEventlog}}, true},
		{"cron ok", []Trigger{{Type: TriggerCron, Schedule: "0 8 * * *"}}, false},
		{"cron bad schedule", []Trigger{{Type: TriggerCron, Schedule: "0 8 * *"}}, true},
		{"unknown type", []Trigger{{Type: "manual"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTriggers(tt.triggers)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateTriggers() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateActions(t *testing.T) {
	tests := []struct {
		name    string
		actions []Action
		wantErr bool
	}{
		{"none", nil, true},
		{"create_task ok", []Action{{Type: ActionCreateTask, Params: map[string]interface{}{"title": "t"}}}, false},
		{"create_task without title", []Action{{Type: ActionCreateTask}}, true},
		{"create_followup without note", []Action{{Type: ActionCreateFollowup}}, true},
		{"unknown type", []Action{{Type: "delete_everything"}}, true},
		{
			"email_send must declare requires_confirm",
			[]Action{{Type: ActionEmailSend, Params: map[string]interface{}{"recipient": "a@b.de"}}},
			true,
		},
		{
			"email_send with requires_confirm",
			[]Action{{Type: ActionEmailSend, RequiresConfirm: true, Params: map[string]interface{}{"recipient": "a@b.de"}}},
			false,
		},
		{
			"postfach draft must declare requires_confirm",
			[]Action{{Type: ActionCreatePostfachDraft, Params: map[string]interface{}{"recipient": "a@b.de"}}},
			true,
		},
		{
			"webhook http url",
			[]Action{{Type: ActionWebhook, Params: map[string]interface{}{"url": "http://hooks.example.com/x"}}},
			true,
		},
		{
			"webhook relative url",
			[]Action{{Type: ActionWebhook, Params: map[string]interface{}{"url": "/hook"}}},
			true,
		},
		{
			"webhook https url",
			[]Action{{Type: ActionWebhook, Params: map[string]interface{}{"url": "https://hooks.example.com/x"}}},
			false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateActions(tt.actions)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateActions() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateConditionTree(t *testing.T) {
	deep := Condition{Op: OpEquals, Field: "status", Value: "open"}
	for i := 0; i < 10; i++ {
		deep = Condition{Op: OpAll, Conditions: []Condition{deep}}
	}

	tests := []struct {
		name    string
		cond    Condition
		wantErr bool
	}{
		{"leaf ok", Condition{Op: OpEquals, Field: "status", Value: "open"}, false},
		{"leaf without value", Condition{Op: OpEquals, Field: "status"}, true},
		{"present without value ok", Condition{Op: OpPresent, Field: "status"}, false},
		{"disallowed field", Condition{Op: OpEquals, Field: "password", Value: "x"}, true},
		{"unknown operator", Condition{Op: "matches", Field: "status", Value: "x"}, true},
		{"combinator with field", Condition{Op: OpAll, Field: "status"}, true},
		{"leaf with children", Condition{Op: OpEquals, Field: "status", Value: "x", Conditions: []Condition{{Op: OpPresent, Field: "status"}}}, true},
		{"too deep", deep, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := Definition{
				Triggers: []Trigger{{Type: TriggerEventlog, EventTypes: []string{"x"}}},
				Conditions: []Condition{tt.cond},
				Actions:  []Action{{Type: ActionCreateTask, Params: map[string]interface{}{"title": "t"}}},
			}
			err := ValidateDefinition(&def)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateDefinition() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseDefinitionRoundTrip(t *testing.T) {
	def, err := ParseDefinition(
		`[{"type":"cron","schedule":"0 8 * * 1"}]`,
		`[{"op":"all","conditions":[{"op":"present","field":"ref"}]}]`,
		`[{"type":"create_followup","params":{"note":"weekly check"}}]`,
	)
	if err != nil {
		t.Fatalf("ParseDefinition: %v", err)
	}
	if len(def.Triggers) != 1 || def.Triggers[0].Schedule != "0 8 * * 1" {
		t.Error("trigger not parsed")
	}
	if len(def.Conditions) != 1 || len(def.Conditions[0].Conditions) != 1 {
		t.Error("condition tree not parsed")
	}
}

func TestParseDefinitionEmptyConditions(t *testing.T) {
	if _, err := ParseDefinition(
		`[{"type":"eventlog","event_types":["task.created"]}]`,
		"",
		`[{"type":"create_task","params":{"title":"t"}}]`,
	); err != nil {
		t.Fatalf("empty conditions column should parse: %v", err)
	}
}
