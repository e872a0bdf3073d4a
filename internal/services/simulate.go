package services

import (
	"context"
	"fmt"
	"net/url"

	"kontor/internal/models"
	"kontor/internal/rules"

	"gorm.io/gorm"
)

// SimulatedAction is the would-be disposition of one action in a dry run.
type SimulatedAction struct {
	Type        string `json:"type"`
	Disposition string `json:"disposition"` // would_execute, would_stage_pending, would_fail
	Detail      string `json:"detail,omitempty"`
}

// SimulationResult reports a dry run without any persisted side effects.
type SimulationResult struct {
	RuleID         uint              `json:"rule_id"`
	EventRef       string            `json:"event_ref,omitempty"`
	TriggerMatched bool              `json:"trigger_matched"`
	ConditionsPass bool              `json:"conditions_pass"`
	Outcome        string            `json:"outcome"`
	Actions        []SimulatedAction `json:"actions,omitempty"`
}

// Simulate evaluates a rule against an event without writing pending
// actions or execution log rows. With an empty eventRef the most recent
// event matching the rule's eventlog triggers is used.
func (s *AutomationService) Simulate(ctx context.Context, tenantID string, ruleID uint, eventRef string) (*SimulationResult, error) {
	rule, err := s.GetRule(ctx, tenantID, ruleID)
	if err != nil {
		return nil, err
	}
	def, err := rules.ParseDefinition(rule.Triggers, rule.Conditions, rule.Actions)
	if err != nil {
		return nil, fmt.Errorf("rule %d has an invalid stored definition: %w", ruleID, err)
	}

	evt, err := s.simulationEvent(ctx, tenantID, def, eventRef)
	if err != nil {
		return nil, err
	}

	result := &SimulationResult{RuleID: ruleID, Outcome: models.OutcomeSimulation}
	if evt == nil {
		return result, nil
	}
	result.EventRef = evt.Ref
	result.TriggerMatched = eventMatchesRule(def, evt.EventType)
	if !result.TriggerMatched {
		return result, nil
	}

	evtCtx := EventContext(evt)
	result.ConditionsPass = true
	for _, cond := range def.Conditions {
		if !rules.Evaluate(cond, evtCtx) {
			result.ConditionsPass = false
			break
		}
	}
	if !result.ConditionsPass {
		return result, nil
	}

	for _, action := range def.Actions {
		result.Actions = append(result.Actions, s.simulateAction(ctx, tenantID, action))
	}
	return result, nil
}

func (s *AutomationService) simulationEvent(ctx context.Context, tenantID string, def *rules.Definition, eventRef string) (*models.Event, error) {
	if eventRef != "" {
		evt, err := s.events.FindByRef(ctx, tenantID, eventRef)
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("event %q not found", eventRef)
		}
		return evt, err
	}
	types := []string{}
	for _, t := range def.Triggers {
		if t.Type == rules.TriggerEventlog {
			types = append(types, t.EventTypes...)
		}
	}
	if len(types) == 0 {
		return nil, nil // cron-only rule, nothing to replay
	}
	var evt models.Event
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND event_type IN ?", tenantID, types).
		Order("id DESC").
		First(&evt).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &evt, nil
}

// simulateAction predicts the disposition of a single action using the same
// validation the executor applies, minus every side effect and HTTP call.
func (s *AutomationService) simulateAction(ctx context.Context, tenantID string, action rules.Action) SimulatedAction {
	sim := SimulatedAction{Type: action.Type}

	if needsRecipient(action.Type) {
		if out := s.executor.checkRecipient(ctx, tenantID, action); out.IsError() {
			sim.Disposition = "would_fail"
			sim.Detail = out.Status
			return sim
		}
	}
	if action.Type == rules.ActionWebhook {
		raw := paramString(action, "url")
		u, err := url.Parse(raw)
		if err != nil || u.Scheme != "https" {
			sim.Disposition = "would_fail"
			sim.Detail = "error_permanent:insecure_url"
			return sim
		}
		if !hostAllowed(u.Hostname(), s.executor.settings.WebhookDomains(ctx, tenantID)) {
			sim.Disposition = "would_fail"
			sim.Detail = "error_permanent:domain_not_allowed"
			return sim
		}
	}
	if rules.IsConfirmGated(action.Type) || action.RequiresConfirm {
		sim.Disposition = "would_stage_pending"
		return sim
	}
	sim.Disposition = "would_execute"
	return sim
}
