package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"kontor/internal/metrics"
	"kontor/internal/models"
	"kontor/internal/rules"

	"gorm.io/gorm"
)

// RunSummary is the operator-facing result of one runner invocation.
type RunSummary struct {
	Evaluated      int `json:"evaluated"`
	OK             int `json:"ok"`
	Pending        int `json:"pending"`
	ConditionFalse int `json:"condition_false"`
	RateLimited    int `json:"rate_limited"`
	Errors         int `json:"errors"`
	Skipped        int `json:"skipped"`
}

func (s *RunSummary) count(outcome string) {
	switch {
	case outcome == models.OutcomeOK:
		s.OK++
	case outcome == models.OutcomeActionPending:
		s.Pending++
	case outcome == models.OutcomeConditionFalse:
		s.ConditionFalse++
	case outcome == models.OutcomeRateLimited:
		s.RateLimited++
	case strings.HasPrefix(outcome, "error_"):
		s.Errors++
	}
}

// compiledRule pairs a stored rule with its parsed definition.
type compiledRule struct {
	rule models.AutomationRule
	def  *rules.Definition
}

// Run is the single synchronous entry point for manual runs, event-driven
// runs and cron ticks. Execution is per rule x trigger_ref, idempotent via
// the execution log's unique constraint, and failure-isolated: one broken
// rule never blocks the rest of the batch.
func (s *AutomationService) Run(ctx context.Context, tenantID, triggerType string) (*RunSummary, error) {
	start := time.Now()
	defer func() { metrics.RunDuration.Observe(time.Since(start).Seconds()) }()

	switch triggerType {
	case rules.TriggerEventlog:
		return s.runEventlog(ctx, tenantID)
	case rules.TriggerCron:
		return s.runCron(ctx, tenantID)
	default:
		return nil, fmt.Errorf("unknown trigger type %q", triggerType)
	}
}

// loadCompiledRules returns the tenant's enabled rules that carry at least
// one trigger of the wanted type. Rules whose stored definition no longer
// parses are skipped with a warning; they cannot match anything.
func (s *AutomationService) loadCompiledRules(ctx context.Context, tenantID, triggerType string) ([]compiledRule, error) {
	var ruleRows []models.AutomationRule
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND enabled = ?", tenantID, true).
		Order("id ASC").
		Find(&ruleRows).Error
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	compiled := make([]compiledRule, 0, len(ruleRows))
	for _, rule := range ruleRows {
		def, err := rules.ParseDefinition(rule.Triggers, rule.Conditions, rule.Actions)
		if err != nil {
			s.logger.Warnf("runner: rule %d (%s) has an invalid definition, skipping: %v", rule.ID, rule.Name, err)
			continue
		}
		for _, t := range def.Triggers {
			if t.Type == triggerType {
				compiled = append(compiled, compiledRule{rule: rule, def: def})
				break
			}
		}
	}
	return compiled, nil
}

func (s *AutomationService) runEventlog(ctx context.Context, tenantID string) (*RunSummary, error) {
	summary := &RunSummary{}
	compiled, err := s.loadCompiledRules(ctx, tenantID, rules.TriggerEventlog)
	if err != nil {
		return nil, err
	}

	sources, err := s.events.Sources(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	for _, source := range sources {
		if err := s.processSource(ctx, tenantID, source, compiled, summary); err != nil {
			// The cursor for this source holds; events are reprocessed on
			// the next run and the claims of finished pairs make that safe.
			s.logger.Errorf("runner: source %s/%s aborted: %v", tenantID, source, err)
			return summary, err
		}
	}
	return summary, nil
}

// processSource consumes one bounded batch of a (tenant, source) feed in
// strict append order and advances the cursor after the batch is logged.
func (s *AutomationService) processSource(ctx context.Context, tenantID, source string, compiled []compiledRule, summary *RunSummary) error {
	cursor, err := s.loadCursor(ctx, tenantID, source)
	if err != nil {
		return err
	}
	events, err := s.events.FetchSince(ctx, tenantID, source, cursor.Position, s.batchSize)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	for i := range events {
		evt := &events[i]
		metrics.EventsProcessed.Inc()
		evtCtx := EventContext(evt)
		for _, cr := range compiled {
			if !eventMatchesRule(cr.def, evt.EventType) {
				continue
			}
			if err := s.processExecution(ctx, cr, evt.Ref, evtCtx, summary); err != nil {
				return err
			}
		}
	}

	return s.advanceCursor(ctx, cursor, events[len(events)-1].ID)
}

func eventMatchesRule(def *rules.Definition, eventType string) bool {
	for _, t := range def.Triggers {
		if t.Type != rules.TriggerEventlog {
			continue
		}
		for _, et := range t.EventTypes {
			if et == eventType {
				return true
			}
		}
	}
	return false
}

func (s *AutomationService) runCron(ctx context.Context, tenantID string) (*RunSummary, error) {
	summary := &RunSummary{}
	compiled, err := s.loadCompiledRules(ctx, tenantID, rules.TriggerCron)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	for _, cr := range compiled {
		due := false
		for _, t := range cr.def.Triggers {
			if t.Type != rules.TriggerCron {
				continue
			}
			schedule, err := rules.ParseCron(t.Schedule)
			if err != nil {
				continue // validated on write; unreachable for stored rules
			}
			if schedule.DueAt(now) {
				due = true
				break
			}
		}
		if !due {
			continue
		}
		triggerRef := rules.CronTriggerRef(cr.rule.ID, now)
		evtCtx := map[string]interface{}{
			"event_type": "cron.tick",
			"ref":        triggerRef,
			"source":     "cron",
		}
		if err := s.processExecution(ctx, cr, triggerRef, evtCtx, summary); err != nil {
			return summary, err
		}
	}
	return summary, nil
}

// processExecution runs the per-pair pipeline: claim the idempotency key,
// check the rate budget, evaluate conditions, dispatch actions, finalize
// the log row. Only infrastructure failures propagate as errors.
func (s *AutomationService) processExecution(ctx context.Context, cr compiledRule, triggerRef string, evtCtx map[string]interface{}, summary *RunSummary) error {
	claimed, err := s.claimExecution(ctx, cr.rule.TenantID, cr.rule.ID, triggerRef)
	if err != nil {
		return err
	}
	if !claimed {
		summary.Skipped++
		return nil
	}
	summary.Evaluated++

	outcome := s.executeClaimed(ctx, cr, triggerRef, evtCtx)
	if err := s.finalizeExecution(ctx, cr.rule.TenantID, cr.rule.ID, triggerRef, outcome); err != nil {
		return err
	}
	summary.count(outcome.Status)
	return nil
}

func (s *AutomationService) executeClaimed(ctx context.Context, cr compiledRule, triggerRef string, evtCtx map[string]interface{}) Outcome {
	limited, err := s.rateLimited(ctx, &cr.rule)
	if err != nil {
		return transientOutcome("storage", err.Error())
	}
	if limited {
		return Outcome{
			Status: models.OutcomeRateLimited,
			Detail: fmt.Sprintf("rule exceeded %d executions per minute", s.maxPerMinute(&cr.rule)),
		}
	}

	for _, cond := range cr.def.Conditions {
		if !rules.Evaluate(cond, evtCtx) {
			return Outcome{Status: models.OutcomeConditionFalse}
		}
	}

	return s.dispatchActions(ctx, cr, triggerRef, evtCtx)
}

// dispatchActions runs the configured actions in declared order. The rule
// outcome is the first error encountered, else action_pending if anything
// was staged, else ok.
func (s *AutomationService) dispatchActions(ctx context.Context, cr compiledRule, triggerRef string, evtCtx map[string]interface{}) Outcome {
	var firstError *Outcome
	anyPending := false
	details := make([]string, 0, len(cr.def.Actions))
	for _, action := range cr.def.Actions {
		out := s.executor.Dispatch(ctx, &cr.rule, action, evtCtx, triggerRef)
		details = append(details, fmt.Sprintf("%s: %s", action.Type, out.Status))
		if out.IsError() && firstError == nil {
			copied := out
			firstError = &copied
		}
		if out.Status == models.OutcomeActionPending {
			anyPending = true
		}
	}
	detail := strings.Join(details, "; ")
	switch {
	case firstError != nil:
		return Outcome{Status: firstError.Status, Detail: detail}
	case anyPending:
		return Outcome{Status: models.OutcomeActionPending, Detail: detail}
	default:
		return Outcome{Status: models.OutcomeOK, Detail: detail}
	}
}

// claimExecution inserts the execution-log row as an atomic claim on the
// (tenant, rule, trigger_ref) key. Losing the unique-constraint race means
// another invocation already owns this pair.
func (s *AutomationService) claimExecution(ctx context.Context, tenantID string, ruleID uint, triggerRef string) (bool, error) {
	row := &models.ExecutionLog{
		TenantID:   tenantID,
		RuleID:     ruleID,
		TriggerRef: triggerRef,
		Outcome:    models.OutcomeClaimed,
		CreatedAt:  time.Now(),
	}
	err := s.db.WithContext(ctx).Create(row).Error
	if err == nil {
		return true, nil
	}
	if isDuplicateKey(err) {
		return false, nil
	}
	return false, fmt.Errorf("claim execution: %w", err)
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (s *AutomationService) finalizeExecution(ctx context.Context, tenantID string, ruleID uint, triggerRef string, out Outcome) error {
	err := s.db.WithContext(ctx).Model(&models.ExecutionLog{}).
		Where("tenant_id = ? AND rule_id = ? AND trigger_ref = ?", tenantID, ruleID, triggerRef).
		Updates(map[string]interface{}{"outcome": out.Status, "detail": out.Detail}).Error
	if err != nil {
		return fmt.Errorf("finalize execution: %w", err)
	}
	metrics.RuleExecutions.WithLabelValues(metrics.OutcomeClass(out.Status)).Inc()
	return nil
}

func (s *AutomationService) maxPerMinute(rule *models.AutomationRule) int {
	if rule.MaxPerMinute > 0 {
		return rule.MaxPerMinute
	}
	return s.defaultLimit
}

// rateLimited counts the rule's dispatched executions in the trailing
// 60-second window. Skipped duplicates, claims in flight and condition
// misses do not consume budget.
func (s *AutomationService) rateLimited(ctx context.Context, rule *models.AutomationRule) (bool, error) {
	windowStart := time.Now().Add(-60 * time.Second)
	var count int64
	err := s.db.WithContext(ctx).Model(&models.ExecutionLog{}).
		Where("tenant_id = ? AND rule_id = ? AND created_at > ?", rule.TenantID, rule.ID, windowStart).
		Where("outcome IN ? OR outcome LIKE 'error_%'", []string{models.OutcomeOK, models.OutcomeActionPending}).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count >= int64(s.maxPerMinute(rule)), nil
}

func (s *AutomationService) loadCursor(ctx context.Context, tenantID, source string) (*models.EventCursor, error) {
	var cursor models.EventCursor
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND source = ?", tenantID, source).
		First(&cursor).Error
	if err == gorm.ErrRecordNotFound {
		cursor = models.EventCursor{TenantID: tenantID, Source: source, Position: 0}
		if err := s.db.WithContext(ctx).Create(&cursor).Error; err != nil {
			return nil, fmt.Errorf("create cursor: %w", err)
		}
		return &cursor, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load cursor: %w", err)
	}
	return &cursor, nil
}

func (s *AutomationService) advanceCursor(ctx context.Context, cursor *models.EventCursor, position uint) error {
	err := s.db.WithContext(ctx).Model(cursor).
		Updates(map[string]interface{}{"position": position, "updated_at": time.Now()}).Error
	if err != nil {
		return fmt.Errorf("advance cursor: %w", err)
	}
	return nil
}

// StartCronLoop runs the scheduler: every tick it visits each tenant with
// enabled rules, fires due cron triggers through the same synchronous Run
// entry point and expires stale pending actions. It blocks until ctx is
// cancelled.
func (s *AutomationService) StartCronLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	s.logger.Infof("automation: cron loop started (interval %s)", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("automation: cron loop stopped")
			return
		case <-ticker.C:
			s.cronTick(ctx)
		}
	}
}

func (s *AutomationService) cronTick(ctx context.Context) {
	tenants, err := s.tenantsWithEnabledRules(ctx)
	if err != nil {
		s.logger.Errorf("automation: cron tick: %v", err)
		return
	}
	for _, tenant := range tenants {
		if _, err := s.Run(ctx, tenant, rules.TriggerCron); err != nil {
			s.logger.Errorf("automation: cron run for tenant %s: %v", tenant, err)
		}
	}
	if _, err := s.pending.ExpireStale(ctx, ""); err != nil {
		s.logger.Errorf("automation: expire pending: %v", err)
	}
}
