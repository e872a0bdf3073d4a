package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"kontor/internal/metrics"
	"kontor/internal/models"
	"kontor/internal/rules"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// MailSender hands a stored draft to the outbound mail backend. It is only
// invoked after a pending email_send action was confirmed.
type MailSender interface {
	SendMail(ctx context.Context, tenantID, accountID string, draftID uint) error
}

// LocalMailSender is the local-first default: it flips the draft row to
// "sent" and leaves actual SMTP delivery to the mail connector module.
type LocalMailSender struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewLocalMailSender(db *gorm.DB, logger *logrus.Logger) *LocalMailSender {
	if logger == nil {
		logger = logrus.New()
	}
	return &LocalMailSender{db: db, logger: logger}
}

func (s *LocalMailSender) SendMail(ctx context.Context, tenantID, accountID string, draftID uint) error {
	result := s.db.WithContext(ctx).Model(&models.MailDraft{}).
		Where("id = ? AND tenant_id = ? AND status = ?", draftID, tenantID, "draft").
		Update("status", "sent")
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("draft %d not found or already sent", draftID)
	}
	s.logger.Infof("mail: queued draft %d for account %s", draftID, accountID)
	return nil
}

// ActionExecutor maps an allow-listed action to either an immediate effect
// or a staged pending action. Destructive action types never execute
// directly; they synthesize a PendingAction row and wait for confirmation.
type ActionExecutor struct {
	db       *gorm.DB
	logger   *logrus.Logger
	settings *SettingsService
	webhooks *WebhookClient
	sender   MailSender
}

func NewActionExecutor(db *gorm.DB, logger *logrus.Logger, settings *SettingsService, webhooks *WebhookClient, sender MailSender) *ActionExecutor {
	if logger == nil {
		logger = logrus.New()
	}
	return &ActionExecutor{db: db, logger: logger, settings: settings, webhooks: webhooks, sender: sender}
}

// Dispatch runs one configured action for one rule execution. The returned
// outcome is always a reason code; panics and unexpected errors are caught
// here so a single bad action can never take down a runner batch.
func (e *ActionExecutor) Dispatch(ctx context.Context, rule *models.AutomationRule, action rules.Action, evtCtx map[string]interface{}, triggerRef string) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Errorf("executor: panic in action %s of rule %d: %v", action.Type, rule.ID, r)
			out = permanentOutcome("panic", fmt.Sprintf("action %s failed unexpectedly", action.Type))
		}
		metrics.ActionsDispatched.WithLabelValues(action.Type, metrics.OutcomeClass(out.Status)).Inc()
	}()

	if rules.IsConfirmGated(action.Type) || action.RequiresConfirm {
		// Recipient problems are configuration errors; surface them now
		// instead of staging a pending action that can only fail later.
		if needsRecipient(action.Type) {
			if out := e.checkRecipient(ctx, rule.TenantID, action); out.IsError() {
				return out
			}
		}
		return e.stagePending(ctx, rule, action, triggerRef)
	}
	return e.ExecuteEffect(ctx, rule.TenantID, rule.ID, action, evtCtx, triggerRef)
}

// ExecuteEffect performs the business effect of an action. It runs directly
// for non-gated actions and from the confirm flow for staged ones.
func (e *ActionExecutor) ExecuteEffect(ctx context.Context, tenantID string, ruleID uint, action rules.Action, evtCtx map[string]interface{}, triggerRef string) Outcome {
	switch action.Type {
	case rules.ActionCreateTask:
		task := &models.Task{
			TenantID:    tenantID,
			Title:       paramString(action, "title"),
			Description: paramString(action, "description"),
		}
		if task.Title == "" {
			return permanentOutcome("invalid_action", "create_task needs a title param")
		}
		if err := e.db.WithContext(ctx).Create(task).Error; err != nil {
			return transientOutcome("storage", err.Error())
		}
		return okOutcome(fmt.Sprintf("task %d created", task.ID))

	case rules.ActionCreateFollowup:
		followup := &models.FollowUp{
			TenantID:   tenantID,
			ContactRef: paramString(action, "contact_ref"),
			Note:       paramString(action, "note"),
		}
		if followup.Note == "" {
			return permanentOutcome("invalid_action", "create_followup needs a note param")
		}
		if err := e.db.WithContext(ctx).Create(followup).Error; err != nil {
			return transientOutcome("storage", err.Error())
		}
		return okOutcome(fmt.Sprintf("follow-up %d created", followup.ID))

	case rules.ActionEmailDraft, rules.ActionCreatePostfachDraft:
		if out := e.checkRecipient(ctx, tenantID, action); out.IsError() {
			return out
		}
		draft, out := e.createDraft(ctx, tenantID, action)
		if out.IsError() {
			return out
		}
		return okOutcome(fmt.Sprintf("draft %d created", draft.ID))

	case rules.ActionEmailSend:
		if out := e.checkRecipient(ctx, tenantID, action); out.IsError() {
			return out
		}
		draft, out := e.createDraft(ctx, tenantID, action)
		if out.IsError() {
			return out
		}
		if err := e.sender.SendMail(ctx, tenantID, paramString(action, "account_id"), draft.ID); err != nil {
			return transientOutcome("mail_backend", err.Error())
		}
		return okOutcome(fmt.Sprintf("draft %d sent", draft.ID))

	case rules.ActionWebhook:
		allowed := e.settings.WebhookDomains(ctx, tenantID)
		payload := map[string]interface{}{
			"rule_id":     ruleID,
			"trigger_ref": triggerRef,
			"event":       evtCtx,
		}
		return e.webhooks.Deliver(ctx, paramString(action, "url"), allowed, payload)

	default:
		return permanentOutcome("unknown_action", fmt.Sprintf("unsupported action type %q", action.Type))
	}
}

func (e *ActionExecutor) createDraft(ctx context.Context, tenantID string, action rules.Action) (*models.MailDraft, Outcome) {
	draft := &models.MailDraft{
		TenantID:  tenantID,
		AccountID: paramString(action, "account_id"),
		Recipient: paramString(action, "recipient"),
		Subject:   paramString(action, "subject"),
		Body:      paramString(action, "body"),
	}
	if err := e.db.WithContext(ctx).Create(draft).Error; err != nil {
		return nil, transientOutcome("storage", err.Error())
	}
	return draft, Outcome{Status: models.OutcomeOK}
}

// checkRecipient validates the action's recipient against the tenant's CRM
// contacts (by reference or email address).
func (e *ActionExecutor) checkRecipient(ctx context.Context, tenantID string, action rules.Action) Outcome {
	recipient := paramString(action, "recipient")
	if recipient == "" {
		return permanentOutcome("recipient_not_found", "no recipient configured")
	}
	var count int64
	err := e.db.WithContext(ctx).Model(&models.Contact{}).
		Where("tenant_id = ? AND (ref = ? OR email = ?)", tenantID, recipient, recipient).
		Count(&count).Error
	if err != nil {
		return transientOutcome("storage", err.Error())
	}
	if count == 0 {
		return permanentOutcome("recipient_not_found", fmt.Sprintf("recipient %q is not a known contact", recipient))
	}
	return Outcome{Status: models.OutcomeOK}
}

// stagePending snapshots the action and parks it behind a one-time confirm
// token.
func (e *ActionExecutor) stagePending(ctx context.Context, rule *models.AutomationRule, action rules.Action, triggerRef string) Outcome {
	snapshot, err := json.Marshal(action)
	if err != nil {
		return permanentOutcome("invalid_action", err.Error())
	}
	pending := &models.PendingAction{
		TenantID:     rule.TenantID,
		RuleID:       rule.ID,
		TriggerRef:   triggerRef,
		ActionJSON:   string(snapshot),
		ConfirmToken: uuid.NewString(),
		Status:       models.PendingStatusPending,
		CreatedAt:    time.Now(),
		ExpiresAt:    time.Now().Add(e.settings.PendingTTL(ctx, rule.TenantID)),
	}
	if err := e.db.WithContext(ctx).Create(pending).Error; err != nil {
		return transientOutcome("storage", err.Error())
	}
	e.logger.Infof("executor: staged %s action as pending %d for rule %d", action.Type, pending.ID, rule.ID)
	return pendingOutcome(fmt.Sprintf("pending action %d awaits confirmation", pending.ID))
}

func needsRecipient(actionType string) bool {
	switch actionType {
	case rules.ActionEmailDraft, rules.ActionEmailSend, rules.ActionCreatePostfachDraft:
		return true
	}
	return false
}

func paramString(a rules.Action, key string) string {
	s, _ := a.Params[key].(string)
	return s
}
