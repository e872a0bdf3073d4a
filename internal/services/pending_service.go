package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"kontor/internal/metrics"
	"kontor/internal/models"
	"kontor/internal/rules"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Confirm flow errors. Expired and replayed confirmations are distinct
// failures so operators can tell a stale link from a double-spend attempt.
var (
	ErrPendingNotFound = errors.New("pending action not found")
	ErrAckRequired     = errors.New("explicit acknowledgement is required")
	ErrExpired         = errors.New("pending action has expired")
	ErrReplay          = errors.New("confirm token invalid or already consumed")
)

// PendingService drives the pending-action state machine:
// pending -> confirmed | expired | rejected, all transitions one-way.
type PendingService struct {
	db       *gorm.DB
	logger   *logrus.Logger
	executor *ActionExecutor
}

func NewPendingService(db *gorm.DB, logger *logrus.Logger, executor *ActionExecutor) *PendingService {
	if logger == nil {
		logger = logrus.New()
	}
	return &PendingService{db: db, logger: logger, executor: executor}
}

// Confirm consumes the one-time token and, on success, executes the staged
// effect synchronously. The token claim is a single conditional update, so
// concurrent confirm attempts resolve to exactly one execution; the losers
// get ErrReplay.
func (s *PendingService) Confirm(ctx context.Context, tenantID string, pendingID uint, token string, ack bool) (*models.PendingAction, Outcome, error) {
	if !ack {
		return nil, Outcome{}, ErrAckRequired
	}
	if token == "" {
		return nil, Outcome{}, ErrReplay
	}

	now := time.Now()
	claim := s.db.WithContext(ctx).Model(&models.PendingAction{}).
		Where("id = ? AND tenant_id = ? AND status = ? AND confirm_token = ? AND expires_at > ?",
			pendingID, tenantID, models.PendingStatusPending, token, now).
		Updates(map[string]interface{}{
			"status":      models.PendingStatusConfirmed,
			"resolved_at": now,
		})
	if claim.Error != nil {
		return nil, Outcome{}, fmt.Errorf("confirm claim: %w", claim.Error)
	}
	if claim.RowsAffected == 0 {
		return nil, Outcome{}, s.classifyFailedClaim(ctx, tenantID, pendingID)
	}

	var pending models.PendingAction
	if err := s.db.WithContext(ctx).Where("id = ? AND tenant_id = ?", pendingID, tenantID).First(&pending).Error; err != nil {
		return nil, Outcome{}, fmt.Errorf("load confirmed action: %w", err)
	}

	var action rules.Action
	if err := json.Unmarshal([]byte(pending.ActionJSON), &action); err != nil {
		out := permanentOutcome("invalid_action", "stored action snapshot is unreadable")
		s.logOutcome(ctx, &pending, out)
		return &pending, out, nil
	}

	out := s.executor.ExecuteEffect(ctx, pending.TenantID, pending.RuleID, action, nil, pending.TriggerRef)
	if out.IsError() {
		s.logger.Warnf("pending: confirmed action %d failed: %s (%s)", pending.ID, out.Status, out.Detail)
	} else {
		out = Outcome{Status: models.OutcomeConfirmed, Detail: out.Detail}
		s.logger.Infof("pending: action %d confirmed and executed", pending.ID)
	}
	s.logOutcome(ctx, &pending, out)
	metrics.PendingConfirmations.WithLabelValues(models.PendingStatusConfirmed).Inc()
	return &pending, out, nil
}

// classifyFailedClaim distinguishes why a claim matched no row. The row is
// re-read outside the claim, which is safe: every competing transition is
// one-way, so whatever state we observe is final or pending.
func (s *PendingService) classifyFailedClaim(ctx context.Context, tenantID string, pendingID uint) error {
	var pending models.PendingAction
	err := s.db.WithContext(ctx).Where("id = ? AND tenant_id = ?", pendingID, tenantID).First(&pending).Error
	if err == gorm.ErrRecordNotFound {
		return ErrPendingNotFound
	}
	if err != nil {
		return fmt.Errorf("load pending action: %w", err)
	}
	switch pending.Status {
	case models.PendingStatusExpired:
		return ErrExpired
	case models.PendingStatusPending:
		if time.Now().After(pending.ExpiresAt) {
			s.markExpired(ctx, pending.ID)
			return ErrExpired
		}
		return ErrReplay // wrong token
	default:
		return ErrReplay // confirmed or rejected: token already spent
	}
}

// Reject moves a pending action to rejected without executing anything.
func (s *PendingService) Reject(ctx context.Context, tenantID string, pendingID uint) error {
	now := time.Now()
	result := s.db.WithContext(ctx).Model(&models.PendingAction{}).
		Where("id = ? AND tenant_id = ? AND status = ?", pendingID, tenantID, models.PendingStatusPending).
		Updates(map[string]interface{}{
			"status":      models.PendingStatusRejected,
			"resolved_at": now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return s.classifyRejectFailure(ctx, tenantID, pendingID)
	}
	metrics.PendingConfirmations.WithLabelValues(models.PendingStatusRejected).Inc()
	return nil
}

func (s *PendingService) classifyRejectFailure(ctx context.Context, tenantID string, pendingID uint) error {
	var pending models.PendingAction
	err := s.db.WithContext(ctx).Where("id = ? AND tenant_id = ?", pendingID, tenantID).First(&pending).Error
	if err == gorm.ErrRecordNotFound {
		return ErrPendingNotFound
	}
	if err != nil {
		return err
	}
	if pending.Status == models.PendingStatusExpired {
		return ErrExpired
	}
	return ErrReplay
}

// ExpireStale is the housekeeping pass: every pending row past its expiry
// moves to expired with no effect executed. Called from the cron loop and
// safe to run at any time.
func (s *PendingService) ExpireStale(ctx context.Context, tenantID string) (int64, error) {
	now := time.Now()
	query := s.db.WithContext(ctx).Model(&models.PendingAction{}).
		Where("status = ? AND expires_at <= ?", models.PendingStatusPending, now)
	if tenantID != "" {
		query = query.Where("tenant_id = ?", tenantID)
	}
	result := query.Updates(map[string]interface{}{
		"status":      models.PendingStatusExpired,
		"resolved_at": now,
	})
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected > 0 {
		s.logger.Infof("pending: expired %d stale actions", result.RowsAffected)
		metrics.PendingConfirmations.WithLabelValues(models.PendingStatusExpired).Add(float64(result.RowsAffected))
	}
	return result.RowsAffected, nil
}

func (s *PendingService) markExpired(ctx context.Context, pendingID uint) {
	now := time.Now()
	err := s.db.WithContext(ctx).Model(&models.PendingAction{}).
		Where("id = ? AND status = ?", pendingID, models.PendingStatusPending).
		Updates(map[string]interface{}{
			"status":      models.PendingStatusExpired,
			"resolved_at": now,
		}).Error
	if err != nil {
		s.logger.Warnf("pending: lazy expiry of %d failed: %v", pendingID, err)
	}
}

// List returns a tenant's pending actions, optionally filtered by status,
// newest first.
func (s *PendingService) List(ctx context.Context, tenantID, status string) ([]models.PendingAction, error) {
	query := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var pending []models.PendingAction
	if err := query.Order("id DESC").Find(&pending).Error; err != nil {
		return nil, err
	}
	return pending, nil
}

// logOutcome appends the confirm result to the execution log. The trigger
// reference is derived from the pending id, so repeated confirms of the
// same action cannot produce duplicate rows.
func (s *PendingService) logOutcome(ctx context.Context, pending *models.PendingAction, out Outcome) {
	row := &models.ExecutionLog{
		TenantID:   pending.TenantID,
		RuleID:     pending.RuleID,
		TriggerRef: fmt.Sprintf("confirm:%d", pending.ID),
		Outcome:    out.Status,
		Detail:     out.Detail,
		CreatedAt:  time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		s.logger.Warnf("pending: record confirm outcome failed: %v", err)
	}
	metrics.RuleExecutions.WithLabelValues(metrics.OutcomeClass(out.Status)).Inc()
}
