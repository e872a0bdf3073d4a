package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"kontor/internal/models"
	"kontor/internal/rules"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// AutomationService owns rule configuration and orchestrates the runner
// (see runner.go). Rules are tenant-scoped and soft-retired: disabling a
// rule is the supported removal path so its execution history stays intact.
type AutomationService struct {
	db           *gorm.DB
	logger       *logrus.Logger
	events       *EventService
	executor     *ActionExecutor
	pending      *PendingService
	batchSize    int
	defaultLimit int
}

func NewAutomationService(db *gorm.DB, logger *logrus.Logger, events *EventService, executor *ActionExecutor, pending *PendingService, batchSize, defaultMaxPerMinute int) *AutomationService {
	if logger == nil {
		logger = logrus.New()
	}
	if batchSize <= 0 {
		batchSize = 200
	}
	if defaultMaxPerMinute <= 0 {
		defaultMaxPerMinute = 10
	}
	return &AutomationService{
		db:           db,
		logger:       logger,
		events:       events,
		executor:     executor,
		pending:      pending,
		batchSize:    batchSize,
		defaultLimit: defaultMaxPerMinute,
	}
}

// RuleRequest is the write payload for creating or updating a rule.
type RuleRequest struct {
	Name         string            `json:"name" binding:"required"`
	Description  string            `json:"description"`
	Enabled      *bool             `json:"is_enabled"`
	MaxPerMinute int               `json:"max_executions_per_minute"`
	Triggers     []rules.Trigger   `json:"triggers" binding:"required"`
	Conditions   []rules.Condition `json:"conditions"`
	Actions      []rules.Action    `json:"actions" binding:"required"`
}

func (s *AutomationService) marshalDefinition(req *RuleRequest) (triggers, conditions, actions string, err error) {
	def := rules.Definition{Triggers: req.Triggers, Conditions: req.Conditions, Actions: req.Actions}
	if err = rules.ValidateDefinition(&def); err != nil {
		return "", "", "", err
	}
	t, err := json.Marshal(req.Triggers)
	if err != nil {
		return "", "", "", fmt.Errorf("invalid triggers: %w", err)
	}
	c, err := json.Marshal(req.Conditions)
	if err != nil {
		return "", "", "", fmt.Errorf("invalid conditions: %w", err)
	}
	a, err := json.Marshal(req.Actions)
	if err != nil {
		return "", "", "", fmt.Errorf("invalid actions: %w", err)
	}
	return string(t), string(c), string(a), nil
}

// CreateRule validates and persists a new rule.
func (s *AutomationService) CreateRule(ctx context.Context, tenantID string, req *RuleRequest) (*models.AutomationRule, error) {
	if req == nil {
		return nil, fmt.Errorf("request required")
	}
	triggers, conditions, actions, err := s.marshalDefinition(req)
	if err != nil {
		return nil, err
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	maxPerMinute := req.MaxPerMinute
	if maxPerMinute <= 0 {
		maxPerMinute = s.defaultLimit
	}
	rule := &models.AutomationRule{
		TenantID:     tenantID,
		Name:         req.Name,
		Description:  req.Description,
		Enabled:      enabled,
		Triggers:     triggers,
		Conditions:   conditions,
		Actions:      actions,
		MaxPerMinute: maxPerMinute,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(rule).Error; err != nil {
		return nil, err
	}
	return rule, nil
}

// UpdateRule replaces the definition of an existing rule.
func (s *AutomationService) UpdateRule(ctx context.Context, tenantID string, id uint, req *RuleRequest) (*models.AutomationRule, error) {
	rule, err := s.GetRule(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	triggers, conditions, actions, err := s.marshalDefinition(req)
	if err != nil {
		return nil, err
	}
	updates := map[string]interface{}{
		"name":        req.Name,
		"description": req.Description,
		"triggers":    triggers,
		"conditions":  conditions,
		"actions":     actions,
		"updated_at":  time.Now(),
	}
	if req.Enabled != nil {
		updates["enabled"] = *req.Enabled
	}
	if req.MaxPerMinute > 0 {
		updates["max_per_minute"] = req.MaxPerMinute
	}
	if err := s.db.WithContext(ctx).Model(rule).Updates(updates).Error; err != nil {
		return nil, err
	}
	return s.GetRule(ctx, tenantID, id)
}

// ListRules returns a tenant's rules, newest first.
func (s *AutomationService) ListRules(ctx context.Context, tenantID string) ([]models.AutomationRule, error) {
	var ruleRows []models.AutomationRule
	err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("id DESC").
		Find(&ruleRows).Error
	if err != nil {
		return nil, err
	}
	return ruleRows, nil
}

// GetRule loads one rule scoped to the tenant.
func (s *AutomationService) GetRule(ctx context.Context, tenantID string, id uint) (*models.AutomationRule, error) {
	var rule models.AutomationRule
	err := s.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		First(&rule).Error
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

// SetEnabled flips a rule on or off. There is no hard delete.
func (s *AutomationService) SetEnabled(ctx context.Context, tenantID string, id uint, enabled bool) error {
	result := s.db.WithContext(ctx).Model(&models.AutomationRule{}).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		Updates(map[string]interface{}{"enabled": enabled, "updated_at": time.Now()})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ExportRule serializes a rule into the interchange document.
func (s *AutomationService) ExportRule(ctx context.Context, tenantID string, id uint) (*rules.Export, error) {
	rule, err := s.GetRule(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	def, err := rules.ParseDefinition(rule.Triggers, rule.Conditions, rule.Actions)
	if err != nil {
		return nil, fmt.Errorf("rule %d has an invalid stored definition: %w", id, err)
	}
	return &rules.Export{
		Schema:       rules.ExportSchema,
		Name:         rule.Name,
		Description:  rule.Description,
		Enabled:      rule.Enabled,
		MaxPerMinute: rule.MaxPerMinute,
		Triggers:     def.Triggers,
		Conditions:   def.Conditions,
		Actions:      def.Actions,
	}, nil
}

// ImportRule validates an exported document strictly and persists it. The
// imported rule always starts disabled, whatever the document claims.
func (s *AutomationService) ImportRule(ctx context.Context, tenantID string, data []byte) (*models.AutomationRule, error) {
	exp, err := rules.ParseImport(data)
	if err != nil {
		return nil, err
	}
	disabled := false
	req := &RuleRequest{
		Name:         exp.Name,
		Description:  exp.Description,
		Enabled:      &disabled,
		MaxPerMinute: exp.MaxPerMinute,
		Triggers:     exp.Triggers,
		Conditions:   exp.Conditions,
		Actions:      exp.Actions,
	}
	rule, err := s.CreateRule(ctx, tenantID, req)
	if err != nil {
		return nil, err
	}
	s.logger.Infof("automation: imported rule %d (%s) for tenant %s, disabled", rule.ID, rule.Name, tenantID)
	return rule, nil
}

// tenantsWithEnabledRules lists tenants the cron loop must visit.
func (s *AutomationService) tenantsWithEnabledRules(ctx context.Context) ([]string, error) {
	var tenants []string
	err := s.db.WithContext(ctx).Model(&models.AutomationRule{}).
		Where("enabled = ?", true).
		Distinct("tenant_id").
		Pluck("tenant_id", &tenants).Error
	if err != nil {
		return nil, err
	}
	return tenants, nil
}
