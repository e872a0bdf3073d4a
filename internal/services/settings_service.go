package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"kontor/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// SettingsService reads and writes per-tenant engine configuration: the
// webhook domain allow-list, the pending-action expiry window and feature
// flags.
type SettingsService struct {
	db         *gorm.DB
	logger     *logrus.Logger
	defaultTTL time.Duration
}

func NewSettingsService(db *gorm.DB, logger *logrus.Logger, defaultTTL time.Duration) *SettingsService {
	if logger == nil {
		logger = logrus.New()
	}
	if defaultTTL <= 0 {
		defaultTTL = 48 * time.Hour
	}
	return &SettingsService{db: db, logger: logger, defaultTTL: defaultTTL}
}

func (s *SettingsService) load(ctx context.Context, tenantID string) (*models.TenantSettings, error) {
	var settings models.TenantSettings
	err := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).First(&settings).Error
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

// WebhookDomains returns the tenant's exact-match host allow-list. A tenant
// without settings, or with an empty list, gets nil: webhooks fail closed.
func (s *SettingsService) WebhookDomains(ctx context.Context, tenantID string) []string {
	settings, err := s.load(ctx, tenantID)
	if err != nil {
		if err != gorm.ErrRecordNotFound {
			s.logger.Warnf("settings: load for tenant %s failed: %v", tenantID, err)
		}
		return nil
	}
	if settings.WebhookDomains == "" {
		return nil
	}
	var domains []string
	if err := json.Unmarshal([]byte(settings.WebhookDomains), &domains); err != nil {
		s.logger.Warnf("settings: invalid webhook domain list for tenant %s: %v", tenantID, err)
		return nil
	}
	return domains
}

// PendingTTL returns the tenant's pending-action expiry window, falling back
// to the configured default.
func (s *SettingsService) PendingTTL(ctx context.Context, tenantID string) time.Duration {
	settings, err := s.load(ctx, tenantID)
	if err != nil || settings.PendingTTLHours <= 0 {
		return s.defaultTTL
	}
	return time.Duration(settings.PendingTTLHours) * time.Hour
}

// FeatureEnabled reports a per-tenant feature flag; unknown flags are off.
func (s *SettingsService) FeatureEnabled(ctx context.Context, tenantID, flag string) bool {
	settings, err := s.load(ctx, tenantID)
	if err != nil || settings.FeatureFlags == "" {
		return false
	}
	var flags map[string]bool
	if err := json.Unmarshal([]byte(settings.FeatureFlags), &flags); err != nil {
		return false
	}
	return flags[flag]
}

// SetWebhookDomains replaces the tenant's webhook allow-list.
func (s *SettingsService) SetWebhookDomains(ctx context.Context, tenantID string, domains []string) error {
	raw, err := json.Marshal(domains)
	if err != nil {
		return fmt.Errorf("invalid domain list: %w", err)
	}
	settings, err := s.load(ctx, tenantID)
	if err == gorm.ErrRecordNotFound {
		settings = &models.TenantSettings{TenantID: tenantID, WebhookDomains: string(raw)}
		return s.db.WithContext(ctx).Create(settings).Error
	}
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Model(settings).Update("webhook_domains", string(raw)).Error
}
