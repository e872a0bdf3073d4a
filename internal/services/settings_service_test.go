package services

import (
	"context"
	"testing"
	"time"

	"kontor/internal/models"
)

func TestWebhookDomainsFailClosed(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	if domains := f.settings.WebhookDomains(ctx, "t1"); domains != nil {
		t.Errorf("tenant without settings must have an empty allow-list, got %v", domains)
	}

	f.db.Create(&models.TenantSettings{TenantID: "t2", WebhookDomains: "not json"})
	if domains := f.settings.WebhookDomains(ctx, "t2"); domains != nil {
		t.Errorf("unreadable allow-list must fail closed, got %v", domains)
	}
}

func TestSetWebhookDomains(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	if err := f.settings.SetWebhookDomains(ctx, "t1", []string{"hooks.example.com"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	domains := f.settings.WebhookDomains(ctx, "t1")
	if len(domains) != 1 || domains[0] != "hooks.example.com" {
		t.Errorf("unexpected allow-list %v", domains)
	}

	// Replace, not append.
	if err := f.settings.SetWebhookDomains(ctx, "t1", []string{"api.example.org"}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	domains = f.settings.WebhookDomains(ctx, "t1")
	if len(domains) != 1 || domains[0] != "api.example.org" {
		t.Errorf("unexpected allow-list after replace %v", domains)
	}
}

func TestPendingTTLOverride(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	if ttl := f.settings.PendingTTL(ctx, "t1"); ttl != 48*time.Hour {
		t.Errorf("default TTL expected, got %s", ttl)
	}
	f.db.Create(&models.TenantSettings{TenantID: "t2", PendingTTLHours: 6})
	if ttl := f.settings.PendingTTL(ctx, "t2"); ttl != 6*time.Hour {
		t.Errorf("tenant override expected, got %s", ttl)
	}
}

func TestFeatureEnabled(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.db.Create(&models.TenantSettings{TenantID: "t1", FeatureFlags: `{"automation_beta":true}`})

	if !f.settings.FeatureEnabled(ctx, "t1", "automation_beta") {
		t.Error("flag should be on")
	}
	if f.settings.FeatureEnabled(ctx, "t1", "other") {
		t.Error("unknown flag should be off")
	}
	if f.settings.FeatureEnabled(ctx, "t2", "automation_beta") {
		t.Error("tenant without settings has no flags")
	}
}
