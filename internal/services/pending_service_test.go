package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"kontor/internal/models"
	"kontor/internal/rules"
)

// stageFollowup runs a confirm-flagged create_followup rule against one event
// and returns the staged pending action.
func stageFollowup(t *testing.T, f *engineFixture, tenantID string) *models.PendingAction {
	t.Helper()
	ctx := context.Background()
	f.createRule(t, tenantID, &RuleRequest{
		Name:     "follow up on mail",
		Triggers: []rules.Trigger{{Type: rules.TriggerEventlog, EventTypes: []string{"email.received"}}},
		Conditions: []rules.Condition{
			{Op: rules.OpEquals, Field: "from_domain", Value: "example.com"},
		},
		Actions: []rules.Action{
			{
				Type:            rules.ActionCreateFollowup,
				RequiresConfirm: true,
				Params:          map[string]interface{}{"note": "call back", "contact_ref": "c-1"},
			},
		},
	})
	f.appendEvent(t, tenantID, "mail", "email.received", "m-1", map[string]interface{}{"from_domain": "example.com"})

	summary, err := f.automation.Run(ctx, tenantID, rules.TriggerEventlog)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Pending != 1 {
		t.Fatalf("expected a staged action, got %+v", summary)
	}

	var pending models.PendingAction
	if err := f.db.Where("tenant_id = ?", tenantID).First(&pending).Error; err != nil {
		t.Fatalf("load pending action: %v", err)
	}
	return &pending
}

func TestConfirmExecutesStagedAction(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	pending := stageFollowup(t, f, "t1")

	resolved, out, err := f.pending.Confirm(ctx, "t1", pending.ID, pending.ConfirmToken, true)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if resolved.Status != models.PendingStatusConfirmed {
		t.Errorf("expected confirmed, got %q", resolved.Status)
	}
	if out.Status != models.OutcomeConfirmed {
		t.Errorf("expected confirmed outcome, got %q", out.Status)
	}

	var followups []models.FollowUp
	f.db.Find(&followups)
	if len(followups) != 1 || followups[0].Note != "call back" {
		t.Fatalf("expected the follow-up to exist after confirm, got %+v", followups)
	}

	var log models.ExecutionLog
	ref := fmt.Sprintf("confirm:%d", pending.ID)
	if err := f.db.Where("trigger_ref = ?", ref).First(&log).Error; err != nil {
		t.Fatalf("load confirm log: %v", err)
	}
	if log.Outcome != models.OutcomeConfirmed {
		t.Errorf("confirm log outcome %q", log.Outcome)
	}
}

func TestConfirmTokenIsSingleUse(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	pending := stageFollowup(t, f, "t1")

	if _, _, err := f.pending.Confirm(ctx, "t1", pending.ID, pending.ConfirmToken, true); err != nil {
		t.Fatalf("first confirm: %v", err)
	}
	_, _, err := f.pending.Confirm(ctx, "t1", pending.ID, pending.ConfirmToken, true)
	if !errors.Is(err, ErrReplay) {
		t.Errorf("second confirm should be ErrReplay, got %v", err)
	}

	var count int64
	f.db.Model(&models.FollowUp{}).Count(&count)
	if count != 1 {
		t.Errorf("replay must not execute the effect again, got %d follow-ups", count)
	}
}

func TestConfirmRequiresAck(t *testing.T) {
	f := newEngineFixture(t)
	pending := stageFollowup(t, f, "t1")

	_, _, err := f.pending.Confirm(context.Background(), "t1", pending.ID, pending.ConfirmToken, false)
	if !errors.Is(err, ErrAckRequired) {
		t.Errorf("expected ErrAckRequired, got %v", err)
	}

	var row models.PendingAction
	f.db.First(&row, pending.ID)
	if row.Status != models.PendingStatusPending {
		t.Error("missing ack must leave the action pending")
	}
}

func TestConfirmWrongToken(t *testing.T) {
	f := newEngineFixture(t)
	pending := stageFollowup(t, f, "t1")

	_, _, err := f.pending.Confirm(context.Background(), "t1", pending.ID, "not-the-token", true)
	if !errors.Is(err, ErrReplay) {
		t.Errorf("expected ErrReplay, got %v", err)
	}
}

func TestConfirmUnknownAction(t *testing.T) {
	f := newEngineFixture(t)
	_, _, err := f.pending.Confirm(context.Background(), "t1", 999, "token", true)
	if !errors.Is(err, ErrPendingNotFound) {
		t.Errorf("expected ErrPendingNotFound, got %v", err)
	}
}

func TestConfirmIsTenantScoped(t *testing.T) {
	f := newEngineFixture(t)
	pending := stageFollowup(t, f, "t1")

	_, _, err := f.pending.Confirm(context.Background(), "t2", pending.ID, pending.ConfirmToken, true)
	if !errors.Is(err, ErrPendingNotFound) {
		t.Errorf("cross-tenant confirm should be ErrPendingNotFound, got %v", err)
	}
}

func TestConfirmExpired(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	pending := stageFollowup(t, f, "t1")

	f.db.Model(&models.PendingAction{}).Where("id = ?", pending.ID).
		Update("expires_at", time.Now().Add(-time.Hour))

	_, _, err := f.pending.Confirm(ctx, "t1", pending.ID, pending.ConfirmToken, true)
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}

	// The failed confirm lazily settles the row.
	var row models.PendingAction
	f.db.First(&row, pending.ID)
	if row.Status != models.PendingStatusExpired {
		t.Errorf("expected lazy expiry, got %q", row.Status)
	}
	var count int64
	f.db.Model(&models.FollowUp{}).Count(&count)
	if count != 0 {
		t.Error("expired action must not execute")
	}
}

func TestRejectPendingAction(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	pending := stageFollowup(t, f, "t1")

	if err := f.pending.Reject(ctx, "t1", pending.ID); err != nil {
		t.Fatalf("reject: %v", err)
	}
	var row models.PendingAction
	f.db.First(&row, pending.ID)
	if row.Status != models.PendingStatusRejected || row.ResolvedAt == nil {
		t.Errorf("unexpected row after reject %+v", row)
	}

	// Rejected means the token is dead.
	_, _, err := f.pending.Confirm(ctx, "t1", pending.ID, pending.ConfirmToken, true)
	if !errors.Is(err, ErrReplay) {
		t.Errorf("confirm after reject should be ErrReplay, got %v", err)
	}
	if err := f.pending.Reject(ctx, "t1", pending.ID); !errors.Is(err, ErrReplay) {
		t.Errorf("double reject should be ErrReplay, got %v", err)
	}
}

func TestExpireStale(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	stale := stageFollowup(t, f, "t1")
	f.db.Model(&models.PendingAction{}).Where("id = ?", stale.ID).
		Update("expires_at", time.Now().Add(-time.Minute))
	fresh := stageFollowup(t, f, "t2")

	expired, err := f.pending.ExpireStale(ctx, "")
	if err != nil {
		t.Fatalf("expire stale: %v", err)
	}
	if expired != 1 {
		t.Fatalf("expected 1 expired row, got %d", expired)
	}

	var row models.PendingAction
	f.db.First(&row, stale.ID)
	if row.Status != models.PendingStatusExpired {
		t.Errorf("stale row not expired: %q", row.Status)
	}
	row = models.PendingAction{}
	f.db.First(&row, fresh.ID)
	if row.Status != models.PendingStatusPending {
		t.Errorf("fresh row must stay pending: %q", row.Status)
	}
}

func TestListPendingFiltersByStatus(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	pending := stageFollowup(t, f, "t1")
	if err := f.pending.Reject(ctx, "t1", pending.ID); err != nil {
		t.Fatalf("reject: %v", err)
	}

	open, err := f.pending.List(ctx, "t1", models.PendingStatusPending)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(open) != 0 {
		t.Errorf("expected no pending rows, got %d", len(open))
	}
	rejected, err := f.pending.List(ctx, "t1", models.PendingStatusRejected)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rejected) != 1 {
		t.Errorf("expected one rejected row, got %d", len(rejected))
	}
}
