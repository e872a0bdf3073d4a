package rules

import (
	"strings"
	"testing"
	"time"
)

func TestParseCronValid(t *testing.T) {
	schedule, err := ParseCron("0 8 * * 1")
	if err != nil {
		t.Fatalf("ParseCron: %v", err)
	}

	monday := time.Date(2024, 7, 1, 8, 0, 30, 0, time.UTC) // a Monday
	if !schedule.DueAt(monday) {
		t.Error("schedule should fire Monday 08:00 UTC")
	}
	if schedule.DueAt(monday.Add(time.Minute)) {
		t.Error("schedule should not fire at 08:01")
	}
	if schedule.DueAt(monday.AddDate(0, 0, 1)) {
		t.Error("schedule should not fire on Tuesday")
	}
}

func TestParseCronWildcards(t *testing.T) {
	schedule, err := ParseCron("* * * * *")
	if err != nil {
		t.Fatalf("ParseCron: %v", err)
	}
	if !schedule.DueAt(time.Now()) {
		t.Error("all-wildcard schedule should always be due")
	}
}

func TestParseCronLocalTimeNormalizedToUTC(t *testing.T) {
	schedule, err := ParseCron("30 12 * * *")
	if err != nil {
		t.Fatalf("ParseCron: %v", err)
	}
	loc := time.FixedZone("UTC+2", 2*3600)
	local := time.Date(2024, 7, 1, 14, 30, 0, 0, loc) // 12:30 UTC
	if !schedule.DueAt(local) {
		t.Error("DueAt must compare in UTC")
	}
}

func TestParseCronRejectsExtendedSyntax(t *testing.T) {
	invalid := []string{
		"*/15 * * * *",
		"0,30 * * * *",
		"0 9-17 * * *",
		"0 8 * *",
		"0 8 * * 1 2024",
		"60 * * * *",
		"* 24 * * *",
		"* * 0 * *",
		"* * * 13 *",
		"* * * * 7",
		"a * * * *",
		"",
	}
	for _, expr := range invalid {
		if _, err := ParseCron(expr); err == nil {
			t.Errorf("ParseCron(%q) should fail", expr)
		}
	}
}

func TestCronTriggerRef(t *testing.T) {
	at := time.Date(2024, 7, 1, 8, 5, 59, 0, time.UTC)
	ref := CronTriggerRef(7, at)
	if ref != "cron:7:202407010805" {
		t.Errorf("unexpected trigger ref %q", ref)
	}
	// Same minute, different second: same key.
	if ref != CronTriggerRef(7, at.Add(-30*time.Second)) {
		t.Error("trigger ref must have minute granularity")
	}
}

func TestParseCronErrorNamesField(t *testing.T) {
	_, err := ParseCron("0 8 * * 9")
	if err == nil || !strings.Contains(err.Error(), "weekday") {
		t.Errorf("expected weekday range error, got %v", err)
	}
}
