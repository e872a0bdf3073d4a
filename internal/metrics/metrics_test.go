package metrics

import "testing"

func TestOutcomeClass(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"ok", "ok"},
		{"action_pending", "action_pending"},
		{"error_permanent:domain_not_allowed", "error_permanent"},
		{"error_transient:http_503", "error_transient"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := OutcomeClass(tt.in); got != tt.want {
			t.Errorf("OutcomeClass(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
