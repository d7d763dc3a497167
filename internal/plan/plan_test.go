package plan

import "testing"

func TestDefaultRules(t *testing.T) {
	rules := Default()

	tests := []struct {
		planID       string
		dailyReturn  int64
		validityDays int
	}{
		{"0", 20 * 100, 90},
		{"1", 120 * 100, 80},
		{"2", 260 * 100, 75},
		{"3", 560 * 100, 75},
	}

	for _, tt := range tests {
		rule, ok := rules.Lookup(tt.planID)
		if !ok {
			t.Fatalf("plan %q not found", tt.planID)
		}
		if rule.DailyReturn != tt.dailyReturn {
			t.Fatalf("plan %q daily return = %d, want %d", tt.planID, rule.DailyReturn, tt.dailyReturn)
		}
		if rule.ValidityDays != tt.validityDays {
			t.Fatalf("plan %q validity = %d, want %d", tt.planID, rule.ValidityDays, tt.validityDays)
		}
	}
}

func TestLookupUnknownPlan(t *testing.T) {
	rules := Default()

	if _, ok := rules.Lookup("99"); ok {
		t.Fatalf("unknown plan must not resolve")
	}
}
