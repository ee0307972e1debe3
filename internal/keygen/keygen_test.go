package keygen

import (
	"strings"
	"testing"

	"github.com/keymint/keymint/internal/model"
)

func TestGenerateFormat(t *testing.T) {
	key, err := Generate(model.PlanMonthly)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.HasPrefix(key, "MONTHLY-") {
		t.Errorf("key %q does not start with MONTHLY-", key)
	}
	parts := strings.Split(key, "-")
	if len(parts) != 6 {
		t.Fatalf("key %q has %d parts, want 6", key, len(parts))
	}
	for _, seg := range parts[1:] {
		if len(seg) != 6 {
			t.Errorf("segment %q has length %d, want 6", seg, len(seg))
		}
		for i := 0; i < len(seg); i++ {
			if !strings.ContainsRune(alphabet, rune(seg[i])) {
				t.Errorf("segment %q contains %q outside the alphabet", seg, seg[i])
			}
		}
	}
}

func TestGenerateTags(t *testing.T) {
	for plan, tag := range map[model.PlanType]string{
		model.PlanMonthly:  "MONTHLY",
		model.PlanYearly:   "YEARLY",
		model.PlanLifetime: "LIFETIME",
	} {
		key, err := Generate(plan)
		if err != nil {
			t.Fatalf("generate %s: %v", plan, err)
		}
		if !strings.HasPrefix(key, tag+"-") {
			t.Errorf("key %q for plan %s does not start with %s-", key, plan, tag)
		}
	}
}

func TestGenerateUnknownPlan(t *testing.T) {
	if _, err := Generate(model.PlanType("weekly")); err == nil {
		t.Error("expected error for unknown plan")
	}
}

func TestGenerateUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		key, err := Generate(model.PlanYearly)
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if seen[key] {
			t.Fatalf("duplicate key %q after %d generations", key, i)
		}
		seen[key] = true
	}
}

func TestGenerateExcludesAmbiguousCharacters(t *testing.T) {
	for _, c := range "0O1I" {
		if strings.ContainsRune(alphabet, c) {
			t.Errorf("alphabet contains ambiguous character %q", c)
		}
	}
	if len(alphabet) != 32 {
		t.Errorf("alphabet length = %d, want 32", len(alphabet))
	}
}

func TestParsePlanType(t *testing.T) {
	tests := []struct {
		key  string
		plan model.PlanType
		ok   bool
	}{
		{"MONTHLY-ABCDEF-ABCDEF-ABCDEF-ABCDEF-ABCDEF", model.PlanMonthly, true},
		{"YEARLY-ABCDEF-ABCDEF-ABCDEF-ABCDEF-ABCDEF", model.PlanYearly, true},
		{"LIFETIME-ABCDEF-ABCDEF-ABCDEF-ABCDEF-ABCDEF", model.PlanLifetime, true},
		{"WEEKLY-ABCDEF", "", false},
		{"garbage", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		plan, ok := ParsePlanType(tt.key)
		if ok != tt.ok || plan != tt.plan {
			t.Errorf("ParsePlanType(%q) = (%q, %v), want (%q, %v)", tt.key, plan, ok, tt.plan, tt.ok)
		}
	}
}
