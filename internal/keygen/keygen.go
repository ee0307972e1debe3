// Package keygen produces and inspects license key strings. Generation is
// pure: uniqueness is enforced by the store at insert time, not here.
package keygen

import (
	"crypto/rand"
	"fmt"
	"strings"

	"github.com/keymint/keymint/internal/model"
)

// alphabet holds 32 symbols with the visually ambiguous 0/O and 1/I removed.
// 32 divides 256 evenly, so indexing with a masked random byte is unbiased.
const alphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

const (
	segments   = 5
	segmentLen = 6
)

var planTags = map[model.PlanType]string{
	model.PlanMonthly:  "MONTHLY",
	model.PlanYearly:   "YEARLY",
	model.PlanLifetime: "LIFETIME",
}

var tagPlans = map[string]model.PlanType{
	"MONTHLY":  model.PlanMonthly,
	"YEARLY":   model.PlanYearly,
	"LIFETIME": model.PlanLifetime,
}

// Generate creates a key in the format TAG-XXXXXX-XXXXXX-XXXXXX-XXXXXX-XXXXXX.
// Five 6-character segments over a 32-symbol alphabet carry 150 bits of
// entropy; treat the result as a bearer credential.
func Generate(plan model.PlanType) (string, error) {
	tag, ok := planTags[plan]
	if !ok {
		return "", fmt.Errorf("generate key: unknown plan %q", plan)
	}

	b := make([]byte, segments*segmentLen)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}

	var sb strings.Builder
	sb.WriteString(tag)
	for i, rb := range b {
		if i%segmentLen == 0 {
			sb.WriteByte('-')
		}
		sb.WriteByte(alphabet[rb&31])
	}
	return sb.String(), nil
}

// ParsePlanType extracts the plan tag prefix from a key. Best-effort and
// display-only; never use it for authorization decisions.
func ParsePlanType(key string) (model.PlanType, bool) {
	tag, _, found := strings.Cut(key, "-")
	if !found {
		return "", false
	}
	plan, ok := tagPlans[tag]
	return plan, ok
}
