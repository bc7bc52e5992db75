// Package merge reconciles the base extraction result with the enhanced
// validation output under an explicit precedence policy.
package merge

import (
	"fmt"

	"github.com/meridianlabs/valuation-engine/internal/valuation"
)

// Policy selects how an enhanced value combines with a base value.
type Policy string

const (
	// PolicyEnhancedOverrides replaces the base value whenever the enhanced
	// value is non-null. The default.
	PolicyEnhancedOverrides Policy = "enhanced_overrides"

	// PolicyFillNullOnly uses the enhanced value only where the base value
	// is null.
	PolicyFillNullOnly Policy = "fill_null_only"
)

// ParsePolicy validates a configured policy name.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyEnhancedOverrides, PolicyFillNullOnly:
		return Policy(s), nil
	case "":
		return PolicyEnhancedOverrides, nil
	}
	return "", fmt.Errorf("unknown merge policy %q", s)
}

// Merge combines base and enhanced metric sets leaf by leaf under the given
// policy. Neither input is mutated; the result is normalized so derived
// fields stay consistent with the merged inputs.
func Merge(base, enhanced *valuation.MetricSet, policy Policy) *valuation.MetricSet {
	out := valuation.NewMetricSet()

	for _, leaf := range valuation.Leaves {
		baseVal := leaf.Get(base)
		enhancedVal := leaf.Get(enhanced)

		chosen := baseVal
		switch policy {
		case PolicyFillNullOnly:
			if baseVal == nil {
				chosen = enhancedVal
			}
		default: // PolicyEnhancedOverrides
			if enhancedVal != nil {
				chosen = enhancedVal
			}
		}
		if chosen != nil {
			v := *chosen
			leaf.Set(out, &v)
		}
	}

	enforceValuePair(out, base)

	switch {
	case policy == PolicyFillNullOnly && base.ValuationDate != nil:
		out.ValuationDate = base.ValuationDate
	case enhanced.ValuationDate != nil:
		out.ValuationDate = enhanced.ValuationDate
	default:
		out.ValuationDate = base.ValuationDate
	}

	out.Normalize()
	return out
}

// enforceValuePair keeps enterprise value >= equity value in the merged set.
// Leaf-wise merging can pair an enhanced value on one side with a base value
// on the other, implying negative debt even though each input set was
// consistent on its own. When that happens the base pair is restored if it
// holds the invariant itself; otherwise the equity value is dropped.
func enforceValuePair(out, base *valuation.MetricSet) {
	ev := out.EnterpriseValue.CurrentValue
	eq := out.ValueOfEquity.CurrentValue
	if ev == nil || eq == nil || *ev >= *eq {
		return
	}

	baseEV := base.EnterpriseValue.CurrentValue
	baseEQ := base.ValueOfEquity.CurrentValue
	if baseEV != nil && baseEQ != nil && *baseEV >= *baseEQ {
		restoredEV, restoredEQ := *baseEV, *baseEQ
		out.EnterpriseValue.CurrentValue = &restoredEV
		out.ValueOfEquity.CurrentValue = &restoredEQ
		return
	}
	out.ValueOfEquity.CurrentValue = nil
}
