package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianlabs/valuation-engine/internal/valuation"
)

func TestParsePolicy(t *testing.T) {
	policy, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyEnhancedOverrides, policy)

	policy, err = ParsePolicy("fill_null_only")
	require.NoError(t, err)
	assert.Equal(t, PolicyFillNullOnly, policy)

	_, err = ParsePolicy("newest_wins")
	assert.Error(t, err)
}

func TestMergeEnhancedOverrides(t *testing.T) {
	base := valuation.NewMetricSet()
	base.EnterpriseValue.CurrentValue = valuation.Float(50000000)
	base.KeyFinancials.Revenue = valuation.Float(30000000)

	enhanced := valuation.NewMetricSet()
	enhanced.EnterpriseValue.CurrentValue = valuation.Float(95000000)

	out := Merge(base, enhanced, PolicyEnhancedOverrides)

	assert.Equal(t, 95000000.0, *out.EnterpriseValue.CurrentValue, "enhanced value wins")
	assert.Equal(t, 30000000.0, *out.KeyFinancials.Revenue, "base fills enhanced nulls")
}

func TestMergeFillNullOnly(t *testing.T) {
	base := valuation.NewMetricSet()
	base.EnterpriseValue.CurrentValue = valuation.Float(50000000)

	enhanced := valuation.NewMetricSet()
	enhanced.EnterpriseValue.CurrentValue = valuation.Float(95000000)
	enhanced.KeyFinancials.Revenue = valuation.Float(30000000)

	out := Merge(base, enhanced, PolicyFillNullOnly)

	assert.Equal(t, 50000000.0, *out.EnterpriseValue.CurrentValue, "base value is kept")
	assert.Equal(t, 30000000.0, *out.KeyFinancials.Revenue, "enhanced fills base nulls")
}

func TestMergeBothNullStaysNull(t *testing.T) {
	out := Merge(valuation.NewMetricSet(), valuation.NewMetricSet(), PolicyEnhancedOverrides)
	assert.Equal(t, 0.0, out.Completeness())
	assert.Nil(t, out.ValuationDate)
}

func TestMergeValuationDatePrecedence(t *testing.T) {
	baseDate, enhancedDate := "2023-06-30", "2023-12-31"

	base := valuation.NewMetricSet()
	base.ValuationDate = &baseDate
	enhanced := valuation.NewMetricSet()
	enhanced.ValuationDate = &enhancedDate

	out := Merge(base, enhanced, PolicyEnhancedOverrides)
	assert.Equal(t, enhancedDate, *out.ValuationDate)

	out = Merge(base, enhanced, PolicyFillNullOnly)
	assert.Equal(t, baseDate, *out.ValuationDate)

	// Either policy falls through to the other side's date when one is null.
	out = Merge(valuation.NewMetricSet(), enhanced, PolicyFillNullOnly)
	assert.Equal(t, enhancedDate, *out.ValuationDate)
	out = Merge(base, valuation.NewMetricSet(), PolicyEnhancedOverrides)
	assert.Equal(t, baseDate, *out.ValuationDate)
}

func TestMergeDoesNotMutateInputs(t *testing.T) {
	base := valuation.NewMetricSet()
	base.CapitalStructure.TotalShares = valuation.Float(400000)

	enhanced := valuation.NewMetricSet()
	enhanced.CapitalStructure.ESOPPercentage = valuation.Float(30)

	out := Merge(base, enhanced, PolicyEnhancedOverrides)

	// The merged set derives the share count; the inputs stay as they were.
	require.NotNil(t, out.CapitalStructure.ESOPShares)
	assert.Equal(t, 120000.0, *out.CapitalStructure.ESOPShares)
	assert.Nil(t, base.CapitalStructure.ESOPShares)
	assert.Nil(t, enhanced.CapitalStructure.ESOPShares)
	assert.Nil(t, base.CapitalStructure.ESOPPercentage)
}

func TestMergeRestoresBasePairOnNegativeImpliedDebt(t *testing.T) {
	base := valuation.NewMetricSet()
	base.EnterpriseValue.CurrentValue = valuation.Float(100000000)
	base.ValueOfEquity.CurrentValue = valuation.Float(90000000)

	// The enhanced pass dropped equity and overrides only the enterprise
	// value; combining it with the base equity would imply negative debt.
	enhanced := valuation.NewMetricSet()
	enhanced.EnterpriseValue.CurrentValue = valuation.Float(50000000)

	out := Merge(base, enhanced, PolicyEnhancedOverrides)

	require.NotNil(t, out.EnterpriseValue.CurrentValue)
	require.NotNil(t, out.ValueOfEquity.CurrentValue)
	assert.Equal(t, 100000000.0, *out.EnterpriseValue.CurrentValue)
	assert.Equal(t, 90000000.0, *out.ValueOfEquity.CurrentValue)
	assert.GreaterOrEqual(t,
		*out.EnterpriseValue.CurrentValue, *out.ValueOfEquity.CurrentValue)
}

func TestMergeDropsEquityWhenNoConsistentPairExists(t *testing.T) {
	base := valuation.NewMetricSet()
	base.ValueOfEquity.CurrentValue = valuation.Float(90000000)

	enhanced := valuation.NewMetricSet()
	enhanced.EnterpriseValue.CurrentValue = valuation.Float(50000000)

	// fill_null_only keeps both sides, but the base never held a full pair
	// to fall back to, so the equity value goes.
	out := Merge(base, enhanced, PolicyFillNullOnly)

	require.NotNil(t, out.EnterpriseValue.CurrentValue)
	assert.Equal(t, 50000000.0, *out.EnterpriseValue.CurrentValue)
	assert.Nil(t, out.ValueOfEquity.CurrentValue)
}

func TestMergeKeepsConsistentCrossPolicyPair(t *testing.T) {
	base := valuation.NewMetricSet()
	base.ValueOfEquity.CurrentValue = valuation.Float(60000000)

	enhanced := valuation.NewMetricSet()
	enhanced.EnterpriseValue.CurrentValue = valuation.Float(95000000)

	out := Merge(base, enhanced, PolicyEnhancedOverrides)

	require.NotNil(t, out.EnterpriseValue.CurrentValue)
	require.NotNil(t, out.ValueOfEquity.CurrentValue)
	assert.Equal(t, 95000000.0, *out.EnterpriseValue.CurrentValue)
	assert.Equal(t, 60000000.0, *out.ValueOfEquity.CurrentValue)
}

func TestMergeNormalizesDerivedMultiples(t *testing.T) {
	base := valuation.NewMetricSet()
	base.KeyFinancials.EBITDA = valuation.Float(12000000)

	enhanced := valuation.NewMetricSet()
	enhanced.EnterpriseValue.CurrentValue = valuation.Float(96000000)

	out := Merge(base, enhanced, PolicyEnhancedOverrides)

	require.NotNil(t, out.ValuationMultiples.EVToEBITDA)
	assert.Equal(t, 8.0, *out.ValuationMultiples.EVToEBITDA)
}
