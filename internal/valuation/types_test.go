package valuation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricSetIsAllNullWithCurrencyTags(t *testing.T) {
	m := NewMetricSet()

	for _, leaf := range Leaves {
		assert.Nil(t, leaf.Get(m), "leaf %s should start null", leaf.Path)
	}
	assert.Equal(t, CurrencyUSD, m.EnterpriseValue.Currency)
	assert.Equal(t, CurrencyUSD, m.KeyFinancials.Currency)
	assert.Equal(t, CurrencyUSD, m.CompanyValuation.Currency)
	assert.Nil(t, m.ValuationDate)
}

func TestNormalizeDerivesESOPShares(t *testing.T) {
	m := NewMetricSet()
	m.CapitalStructure.TotalShares = Float(400000)
	m.CapitalStructure.ESOPPercentage = Float(30)

	m.Normalize()

	require.NotNil(t, m.CapitalStructure.ESOPShares)
	assert.Equal(t, 120000.0, *m.CapitalStructure.ESOPShares)
}

func TestNormalizeESOPSharesRounds(t *testing.T) {
	m := NewMetricSet()
	m.CapitalStructure.TotalShares = Float(1000001)
	m.CapitalStructure.ESOPPercentage = Float(15)

	m.Normalize()

	require.NotNil(t, m.CapitalStructure.ESOPShares)
	// 150000.15 rounds to 150000, so the stored count stays integral.
	assert.Equal(t, 150000.0, *m.CapitalStructure.ESOPShares)
}

func TestNormalizeSkipsESOPWhenInputsMissing(t *testing.T) {
	m := NewMetricSet()
	m.CapitalStructure.TotalShares = Float(400000)

	m.Normalize()

	assert.Nil(t, m.CapitalStructure.ESOPShares)
}

func TestNormalizeDerivesMultiples(t *testing.T) {
	m := NewMetricSet()
	m.EnterpriseValue.CurrentValue = Float(100000000)
	m.KeyFinancials.EBITDA = Float(10000000)
	m.KeyFinancials.Revenue = Float(50000000)

	m.Normalize()

	require.NotNil(t, m.ValuationMultiples.EVToEBITDA)
	assert.Equal(t, 10.0, *m.ValuationMultiples.EVToEBITDA)
	require.NotNil(t, m.ValuationMultiples.EVToRevenue)
	assert.Equal(t, 2.0, *m.ValuationMultiples.EVToRevenue)
}

func TestNormalizeKeepsStatedMultiples(t *testing.T) {
	m := NewMetricSet()
	m.EnterpriseValue.CurrentValue = Float(100000000)
	m.KeyFinancials.EBITDA = Float(10000000)
	m.ValuationMultiples.EVToEBITDA = Float(9.5)

	m.Normalize()

	assert.Equal(t, 9.5, *m.ValuationMultiples.EVToEBITDA)
}

func TestGetSetRoundTrip(t *testing.T) {
	m := NewMetricSet()
	for _, metric := range TargetMetrics {
		if metric == MetricDebt {
			continue
		}
		m.Set(metric, 42)
		require.NotNil(t, m.Get(metric), "metric %s", metric)
		assert.Equal(t, 42.0, *m.Get(metric))
	}
}

func TestDebtHasNoSlot(t *testing.T) {
	m := NewMetricSet()
	m.Set(MetricDebt, 42)
	assert.Nil(t, m.Get(MetricDebt))
}

func TestCompleteness(t *testing.T) {
	m := NewMetricSet()
	assert.Equal(t, 0.0, m.Completeness())

	for _, leaf := range Leaves {
		leaf.Set(m, Float(1))
	}
	assert.Equal(t, 1.0, m.Completeness())
}

func TestMetricSetJSONShapeIsStable(t *testing.T) {
	data, err := json.Marshal(NewMetricSet())
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))

	for _, key := range []string{
		"enterpriseValue", "valueOfEquity", "valuationPerShare", "keyFinancials",
		"companyValuation", "discountRates", "capitalStructure", "valuationMultiples",
		"valuationDate",
	} {
		assert.Contains(t, decoded, key)
	}
}
