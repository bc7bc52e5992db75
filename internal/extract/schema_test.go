package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeMetricSetStrictJSON(t *testing.T) {
	m, err := DecodeMetricSet(`{"keyFinancials": {"revenue": 30000000, "ebitda": 12000000}}`)
	require.NoError(t, err)
	require.NotNil(t, m.KeyFinancials.Revenue)
	assert.Equal(t, 30000000.0, *m.KeyFinancials.Revenue)
	require.NotNil(t, m.KeyFinancials.EBITDA)
	assert.Equal(t, 12000000.0, *m.KeyFinancials.EBITDA)
}

func TestDecodeMetricSetChattyWrapper(t *testing.T) {
	raw := `Sure, here is the JSON you asked for:
{"keyFinancials": {"revenue": 1000000}}
Hope that helps!`

	m, err := DecodeMetricSet(raw)
	require.NoError(t, err)
	require.NotNil(t, m.KeyFinancials.Revenue)
	assert.Equal(t, 1000000.0, *m.KeyFinancials.Revenue)
}

func TestDecodeMetricSetRepairsTrailingComma(t *testing.T) {
	raw := `{"enterpriseValue": {"currentValue": 50000000,}, "discountRates": {"discountRate": 12.5,},}`

	m, err := DecodeMetricSet(raw)
	require.NoError(t, err)
	require.NotNil(t, m.EnterpriseValue.CurrentValue)
	assert.Equal(t, 50000000.0, *m.EnterpriseValue.CurrentValue)
	require.NotNil(t, m.DiscountRates.DiscountRate)
	assert.Equal(t, 12.5, *m.DiscountRates.DiscountRate)
}

func TestDecodeMetricSetUnquotedKeys(t *testing.T) {
	// HJSON-style output some models produce.
	raw := `{
  capitalStructure: {
    totalShares: 400000
    esopPercentage: 30
  }
}`

	m, err := DecodeMetricSet(raw)
	require.NoError(t, err)
	require.NotNil(t, m.CapitalStructure.TotalShares)
	assert.Equal(t, 400000.0, *m.CapitalStructure.TotalShares)
	// Normalize derives the share count from the percentage.
	require.NotNil(t, m.CapitalStructure.ESOPShares)
	assert.Equal(t, 120000.0, *m.CapitalStructure.ESOPShares)
}

func TestDecodeMetricSetRejectsGarbage(t *testing.T) {
	_, err := DecodeMetricSet("")
	assert.Error(t, err)

	_, err = DecodeMetricSet("I could not find any metrics in the document.")
	assert.Error(t, err)
}

func TestBraceSubstring(t *testing.T) {
	assert.Equal(t, `{"a": 1}`, braceSubstring(`noise {"a": 1} more noise`))
	assert.Equal(t, "", braceSubstring("no braces here"))
	assert.Equal(t, "", braceSubstring("} reversed {"))
}
