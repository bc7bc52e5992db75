package valuation

// Leaf is one numeric leaf of the metric schema, addressable by its JSON
// path. The table drives generic per-field operations such as merging and
// completeness scoring without reflection.
type Leaf struct {
	Path string
	Get  func(*MetricSet) *float64
	Set  func(*MetricSet, *float64)
}

// Leaves enumerates every numeric leaf in schema order.
var Leaves = []Leaf{
	{"enterpriseValue.currentValue",
		func(m *MetricSet) *float64 { return m.EnterpriseValue.CurrentValue },
		func(m *MetricSet, v *float64) { m.EnterpriseValue.CurrentValue = v }},
	{"valueOfEquity.currentValue",
		func(m *MetricSet) *float64 { return m.ValueOfEquity.CurrentValue },
		func(m *MetricSet, v *float64) { m.ValueOfEquity.CurrentValue = v }},
	{"valuationPerShare.currentValue",
		func(m *MetricSet) *float64 { return m.ValuationPerShare.CurrentValue },
		func(m *MetricSet, v *float64) { m.ValuationPerShare.CurrentValue = v }},
	{"keyFinancials.revenue",
		func(m *MetricSet) *float64 { return m.KeyFinancials.Revenue },
		func(m *MetricSet, v *float64) { m.KeyFinancials.Revenue = v }},
	{"keyFinancials.ebitda",
		func(m *MetricSet) *float64 { return m.KeyFinancials.EBITDA },
		func(m *MetricSet, v *float64) { m.KeyFinancials.EBITDA = v }},
	{"keyFinancials.wacc",
		func(m *MetricSet) *float64 { return m.KeyFinancials.WACC },
		func(m *MetricSet, v *float64) { m.KeyFinancials.WACC = v }},
	{"companyValuation.totalValue",
		func(m *MetricSet) *float64 { return m.CompanyValuation.TotalValue },
		func(m *MetricSet, v *float64) { m.CompanyValuation.TotalValue = v }},
	{"discountRates.discountRate",
		func(m *MetricSet) *float64 { return m.DiscountRates.DiscountRate },
		func(m *MetricSet, v *float64) { m.DiscountRates.DiscountRate = v }},
	{"discountRates.terminalGrowthRate",
		func(m *MetricSet) *float64 { return m.DiscountRates.TerminalGrowthRate },
		func(m *MetricSet, v *float64) { m.DiscountRates.TerminalGrowthRate = v }},
	{"discountRates.capitalizationRate",
		func(m *MetricSet) *float64 { return m.DiscountRates.CapitalizationRate },
		func(m *MetricSet, v *float64) { m.DiscountRates.CapitalizationRate = v }},
	{"capitalStructure.totalShares",
		func(m *MetricSet) *float64 { return m.CapitalStructure.TotalShares },
		func(m *MetricSet, v *float64) { m.CapitalStructure.TotalShares = v }},
	{"capitalStructure.esopShares",
		func(m *MetricSet) *float64 { return m.CapitalStructure.ESOPShares },
		func(m *MetricSet, v *float64) { m.CapitalStructure.ESOPShares = v }},
	{"capitalStructure.esopPercentage",
		func(m *MetricSet) *float64 { return m.CapitalStructure.ESOPPercentage },
		func(m *MetricSet, v *float64) { m.CapitalStructure.ESOPPercentage = v }},
	{"valuationMultiples.evToEbitda",
		func(m *MetricSet) *float64 { return m.ValuationMultiples.EVToEBITDA },
		func(m *MetricSet, v *float64) { m.ValuationMultiples.EVToEBITDA = v }},
	{"valuationMultiples.evToRevenue",
		func(m *MetricSet) *float64 { return m.ValuationMultiples.EVToRevenue },
		func(m *MetricSet, v *float64) { m.ValuationMultiples.EVToRevenue = v }},
}

// Completeness returns the fraction of leaves with a non-null value.
func (m *MetricSet) Completeness() float64 {
	filled := 0
	for _, leaf := range Leaves {
		if leaf.Get(m) != nil {
			filled++
		}
	}
	return float64(filled) / float64(len(Leaves))
}
