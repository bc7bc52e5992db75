// Package valuation defines the metric schema extracted from valuation reports.
package valuation

import "math"

// CurrencyUSD tags every currency-bearing metric group. Reports in other
// currencies are out of scope.
const CurrencyUSD = "USD"

// Metric identifies one extraction target.
type Metric string

const (
	MetricEnterpriseValue Metric = "enterprise_value"
	MetricEquityValue     Metric = "equity_value"
	MetricDebt            Metric = "debt"
	MetricRevenue         Metric = "revenue"
	MetricEBITDA          Metric = "ebitda"
	MetricDiscountRate    Metric = "discount_rate"
	MetricTotalShares     Metric = "total_shares"
	MetricESOPPercentage  Metric = "esop_percentage"
)

// TargetMetrics lists every metric the enhanced validation layer resolves,
// in resolution order.
var TargetMetrics = []Metric{
	MetricEnterpriseValue,
	MetricEquityValue,
	MetricDebt,
	MetricRevenue,
	MetricEBITDA,
	MetricDiscountRate,
	MetricTotalShares,
	MetricESOPPercentage,
}

// DateRelevance classifies whether a candidate's supporting text refers to
// the valuation date, a historical period, or a projection.
type DateRelevance string

const (
	DateRelevanceCurrent       DateRelevance = "current"
	DateRelevanceLikelyCurrent DateRelevance = "likely_current"
	DateRelevanceHistorical    DateRelevance = "historical_or_projected"
	DateRelevanceUnknown       DateRelevance = "unknown"
)

// Candidate is one proposed value for a metric, produced by one extraction
// strategy.
type Candidate struct {
	Metric        Metric        `json:"metric"`
	Value         float64       `json:"value"`
	Source        string        `json:"source"`     // prompt strategy or extractor tag
	Confidence    float64       `json:"confidence"` // in [0,1]
	DateRelevance DateRelevance `json:"dateRelevance"`
	Context       string        `json:"context,omitempty"` // supporting text, if any
}

// ValueGroup is a single currency-tagged value.
type ValueGroup struct {
	CurrentValue *float64 `json:"currentValue"`
	Currency     string   `json:"currency"`
}

// KeyFinancials groups the headline operating figures.
type KeyFinancials struct {
	Revenue  *float64 `json:"revenue"`
	EBITDA   *float64 `json:"ebitda"`
	WACC     *float64 `json:"wacc"`
	Currency string   `json:"currency"`
}

// CompanyValuation is the concluded total company value.
type CompanyValuation struct {
	TotalValue *float64 `json:"totalValue"`
	Currency   string   `json:"currency"`
}

// DiscountRates groups rate assumptions, expressed as percentages.
type DiscountRates struct {
	DiscountRate       *float64 `json:"discountRate"`
	TerminalGrowthRate *float64 `json:"terminalGrowthRate"`
	CapitalizationRate *float64 `json:"capitalizationRate"`
}

// CapitalStructure groups share counts and ESOP ownership.
type CapitalStructure struct {
	TotalShares    *float64 `json:"totalShares"`
	ESOPShares     *float64 `json:"esopShares"`
	ESOPPercentage *float64 `json:"esopPercentage"`
}

// ValuationMultiples groups implied market multiples.
type ValuationMultiples struct {
	EVToEBITDA  *float64 `json:"evToEbitda"`
	EVToRevenue *float64 `json:"evToRevenue"`
}

// MetricSet is the schema-complete extraction result. Every leaf is a number
// or null; the shape never varies.
type MetricSet struct {
	EnterpriseValue    ValueGroup         `json:"enterpriseValue"`
	ValueOfEquity      ValueGroup         `json:"valueOfEquity"`
	ValuationPerShare  ValueGroup         `json:"valuationPerShare"`
	KeyFinancials      KeyFinancials      `json:"keyFinancials"`
	CompanyValuation   CompanyValuation   `json:"companyValuation"`
	DiscountRates      DiscountRates      `json:"discountRates"`
	CapitalStructure   CapitalStructure   `json:"capitalStructure"`
	ValuationMultiples ValuationMultiples `json:"valuationMultiples"`
	ValuationDate      *string            `json:"valuationDate"`
}

// NewMetricSet returns an all-null MetricSet with currency tags set.
func NewMetricSet() *MetricSet {
	return &MetricSet{
		EnterpriseValue:   ValueGroup{Currency: CurrencyUSD},
		ValueOfEquity:     ValueGroup{Currency: CurrencyUSD},
		ValuationPerShare: ValueGroup{Currency: CurrencyUSD},
		KeyFinancials:     KeyFinancials{Currency: CurrencyUSD},
		CompanyValuation:  CompanyValuation{Currency: CurrencyUSD},
	}
}

// Float returns a pointer to v. Convenience for building metric sets.
func Float(v float64) *float64 { return &v }

// Normalize derives dependent fields and repairs currency tags. ESOP shares
// are recomputed whenever both total shares and the ESOP percentage are
// known, keeping esopShares == round(totalShares * esopPercentage / 100).
func (m *MetricSet) Normalize() {
	if m.EnterpriseValue.Currency == "" {
		m.EnterpriseValue.Currency = CurrencyUSD
	}
	if m.ValueOfEquity.Currency == "" {
		m.ValueOfEquity.Currency = CurrencyUSD
	}
	if m.ValuationPerShare.Currency == "" {
		m.ValuationPerShare.Currency = CurrencyUSD
	}
	if m.KeyFinancials.Currency == "" {
		m.KeyFinancials.Currency = CurrencyUSD
	}
	if m.CompanyValuation.Currency == "" {
		m.CompanyValuation.Currency = CurrencyUSD
	}

	if m.CapitalStructure.TotalShares != nil && m.CapitalStructure.ESOPPercentage != nil {
		shares := math.Round(*m.CapitalStructure.TotalShares * *m.CapitalStructure.ESOPPercentage / 100)
		m.CapitalStructure.ESOPShares = &shares
	}

	// Derive multiples when the inputs resolved but the report never stated them.
	if m.ValuationMultiples.EVToEBITDA == nil &&
		m.EnterpriseValue.CurrentValue != nil && m.KeyFinancials.EBITDA != nil &&
		*m.KeyFinancials.EBITDA != 0 {
		mult := *m.EnterpriseValue.CurrentValue / *m.KeyFinancials.EBITDA
		m.ValuationMultiples.EVToEBITDA = &mult
	}
	if m.ValuationMultiples.EVToRevenue == nil &&
		m.EnterpriseValue.CurrentValue != nil && m.KeyFinancials.Revenue != nil &&
		*m.KeyFinancials.Revenue != 0 {
		mult := *m.EnterpriseValue.CurrentValue / *m.KeyFinancials.Revenue
		m.ValuationMultiples.EVToRevenue = &mult
	}
}

// Get returns the current value for a target metric, or nil.
func (m *MetricSet) Get(metric Metric) *float64 {
	switch metric {
	case MetricEnterpriseValue:
		return m.EnterpriseValue.CurrentValue
	case MetricEquityValue:
		return m.ValueOfEquity.CurrentValue
	case MetricRevenue:
		return m.KeyFinancials.Revenue
	case MetricEBITDA:
		return m.KeyFinancials.EBITDA
	case MetricDiscountRate:
		return m.DiscountRates.DiscountRate
	case MetricTotalShares:
		return m.CapitalStructure.TotalShares
	case MetricESOPPercentage:
		return m.CapitalStructure.ESOPPercentage
	}
	return nil
}

// Set assigns the current value for a target metric. Unknown metrics are
// ignored; debt is a derived quantity and has no slot of its own.
func (m *MetricSet) Set(metric Metric, value float64) {
	v := value
	switch metric {
	case MetricEnterpriseValue:
		m.EnterpriseValue.CurrentValue = &v
	case MetricEquityValue:
		m.ValueOfEquity.CurrentValue = &v
	case MetricRevenue:
		m.KeyFinancials.Revenue = &v
	case MetricEBITDA:
		m.KeyFinancials.EBITDA = &v
	case MetricDiscountRate:
		m.DiscountRates.DiscountRate = &v
	case MetricTotalShares:
		m.CapitalStructure.TotalShares = &v
	case MetricESOPPercentage:
		m.CapitalStructure.ESOPPercentage = &v
	}
}
