package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/meridianlabs/valuation-engine/internal/valuation"
)

// amount matches a possibly comma-grouped number with an optional scale word.
const amount = `\$?\s*([\d,]+(?:\.\d+)?)\s*(million|billion|thousand|mm|bn|m|b|k)?\b`

// labeled dollar-amount patterns, one per metric slot. The label may be
// separated from the amount by punctuation such as "of" or a colon.
var amountPatterns = []struct {
	metric valuation.Metric
	re     *regexp.Regexp
}{
	{valuation.MetricEnterpriseValue, regexp.MustCompile(`(?i)enterprise\s+value(?:\s*\(EV\))?\s*(?:of|:|=|is|at)?\s*` + amount)},
	{valuation.MetricEquityValue, regexp.MustCompile(`(?i)(?:value\s+of\s+equity|equity\s+value)\s*(?:of|:|=|is|at)?\s*` + amount)},
	{valuation.MetricRevenue, regexp.MustCompile(`(?i)(?:total\s+|net\s+|annual\s+)?revenue[s]?\s*(?:of|:|=|is|at|was)?\s*` + amount)},
	{valuation.MetricEBITDA, regexp.MustCompile(`(?i)(?:adjusted\s+)?EBITDA\s*(?:of|:|=|is|at|was)?\s*` + amount)},
}

var (
	totalValueRe = regexp.MustCompile(`(?i)(?:total\s+company\s+value|company\s+valuation|concluded\s+(?:enterprise\s+)?value|fair\s+(?:market\s+)?value\s+of\s+the\s+company)\s*(?:of|:|=|is|at)?\s*` + amount)
	perShareRe   = regexp.MustCompile(`(?i)(?:value|price|valuation)\s+per\s+share\s*(?:of|:|=|is|at)?\s*` + amount)

	discountRateRe = regexp.MustCompile(`(?i)(?:discount\s+rate|WACC|weighted\s+average\s+cost\s+of\s+capital)\s*(?:of|:|=|is|at)?\s*([\d.]+)\s*%`)
	growthRateRe   = regexp.MustCompile(`(?i)(?:terminal|long[\s-]term)\s+growth\s+rate\s*(?:of|:|=|is|at)?\s*([\d.]+)\s*%`)
	esopPctRe      = regexp.MustCompile(`(?i)ESOP\s+(?:ownership|percentage|pool|allocation)?\s*(?:of|:|=|is|at)?\s*([\d.]+)\s*%`)

	sharesBeforeRe = regexp.MustCompile(`(?i)([\d,]+)\s+total\s+shares`)
	sharesAfterRe  = regexp.MustCompile(`(?i)total\s+shares(?:\s+outstanding)?\s*(?:of|:|=|is|at)?\s*([\d,]+)`)

	valuationDateRe = regexp.MustCompile(`(?i)(?:valuation\s+date|as\s+of)[:\s]+([A-Za-z]+\s+\d{1,2},?\s+\d{4}|\d{4}-\d{2}-\d{2}|\d{1,2}/\d{1,2}/\d{2,4})`)

	yearHeaderRe = regexp.MustCompile(`^\s*(?:FY\s*)?((?:19|20)\d{2})(?:[\s|]+(?:FY\s*)?(?:19|20)\d{2})+\s*$`)
	tableRowRe   = regexp.MustCompile(`^\s*([A-Za-z][A-Za-z ()/&-]*?)\s+\$?\s*([\d,]+(?:\.\d+)?)`)
)

// scales maps amount suffixes to multipliers.
var scales = map[string]float64{
	"thousand": 1e3, "k": 1e3,
	"million": 1e6, "mm": 1e6, "m": 1e6,
	"billion": 1e9, "bn": 1e9, "b": 1e9,
}

// FromText runs every deterministic pattern over the text and assembles a
// normalized MetricSet. Fields with no match stay null. In multi-column
// year-header tables the left-most column is taken, on the convention that
// reports list the most recent period first.
func FromText(text string) *valuation.MetricSet {
	m := valuation.NewMetricSet()

	for _, p := range amountPatterns {
		if v, ok := firstAmount(p.re, text); ok {
			m.Set(p.metric, v)
		}
	}
	if v, ok := firstAmount(totalValueRe, text); ok {
		m.CompanyValuation.TotalValue = &v
	}
	if v, ok := firstAmount(perShareRe, text); ok {
		m.ValuationPerShare.CurrentValue = &v
	}

	if v, ok := firstNumber(discountRateRe, text); ok {
		m.DiscountRates.DiscountRate = &v
		m.KeyFinancials.WACC = &v
	}
	if v, ok := firstNumber(growthRateRe, text); ok {
		m.DiscountRates.TerminalGrowthRate = &v
	}
	if v, ok := firstNumber(esopPctRe, text); ok {
		m.CapitalStructure.ESOPPercentage = &v
	}

	if v, ok := firstNumber(sharesBeforeRe, text); ok {
		m.CapitalStructure.TotalShares = &v
	} else if v, ok := firstNumber(sharesAfterRe, text); ok {
		m.CapitalStructure.TotalShares = &v
	}

	if match := valuationDateRe.FindStringSubmatch(text); match != nil {
		date := strings.TrimSpace(match[1])
		m.ValuationDate = &date
	}

	applyTableRows(m, text)

	m.Normalize()
	return m
}

// applyTableRows fills still-null fields from multi-column financial tables
// whose header row lists fiscal years.
func applyTableRows(m *valuation.MetricSet, text string) {
	lines := strings.Split(text, "\n")

	inTable := false
	for _, line := range lines {
		if yearHeaderRe.MatchString(line) {
			inTable = true
			continue
		}
		if !inTable {
			continue
		}
		if strings.TrimSpace(line) == "" {
			inTable = false
			continue
		}

		row := tableRowRe.FindStringSubmatch(line)
		if row == nil {
			continue
		}
		label := strings.ToLower(strings.TrimSpace(row[1]))
		value, err := parseNumber(row[2])
		if err != nil {
			continue
		}

		switch {
		case strings.Contains(label, "revenue"):
			if m.KeyFinancials.Revenue == nil {
				m.KeyFinancials.Revenue = &value
			}
		case strings.Contains(label, "ebitda"):
			if m.KeyFinancials.EBITDA == nil {
				m.KeyFinancials.EBITDA = &value
			}
		case strings.Contains(label, "enterprise value"):
			if m.EnterpriseValue.CurrentValue == nil {
				m.EnterpriseValue.CurrentValue = &value
			}
		case strings.Contains(label, "equity"):
			if m.ValueOfEquity.CurrentValue == nil {
				m.ValueOfEquity.CurrentValue = &value
			}
		}
	}
}

func firstAmount(re *regexp.Regexp, text string) (float64, bool) {
	match := re.FindStringSubmatch(text)
	if match == nil {
		return 0, false
	}
	v, err := parseNumber(match[1])
	if err != nil {
		return 0, false
	}
	if len(match) > 2 && match[2] != "" {
		if scale, ok := scales[strings.ToLower(match[2])]; ok {
			v *= scale
		}
	}
	return v, true
}

func firstNumber(re *regexp.Regexp, text string) (float64, bool) {
	match := re.FindStringSubmatch(text)
	if match == nil {
		return 0, false
	}
	v, err := parseNumber(match[1])
	if err != nil {
		return 0, false
	}
	return v, true
}

func parseNumber(s string) (float64, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	return strconv.ParseFloat(s, 64)
}
