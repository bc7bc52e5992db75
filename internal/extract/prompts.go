package extract

import "fmt"

// extractionSystemPrompt constrains the model to the fixed metric schema.
const extractionSystemPrompt = `You are a financial analyst extracting metrics from a company valuation report.
Respond with a single JSON object and nothing else. Every field must be a number or null.
Monetary values are absolute USD amounts (expand "million"/"billion"). Rates are percentages (12.5 for 12.5%).
Use exactly this shape:
{
  "enterpriseValue": {"currentValue": null, "currency": "USD"},
  "valueOfEquity": {"currentValue": null, "currency": "USD"},
  "valuationPerShare": {"currentValue": null, "currency": "USD"},
  "keyFinancials": {"revenue": null, "ebitda": null, "wacc": null, "currency": "USD"},
  "companyValuation": {"totalValue": null, "currency": "USD"},
  "discountRates": {"discountRate": null, "terminalGrowthRate": null, "capitalizationRate": null},
  "capitalStructure": {"totalShares": null, "esopShares": null, "esopPercentage": null},
  "valuationMultiples": {"evToEbitda": null, "evToRevenue": null},
  "valuationDate": null
}`

func extractionUserPrompt(segment string) string {
	return fmt.Sprintf("Extract the valuation metrics from this report excerpt. Set any metric the excerpt does not state to null.\n\n---\n%s\n---", segment)
}
