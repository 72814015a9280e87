package fraud

import (
	"context"
	"strings"
)

// highRiskCountries are ISO 3166-1 alpha-2 codes with elevated card fraud
// rates for the storefront.
var highRiskCountries = map[string]bool{
	"NG": true,
	"GH": true,
	"KP": true,
	"IR": true,
	"RU": true,
	"BY": true,
	"VE": true,
	"PK": true,
	"ID": true,
	"RO": true,
}

type countryPair struct{ billing, shipping string }

// highRiskPairs are billing -> shipping routes seen in reshipping fraud.
var highRiskPairs = map[countryPair]bool{
	{"US", "NG"}: true,
	{"GB", "NG"}: true,
	{"IN", "NG"}: true,
	{"US", "RU"}: true,
	{"IN", "RU"}: true,
	{"CA", "RU"}: true,
	{"DE", "RO"}: true,
	{"GB", "GH"}: true,
	{"AE", "PK"}: true,
	{"US", "VE"}: true,
}

const (
	weightCountryMismatch         = 20
	weightHighRiskCountryMismatch = 35
	weightHighRiskBilling         = 40
	weightHighRiskShipping        = 25
)

func normCountry(c string) string {
	return strings.ToUpper(strings.TrimSpace(c))
}

// AnalyzeGeo compares billing and shipping countries. A missing country
// skips every check that needs it.
func AnalyzeGeo(billing, shipping string) []RiskFactor {
	b, s := normCountry(billing), normCountry(shipping)
	var factors []RiskFactor

	if b != "" && s != "" && b != s {
		f := RiskFactor{
			Type:        "country_mismatch",
			Severity:    SeverityMedium,
			Description: "Billing and shipping countries differ",
			Weight:      weightCountryMismatch,
			Value:       b + "->" + s,
		}
		if highRiskPairs[countryPair{b, s}] {
			f.Severity = SeverityHigh
			f.Description = "Billing and shipping countries form a high-risk route"
			f.Weight = weightHighRiskCountryMismatch
		}
		factors = append(factors, f)
	}
	if b != "" && highRiskCountries[b] {
		factors = append(factors, RiskFactor{
			Type:        "high_risk_billing_country",
			Severity:    SeverityHigh,
			Description: "Billing address is in a high-risk country",
			Weight:      weightHighRiskBilling,
			Value:       b,
		})
	}
	if s != "" && highRiskCountries[s] {
		factors = append(factors, RiskFactor{
			Type:        "high_risk_shipping_country",
			Severity:    SeverityMedium,
			Description: "Shipping address is in a high-risk country",
			Weight:      weightHighRiskShipping,
			Value:       s,
		})
	}
	return factors
}

// GeoAnalyzer adapts AnalyzeGeo to Analyzer.
var GeoAnalyzer = AnalyzerFunc(func(_ context.Context, tx *Transaction) []RiskFactor {
	return AnalyzeGeo(tx.BillingAddress.Country, tx.ShippingAddress.Country)
})
