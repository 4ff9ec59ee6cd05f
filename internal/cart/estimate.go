package cart

import "sort"

// Address is the shipping destination used for estimates.
type Address struct {
	Country    string `json:"country"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
}

// EstimateLine carries the taxable amount and tax code for one line.
type EstimateLine struct {
	AmountCents int64  `json:"amountCents"`
	TaxCode     string `json:"taxCode"`
}

// EstimateRequest is the input to Estimate. Either Lines or TaxCodes
// may be supplied; when only TaxCodes are present the taxable amount is
// split evenly across them.
type EstimateRequest struct {
	SubtotalCents    int64          `json:"subtotal"`
	DiscountCents    int64          `json:"discountAmount"`
	Currency         string         `json:"currency"`
	TotalWeightGrams int64          `json:"totalWeight"`
	Lines            []EstimateLine `json:"lineItems,omitempty"`
	TaxCodes         []string       `json:"taxCodes,omitempty"`
	Address          Address        `json:"shippingAddress"`
}

// TaxAmount is one entry of the tax breakdown, keyed by tax code.
type TaxAmount struct {
	TaxCode     string  `json:"taxCode"`
	Rate        float64 `json:"rate"`
	AmountCents int64   `json:"amountCents"`
}

// EstimateResult is the computed shipping and tax estimate.
type EstimateResult struct {
	ShippingCents int64       `json:"shipping"`
	TaxCents      int64       `json:"tax"`
	Breakdown     []TaxAmount `json:"taxBreakdown"`
}

// TaxRateFunc looks up the tax rate for a code at a destination. The
// tax-code table itself lives outside this engine.
type TaxRateFunc func(taxCode, country string) float64

// ShippingRates parameterizes the weight-tiered shipping estimate.
type ShippingRates struct {
	HomeCountry    string
	BaseCents      int64
	PerKgCents     int64
	IntlMultiplier int64
	FreeOverCents  int64
}

// DefaultShippingRates returns the platform defaults.
func DefaultShippingRates() ShippingRates {
	return ShippingRates{
		HomeCountry:    "US",
		BaseCents:      500,
		PerKgCents:     150,
		IntlMultiplier: 2,
		FreeOverCents:  10000,
	}
}

// Estimate computes shipping cost and a tax breakdown for a prospective
// order. It is a pure function: no state is read or written.
func Estimate(req EstimateRequest, rates ShippingRates, taxRate TaxRateFunc) EstimateResult {
	taxable := req.SubtotalCents - req.DiscountCents
	if taxable < 0 {
		taxable = 0
	}

	result := EstimateResult{
		ShippingCents: shippingFor(req, rates, taxable),
	}

	lines := req.Lines
	if len(lines) == 0 && len(req.TaxCodes) > 0 {
		lines = splitByCode(taxable, req.TaxCodes)
	}

	byCode := make(map[string]*TaxAmount)
	for _, line := range lines {
		amount := line.AmountCents
		if amount <= 0 {
			continue
		}
		rate := 0.0
		if taxRate != nil {
			rate = taxRate(line.TaxCode, req.Address.Country)
		}
		tax := int64(float64(amount) * rate)
		entry, ok := byCode[line.TaxCode]
		if !ok {
			entry = &TaxAmount{TaxCode: line.TaxCode, Rate: rate}
			byCode[line.TaxCode] = entry
		}
		entry.AmountCents += tax
		result.TaxCents += tax
	}

	result.Breakdown = make([]TaxAmount, 0, len(byCode))
	for _, entry := range byCode {
		result.Breakdown = append(result.Breakdown, *entry)
	}
	sort.Slice(result.Breakdown, func(i, j int) bool {
		return result.Breakdown[i].TaxCode < result.Breakdown[j].TaxCode
	})
	return result
}

func shippingFor(req EstimateRequest, rates ShippingRates, taxable int64) int64 {
	if rates.FreeOverCents > 0 && taxable >= rates.FreeOverCents {
		return 0
	}
	cost := rates.BaseCents
	if req.TotalWeightGrams > 1000 {
		extraKg := (req.TotalWeightGrams - 1) / 1000 // full kg above the first
		cost += extraKg * rates.PerKgCents
	}
	if req.Address.Country != "" && req.Address.Country != rates.HomeCountry && rates.IntlMultiplier > 1 {
		cost *= rates.IntlMultiplier
	}
	return cost
}

func splitByCode(taxable int64, codes []string) []EstimateLine {
	share := taxable / int64(len(codes))
	remainder := taxable - share*int64(len(codes))
	lines := make([]EstimateLine, len(codes))
	for i, code := range codes {
		amount := share
		if i == 0 {
			amount += remainder
		}
		lines[i] = EstimateLine{AmountCents: amount, TaxCode: code}
	}
	return lines
}
