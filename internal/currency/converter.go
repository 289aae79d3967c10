package currency

import "github.com/shopspring/decimal"

// Converter normalizes minor-unit amounts across currencies through USD
// cross-rates. Rates map a currency code to units per 1 USD; USD itself is
// implicit. Conversion rounds at each stage boundary, which bounds the
// compounding error to one minor unit per conversion.
type Converter struct {
	rates map[string]decimal.Decimal
}

func NewConverter(rates map[string]decimal.Decimal) *Converter {
	return &Converter{rates: rates}
}

func (c *Converter) HasRate(code string) bool {
	if code == "USD" {
		return true
	}
	_, ok := c.rates[code]
	return ok
}

// Convert translates amountMinor from one currency to another. A missing
// rate returns the amount unchanged; callers use HasRate to surface the
// degraded case when it matters.
func (c *Converter) Convert(amountMinor int64, from, to string) int64 {
	if from == to {
		return amountMinor
	}
	amountInUSD := decimal.NewFromInt(amountMinor)
	if from != "USD" {
		fromRate, ok := c.rates[from]
		if !ok || !fromRate.IsPositive() {
			return amountMinor
		}
		amountInUSD = amountInUSD.Div(fromRate).RoundBank(0)
	}
	if to == "USD" {
		return amountInUSD.IntPart()
	}
	toRate, ok := c.rates[to]
	if !ok || !toRate.IsPositive() {
		return amountMinor
	}
	return amountInUSD.Mul(toRate).RoundBank(0).IntPart()
}
