package pricing

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ISO 4217 exponents for the currencies payouts are supported in.
var minorUnits = map[string]int32{
	"USD": 2,
	"EUR": 2,
	"GBP": 2,
	"CAD": 2,
	"AUD": 2,
	"CHF": 2,
	"SEK": 2,
	"NOK": 2,
	"DKK": 2,
	"PLN": 2,
	"BRL": 2,
	"MXN": 2,
	"INR": 2,
	"SGD": 2,
	"HKD": 2,
	"NZD": 2,
	"JPY": 0,
	"KRW": 0,
	"BHD": 3,
	"KWD": 3,
}

func NormalizeCurrency(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}

// MinorUnits returns the number of decimal places of currency.
func MinorUnits(currency string) (int32, error) {
	places, ok := minorUnits[NormalizeCurrency(currency)]
	if !ok {
		return 0, ErrUnknownCurrency
	}
	return places, nil
}

// ValidAmount reports whether amount is non-negative and has no more
// precision than currency allows.
func ValidAmount(amount decimal.Decimal, currency string) error {
	places, err := MinorUnits(currency)
	if err != nil {
		return err
	}
	if amount.IsNegative() {
		return ErrNegativeAmount
	}
	if !amount.Equal(amount.Truncate(places)) {
		return ErrAmountPrecision
	}
	return nil
}

// ToMinorUnits converts amount into the integer unit processors expect
// (cents for USD).
func ToMinorUnits(amount decimal.Decimal, currency string) (int64, error) {
	places, err := MinorUnits(currency)
	if err != nil {
		return 0, err
	}
	return amount.Shift(places).RoundBank(0).IntPart(), nil
}
