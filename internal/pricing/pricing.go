package pricing

import (
	"CreatorDeals/internal/errs"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidMarginRate = errs.New(errs.CodeInvalidConfiguration, "margin rate must be in [0, 1) with at most 5 decimal places")
	ErrNegativeAmount    = errs.New(errs.CodeInvalidAmount, "amount must not be negative")
	ErrUnknownCurrency   = errs.New(errs.CodeInvalidCurrency, "unsupported currency")
	ErrAmountPrecision   = errs.New(errs.CodeAmountPrecision, "amount has more decimal places than the currency allows")
)

// Service applies the configured platform margin.
type Service struct {
	MarginRate decimal.Decimal
}

// Quote is the margin snapshot frozen onto a deal at creation time.
type Quote struct {
	Gross      decimal.Decimal `json:"gross"`
	Net        decimal.Decimal `json:"net"`
	MarginRate decimal.Decimal `json:"margin_rate"`
	Currency   string          `json:"currency"`
}

func (s Service) Quote(gross decimal.Decimal, currency string) (Quote, error) {
	rate := s.MarginRate
	net, err := NetValue(gross, rate, currency)
	if err != nil {
		return Quote{}, err
	}
	return Quote{
		Gross:      gross,
		Net:        net,
		MarginRate: rate,
		Currency:   NormalizeCurrency(currency),
	}, nil
}

// MarginRatePlaces is the precision of the margin_rate column.
const MarginRatePlaces = 5

// ValidateRate checks rate is within [0, 1) and fits the stored precision,
// so the frozen rate always reproduces the frozen net value.
func ValidateRate(rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return ErrInvalidMarginRate
	}
	if !rate.Equal(rate.Truncate(MarginRatePlaces)) {
		return errs.WithMetadata(ErrInvalidMarginRate, map[string]string{"rate": rate.String()})
	}
	return nil
}

// NetValue returns gross × (1 − rate) rounded half-even to the currency's
// minor unit.
func NetValue(gross, rate decimal.Decimal, currency string) (decimal.Decimal, error) {
	if err := ValidateRate(rate); err != nil {
		return decimal.Zero, err
	}
	if gross.IsNegative() {
		return decimal.Zero, ErrNegativeAmount
	}
	places, err := MinorUnits(currency)
	if err != nil {
		return decimal.Zero, err
	}
	net := gross.Mul(decimal.NewFromInt(1).Sub(rate)).RoundBank(places)
	// Half-even can only round up to gross when rate is zero or below the
	// minor unit; clamp keeps net <= gross regardless.
	if net.GreaterThan(gross) {
		net = gross
	}
	return net, nil
}
