// Package money converts between decimal amounts and the fixed-point integer
// representation the ledger stores, and normalizes amounts across currencies.
//
// All balances and entry amounts are int64 "storage units" at 4 decimal
// places of precision (1 unit = 0.0001), so arithmetic inside the ledger is
// exact. Cross-currency comparison is done by normalizing everything to USD
// through a static rate table.
package money

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Scale is the number of decimal digits preserved in storage units.
const Scale = 4

// Denominator is the number of storage units in one whole currency unit.
const Denominator = 10_000

// MaxAmount guards against overflow in downstream balance arithmetic.
const MaxAmount = math.MaxInt64 / 2

var (
	ErrInvalidCurrency = errors.New("money: invalid currency code")
	ErrInvalidAmount   = errors.New("money: amount must be positive")
	ErrAmountTooLarge  = errors.New("money: amount exceeds maximum allowed value")
	ErrLossOfPrecision = errors.New("money: amount has more than 4 decimal places")
)

// usdRates maps an upper-case currency code to the USD value of one unit.
// Live FX is out of scope.
var usdRates = map[string]decimal.Decimal{
	"USD": decimal.NewFromInt(1),

	// Europe
	"EUR": decimal.RequireFromString("1.08"),
	"GBP": decimal.RequireFromString("1.27"),
	"CHF": decimal.RequireFromString("1.12"),

	// Middle East
	"AED": decimal.RequireFromString("0.27"),
	"KWD": decimal.RequireFromString("3.25"),

	// Asia
	"INR": decimal.RequireFromString("0.012"),
	"CNY": decimal.RequireFromString("0.14"),
	"KRW": decimal.RequireFromString("0.00077"),
	"JPY": decimal.RequireFromString("0.0067"),

	// Americas
	"CAD": decimal.RequireFromString("0.74"),
	"BRL": decimal.RequireFromString("0.20"),
	"ARS": decimal.RequireFromString("0.0011"),

	// Oceania
	"AUD": decimal.RequireFromString("0.66"),
}

// Rate returns the USD value of one unit of the given currency.
func Rate(currency string) (decimal.Decimal, error) {
	rate, ok := usdRates[strings.ToUpper(currency)]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidCurrency, currency)
	}

	return rate, nil
}

// ValidCurrency reports whether the code is in the rate table.
func ValidCurrency(currency string) bool {
	_, ok := usdRates[strings.ToUpper(currency)]
	return ok
}

// ToStorageUnits converts a decimal amount to storage units. The amount must
// be exactly representable at 4 decimal places; the ledger never rounds money
// silently.
func ToStorageUnits(amount decimal.Decimal) (int64, error) {
	shifted := amount.Shift(Scale)
	if !shifted.IsInteger() {
		return 0, fmt.Errorf("%w: %s", ErrLossOfPrecision, amount)
	}

	if !shifted.BigInt().IsInt64() {
		return 0, fmt.Errorf("%w: %s", ErrAmountTooLarge, amount)
	}

	return shifted.IntPart(), nil
}

// FromStorageUnits is the exact inverse of ToStorageUnits.
func FromStorageUnits(units int64) decimal.Decimal {
	return decimal.New(units, -Scale)
}

// ToUSD converts an amount in the given currency to USD.
func ToUSD(amount decimal.Decimal, currency string) (decimal.Decimal, error) {
	rate, err := Rate(currency)
	if err != nil {
		return decimal.Zero, err
	}

	return amount.Mul(rate), nil
}

// FromUSD converts a USD amount back to the given currency. The divisions are
// carried at decimal.DivisionPrecision, which is sufficient for the rate
// table's precision.
func FromUSD(amount decimal.Decimal, currency string) (decimal.Decimal, error) {
	rate, err := Rate(currency)
	if err != nil {
		return decimal.Zero, err
	}

	return amount.Div(rate), nil
}

// ToUSDStorageUnits normalizes a caller amount in any supported currency to
// USD storage units, rounding the USD value to the storage scale. This is the
// form every balance comparison inside the ledger operates on.
func ToUSDStorageUnits(amount decimal.Decimal, currency string) (int64, error) {
	usd, err := ToUSD(amount, currency)
	if err != nil {
		return 0, err
	}

	return ToStorageUnits(usd.Round(Scale))
}

// FromUSDStorageUnits converts stored USD units back to a decimal amount in
// the given currency.
func FromUSDStorageUnits(units int64, currency string) (decimal.Decimal, error) {
	return FromUSD(FromStorageUnits(units), currency)
}

// ValidateAmount enforces the bounds every ledger entry amount must satisfy:
// strictly positive and small enough to never overflow balance arithmetic.
func ValidateAmount(units int64) error {
	if units <= 0 {
		return ErrInvalidAmount
	}

	if units > MaxAmount {
		return ErrAmountTooLarge
	}

	return nil
}
