package settlement

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// Decimals is the number of fractional digits between CCD and microCCD
const Decimals = 6

// maxIntegerDigits is the most integer digits a CCD amount can have and
// still fit in uint64 microCCD
const maxIntegerDigits = 20 - Decimals

// ToSmallestUnit converts a CCD amount to microCCD.
//
// The amount is scaled by 10^6 and rounded half-to-even (banker's rounding),
// so inputs with at most six fractional digits convert exactly. Amounts that
// are not positive, round to zero or do not fit in uint64 fail with
// ErrInvalidAmount.
func ToSmallestUnit(amount decimal.Decimal) (uint64, error) {
	if err := checkMagnitude(amount); err != nil {
		return 0, err
	}
	if !amount.IsPositive() {
		return 0, NewError(ErrCodeInvalidAmount, "amount must be greater than zero",
			map[string]interface{}{"amount": amount.String()})
	}

	units := amount.Shift(Decimals).RoundBank(0).BigInt()
	if units.Sign() <= 0 {
		return 0, NewError(ErrCodeInvalidAmount, "amount is smaller than one microCCD",
			map[string]interface{}{"amount": amount.String()})
	}
	if !units.IsUint64() {
		return 0, NewError(ErrCodeInvalidAmount, "amount exceeds the ledger maximum",
			map[string]interface{}{"amount": amount.String()})
	}
	return units.Uint64(), nil
}

// checkMagnitude rejects amounts that are far out of range before any
// rescaling, which costs time proportional to the exponent
func checkMagnitude(amount decimal.Decimal) error {
	magnitude := amount.NumDigits() + int(amount.Exponent())
	switch {
	case magnitude > maxIntegerDigits:
		return NewError(ErrCodeInvalidAmount, "amount exceeds the ledger maximum",
			map[string]interface{}{"exponent": amount.Exponent()})
	case magnitude < -Decimals:
		// below 10^-7 CCD, which rounds to zero microCCD
		return NewError(ErrCodeInvalidAmount, "amount is smaller than one microCCD",
			map[string]interface{}{"exponent": amount.Exponent()})
	}
	return nil
}

// ToDecimal converts microCCD back to CCD exactly
func ToDecimal(units uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(units), -Decimals)
}

// ParseAmount parses a decimal CCD amount from text. NaN and infinities are
// rejected because they have no decimal representation.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Decimal{}, NewError(ErrCodeInvalidAmount, "amount is empty", nil)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, NewError(ErrCodeInvalidAmount,
			fmt.Sprintf("amount %q is not a finite decimal number", s), nil)
	}
	if err := checkMagnitude(d); err != nil {
		return decimal.Decimal{}, err
	}
	return d, nil
}

// FormatAmount renders microCCD as a CCD string without trailing zeros
func FormatAmount(units uint64) string {
	return ToDecimal(units).String()
}
