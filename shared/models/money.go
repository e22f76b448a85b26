package models

import (
	"database/sql/driver"
	"fmt"

	"github.com/shopspring/decimal"
)

// moneyScale is the number of minor-unit digits (cents).
const moneyScale int32 = 2

// MaxMoney is the largest amount a NUMERIC(12,2) ledger column holds.
const MaxMoney Money = 999_999_999_999

var maxMinorUnits = decimal.NewFromInt(int64(MaxMoney))

// Money is an amount in minor currency units. All auction arithmetic is
// done on Money; decimals only appear at the wire and database boundary.
type Money int64

// Cents builds a Money from a minor-unit count.
func Cents(c int64) Money { return Money(c) }

// ParseMoney parses a decimal string such as "12.50".
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return MoneyFromDecimal(d)
}

// MoneyFromDecimal converts d to minor units. Amounts with more precision
// than a cent, or beyond MaxMoney in either direction, are rejected.
func MoneyFromDecimal(d decimal.Decimal) (Money, error) {
	shifted := d.Shift(moneyScale)
	if !shifted.IsInteger() {
		return 0, fmt.Errorf("amount %s has more than %d decimal places", d.String(), moneyScale)
	}
	if shifted.Abs().GreaterThan(maxMinorUnits) {
		return 0, fmt.Errorf("amount %s exceeds %s", d.String(), MaxMoney)
	}
	return Money(shifted.IntPart()), nil
}

// Decimal returns the amount in major units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(int64(m), -moneyScale)
}

func (m Money) String() string {
	return m.Decimal().StringFixed(moneyScale)
}

// Min returns the smaller of m and o.
func (m Money) Min(o Money) Money {
	if o < m {
		return o
	}
	return m
}

// MarshalJSON writes the amount as a JSON number with two decimals.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalJSON accepts both JSON numbers and quoted decimal strings.
func (m *Money) UnmarshalJSON(b []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil {
		return fmt.Errorf("invalid amount: %w", err)
	}
	v, err := MoneyFromDecimal(d)
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Value stores Money in NUMERIC columns.
func (m Money) Value() (driver.Value, error) {
	return m.String(), nil
}

// Scan reads NUMERIC columns, which lib/pq returns as text.
func (m *Money) Scan(src interface{}) error {
	var d decimal.Decimal
	if err := d.Scan(src); err != nil {
		return fmt.Errorf("scan money: %w", err)
	}
	v, err := MoneyFromDecimal(d)
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// MoneyPtr is a helper for optional amounts.
func MoneyPtr(m Money) *Money { return &m }
