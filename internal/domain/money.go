package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Money — сумма в минимальных денежных единицах (центах). Две цифры после запятой.
type Money int64

const moneyScale = 100

// ParseMoney разбирает десятичную запись вида "2.9" или "11.60".
func ParseMoney(raw string) (Money, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, fmt.Errorf("parse money: empty value")
	}

	negative := false
	if s[0] == '-' || s[0] == '+' {
		negative = s[0] == '-'
		s = s[1:]
	}

	intPart, fracPart, hasFrac := strings.Cut(s, ".")
	if intPart == "" && (!hasFrac || fracPart == "") {
		return 0, fmt.Errorf("parse money %q: no digits", raw)
	}
	if len(fracPart) > 2 {
		return 0, fmt.Errorf("parse money %q: more than two fractional digits", raw)
	}
	if !allDigits(intPart) || !allDigits(fracPart) {
		return 0, fmt.Errorf("parse money %q: invalid characters", raw)
	}

	var units int64
	if intPart != "" {
		v, err := strconv.ParseInt(intPart, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse money %q: %w", raw, err)
		}
		units = v
	}
	for len(fracPart) < 2 {
		fracPart += "0"
	}
	cents, _ := strconv.ParseInt(fracPart, 10, 64)

	total := units*moneyScale + cents
	if negative {
		total = -total
	}
	return Money(total), nil
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Mul умножает цену на количество.
func (m Money) Mul(qty int) Money {
	return m * Money(qty)
}

// String возвращает запись с двумя знаками после запятой.
func (m Money) String() string {
	sign := ""
	v := int64(m)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/moneyScale, v%moneyScale)
}

// MarshalJSON кодирует сумму JSON-числом (11.60).
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalJSON принимает JSON-число или строку.
func (m *Money) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if raw == "null" {
		return nil
	}
	if strings.ContainsAny(raw, "eE") {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("parse money %q: %w", raw, err)
		}
		raw = strconv.FormatFloat(f, 'f', -1, 64)
	}
	parsed, err := ParseMoney(raw)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
