package model

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Money is an amount in minor units (pesewas). 102.00 GHS is stored as 10200.
// Kept as fixed-point integer so commission arithmetic is exact and
// reproducible across platforms.
type Money int64

var ErrMalformedAmount = errors.New("malformed amount")

// ParseMoney parses a 2-decimal string such as "102.00", "100.5" or "100".
func ParseMoney(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrMalformedAmount
	}

	neg := false
	if s[0] == '-' {
		neg = true
		s = s[1:]
	}

	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if whole == "" && frac == "" {
		return 0, ErrMalformedAmount
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > 2 {
		return 0, ErrMalformedAmount
	}
	// pad "5" -> "50" so .5 means 50 minor units
	for len(frac) < 2 {
		frac += "0"
	}

	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, ErrMalformedAmount
	}
	cents, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, ErrMalformedAmount
	}

	v := units*100 + cents
	if neg {
		v = -v
	}
	return Money(v), nil
}

func (m Money) String() string {
	v := int64(m)
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// MarshalJSON renders the amount as a plain 2-decimal JSON number,
// matching the wire shape callers expect from the API.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalJSON accepts both a JSON number and a quoted decimal string.
// Parsing goes through the string form, never through float64.
func (m *Money) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(bytes.TrimSpace(data), `"`)
	v, err := ParseMoney(string(data))
	if err != nil {
		return err
	}
	*m = v
	return nil
}
