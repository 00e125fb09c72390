package core

import (
	"fmt"
	"strconv"
	"strings"
)

// AmountDecimals is the number of decimals of the fixed point representation.
const AmountDecimals = 9

const amountFactor uint64 = 1_000_000_000

// Amount is a non-negative fixed point coin amount stored as raw units.
type Amount uint64

// AmountFromRaw wraps raw units
func AmountFromRaw(raw uint64) Amount {
	return Amount(raw)
}

// Raw returns the amount in raw units
func (a Amount) Raw() uint64 {
	return uint64(a)
}

// CheckedAdd returns a+b, or false on overflow.
func (a Amount) CheckedAdd(b Amount) (Amount, bool) {
	sum := a + b
	if sum < a {
		return 0, false
	}
	return sum, true
}

// CheckedSub returns a-b, or false when b > a.
func (a Amount) CheckedSub(b Amount) (Amount, bool) {
	if b > a {
		return 0, false
	}
	return a - b, true
}

// SaturatingSub returns a-b, floored at zero.
func (a Amount) SaturatingSub(b Amount) Amount {
	if b > a {
		return 0
	}
	return a - b
}

// String formats the amount with its decimal part, trailing zeros removed.
func (a Amount) String() string {
	whole := uint64(a) / amountFactor
	frac := uint64(a) % amountFactor
	if frac == 0 {
		return strconv.FormatUint(whole, 10)
	}
	fs := strings.TrimRight(fmt.Sprintf("%09d", frac), "0")
	return strconv.FormatUint(whole, 10) + "." + fs
}

// ParseAmount parses a decimal string such as "12.5".
func ParseAmount(s string) (Amount, error) {
	whole, frac, hasFrac := strings.Cut(s, ".")
	if whole == "" && !hasFrac {
		return 0, fmt.Errorf("empty amount")
	}
	var w uint64
	if whole != "" {
		v, err := strconv.ParseUint(whole, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid amount %q: %w", s, err)
		}
		w = v
	}
	var f uint64
	if hasFrac {
		if frac == "" || len(frac) > AmountDecimals {
			return 0, fmt.Errorf("invalid amount %q: bad decimal part", s)
		}
		v, err := strconv.ParseUint(frac+strings.Repeat("0", AmountDecimals-len(frac)), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid amount %q: %w", s, err)
		}
		f = v
	}
	if w > (^uint64(0)-f)/amountFactor {
		return 0, fmt.Errorf("invalid amount %q: %w", s, ErrAmountOverflow)
	}
	return Amount(w*amountFactor + f), nil
}
