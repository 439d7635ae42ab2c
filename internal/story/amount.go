package story

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
)

// Decimals is the number of fractional digits of the native token (MON).
const Decimals = 18

var weiPerUnit = new(big.Int).Exp(big.NewInt(10), big.NewInt(Decimals), nil)

// Amount is a token amount held as an integer number of wei.
// The zero value is zero. Amounts are immutable; arithmetic returns new values.
type Amount struct {
	wei *big.Int
}

// NewAmount returns an amount of the given number of wei.
func NewAmount(wei int64) Amount {
	return Amount{wei: big.NewInt(wei)}
}

// AmountFromWei parses a base-10 integer wei string.
func AmountFromWei(s string) (Amount, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return Amount{}, fmt.Errorf("invalid wei amount %q", s)
	}
	return Amount{wei: v}, nil
}

// ParseAmount parses a decimal token string such as "1", "0.1" or "-2.5".
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Amount{}, fmt.Errorf("empty amount")
	}
	neg := false
	if s[0] == '-' || s[0] == '+' {
		neg = s[0] == '-'
		s = s[1:]
	}
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" && frac == "" {
		return Amount{}, fmt.Errorf("invalid amount")
	}
	if !allDigits(whole) || !allDigits(frac) {
		return Amount{}, fmt.Errorf("invalid amount %q", s)
	}
	if len(frac) > Decimals {
		return Amount{}, fmt.Errorf("amount %q has more than %d decimals", s, Decimals)
	}
	digits := strings.TrimLeft(whole+frac+strings.Repeat("0", Decimals-len(frac)), "0")
	if digits == "" {
		return Amount{wei: new(big.Int)}, nil
	}
	v, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return Amount{}, fmt.Errorf("invalid amount %q", s)
	}
	if neg {
		v.Neg(v)
	}
	return Amount{wei: v}, nil
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func (a Amount) int() *big.Int {
	if a.wei == nil {
		return new(big.Int)
	}
	return a.wei
}

// Wei returns a copy of the underlying integer.
func (a Amount) Wei() *big.Int {
	return new(big.Int).Set(a.int())
}

// WeiString formats the amount as a base-10 wei integer.
func (a Amount) WeiString() string {
	return a.int().String()
}

// String formats the amount in whole tokens without trailing zeros.
func (a Amount) String() string {
	v := a.int()
	abs := new(big.Int).Abs(v)
	q, r := new(big.Int).QuoRem(abs, weiPerUnit, new(big.Int))
	out := q.String()
	if r.Sign() != 0 {
		frac := r.String()
		frac = strings.Repeat("0", Decimals-len(frac)) + frac
		out += "." + strings.TrimRight(frac, "0")
	}
	if v.Sign() < 0 {
		out = "-" + out
	}
	return out
}

func (a Amount) Sign() int { return a.int().Sign() }

func (a Amount) IsZero() bool { return a.Sign() == 0 }

func (a Amount) Cmp(b Amount) int { return a.int().Cmp(b.int()) }

func (a Amount) Add(b Amount) Amount {
	return Amount{wei: new(big.Int).Add(a.int(), b.int())}
}

func (a Amount) Sub(b Amount) Amount {
	return Amount{wei: new(big.Int).Sub(a.int(), b.int())}
}

func (a Amount) Mul(n int64) Amount {
	return Amount{wei: new(big.Int).Mul(a.int(), big.NewInt(n))}
}

// Split divides the amount into n equal integer shares and returns the share
// and the remainder left over. n must be positive.
func (a Amount) Split(n int) (share, remainder Amount) {
	q, r := new(big.Int).QuoRem(a.int(), big.NewInt(int64(n)), new(big.Int))
	return Amount{wei: q}, Amount{wei: r}
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("amount must be a decimal string")
		}
		s = n.String()
	}
	v, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = v
	return nil
}
