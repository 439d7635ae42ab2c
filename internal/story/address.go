package story

import (
	"strings"
	"unicode"
)

const maxAddressLength = 64

// Address identifies an author or donor: a 0x-prefixed account address or
// another opaque identity such as "discord:1234".
type Address string

// ParseAddress normalises s. Hex account addresses are lower-cased.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > maxAddressLength {
		return "", ErrInvalidAddress
	}
	if strings.IndexFunc(s, unicode.IsSpace) >= 0 {
		return "", ErrInvalidAddress
	}
	if len(s) == 42 && (strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X")) {
		if !isHex(s[2:]) {
			return "", ErrInvalidAddress
		}
		return Address("0x" + strings.ToLower(s[2:])), nil
	}
	return Address(s), nil
}

func isHex(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

// Short renders the address the way the story page does: 0x1234...abcd.
func (a Address) Short() string {
	s := string(a)
	if len(s) < 10 {
		return s
	}
	return s[:6] + "..." + s[len(s)-4:]
}

// DiscordAddress is the identity of a Discord user.
func DiscordAddress(userID string) Address {
	return Address("discord:" + userID)
}
