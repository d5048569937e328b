package models

import (
	"errors"
	"fmt"
)

// MaxAddressLength bounds an identity address (standard or contract principal)
const MaxAddressLength = 128

// ErrInvalidAddress is returned when an address fails validation
var ErrInvalidAddress = errors.New("invalid address")

// Address identifies a principal on the host ledger
type Address string

// ParseAddress validates and returns an Address
func ParseAddress(s string) (Address, error) {
	if s == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidAddress)
	}
	if len(s) > MaxAddressLength {
		return "", fmt.Errorf("%w: longer than %d characters", ErrInvalidAddress, MaxAddressLength)
	}
	for i := 0; i < len(s); i++ {
		if !isAddressChar(s[i]) {
			return "", fmt.Errorf("%w: unexpected character %q at %d", ErrInvalidAddress, s[i], i)
		}
	}
	return Address(s), nil
}

// MustParseAddress is ParseAddress for constants; it panics on invalid input
func MustParseAddress(s string) Address {
	addr, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return addr
}

// Valid reports whether the address passes ParseAddress
func (a Address) Valid() bool {
	_, err := ParseAddress(string(a))
	return err == nil
}

func (a Address) String() string {
	return string(a)
}

func isAddressChar(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	case c == '.', c == '-', c == '_':
		return true
	}
	return false
}
