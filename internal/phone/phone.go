// Package phone converts user-entered mobile numbers into WhatsApp dispatch addresses.
//
// All numbers are assumed to use Indian numbering. The canonical form is the
// 12-digit string "91" followed by the 10-digit subscriber number.
package phone

import "strings"

// CountryCode is the prefix of every canonical address.
const CountryCode = "91"

const canonicalLen = 12

// Normalize returns the canonical address for raw, or false if raw has an
// unsupported shape.
//
// Accepted shapes after stripping non-digits:
//   - 10 digits: prefixed with the country code
//   - 11 digits starting with 0: trunk zero replaced by the country code
//   - 12 digits starting with the country code: kept as is
func Normalize(raw string) (string, bool) {
	digits := strings.Map(func(r rune) rune {
		if isDigit(r) {
			return r
		}
		return -1
	}, raw)

	var out string
	switch {
	case len(digits) == 10:
		out = CountryCode + digits
	case len(digits) == 11 && digits[0] == '0':
		out = CountryCode + digits[1:]
	case len(digits) == canonicalLen && strings.HasPrefix(digits, CountryCode):
		out = digits
	default:
		return "", false
	}

	if !Valid(out) {
		return "", false
	}

	return out, true
}

// Valid reports whether addr is already in canonical form.
func Valid(addr string) bool {
	if len(addr) != canonicalLen || !strings.HasPrefix(addr, CountryCode) {
		return false
	}

	for _, r := range addr {
		if !isDigit(r) {
			return false
		}
	}

	return true
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}
