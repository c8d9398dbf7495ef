package signature

import "strings"

// phoneKeyLength is how many trailing digits identify a phone number.
// Comparing a fixed-length suffix tolerates the usual formatting variants
// of the same number (05xxxxxxxx, 5xxxxxxxx, 9665xxxxxxxx).
const phoneKeyLength = 9

// DigitsOnly strips everything but digits.
func DigitsOnly(val string) string {
	var b strings.Builder
	for _, ch := range val {
		if ch >= '0' && ch <= '9' {
			b.WriteRune(ch)
		}
	}
	return b.String()
}

// PhoneKey normalizes a phone number for comparison.
func PhoneKey(val string) string {
	d := DigitsOnly(val)
	if len(d) >= phoneKeyLength {
		return d[len(d)-phoneKeyLength:]
	}
	return d
}

// MaskPhone hides all but the last 4 digits of a phone number.
func MaskPhone(val string) string {
	d := DigitsOnly(val)
	if d == "" {
		return ""
	}
	if len(d) <= 4 {
		return strings.Repeat("*", len(d))
	}
	return strings.Repeat("*", len(d)-4) + d[len(d)-4:]
}
