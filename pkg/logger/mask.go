package logger

import "regexp"

var phonePattern = regexp.MustCompile(`\+?\d{10,15}`)

// MaskPhone redacts the trailing digits of phone numbers embedded in s.
// Example: +15551234444 -> +15551234****. Log lines must never carry a full
// recipient number.
func MaskPhone(s string) string {
	return phonePattern.ReplaceAllStringFunc(s, func(m string) string {
		if len(m) < 7 {
			return m
		}
		return m[:len(m)-4] + "****"
	})
}
