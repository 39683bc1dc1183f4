package util

import "strings"

// NormalizePhone converts a Korean local phone number to E.164 without
// the plus sign: the leading trunk "0" is replaced by country code 82
// and all separators are stripped. Numbers that already start with 82
// (or +82) are only stripped. Anything else is returned cleaned as-is.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	p := b.String()
	switch {
	case p == "":
		return ""
	case strings.HasPrefix(p, "82"):
		return p
	case strings.HasPrefix(p, "0"):
		return "82" + p[1:]
	}
	return p
}
