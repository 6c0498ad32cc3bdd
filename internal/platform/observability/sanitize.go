package observability

import (
	"strings"
	"unicode"
)

const defaultStringLimit = 256

// Keys whose values identify a shopper; masked in logs.
var personalKeys = map[string]struct{}{
	"email":     {},
	"firstName": {},
	"lastName":  {},
	"address":   {},
	"city":      {},
	"zip":       {},
	"token":     {},
	"idToken":   {},
}

func sanitizeString(value string, limit int) string {
	if limit <= 0 {
		limit = defaultStringLimit
	}
	cleaned := make([]rune, 0, len(value))
	for _, r := range value {
		if unicode.IsControl(r) && r != '\t' {
			continue
		}
		cleaned = append(cleaned, r)
	}
	if len(cleaned) > limit {
		cleaned = cleaned[:limit]
	}
	return string(cleaned)
}

// SanitizeRoute removes control characters and enforces length constraints on routes.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return sanitizeString(route, 180)
}

// SanitizeMethod removes control characters in HTTP methods.
func SanitizeMethod(method string) string {
	return sanitizeString(method, 10)
}

// SanitizeUserID limits identifiers to a bounded length.
func SanitizeUserID(uid string) string {
	if uid == "" {
		return ""
	}
	return sanitizeString(uid, 64)
}

// MaskEmail keeps the first character of the local part and the domain: "j***@example.com".
func MaskEmail(email string) string {
	email = strings.TrimSpace(email)
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" {
		return maskValue(email)
	}
	return local[:1] + "***@" + sanitizeString(domain, 128)
}

func maskValue(value string) string {
	if value == "" {
		return ""
	}
	return "***"
}

// RedactFields returns a copy of fields with personal values masked.
func RedactFields(fields map[string]any) map[string]any {
	if len(fields) == 0 {
		return fields
	}
	out := make(map[string]any, len(fields))
	for key, value := range fields {
		if _, personal := personalKeys[key]; personal {
			str, _ := value.(string)
			if key == "email" {
				out[key] = MaskEmail(str)
			} else {
				out[key] = maskValue(str)
			}
			continue
		}
		out[key] = value
	}
	return out
}
