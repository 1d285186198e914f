package observability

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	maxLoggedRoute  = 180
	maxLoggedID     = 64
	visibleIDPrefix = 6
	maskSuffix      = "***"
)

// referenceParents name the path segments followed by a payment reference.
var referenceParents = map[string]struct{}{
	"verify": {},
}

// sanitizeString drops control characters, newlines included, and truncates to limit runes.
func sanitizeString(value string, limit int) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, value)
	if limit > 0 && utf8.RuneCountInString(cleaned) > limit {
		cleaned = string([]rune(cleaned)[:limit])
	}
	return cleaned
}

// MaskIdentifier keeps a short prefix of value so log lines can still be correlated.
func MaskIdentifier(value string) string {
	value = sanitizeString(value, maxLoggedID)
	if value == "" {
		return ""
	}
	runes := []rune(value)
	if len(runes) <= visibleIDPrefix {
		return maskSuffix
	}
	return string(runes[:visibleIDPrefix]) + maskSuffix
}

// SanitizeRoute cleans a route pattern or raw path. Payment references in raw paths are masked;
// chi placeholders such as {reference} pass through.
func SanitizeRoute(route string) string {
	route = sanitizeString(route, maxLoggedRoute)
	if route == "" {
		return "/"
	}
	segments := strings.Split(route, "/")
	for i := 1; i < len(segments); i++ {
		if _, ok := referenceParents[segments[i-1]]; !ok {
			continue
		}
		if segment := segments[i]; segment != "" && !strings.HasPrefix(segment, "{") {
			segments[i] = MaskIdentifier(segment)
		}
	}
	return strings.Join(segments, "/")
}

func SanitizeMethod(method string) string {
	return strings.ToUpper(sanitizeString(method, 10))
}

// SanitizeUserID bounds a Firebase uid. Uids are opaque, so they are logged in full.
func SanitizeUserID(uid string) string {
	return sanitizeString(uid, maxLoggedID)
}

// SanitizeDeviceID masks the device id, which doubles as the key of the guest cart.
func SanitizeDeviceID(deviceID string) string {
	return MaskIdentifier(deviceID)
}
