package auth

import (
	"net/url"
	"strings"
)

// OriginAllowed matches the Origin header of a widget request against a
// store's allowed origins. Entries are host names, optionally with a scheme,
// and "*.example.com" matches any subdomain of example.com but not the apex.
func OriginAllowed(origin string, allowed []string) bool {
	host := originHost(origin)
	if host == "" {
		return false
	}
	for _, entry := range allowed {
		entry = strings.ToLower(strings.TrimSpace(entry))
		if entry == "*" {
			return true
		}
		if suffix, ok := strings.CutPrefix(entry, "*."); ok {
			if strings.HasSuffix(host, "."+originHost(suffix)) {
				return true
			}
			continue
		}
		if host == originHost(entry) {
			return true
		}
	}
	return false
}

func originHost(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "null" {
		return ""
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return ""
	}
	return strings.TrimSuffix(u.Hostname(), ".")
}
