package download

import (
	"net/url"
	"strings"
)

// IsAllowedURL reports whether the raw URL parses and belongs to one of the
// allowed hosts. Matching is suffix-based so subdomains of an allowed host
// are accepted.
func IsAllowedURL(raw string, allowedHosts []string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}

	host := strings.ToLower(parsed.Host)
	if host == "" {
		return false
	}

	for _, allowed := range allowedHosts {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}

	return false
}
