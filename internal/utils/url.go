package utils

import (
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/idna"
)

// urlRegex stops at the host: only scheme and authority characters match.
// Hosts may be written in any script.
var urlRegex = regexp.MustCompile(`https?://(?:[-\p{L}\p{M}\p{N}_.]|(?:%[\da-fA-F]{2}))+`)

func ExtractURLs(content string) []string {
	return urlRegex.FindAllString(content, -1)
}

// NormalizeHost returns the lowercase ASCII form of the URL's host.
// Internationalized names come back as punycode.
func NormalizeHost(raw string) (string, error) {
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "", err
	}

	host := strings.ToLower(parsed.Hostname())
	asciiHost, err := idna.ToASCII(host)
	if err == nil {
		host = asciiHost
	}
	return strings.TrimSuffix(host, "."), nil
}

// HostAllowed reports whether host is one of the allowed domains or a
// subdomain of one.
func HostAllowed(host string, allowed ...[]string) bool {
	host = strings.ToLower(host)
	for _, list := range allowed {
		for _, domain := range list {
			domain = strings.ToLower(domain)
			if domain == "" {
				continue
			}
			if host == domain || strings.HasSuffix(host, "."+domain) {
				return true
			}
		}
	}
	return false
}
