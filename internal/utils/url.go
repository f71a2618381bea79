package utils

import (
	"errors"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

var (
	ErrInvalidURL    = errors.New("invalid url")
	ErrInsecureURL   = errors.New("url must use https")
	ErrUntrustedHost = errors.New("url host is not allowed")
)

// NormalizeURL lowercases and punycodes the host, drops user info and the
// fragment, and returns the cleaned URL with its host.
func NormalizeURL(raw string) (string, string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", ErrInvalidURL
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "", "", ErrInvalidURL
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return "", "", ErrInvalidURL
	}
	asciiHost, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return "", "", ErrInvalidURL
	}
	host = asciiHost

	if port := parsed.Port(); port != "" {
		parsed.Host = host + ":" + port
	} else {
		parsed.Host = host
	}
	parsed.Fragment = ""
	parsed.User = nil

	return parsed.String(), host, nil
}

// SecureURL normalizes raw and requires an https scheme.
func SecureURL(raw string) (string, error) {
	normalized, _, err := NormalizeURL(raw)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(normalized, "https://") {
		return "", ErrInsecureURL
	}
	return normalized, nil
}

// HostAllowed reports whether host equals one of suffixes or is a subdomain of one.
func HostAllowed(host string, suffixes []string) bool {
	host = strings.ToLower(host)
	for _, suffix := range suffixes {
		suffix = strings.ToLower(suffix)
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}
