package crawler

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL standardizes a URL so the visited set does not hold duplicates.
// It lowercases the scheme and host, removes default ports and fragments,
// sorts query parameters and maps an empty path to "/".
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	return normalize(u), nil
}

func normalize(u *url.URL) string {
	n := *u
	n.Scheme = strings.ToLower(n.Scheme)
	n.Host = strings.ToLower(n.Host)

	if n.Scheme == "http" && strings.HasSuffix(n.Host, ":80") {
		n.Host = strings.TrimSuffix(n.Host, ":80")
	}
	if n.Scheme == "https" && strings.HasSuffix(n.Host, ":443") {
		n.Host = strings.TrimSuffix(n.Host, ":443")
	}
	if n.Path == "" {
		n.Path = "/"
	}
	n.Fragment = ""
	n.RawFragment = ""
	n.RawQuery = n.Query().Encode()
	return n.String()
}

// ParseSeed validates a crawl seed: absolute http(s) with a host.
func ParseSeed(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("url %q has no host", raw)
	}
	return u, nil
}

// ResolveLink resolves href against base and returns nil for links the crawler never follows.
func ResolveLink(base *url.URL, href string) *url.URL {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return nil
	}
	ref, err := url.Parse(href)
	if err != nil {
		return nil
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return nil
	}
	return abs
}

// SameSite reports whether two URLs share a host, ignoring a leading "www.".
func SameSite(a, b *url.URL) bool {
	return siteKey(a) == siteKey(b)
}

func siteKey(u *url.URL) string {
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
