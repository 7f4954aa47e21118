package parser

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strings"
)

// ErrInvalidURL is returned when a string cannot be turned into an absolute http(s) URL.
var ErrInvalidURL = errors.New("invalid URL")

// Resolve converts href to an absolute URL against base. The fragment and
// query are kept so callers can still inspect the link as written.
func Resolve(base *url.URL, href string) (string, error) {
	href = strings.TrimSpace(href)
	u, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidURL, href, err)
	}
	resolved := base.ResolveReference(u)
	if resolved.Scheme == "" || resolved.Host == "" {
		return "", fmt.Errorf("%w: %q has no scheme or host", ErrInvalidURL, href)
	}
	return resolved.String(), nil
}

// Normalize canonicalizes an absolute URL for dedup and scope comparisons:
// fragment and query are removed, scheme and host lowercased, default ports
// dropped and an empty path becomes "/".
func Normalize(raw string) (string, error) {
	u, err := Parse(raw)
	if err != nil {
		return "", err
	}
	u.Fragment = ""
	u.RawFragment = ""
	u.RawQuery = ""
	u.ForceQuery = false
	return u.String(), nil
}

// Parse parses an absolute URL and canonicalizes its scheme, host and path
// without touching query or fragment.
func Parse(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidURL, raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: %q is not absolute", ErrInvalidURL, raw)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if port := u.Port(); (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		u.Host = u.Hostname()
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return u, nil
}

// Origin returns scheme://host[:port] of a canonicalized URL.
func Origin(u *url.URL) string {
	return u.Scheme + "://" + u.Host
}

// IsHTML reports whether a response is an HTML document. The Content-Type
// header wins; without one the body is sniffed.
func IsHTML(contentType string, body []byte) bool {
	if contentType == "" {
		contentType = http.DetectContentType(body)
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(strings.ToLower(contentType), "text/html")
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}
