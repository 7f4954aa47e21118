package crawler

import (
	"net/url"
	"strings"

	"github.com/BenjaminSRussell/siteaudit/internal/parser"
	"github.com/BenjaminSRussell/siteaudit/internal/robots"
)

const reservedPrefix = "/inventory"

var mandatoryExtensions = []string{".php", ".css", ".js"}

// Scope decides which discovered links belong to the crawl. It is immutable
// once built and shared by the crawl loop only.
type Scope struct {
	origin     string
	policy     *robots.Policy
	prefixes   []string
	extensions []string
}

// NewScope builds the scope for a seed. Extra prefixes and extensions add to
// the built-in exclusions; they never replace them.
func NewScope(seed *url.URL, policy *robots.Policy, prefixes, extensions []string) *Scope {
	s := &Scope{
		origin:   parser.Origin(seed),
		policy:   policy,
		prefixes: []string{reservedPrefix},
	}
	for _, prefix := range prefixes {
		if prefix = strings.TrimSpace(prefix); prefix != "" {
			s.prefixes = append(s.prefixes, prefix)
		}
	}
	for _, ext := range append(append([]string{}, mandatoryExtensions...), extensions...) {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		s.extensions = append(s.extensions, ext)
	}
	return s
}

// InScope reports whether a raw absolute link may be crawled. Any parse
// failure is out of scope.
func (s *Scope) InScope(raw string) bool {
	if strings.Contains(raw, "#") {
		return false
	}

	u, err := parser.Parse(raw)
	if err != nil {
		return false
	}
	if parser.Origin(u) != s.origin {
		return false
	}
	if u.RawQuery != "" || u.ForceQuery {
		return false
	}

	for _, prefix := range s.prefixes {
		if strings.HasPrefix(u.Path, prefix) {
			return false
		}
	}

	path := strings.ToLower(u.Path)
	for _, ext := range s.extensions {
		if strings.HasSuffix(path, ext) {
			return false
		}
	}

	return s.policy.Allowed(u)
}
