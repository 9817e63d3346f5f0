package auth

import (
	"net/http"
	"slices"
	"strings"
)

// IngestPaths are the POST endpoints that accept collector data.
var IngestPaths = []string{
	"/api/v1/telemetry",
	"/api/v1/kpi",
	"/api/v1/vehicles",
	"/api/v1/station-status",
	"/api/v1/production-stats",
}

// Rule grants access to requests whose path starts with Prefix. An empty
// Methods list matches every method.
type Rule struct {
	Methods []string
	Prefix  string
	Role    Role
}

func (r Rule) matches(req *http.Request) bool {
	if !strings.HasPrefix(req.URL.Path, r.Prefix) {
		return false
	}
	return len(r.Methods) == 0 || slices.Contains(r.Methods, req.Method)
}

// DefaultRules are evaluated in order; the first match wins.
var DefaultRules = []Rule{
	{Methods: []string{http.MethodDelete}, Prefix: "/api/v1/vehicles", Role: RoleAdmin},
	{Methods: []string{http.MethodGet, http.MethodHead, http.MethodOptions}, Prefix: "/api/", Role: RoleViewer},
	{Methods: []string{http.MethodPost}, Prefix: "/api/", Role: RoleCollector},
	{Prefix: "/api/", Role: RoleAdmin},
}

// Policy maps requests to the role they require.
type Policy struct {
	ExemptPaths    map[string]struct{}
	ExemptPrefixes []string
	// ExemptIngest leaves ingest routes to the signature check.
	ExemptIngest bool
	Rules        []Rule
}

// NewDefaultPolicy builds a policy over DefaultRules.
func NewDefaultPolicy(exemptPaths []string, exemptPrefixes []string) Policy {
	set := make(map[string]struct{}, len(exemptPaths))
	for _, path := range exemptPaths {
		set[path] = struct{}{}
	}
	return Policy{ExemptPaths: set, ExemptPrefixes: exemptPrefixes, Rules: DefaultRules}
}

// IsIngest reports whether the request posts to an ingest route.
func IsIngest(r *http.Request) bool {
	return r != nil && r.Method == http.MethodPost && slices.Contains(IngestPaths, r.URL.Path)
}

// IsExempt reports whether the request skips bearer auth.
func (p Policy) IsExempt(r *http.Request) bool {
	if r == nil {
		return true
	}
	if _, ok := p.ExemptPaths[r.URL.Path]; ok {
		return true
	}
	for _, prefix := range p.ExemptPrefixes {
		if strings.HasPrefix(r.URL.Path, prefix) {
			return true
		}
	}
	return p.ExemptIngest && IsIngest(r)
}

// RequiredRole returns the role of the first matching rule.
func (p Policy) RequiredRole(r *http.Request) (Role, bool) {
	if r == nil {
		return "", false
	}
	for _, rule := range p.Rules {
		if rule.matches(r) {
			return rule.Role, true
		}
	}
	return "", false
}
