package http //nolint:revive // package name conflicts with stdlib but is acceptable in this context

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/mux"
)

const (
	corsAllowMethods  = "GET, POST, OPTIONS"
	corsAllowHeaders  = "Accept, Content-Type, Authorization, X-Request-ID"
	corsExposeHeaders = "X-Request-ID, Retry-After"
	corsMaxAge        = "86400"
)

// originPolicy decides which browser origins may call the API. Patterns are
// full origins ("https://app.example.com"), host wildcards ("*.example.com")
// or "*" for any origin.
type originPolicy struct {
	any      bool
	exact    map[string]struct{}
	suffixes []string
}

func newOriginPolicy(patterns []string) originPolicy {
	p := originPolicy{exact: make(map[string]struct{}, len(patterns))}
	for _, raw := range patterns {
		pattern := strings.ToLower(strings.TrimSpace(raw))
		switch {
		case pattern == "":
		case pattern == "*":
			p.any = true
		case strings.HasPrefix(pattern, "*."):
			p.suffixes = append(p.suffixes, pattern[1:])
		default:
			p.exact[strings.TrimSuffix(pattern, "/")] = struct{}{}
		}
	}
	return p
}

// allows reports whether origin matches the policy. A wildcard matches
// subdomains only, never the bare domain.
func (p originPolicy) allows(origin string) bool {
	if origin == "" {
		return false
	}
	if p.any {
		return true
	}

	origin = strings.ToLower(origin)
	if _, ok := p.exact[origin]; ok {
		return true
	}

	host := originHost(origin)
	for _, suffix := range p.suffixes {
		if len(host) > len(suffix) && strings.HasSuffix(host, suffix) {
			return true
		}
	}
	return false
}

// originHost returns the host of an origin without scheme or port.
func originHost(origin string) string {
	if !strings.Contains(origin, "://") {
		origin = "//" + origin
	}
	u, err := url.Parse(origin)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// corsMiddleware sets CORS headers for allowed origins and answers
// preflight requests without invoking the route handler.
func corsMiddleware(policy originPolicy) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			h := w.Header()
			h.Add("Vary", "Origin")

			if policy.allows(origin) {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Methods", corsAllowMethods)
				h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
				h.Set("Access-Control-Expose-Headers", corsExposeHeaders)
				h.Set("Access-Control-Max-Age", corsMaxAge)
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
