package httpx

import (
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"
)

// CORSPolicy lists the browser origins allowed to call the API. An empty
// origin list disables CORS handling entirely.
type CORSPolicy struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	AllowCredentials bool
	MaxAge           time.Duration
}

// cors is a CORSPolicy resolved into the header values it emits.
type cors struct {
	anyOrigin   bool
	origins     map[string]struct{}
	methods     []string
	credentials bool

	allowMethods string
	allowHeaders string
	maxAge       string
}

func compileCORS(p CORSPolicy) *cors {
	c := &cors{origins: map[string]struct{}{}, credentials: p.AllowCredentials}
	for _, o := range p.AllowedOrigins {
		o = strings.ToLower(strings.TrimSpace(o))
		switch o {
		case "":
		case "*":
			c.anyOrigin = true
		default:
			c.origins[strings.TrimSuffix(o, "/")] = struct{}{}
		}
	}

	c.methods = tidy(p.AllowedMethods, strings.ToUpper)
	if len(c.methods) == 0 {
		c.methods = []string{http.MethodGet, http.MethodPost, http.MethodPatch}
	}
	headers := tidy(p.AllowedHeaders, http.CanonicalHeaderKey)
	if len(headers) == 0 {
		headers = []string{"Authorization", "Content-Type", RequestIDHeader}
	}
	c.allowMethods = strings.Join(append(slices.Clone(c.methods), http.MethodOptions), ", ")
	c.allowHeaders = strings.Join(headers, ", ")
	if secs := int(p.MaxAge / time.Second); secs > 0 {
		c.maxAge = strconv.Itoa(secs)
	}
	return c
}

// allowOrigin returns the Access-Control-Allow-Origin value for origin.
// A wildcard is echoed back as the concrete origin when credentials are on.
func (c *cors) allowOrigin(origin string) (string, bool) {
	if _, ok := c.origins[strings.ToLower(origin)]; ok {
		return origin, true
	}
	if !c.anyOrigin {
		return "", false
	}
	if c.credentials {
		return origin, true
	}
	return "*", true
}

// WithCORS answers preflight requests and decorates responses to allowed
// origins. Preflights asking for a method outside the policy get 403.
func WithCORS(p CORSPolicy) Middleware {
	if len(tidy(p.AllowedOrigins, nil)) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	c := compileCORS(p)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Add("Vary", "Origin")

			origin := r.Header.Get("Origin")
			allowed, ok := c.allowOrigin(origin)
			if origin == "" || !ok {
				next.ServeHTTP(w, r)
				return
			}
			h.Set("Access-Control-Allow-Origin", allowed)
			if c.credentials {
				h.Set("Access-Control-Allow-Credentials", "true")
			}

			requested := r.Header.Get("Access-Control-Request-Method")
			if r.Method != http.MethodOptions || requested == "" {
				next.ServeHTTP(w, r)
				return
			}

			h.Add("Vary", "Access-Control-Request-Method")
			h.Add("Vary", "Access-Control-Request-Headers")
			if !slices.Contains(c.methods, strings.ToUpper(requested)) {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			h.Set("Access-Control-Allow-Methods", c.allowMethods)
			h.Set("Access-Control-Allow-Headers", c.allowHeaders)
			if c.maxAge != "" {
				h.Set("Access-Control-Max-Age", c.maxAge)
			}
			w.WriteHeader(http.StatusNoContent)
		})
	}
}

// tidy trims values, drops blanks and applies norm when given.
func tidy(values []string, norm func(string) string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v == "" {
			continue
		}
		if norm != nil {
			v = norm(v)
		}
		out = append(out, v)
	}
	return out
}
