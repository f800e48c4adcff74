package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/pestledger/libs/httpx"
)

// Identity is the authenticated caller of a request.
type Identity struct {
	Subject string
	Role    string
}

type ctxKey struct{}

func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok && id.Subject != ""
}

const (
	HeaderUserID = "X-User-Id"
	HeaderRole   = "X-Role"
)

// Options configures Middleware. With a Secret, bearer tokens are
// verified. With TrustHeaders, identity forwarded by an upstream gateway
// in X-User-Id / X-Role is accepted when no token is present.
type Options struct {
	Secret       string
	TrustHeaders bool
	DefaultRole  string
	Logger       *slog.Logger
}

// Middleware resolves the caller identity and rejects anonymous requests
// with 401.
func Middleware(opts Options) httpx.Middleware {
	if opts.DefaultRole == "" {
		opts.DefaultRole = "customer"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := resolve(r, opts)
			if !ok {
				httpx.WriteError(w, r, http.StatusUnauthorized, "unauthenticated", "missing or invalid credentials", false)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), id)))
		})
	}
}

func resolve(r *http.Request, opts Options) (Identity, bool) {
	if authz := r.Header.Get("Authorization"); strings.HasPrefix(authz, "Bearer ") && opts.Secret != "" {
		claims, err := ParseHS256(strings.TrimPrefix(authz, "Bearer "), opts.Secret)
		if err != nil {
			if opts.Logger != nil {
				opts.Logger.Debug("token rejected", "err", err)
			}
			return Identity{}, false
		}
		role := claims.Role
		if role == "" {
			role = opts.DefaultRole
		}
		return Identity{Subject: claims.Subject, Role: role}, true
	}
	if !opts.TrustHeaders {
		return Identity{}, false
	}
	subject := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if subject == "" {
		return Identity{}, false
	}
	role := strings.TrimSpace(r.Header.Get(HeaderRole))
	if role == "" {
		role = opts.DefaultRole
	}
	return Identity{Subject: subject, Role: role}, true
}
