// Package versioning negotiates the promo API version from request headers.
// Routes are path-versioned (/promo/v1/...); header negotiation exists so
// clients can pin a version explicitly and get advance notice of changes
// through the X-API-Version response header.
package versioning

import (
	"context"
	"net/http"
	"strconv"
	"strings"
)

// Version identifies a promo API revision.
type Version int

const (
	// V1 is the initial promo API.
	V1 Version = 1
	// V2 is reserved for future breaking changes to the redemption contract.
	V2 Version = 2

	// DefaultVersion applies when the client does not pin a version.
	DefaultVersion = V1
)

// String renders the version as "v1", "v2".
func (v Version) String() string {
	if v <= 0 {
		v = DefaultVersion
	}
	return "v" + strconv.Itoa(int(v))
}

type contextKey struct{}

// FromContext returns the negotiated API version, or DefaultVersion.
func FromContext(ctx context.Context) Version {
	if v, ok := ctx.Value(contextKey{}).(Version); ok {
		return v
	}
	return DefaultVersion
}

// WithVersion stamps the API version onto the context.
func WithVersion(ctx context.Context, v Version) context.Context {
	return context.WithValue(ctx, contextKey{}, v)
}

// Negotiation resolves the requested API version and echoes it back in the
// X-API-Version response header. Accepted forms, highest priority first:
//
//	X-API-Version: 1
//	Accept: application/vnd.telar.v1+json
//	Accept: application/json; version=1
func Negotiation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		v := negotiate(r)

		w.Header().Set("X-API-Version", v.String())
		w.Header().Set("Vary", "Accept, X-API-Version")

		next.ServeHTTP(w, r.WithContext(WithVersion(r.Context(), v)))
	})
}

func negotiate(r *http.Request) Version {
	if v := parse(r.Header.Get("X-API-Version")); v > 0 {
		return v
	}

	accept := r.Header.Get("Accept")

	if _, rest, ok := strings.Cut(accept, "application/vnd.telar."); ok {
		vendor, _, _ := strings.Cut(rest, "+")
		if v := parse(vendor); v > 0 {
			return v
		}
	}

	if _, rest, ok := strings.Cut(accept, "version="); ok {
		param, _, _ := strings.Cut(rest, ";")
		if v := parse(param); v > 0 {
			return v
		}
	}

	return DefaultVersion
}

// parse accepts "1", "v1", "V1". Unknown versions map to zero so callers
// fall through to the next negotiation source.
func parse(s string) Version {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "v")
	switch s {
	case "1":
		return V1
	case "2":
		return V2
	}
	return 0
}
