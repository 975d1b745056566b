package middleware

import (
	"net/http"
	"strings"
)

// NormalizePath strips exactly one trailing slash from every non-root path
// before routing, so "/docs/" and "/docs" reach the same handler and the
// renderer sees the normalized form.
//
// chi's StripSlashes only rewrites the routing path; this rewrites the request
// URL itself.
func NormalizePath(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p := r.URL.Path; len(p) > 1 && strings.HasSuffix(p, "/") {
			u := *r.URL
			u.Path = strings.TrimSuffix(p, "/")
			if u.RawPath != "" {
				u.RawPath = strings.TrimSuffix(u.RawPath, "/")
			}
			r2 := r.Clone(r.Context())
			r2.URL = &u
			r2.RequestURI = u.RequestURI()
			r = r2
		}
		next.ServeHTTP(w, r)
	})
}
