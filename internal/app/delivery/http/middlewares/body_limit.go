package middlewares

import (
	"net/http"
)

// BodyLimit caps the request body at RequestBodyLimitInMegabyte. Reading
// past the cap fails inside the handler, which answers 400.
func (m *Middlewares) BodyLimit(next http.Handler) http.Handler {
	limit := int64(m.InternalConfig.App.RequestBodyLimitInMegabyte) << 20
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
		next.ServeHTTP(w, r)
	})
}
