package middleware

import (
	"fmt"
	"net/http"

	"github.com/cloo-solutions/deepresearch/internal/api"
)

// MaxBodyBytes caps request bodies at limit bytes. A declared Content-Length
// over the limit is rejected with 413 before the handler runs; bodies without
// a length fail on read instead. A limit <= 0 disables the check.
func MaxBodyBytes(limit int64) func(http.Handler) http.Handler {
	tooLarge := fmt.Sprintf("request body exceeds %d bytes", limit)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limit <= 0 || r.Body == nil || r.Body == http.NoBody {
				next.ServeHTTP(w, r)
				return
			}
			if r.ContentLength > limit {
				api.Error(w, http.StatusRequestEntityTooLarge, tooLarge)
				return
			}

			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}
