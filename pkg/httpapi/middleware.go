package httpapi

import (
	"net/http"

	"github.com/google/uuid"
)

// requestIDHeader carries a correlation id through proxies and logs.
const requestIDHeader = "X-Request-Id"

// RequestIDMiddleware assigns a request id when the caller did not send one
// and echoes it back on the response.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(requestIDHeader, id)
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}
