package userctx

import (
	"encoding/json"
	"net/http"
)

// UserIDHeader is the trusted header the gateway sets on every request.
const UserIDHeader = "X-User-Id"

// Middleware returns HTTP middleware that reads the caller identity from the
// gateway header and stores it in the request context. Requests without a
// valid identity get a 401 JSON error.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(UserIDHeader)
			if err := ValidateUserID(id); err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"error":   "unauthorized",
					"message": err.Error(),
				})
				return
			}

			ctx := WithUser(r.Context(), UserContext{UserID: id})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
