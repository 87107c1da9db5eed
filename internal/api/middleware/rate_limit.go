package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ayo6706/trade-settlement/internal/api/problem"
	"github.com/go-chi/httprate"
)

// PublicRateLimiter limits requests per client IP.
func PublicRateLimiter(rps int) func(http.Handler) http.Handler {
	return httprate.Limit(rps, time.Second,
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			problem.Write(w, r, http.StatusTooManyRequests, "rate-limit-exceeded",
				fmt.Sprintf("Rate limit of %d req/s exceeded for this IP", rps))
		}),
	)
}
