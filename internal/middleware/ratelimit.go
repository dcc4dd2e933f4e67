package middleware

import (
	"net/http"

	"github.com/gorilla/mux"

	"shepherd/internal/logs"
	"shepherd/internal/metrics"
	"shepherd/internal/models"
	"shepherd/internal/ratelimit"
)

// RateLimit ограничивает запросы по IP клиента. X-Forwarded-For учитывается только
// от proxies. Недоступный лимитер запрос не блокирует.
func RateLimit(l ratelimit.Limiter, scope string, proxies TrustedProxies) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := proxies.ClientIP(r)
			if ip == "" {
				ip = "unknown"
			}
			ok, err := l.Allow(r.Context(), scope+":"+ip)
			if err != nil {
				logs.Logger.WithError(err).WithField("scope", scope).Warn("rate limiter failed, allowing request")
				next.ServeHTTP(w, r)
				return
			}
			if !ok {
				metrics.RateLimited(scope)
				models.WriteFailure(w, http.StatusTooManyRequests, "RATE_LIMITED",
					"Too many requests, try again later", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
