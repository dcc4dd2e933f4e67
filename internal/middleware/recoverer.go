package middleware

import (
	"net/http"
	"runtime/debug"

	"shepherd/internal/logs"
	"shepherd/internal/models"
)

// Recoverer перехватывает панику в обработчике, пишет лог со стеком
// и отвечает 500 в общем конверте с кодом INTERNAL_ERROR.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			reqid := GetRequestID(r)
			logs.Logger.WithFields(map[string]any{
				"reqid":  reqid,
				"uri":    r.RequestURI,
				"method": r.Method,
			}).Errorf("panic: %v\nstack:\n%s", rec, debug.Stack())
			models.WriteFailure(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Unexpected server error (reqid "+reqid+")", nil)
		}()
		next.ServeHTTP(w, r)
	})
}
