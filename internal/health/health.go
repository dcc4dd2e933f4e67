package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"shepherd/internal/models"
)

// Probe: проверка одной зависимости для /readyz.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// RegisterRoutes: /healthz (liveness) и /readyz (все пробы должны пройти).
func RegisterRoutes(r *mux.Router, probes ...Probe) {
	r.HandleFunc("/healthz", liveness).Methods(http.MethodGet)
	r.HandleFunc("/readyz", readiness(probes)).Methods(http.MethodGet)
}

func liveness(w http.ResponseWriter, _ *http.Request) {
	models.WriteSuccess(w, http.StatusOK, "ok", nil)
}

func readiness(probes []Probe) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := map[string]string{}
		healthy := true
		for _, p := range probes {
			if err := p.Check(ctx); err != nil {
				status[p.Name] = err.Error()
				healthy = false
				continue
			}
			status[p.Name] = "ok"
		}
		if !healthy {
			models.WriteJSON(w, http.StatusServiceUnavailable, models.Envelope{
				Success: false, Message: "not ready", Code: "NOT_READY", Data: status,
			})
			return
		}
		models.WriteSuccess(w, http.StatusOK, "ready", status)
	}
}
