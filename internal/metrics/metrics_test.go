package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestInstrument_UsesRouteTemplate(t *testing.T) {
	r := mux.NewRouter()
	r.Use(Instrument)
	r.HandleFunc("/api/admins/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/api/admins/{id}", "418"))
	for _, id := range []string{"a", "b", "c"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/admins/"+id, nil))
	}
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/api/admins/{id}", "418"))
	assert.Equal(t, 3.0, after-before)
}

func TestCounters(t *testing.T) {
	AuthEvent("login", "ok")
	assert.GreaterOrEqual(t, testutil.ToFloat64(authEvents.WithLabelValues("login", "ok")), 1.0)

	EmailSent("reset", errors.New("smtp down"))
	assert.GreaterOrEqual(t, testutil.ToFloat64(emailsSent.WithLabelValues("reset", "error")), 1.0)

	before := testutil.ToFloat64(sweptRows.WithLabelValues("login_locks"))
	Swept("login_locks", 0)
	Swept("login_locks", 2)
	assert.Equal(t, 2.0, testutil.ToFloat64(sweptRows.WithLabelValues("login_locks"))-before)

	RateLimited("login")
	assert.GreaterOrEqual(t, testutil.ToFloat64(rateLimited.WithLabelValues("login")), 1.0)
}

func TestInit_Idempotent(t *testing.T) {
	assert.NotPanics(t, func() {
		Init()
		Init()
	})
}
