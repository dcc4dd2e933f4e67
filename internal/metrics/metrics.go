package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP-метрики
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "shepherd",
		Name:      "http_in_flight_requests",
		Help:      "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shepherd",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "shepherd",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latencies in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// Метрики ядра авторизации
var (
	authEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shepherd",
			Subsystem: "auth",
			Name:      "events_total",
			Help:      "Authentication events by operation and outcome.",
		},
		[]string{"op", "outcome"},
	)

	emailsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shepherd",
			Subsystem: "mail",
			Name:      "sent_total",
			Help:      "Outgoing emails by kind and result.",
		},
		[]string{"kind", "result"},
	)

	sweptRows = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shepherd",
			Subsystem: "scheduler",
			Name:      "swept_rows_total",
			Help:      "Rows cleaned up by the background sweeper.",
		},
		[]string{"job"},
	)

	rateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shepherd",
			Subsystem: "ratelimit",
			Name:      "rejected_total",
			Help:      "Requests rejected by the rate limiter.",
		},
		[]string{"scope"},
	)
)

var once sync.Once

// Init регистрирует метрики в default-регистре. Повторный вызов безопасен.
func Init() {
	once.Do(func() {
		prometheus.MustRegister(httpInFlight, httpRequestsTotal, httpRequestDuration,
			authEvents, emailsSent, sweptRows, rateLimited)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// AuthEvent: op (login, refresh, ...) и outcome (ok или код ошибки).
func AuthEvent(op, outcome string) { authEvents.WithLabelValues(op, outcome).Inc() }

func EmailSent(kind string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	emailsSent.WithLabelValues(kind, result).Inc()
}

func Swept(job string, n int64) {
	if n > 0 {
		sweptRows.WithLabelValues(job).Add(float64(n))
	}
}

func RateLimited(scope string) { rateLimited.WithLabelValues(scope).Inc() }

// Instrument считает RPS, латентность и запросы в полёте. Путь берётся из шаблона
// маршрута mux, чтобы id в URL не раздували кардинальность.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
