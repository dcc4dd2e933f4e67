package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(r *mux.Router, path string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func TestLivenessAndReadiness(t *testing.T) {
	r := mux.NewRouter()
	RegisterRoutes(r, Probe{Name: "noop", Check: func(context.Context) error { return nil }})

	assert.Equal(t, http.StatusOK, serve(r, "/healthz").Code)
	rr := serve(r, "/readyz")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"noop":"ok"`)
}

func TestReadinessFailsWhenProbeFails(t *testing.T) {
	r := mux.NewRouter()
	RegisterRoutes(r, Probe{Name: "database", Check: func(context.Context) error { return errors.New("down") }})

	rr := serve(r, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "NOT_READY")
	assert.Contains(t, rr.Body.String(), `"database":"down"`)
}

func TestRedisProbe(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	c := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer c.Close()

	p := RedisProbe(c)
	assert.NoError(t, p.Check(context.Background()))

	mr.Close()
	assert.Error(t, p.Check(context.Background()))
}
