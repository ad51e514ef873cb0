package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthChecker_Healthy(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectPing()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	status := NewHealthChecker(db, client, "test").Check(context.Background())
	assert.Equal(t, StatusHealthy, status.Status)
	assert.Equal(t, StatusHealthy, status.Dependencies["database"].Status)
	assert.Equal(t, StatusHealthy, status.Dependencies["redis"].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHealthChecker_RedisDownIsDegraded(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	status := NewHealthChecker(nil, client, "test").Check(context.Background())
	assert.Equal(t, StatusDegraded, status.Status)
	assert.Equal(t, StatusUnhealthy, status.Dependencies["redis"].Status)
}

func TestHealthChecker_ReadinessUnhealthyDatabase(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	router := mux.NewRouter()
	RegisterHealthRoutes(router, NewHealthChecker(db, nil, "test"))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var status HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, StatusUnhealthy, status.Status)
	assert.Equal(t, "connection refused", status.Dependencies["database"].Message)
}

func TestHealthChecker_AddCheck(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectPing()

	checker := NewHealthChecker(db, nil, "test")
	checker.AddCheck("push_job", func(context.Context) error {
		return errors.New("push job is not scheduled")
	}, false)

	status := checker.Check(context.Background())
	assert.Equal(t, StatusDegraded, status.Status)
	assert.Equal(t, StatusHealthy, status.Dependencies["database"].Status)
	assert.Equal(t, "push job is not scheduled", status.Dependencies["push_job"].Message)

	checker.AddCheck("migrations", func(context.Context) error {
		return errors.New("schema behind")
	}, true)
	mock.ExpectPing()

	status = checker.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, status.Status, "a failing critical check wins over a degraded one")
}

func TestHealthChecker_Liveness(t *testing.T) {
	router := mux.NewRouter()
	RegisterHealthRoutes(router, NewHealthChecker(nil, nil, "test"))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetrics_Register(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	m.SchedulerRunsTotal.WithLabelValues("ok").Inc()
	m.WatchdogRestartsTotal.Inc()

	assert.Equal(t, float64(1), testutil.ToFloat64(m.SchedulerRunsTotal.WithLabelValues("ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.WatchdogRestartsTotal))

	rec := httptest.NewRecorder()
	Handler(registry).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "fieldnote_watchdog_restarts_total 1")
}
