package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/sreops/operator/pkg/audit"
	"github.com/sreops/operator/pkg/harness"
	"github.com/sreops/operator/pkg/storage"
	"github.com/sreops/operator/pkg/ticket"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := storage.Open(context.Background(), storage.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	reg := prometheus.NewRegistry()
	return &Server{
		DB:       db,
		Tickets:  ticket.NewStore(db),
		Audit:    audit.NewStore(db),
		Harness:  harness.NewStore(db),
		Metrics:  NewMetrics(reg),
		Registry: reg,
	}
}

func TestHealthz_ReportsOKWhenDatabaseReachable(t *testing.T) {
	server := newTestServer(t)
	router := server.Router()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestListTickets_ReturnsEmptyArrayWhenNoneOpen(t *testing.T) {
	server := newTestServer(t)
	router := server.Router()

	req := httptest.NewRequest(http.MethodGet, "/tickets", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"tickets":[]`)
}

func TestGetTicket_NotFoundReturns404(t *testing.T) {
	server := newTestServer(t)
	router := server.Router()

	req := httptest.NewRequest(http.MethodGet, "/tickets/999", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetSession_ReturnsRecordedEntries(t *testing.T) {
	server := newTestServer(t)

	sessID, err := audit.NewSessionID(time.Now())
	require.NoError(t, err)
	_, err = server.Audit.StartSession(context.Background(), sessID, time.Now())
	require.NoError(t, err)
	_, err = server.Audit.Append(context.Background(), sessID, audit.RoleUser, audit.KindMessage, []byte(`"investigate ticket 1"`), "", nil, nil)
	require.NoError(t, err)

	router := server.Router()
	req := httptest.NewRequest(http.MethodGet, "/audit/"+sessID, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "investigate ticket 1")
}

func TestMetrics_EndpointExposesRegisteredCollectors(t *testing.T) {
	server := newTestServer(t)
	server.Metrics.MonitorTicks.Inc()

	router := server.Router()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "operator_monitor_ticks_total")
}
