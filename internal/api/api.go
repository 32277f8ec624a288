// Package api implements the operator's read-only HTTP surface: health,
// ticket listing/detail, audit session replay, and campaign/trial
// inspection, plus a Prometheus /metrics endpoint. It never mutates
// subject or ticket state — mutation is cmd/operator CLI-only, per
// spec.md §6's "the HTTP surface is read-only" decision.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sreops/operator/pkg/audit"
	"github.com/sreops/operator/pkg/harness"
	"github.com/sreops/operator/pkg/storage"
	"github.com/sreops/operator/pkg/ticket"
)

// Metrics holds the operator's Prometheus collectors; Server exposes them
// at /metrics alongside the read endpoints. The monitor loop and harness
// in this module do not increment them.
type Metrics struct {
	MonitorTicks     prometheus.Counter
	TicketsBySeverity *prometheus.CounterVec
	TrialOutcomes    *prometheus.CounterVec
}

// NewMetrics registers a fresh set of collectors against reg.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		MonitorTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "operator_monitor_ticks_total",
			Help: "Number of completed monitor loop ticks.",
		}),
		TicketsBySeverity: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "operator_tickets_opened_total",
			Help: "Tickets opened, partitioned by severity.",
		}, []string{"severity"}),
		TrialOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "operator_trial_outcomes_total",
			Help: "Evaluation trials completed, partitioned by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.MonitorTicks, m.TicketsBySeverity, m.TrialOutcomes)
	return m
}

// Server wires the storage-backed stores to gin routes.
type Server struct {
	DB       *storage.DB
	Tickets  *ticket.Store
	Audit    *audit.Store
	Harness  *harness.Store
	Metrics  *Metrics
	Registry *prometheus.Registry
}

// Router builds the gin engine. Kept separate from an http.Server so
// cmd/operator can choose its own listen address and shutdown handling.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.handleHealth)
	r.GET("/tickets", s.handleListTickets)
	r.GET("/tickets/:id", s.handleGetTicket)
	r.GET("/audit/:session", s.handleGetSession)
	r.GET("/campaigns/:id", s.handleGetCampaign)
	r.GET("/campaigns/:id/trials", s.handleListTrials)

	if s.Registry != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.Registry, promhttp.HandlerOpts{})))
	}

	return r
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := s.DB.Health(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleListTickets(c *gin.Context) {
	filter := ticket.ListFilter{
		Status:   ticket.Status(c.Query("status")),
		Severity: ticket.Severity(c.Query("severity")),
	}
	tickets, err := s.Tickets.List(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tickets": tickets})
}

func (s *Server) handleGetTicket(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid ticket id"})
		return
	}
	t, err := s.Tickets.Get(c.Request.Context(), id)
	if err == ticket.ErrNotFound {
		c.JSON(http.StatusNotFound, gin.H{"error": "ticket not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, t)
}

func (s *Server) handleGetSession(c *gin.Context) {
	session, entries, err := s.Audit.GetSession(c.Request.Context(), c.Param("session"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session, "entries": entries})
}

func (s *Server) handleGetCampaign(c *gin.Context) {
	campaign, err := s.Harness.GetCampaign(c.Request.Context(), c.Param("id"))
	if err == harness.ErrNotFound {
		c.JSON(http.StatusNotFound, gin.H{"error": "campaign not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, campaign)
}

func (s *Server) handleListTrials(c *gin.Context) {
	trials, err := s.Harness.ListByCampaign(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trials": trials})
}
