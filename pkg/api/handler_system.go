package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// healthCheckTimeout bounds the readiness probe's database round trip.
const healthCheckTimeout = 5 * time.Second

// agentView is the capability listing of one registered agent.
type agentView struct {
	ID           string   `json:"id"`
	Domain       string   `json:"domain"`
	Capabilities []string `json:"capabilities"`
	Clearance    string   `json:"clearance"`
	Disabled     bool     `json:"disabled,omitempty"`
	SuccessRate  float64  `json:"success_rate"`
	P95LatencyMS int64    `json:"p95_latency_ms"`
}

// handleCapabilities lists the registered agents and the models the
// synthesiser may target.
func (s *Server) handleCapabilities(c *gin.Context) {
	candidates := s.registry.Snapshot()
	agentViews := make([]agentView, 0, len(candidates))
	for _, cand := range candidates {
		agentViews = append(agentViews, agentView{
			ID:           cand.Description.ID,
			Domain:       cand.Description.Domain,
			Capabilities: cand.Description.Capabilities,
			Clearance:    string(cand.Description.Clearance),
			Disabled:     cand.Disabled,
			SuccessRate:  cand.SuccessRate,
			P95LatencyMS: cand.P95Latency.Milliseconds(),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"agents":        agentViews,
		"models":        s.models.List(),
		"default_model": s.models.Default(),
	})
}

// handleLiveness is the bare process liveness probe.
func (s *Server) handleLiveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleReadiness probes every shared resource the engine depends on. A
// store without a primary database (fallback only) reports degraded but
// ready; a failing primary makes the probe fail.
func (s *Server) handleReadiness(c *gin.Context) {
	body := gin.H{
		"status":       "ready",
		"agents":       len(s.registry.Snapshot()),
		"open_streams": s.hub.Len(),
		"active_plans": s.factory.ActiveCount(),
	}

	if checker, ok := s.st.(healthChecker); ok {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
		defer cancel()
		health, err := checker.Health(ctx)
		body["database"] = health
		if err != nil {
			body["status"] = "unready"
			body["error"] = err.Error()
			c.JSON(http.StatusServiceUnavailable, body)
			return
		}
	}

	c.JSON(http.StatusOK, body)
}
