package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/veritas-engine/veritas/pkg/models"
)

// handleListPlans returns plans matching the query-string filters.
func (s *Server) handleListPlans(c *gin.Context) {
	filters := models.PlanFilters{
		Status:       c.Query("status"),
		SessionID:    c.Query("session_id"),
		UserIdentity: c.Query("user_identity"),
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		filters.Limit = n
	}
	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid offset"})
			return
		}
		filters.Offset = n
	}
	if v := c.Query("created_after"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid created_after, want RFC3339"})
			return
		}
		filters.CreatedAfter = &ts
	}
	if v := c.Query("created_before"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid created_before, want RFC3339"})
			return
		}
		filters.CreatedBefore = &ts
	}

	plans, err := s.st.ListPlans(c.Request.Context(), filters)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"plans": plans, "count": len(plans)})
}

// handleGetPlan returns the per-step status view of one plan.
func (s *Server) handleGetPlan(c *gin.Context) {
	planID := c.Param("id")
	ctx := c.Request.Context()

	plan, err := s.st.GetPlan(ctx, planID)
	if err != nil {
		writeError(c, err)
		return
	}
	steps, err := s.st.GetSteps(ctx, planID)
	if err != nil {
		writeError(c, err)
		return
	}
	results, err := s.st.GetStepResults(ctx, planID)
	if err != nil {
		writeError(c, err)
		return
	}
	agentByStep := make(map[string]string, len(results))
	for _, r := range results {
		agentByStep[r.StepID] = r.AgentID
	}

	view := models.PlanStatusView{
		PlanID:             plan.PlanID,
		Status:             plan.Status,
		ProgressPercentage: plan.ProgressPercentage,
		Steps:              make([]models.StepStatusView, 0, len(steps)),
	}
	for _, step := range steps {
		view.Steps = append(view.Steps, models.StepStatusView{
			StepID:     step.StepID,
			Name:       step.Name,
			Agent:      agentByStep[step.StepID],
			Status:     step.Status,
			Confidence: step.Confidence,
		})
	}
	c.JSON(http.StatusOK, view)
}

// lookupActive resolves a plan lifecycle target: the pipeline if the plan is
// still running, otherwise an error response is written.
func (s *Server) lookupActive(c *gin.Context, planID string) (interface {
	Pause()
	Resume()
	Cancel()
}, bool) {
	if p, ok := s.factory.Lookup(planID); ok {
		return p, true
	}
	if _, err := s.st.GetPlan(c.Request.Context(), planID); err != nil {
		writeError(c, err)
		return nil, false
	}
	c.JSON(http.StatusConflict, gin.H{"error": "plan is not running"})
	return nil, false
}

// handleCancelPlan aborts a running plan within the grace period.
func (s *Server) handleCancelPlan(c *gin.Context) {
	p, ok := s.lookupActive(c, c.Param("id"))
	if !ok {
		return
	}
	p.Cancel()
	c.JSON(http.StatusAccepted, gin.H{"status": "cancelling"})
}

// handlePausePlan stops launching new steps; running steps finish.
func (s *Server) handlePausePlan(c *gin.Context) {
	p, ok := s.lookupActive(c, c.Param("id"))
	if !ok {
		return
	}
	p.Pause()
	c.JSON(http.StatusOK, gin.H{"status": "paused"})
}

// handleResumePlan re-enters the scheduling loop of a paused plan.
func (s *Server) handleResumePlan(c *gin.Context) {
	p, ok := s.lookupActive(c, c.Param("id"))
	if !ok {
		return
	}
	p.Resume()
	c.JSON(http.StatusOK, gin.H{"status": "running"})
}
