package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/veritas-engine/veritas/pkg/models"
)

// handleSubmitQuery accepts a research query. Synchronous requests block
// until the answer is ready; streaming requests return immediately and
// deliver events on the NDJSON endpoint.
func (s *Server) handleSubmitQuery(c *gin.Context) {
	var req models.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.RequestID == "" {
		req.RequestID = c.GetString("request_id")
	}

	p := s.factory.CreatePipeline(&req)

	if req.Stream {
		// Detached from the HTTP request: the submission returns right away
		// and the run is controlled through the plan lifecycle endpoints.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
			defer cancel()
			defer p.Cleanup()
			if _, err := p.Run(ctx); err != nil {
				s.logger.Error("Streaming query failed",
					"request_id", req.RequestID, "error", err)
			}
		}()
		c.JSON(http.StatusAccepted, gin.H{
			"request_id": req.RequestID,
			"stream":     "/api/v1/queries/" + req.RequestID + "/stream",
		})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), queryTimeout)
	defer cancel()
	defer p.Cleanup()

	answer, err := p.Run(ctx)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, answer)
}

// handleStream serves the NDJSON event stream of one request. Events are
// flushed per line; the stream ends when the pipeline releases its channel.
func (s *Server) handleStream(c *gin.Context) {
	requestID := c.Param("id")
	channel, ok := s.hub.Get(requestID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no open stream for request"})
		return
	}

	c.Header("Content-Type", "application/x-ndjson")
	c.Header("Cache-Control", "no-cache")
	c.Status(http.StatusOK)

	enc := json.NewEncoder(c.Writer)
	events := channel.Subscribe()
	for {
		select {
		case event, open := <-events:
			if !open {
				return
			}
			if err := enc.Encode(event); err != nil {
				s.logger.Warn("Stream consumer gone",
					"request_id", requestID, "error", err)
				return
			}
			c.Writer.Flush()
		case <-c.Request.Context().Done():
			return
		}
	}
}
