package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/veritas-engine/veritas/pkg/errkind"
	"github.com/veritas-engine/veritas/pkg/store"
)

// statusClientClosedRequest is the nginx convention for requests abandoned
// by the client; used for cancelled plans.
const statusClientClosedRequest = 499

// writeError maps engine errors to HTTP error responses.
func writeError(c *gin.Context, err error) {
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "resource not found"})
		return
	}

	kind := errkind.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case errkind.KindInput:
		status = http.StatusBadRequest
	case errkind.KindAuthorization:
		status = http.StatusForbidden
	case errkind.KindResourceUnavailable:
		status = http.StatusServiceUnavailable
	case errkind.KindRateLimited:
		status = http.StatusTooManyRequests
	case errkind.KindTimeout:
		status = http.StatusGatewayTimeout
	case errkind.KindCancelled:
		status = statusClientClosedRequest
	case errkind.KindDataIntegrity, errkind.KindInternal:
		status = http.StatusInternalServerError
	}

	if status == http.StatusInternalServerError {
		slog.Error("Unexpected engine error", "error", err, "kind", kind)
		c.JSON(status, gin.H{"error": "internal server error", "kind": string(kind)})
		return
	}
	c.JSON(status, gin.H{"error": err.Error(), "kind": string(kind)})
}
