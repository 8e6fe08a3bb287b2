package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger is a dependency the health check pings. *cache.EventLedger implements it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports whether the process and its pinged dependencies are up.
type HealthHandler struct {
	checks map[string]Pinger
}

// NewHealthHandler creates a HealthHandler probing checks by name.
func NewHealthHandler(checks map[string]Pinger) *HealthHandler {
	return &HealthHandler{checks: checks}
}

// Health handles GET /health. A failing dependency degrades the status but keeps 200,
// since the API can still serve requests without it.
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := "UP"
	deps := make(map[string]string, len(h.checks))
	for name, p := range h.checks {
		if p == nil {
			continue
		}
		if err := p.Ping(ctx); err != nil {
			deps[name] = "DOWN"
			status = "DEGRADED"
			continue
		}
		deps[name] = "UP"
	}
	c.JSON(http.StatusOK, gin.H{"status": status, "dependencies": deps})
}
