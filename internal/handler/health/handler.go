package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Pinger is satisfied by *sqlx.DB and the Redis client wrapper.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type Handler struct {
	checks map[string]Pinger
}

// NewHandler reports readiness from the named dependency checks.
func NewHandler(checks map[string]Pinger) *Handler {
	return &Handler{checks: checks}
}

func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/health/live", h.LivenessCheck)
	r.GET("/health/ready", h.ReadinessCheck)
}

func (h *Handler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "UP"})
}

func (h *Handler) ReadinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	components := gin.H{}
	ready := true
	for name, check := range h.checks {
		if err := check.PingContext(ctx); err != nil {
			log.Warn().Err(err).Str("component", name).Msg("Readiness check failed")
			components[name] = "DOWN"
			ready = false
			continue
		}
		components[name] = "UP"
	}

	if !ready {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "DOWN", "components": components})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "UP", "components": components})
}
