package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// StorePinger reporta la salud del store primario.
type StorePinger interface {
	HasPrimary() bool
	Ping(ctx context.Context) error
}

// HealthHandler expone /healthz.
type HealthHandler struct {
	logger *zap.Logger
	store  StorePinger
}

func NewHealthHandler(logger *zap.Logger, store StorePinger) *HealthHandler {
	return &HealthHandler{logger: logger, store: store}
}

// Health responde 200 mientras el proceso pueda atender; si el primario no responde el
// servicio sigue con el archivo y se informa "degraded".
func (h *HealthHandler) Health(c *gin.Context) {
	status, primary := "ok", "none"
	if h.store != nil && h.store.HasPrimary() {
		primary = "up"
		if err := h.store.Ping(c.Request.Context()); err != nil {
			h.logger.Warn("primary store ping failed", zap.Error(err))
			status, primary = "degraded", "down"
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": status, "primaryStore": primary})
}
