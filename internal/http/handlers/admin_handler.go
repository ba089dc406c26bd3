package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Dhoini/Billing-microservice/internal/repository"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
)

// CounterRecalculator пересчитывает счетчики ресурсов
type CounterRecalculator interface {
	Recalculate(ctx context.Context) ([]repository.CountDrift, error)
}

// AdminHandler - служебные операции
type AdminHandler struct {
	counters CounterRecalculator
	log      *logger.Logger
	debug    bool
}

func NewAdminHandler(counters CounterRecalculator, log *logger.Logger, debug bool) *AdminHandler {
	return &AdminHandler{counters: counters, log: log.With("handler", "admin"), debug: debug}
}

// RecalculateCounts - POST /admin/recalculate-counts
func (h *AdminHandler) RecalculateCounts(c *gin.Context) {
	drifts, err := h.counters.Recalculate(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err, h.debug)
		return
	}
	if drifts == nil {
		drifts = []repository.CountDrift{}
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"corrected": len(drifts),
		"results":   drifts,
	})
}
