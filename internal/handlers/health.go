package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type healthResponse struct {
	Status      string `json:"status"`
	Database    string `json:"database"`
	Cache       string `json:"cache"`
	Environment string `json:"environment"`
}

func (h HandlerSet) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{
		Status:      "ok",
		Database:    "ok",
		Cache:       "ok",
		Environment: h.environment,
	}

	if err := h.database(ctx); err != nil {
		resp.Status = "degraded"
		resp.Database = "error"
		h.log.Error().Err(err).Msg("database ping failed")
	}

	if err := h.cache(ctx); err != nil {
		resp.Status = "degraded"
		resp.Cache = "error"
		h.log.Warn().Err(err).Msg("redis ping failed")
	}

	status := http.StatusOK
	if resp.Database != "ok" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}
