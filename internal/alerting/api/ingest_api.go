package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/vigilops/vigil/internal/alerting/model"
)

type ingestRequest struct {
	Entities []model.Entity `json:"entities"`
}

// POST /v1/entities/ingest
// Producers may set X-Idempotency-Key to dedupe retried batches.
func (a *Api) ingestEntities(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "bad_request", "invalid ingest payload: "+err.Error())
		return
	}

	res, err := a.engine.IngestEntities(c.Request.Context(), req.Entities, c.GetHeader("X-Idempotency-Key"))
	if err != nil {
		log.Error().Err(err).Int("entities", len(req.Entities)).Msg("ingest batch failed")
		writeError(c, http.StatusInternalServerError, "internal", "ingest failed")
		return
	}
	c.JSON(http.StatusOK, res)
}
