package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/vigilops/vigil/internal/alerting/service/alertstore"
	"github.com/vigilops/vigil/internal/alerting/service/automation"
	"github.com/vigilops/vigil/internal/alerting/service/dispatch"
	"github.com/vigilops/vigil/internal/alerting/service/ruleengine"
)

// GET /v1/alerts?status=open&limit=50
func (a *Api) listAlerts(c *gin.Context) {
	status := c.Query("status")
	switch status {
	case "", alertstore.StatusOpen, alertstore.StatusAck, alertstore.StatusResolved:
	default:
		writeError(c, http.StatusBadRequest, "bad_request", "unknown status: "+status)
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	alerts, err := a.store.ListAlerts(c.Request.Context(), status, limit)
	if err != nil {
		log.Error().Err(err).Msg("list alerts failed")
		writeError(c, http.StatusInternalServerError, "internal", "list alerts failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts})
}

// GET /v1/alerts/:id
func (a *Api) getAlert(c *gin.Context) {
	alert, err := a.store.GetAlert(c.Request.Context(), c.Param("id"))
	if err != nil {
		alertError(c, err, "get alert")
		return
	}
	c.JSON(http.StatusOK, alert)
}

type actorRequest struct {
	UserID string `json:"userId"`
}

// POST /v1/alerts/:id/ack
func (a *Api) ackAlert(c *gin.Context) {
	a.transition(c, a.store.AckAlert)
}

// POST /v1/alerts/:id/resolve
func (a *Api) resolveAlert(c *gin.Context) {
	a.transition(c, a.store.ResolveAlert)
}

func (a *Api) transition(c *gin.Context, fn func(ctx context.Context, id, userID string) error) {
	var req actorRequest
	_ = c.ShouldBindJSON(&req)

	if err := fn(c.Request.Context(), c.Param("id"), req.UserID); err != nil {
		alertError(c, err, "update alert status")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// GET /v1/alerts/:id/attempts
func (a *Api) listAttempts(c *gin.Context) {
	attempts, err := a.worker.Attempts(c.Request.Context(), c.Param("id"))
	if err != nil {
		log.Error().Err(err).Str("alert_id", c.Param("id")).Msg("list attempts failed")
		writeError(c, http.StatusInternalServerError, "internal", "list attempts failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"attempts": attempts})
}

// GET /v1/alerts/:id/routes/preview
func (a *Api) previewRoutes(c *gin.Context) {
	ctx := c.Request.Context()
	alert, err := a.store.GetAlert(ctx, c.Param("id"))
	if err != nil {
		alertError(c, err, "preview routes")
		return
	}
	route, err := a.rules.RouteForRule(ctx, alert.RuleID)
	if err != nil {
		if errors.Is(err, ruleengine.ErrRuleNotFound) {
			writeError(c, http.StatusNotFound, "not_found", "rule not found: "+alert.RuleID)
			return
		}
		log.Error().Err(err).Str("rule_id", alert.RuleID).Msg("load route failed")
		writeError(c, http.StatusInternalServerError, "internal", "load route failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"routes": dispatch.PreviewRoutes(alert, route)})
}

type retryRequest struct {
	Destination string `json:"destination"`
}

// POST /v1/alerts/:id/retry
// Empty destination re-enqueues every currently-failed destination.
func (a *Api) retryDispatch(c *gin.Context) {
	var req retryRequest
	_ = c.ShouldBindJSON(&req)

	// The alert must exist before retries are enqueued against it.
	if _, err := a.store.GetAlert(c.Request.Context(), c.Param("id")); err != nil {
		alertError(c, err, "retry dispatch")
		return
	}

	enqueued, err := a.worker.ManualRetry(c.Request.Context(), c.Param("id"), req.Destination)
	if err != nil {
		log.Error().Err(err).Str("alert_id", c.Param("id")).Msg("manual retry failed")
		writeError(c, http.StatusInternalServerError, "internal", "manual retry failed")
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"enqueued": enqueued})
}

// GET /v1/alerts/:id/audits
func (a *Api) listAudits(c *gin.Context) {
	audits, err := a.audits.ListByAlert(c.Request.Context(), c.Param("id"))
	if err != nil {
		log.Error().Err(err).Str("alert_id", c.Param("id")).Msg("list audits failed")
		writeError(c, http.StatusInternalServerError, "internal", "list audits failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"audits": audits})
}

type runAutomationRequest struct {
	BypassGuardrails bool     `json:"bypassGuardrails"`
	RequestedBy      string   `json:"requestedBy"`
	EntityType       string   `json:"entityType"`
	Tags             []string `json:"tags"`
}

// POST /v1/alerts/:id/automation/run
// Manual operator trigger. Runs asynchronously; outcomes land in the audit
// trail. Callers may supply entityType and tags for binding selection since
// the original entity document is not stored on the alert.
func (a *Api) runAutomation(c *gin.Context) {
	var req runAutomationRequest
	_ = c.ShouldBindJSON(&req)
	if req.RequestedBy == "" {
		req.RequestedBy = "operator"
	}

	alert, err := a.store.GetAlert(c.Request.Context(), c.Param("id"))
	if err != nil {
		alertError(c, err, "run automation")
		return
	}

	actx := automation.AlertContext{
		EntityType: req.EntityType,
		Severity:   alert.Severity,
		Tags:       req.Tags,
	}
	go a.coordinator.Evaluate(context.WithoutCancel(c.Request.Context()), alert, actx, req.BypassGuardrails, req.RequestedBy)
	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}

func alertError(c *gin.Context, err error, op string) {
	switch {
	case errors.Is(err, alertstore.ErrNotFound):
		writeError(c, http.StatusNotFound, "not_found", "alert not found")
	case errors.Is(err, alertstore.ErrInvalidTransition):
		writeError(c, http.StatusConflict, "invalid_transition", err.Error())
	default:
		log.Error().Err(err).Str("alert_id", c.Param("id")).Msg(op + " failed")
		writeError(c, http.StatusInternalServerError, "internal", op+" failed")
	}
}
