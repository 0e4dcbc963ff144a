package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/vigilops/vigil/internal/alerting/service/automation"
	"github.com/vigilops/vigil/internal/alerting/service/ruleengine"
	"github.com/vigilops/vigil/internal/alerting/service/suppression"
)

// GET /v1/rules
func (a *Api) listRules(c *gin.Context) {
	rules, err := a.rules.List(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("list rules failed")
		writeError(c, http.StatusInternalServerError, "internal", "list rules failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": rules})
}

// GET /v1/rules/:id
func (a *Api) getRule(c *gin.Context) {
	rule, err := a.rules.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ruleengine.ErrRuleNotFound) {
			writeError(c, http.StatusNotFound, "not_found", "rule not found")
			return
		}
		log.Error().Err(err).Str("rule_id", c.Param("id")).Msg("get rule failed")
		writeError(c, http.StatusInternalServerError, "internal", "get rule failed")
		return
	}
	c.JSON(http.StatusOK, rule)
}

// PUT /v1/rules/:id
func (a *Api) putRule(c *gin.Context) {
	var rule ruleengine.Rule
	if err := c.ShouldBindJSON(&rule); err != nil {
		writeError(c, http.StatusBadRequest, "bad_request", "invalid rule: "+err.Error())
		return
	}
	rule.ID = c.Param("id")
	if rule.Severity == "" {
		rule.Severity = "medium"
	}
	if err := a.rules.Upsert(c.Request.Context(), &rule); err != nil {
		log.Error().Err(err).Str("rule_id", rule.ID).Msg("upsert rule failed")
		writeError(c, http.StatusInternalServerError, "internal", "upsert rule failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// DELETE /v1/rules/:id
func (a *Api) deleteRule(c *gin.Context) {
	if err := a.rules.Delete(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, ruleengine.ErrRuleNotFound) {
			writeError(c, http.StatusNotFound, "not_found", "rule not found")
			return
		}
		log.Error().Err(err).Str("rule_id", c.Param("id")).Msg("delete rule failed")
		writeError(c, http.StatusInternalServerError, "internal", "delete rule failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// GET /v1/silences returns currently active silences only.
func (a *Api) listSilences(c *gin.Context) {
	windows, err := a.windows.ActiveSilences(c.Request.Context(), time.Now().UTC())
	if err != nil {
		log.Error().Err(err).Msg("list silences failed")
		writeError(c, http.StatusInternalServerError, "internal", "list silences failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"silences": windows})
}

// POST /v1/silences
func (a *Api) createSilence(c *gin.Context) {
	a.createWindow(c, a.windows.CreateSilence)
}

// DELETE /v1/silences/:id
func (a *Api) deleteSilence(c *gin.Context) {
	if err := a.windows.DeleteSilence(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, http.StatusNotFound, "not_found", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// GET /v1/maintenance-windows returns currently active windows only.
func (a *Api) listMaintenanceWindows(c *gin.Context) {
	windows, err := a.windows.ActiveMaintenanceWindows(c.Request.Context(), time.Now().UTC())
	if err != nil {
		log.Error().Err(err).Msg("list maintenance windows failed")
		writeError(c, http.StatusInternalServerError, "internal", "list maintenance windows failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"maintenanceWindows": windows})
}

// POST /v1/maintenance-windows
func (a *Api) createMaintenanceWindow(c *gin.Context) {
	a.createWindow(c, a.windows.CreateMaintenanceWindow)
}

// DELETE /v1/maintenance-windows/:id
func (a *Api) deleteMaintenanceWindow(c *gin.Context) {
	if err := a.windows.DeleteMaintenanceWindow(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, http.StatusNotFound, "not_found", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (a *Api) createWindow(c *gin.Context, create func(ctx context.Context, w *suppression.Window) error) {
	var w suppression.Window
	if err := c.ShouldBindJSON(&w); err != nil {
		writeError(c, http.StatusBadRequest, "bad_request", "invalid window: "+err.Error())
		return
	}
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	if err := create(c.Request.Context(), &w); err != nil {
		if errors.Is(err, suppression.ErrInvalidWindow) {
			writeError(c, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		log.Error().Err(err).Msg("create window failed")
		writeError(c, http.StatusInternalServerError, "internal", "create window failed")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": w.ID})
}

// GET /v1/bindings
func (a *Api) listBindings(c *gin.Context) {
	bindings, err := a.bindings.List(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("list bindings failed")
		writeError(c, http.StatusInternalServerError, "internal", "list bindings failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"bindings": bindings})
}

// GET /v1/bindings/:id
func (a *Api) getBinding(c *gin.Context) {
	binding, err := a.bindings.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, http.StatusNotFound, "not_found", err.Error())
		return
	}
	c.JSON(http.StatusOK, binding)
}

// PUT /v1/bindings/:id
func (a *Api) putBinding(c *gin.Context) {
	var b automation.Binding
	if err := c.ShouldBindJSON(&b); err != nil {
		writeError(c, http.StatusBadRequest, "bad_request", "invalid binding: "+err.Error())
		return
	}
	b.ID = c.Param("id")
	switch b.Mode {
	case automation.ModeSuggest, automation.ModeDryRun, automation.ModeAutoRun:
	default:
		writeError(c, http.StatusBadRequest, "bad_request", "unknown mode: "+b.Mode)
		return
	}
	if err := a.bindings.Upsert(c.Request.Context(), &b); err != nil {
		log.Error().Err(err).Str("binding_id", b.ID).Msg("upsert binding failed")
		writeError(c, http.StatusInternalServerError, "internal", "upsert binding failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// DELETE /v1/bindings/:id
func (a *Api) deleteBinding(c *gin.Context) {
	if err := a.bindings.Delete(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, http.StatusNotFound, "not_found", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
