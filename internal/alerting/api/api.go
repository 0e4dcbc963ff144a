package api

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/vigilops/vigil/internal/alerting/service/alertstore"
	"github.com/vigilops/vigil/internal/alerting/service/automation"
	"github.com/vigilops/vigil/internal/alerting/service/dispatch"
	"github.com/vigilops/vigil/internal/alerting/service/ruleengine"
	"github.com/vigilops/vigil/internal/alerting/service/suppression"
	"github.com/vigilops/vigil/internal/middleware"
)

// RuleStore is the rule surface the API needs: CRUD plus route lookups.
type RuleStore interface {
	ruleengine.RuleDAO
	RouteForRule(ctx context.Context, ruleID string) (dispatch.RouteConfig, error)
}

// WindowAdmin manages silences and maintenance windows.
type WindowAdmin interface {
	suppression.WindowDAO
	CreateSilence(ctx context.Context, w *suppression.Window) error
	CreateMaintenanceWindow(ctx context.Context, w *suppression.Window) error
	DeleteSilence(ctx context.Context, id string) error
	DeleteMaintenanceWindow(ctx context.Context, id string) error
}

// BindingAdmin manages playbook bindings.
type BindingAdmin interface {
	List(ctx context.Context) ([]*automation.Binding, error)
	Get(ctx context.Context, id string) (*automation.Binding, error)
	Upsert(ctx context.Context, b *automation.Binding) error
	Delete(ctx context.Context, id string) error
}

// AuditReader exposes the automation audit trail.
type AuditReader interface {
	ListByAlert(ctx context.Context, alertID string) ([]*automation.RunAudit, error)
}

type Api struct {
	engine      *ruleengine.Engine
	store       *alertstore.Store
	worker      *dispatch.Worker
	coordinator *automation.Coordinator
	rules       RuleStore
	windows     WindowAdmin
	bindings    BindingAdmin
	audits      AuditReader
}

func New(engine *ruleengine.Engine, store *alertstore.Store, worker *dispatch.Worker,
	coordinator *automation.Coordinator, rules RuleStore, windows WindowAdmin,
	bindings BindingAdmin, audits AuditReader) *Api {
	return &Api{
		engine:      engine,
		store:       store,
		worker:      worker,
		coordinator: coordinator,
		rules:       rules,
		windows:     windows,
		bindings:    bindings,
		audits:      audits,
	}
}

func (a *Api) RegisterRoutes(r *gin.Engine) {
	v1 := r.Group("/v1", middleware.Authentication)

	v1.POST("/entities/ingest", a.ingestEntities)

	v1.GET("/alerts", a.listAlerts)
	v1.GET("/alerts/:id", a.getAlert)
	v1.POST("/alerts/:id/ack", a.ackAlert)
	v1.POST("/alerts/:id/resolve", a.resolveAlert)
	v1.GET("/alerts/:id/attempts", a.listAttempts)
	v1.GET("/alerts/:id/routes/preview", a.previewRoutes)
	v1.POST("/alerts/:id/retry", a.retryDispatch)
	v1.GET("/alerts/:id/audits", a.listAudits)
	v1.POST("/alerts/:id/automation/run", a.runAutomation)

	v1.GET("/rules", a.listRules)
	v1.GET("/rules/:id", a.getRule)
	v1.PUT("/rules/:id", a.putRule)
	v1.DELETE("/rules/:id", a.deleteRule)

	v1.GET("/silences", a.listSilences)
	v1.POST("/silences", a.createSilence)
	v1.DELETE("/silences/:id", a.deleteSilence)

	v1.GET("/maintenance-windows", a.listMaintenanceWindows)
	v1.POST("/maintenance-windows", a.createMaintenanceWindow)
	v1.DELETE("/maintenance-windows/:id", a.deleteMaintenanceWindow)

	v1.GET("/bindings", a.listBindings)
	v1.GET("/bindings/:id", a.getBinding)
	v1.PUT("/bindings/:id", a.putBinding)
	v1.DELETE("/bindings/:id", a.deleteBinding)
}

func writeError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"error": gin.H{"code": code, "message": message}})
}
