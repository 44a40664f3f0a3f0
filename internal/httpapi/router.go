// Package httpapi is the thin gin adapter mapping spec.md §6's control
// surface 1:1 onto HTTP + SSE. It owns no scheduling logic of its own;
// every handler is a direct call into an *engine.Runtime. Grounded on the
// teacher's internal/http.NewRouter (public vs. protected group split,
// one field per resource handler) and otelgin for request tracing.
package httpapi

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/routilux/routilux-go/internal/engine"
	"github.com/routilux/routilux-go/internal/httpapi/authmw"
	"github.com/routilux/routilux-go/internal/httpapi/handlers"
	"github.com/routilux/routilux-go/internal/httpapi/middleware"
	"github.com/routilux/routilux-go/internal/logger"
)

// RouterConfig wires a Runtime plus optional auth enforcement into a gin
// engine. Auth is entirely optional: an Engine deployed as a single
// embedded library behind its own gateway may run with AuthMiddleware nil.
type RouterConfig struct {
	Runtime        *engine.Runtime
	Log            *logger.Logger
	AuthMiddleware *authmw.Middleware
	ServiceName    string
}

// NewRouter builds the full control-surface router for one Runtime.
func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(middleware.AttachTraceContext())
	r.Use(middleware.RequestLogger(cfg.Log))
	r.Use(middleware.CORS())

	r.GET("/healthz", handlers.Health)

	flowH := handlers.NewFlowHandler(cfg.Runtime)
	workerH := handlers.NewWorkerHandler(cfg.Runtime)
	jobH := handlers.NewJobHandler(cfg.Runtime)
	bpH := handlers.NewBreakpointHandler(cfg.Runtime)
	evH := handlers.NewEventHandler(cfg.Runtime)

	api := r.Group("/api/v1")
	protected := api.Group("/")
	if cfg.AuthMiddleware != nil {
		protected.Use(cfg.AuthMiddleware.RequireAuth())
	}

	{
		g := protected

		// Flows
		g.POST("/flows", flowH.RegisterFlow)
		g.GET("/flows", flowH.ListFlows)
		g.GET("/flows/:flow_id", flowH.GetFlow)
		g.DELETE("/flows/:flow_id", flowH.UnregisterFlow)
		g.GET("/routines/:routine_id/metrics", flowH.RoutineMetrics)

		// Workers
		g.POST("/workers", workerH.CreateWorker)
		g.GET("/workers", workerH.ListWorkers)
		g.GET("/workers/:worker_id", workerH.GetWorker)
		g.POST("/workers/:worker_id/pause", workerH.PauseWorker)
		g.POST("/workers/:worker_id/resume", workerH.ResumeWorker)
		g.DELETE("/workers/:worker_id", workerH.StopWorker)

		// Jobs
		g.POST("/jobs", jobH.SubmitJob)
		g.POST("/jobs/execute", jobH.Execute)
		g.GET("/jobs", jobH.ListJobs)
		g.GET("/jobs/:job_id", jobH.GetJob)
		g.POST("/jobs/:job_id/cancel", jobH.CancelJob)
		g.POST("/jobs/:job_id/resume", jobH.ResumeJob)
		g.GET("/jobs/:job_id/wait", jobH.WaitForJob)
		g.GET("/jobs/:job_id/output", jobH.GetJobOutput)
		g.GET("/jobs/:job_id/history", jobH.GetJobHistory)
		g.GET("/jobs/:job_id/metrics", jobH.GetJobMetrics)
		g.GET("/jobs/:job_id/events", evH.StreamJobEvents)

		// Breakpoints
		g.POST("/jobs/:job_id/breakpoints", bpH.CreateBreakpoint)
		g.GET("/jobs/:job_id/breakpoints", bpH.ListBreakpoints)
		g.PATCH("/breakpoints/:breakpoint_id", bpH.SetBreakpointEnabled)
		g.DELETE("/breakpoints/:breakpoint_id", bpH.DeleteBreakpoint)
	}

	return r
}
