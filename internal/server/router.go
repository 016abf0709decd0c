package server

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/warden/internal/handlers"
	"github.com/loykin/warden/internal/reconcile"
)

// Core is the engine surface the API exposes. *reconcile.Reconciler
// satisfies it.
type Core interface {
	Status(ctx context.Context, name string) (reconcile.ServiceStatus, error)
	StatusAll(ctx context.Context) ([]reconcile.ServiceStatus, error)
	StartService(ctx context.Context, name string) error
	StopService(ctx context.Context, name string) error
	RestartService(ctx context.Context, name string) error
	StartAll(ctx context.Context) []reconcile.OpOutcome
	StopAll(ctx context.Context) []reconcile.OpOutcome
	RestartAll(ctx context.Context) []reconcile.OpOutcome
	ExecutePass(ctx context.Context) (reconcile.Result, error)
	ReconcileService(ctx context.Context, name string) (reconcile.ServiceResult, error)
	Cleanup(ctx context.Context) (reconcile.CleanupResult, error)
}

// StatsSource feeds the self-check endpoint with event-stream aggregates.
// Nil is allowed; healthz then reports liveness only.
type StatsSource interface {
	Snapshot() handlers.Snapshot
}

// Router provides embeddable HTTP handlers for operating the fleet.
// Endpoints under basePath:
//
//	GET  /healthz                      daemon self-check
//	GET  /services                     status of every configured service
//	GET  /services/:name               status of one service
//	POST /services/:name/start         bring one service up
//	POST /services/:name/stop          take one service down
//	POST /services/:name/restart       bounce one service
//	POST /fleet/start|stop|restart     same, fleet-wide
//	POST /reconcile[?service=name]     run a pass (or reconcile one service)
//	POST /cleanup?confirm=true         destructive tidy-up of leftovers
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	core      Core
	stats     StatsSource
	basePath  string
	startedAt time.Time
}

// NewRouter constructs a Router with a configurable basePath. Example
// basePath "/api" results in /api/services, /api/reconcile, and so on.
func NewRouter(core Core, stats StatsSource, basePath string) *Router {
	return &Router{
		core:      core,
		stats:     stats,
		basePath:  sanitizeBase(basePath),
		startedAt: time.Now(),
	}
}

// Handler returns an http.Handler powered by gin that can be mounted in any
// server or mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/healthz", r.handleHealthz)
	group.GET("/services", r.handleListServices)
	group.GET("/services/:name", r.handleServiceStatus)
	group.POST("/services/:name/start", r.handleStart)
	group.POST("/services/:name/stop", r.handleStop)
	group.POST("/services/:name/restart", r.handleRestart)
	group.POST("/fleet/start", r.handleFleetStart)
	group.POST("/fleet/stop", r.handleFleetStop)
	group.POST("/fleet/restart", r.handleFleetRestart)
	group.POST("/reconcile", r.handleReconcile)
	group.POST("/cleanup", r.handleCleanup)
	return g
}

// NewServer starts a standalone HTTP server on addr using this router. The
// caller owns shutdown via the returned server's Close or Shutdown.
func NewServer(addr, basePath string, core Core, stats StatsSource) (*http.Server, error) {
	r := NewRouter(core, stats, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server, nil
}

// NewTLSServer is NewServer over TLS with the given (non-nil) config.
func NewTLSServer(addr, basePath string, core Core, stats StatsSource, tc *tls.Config) (*http.Server, error) {
	r := NewRouter(core, stats, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		TLSConfig:         tc,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	// Certificates come from TLSConfig; the file arguments stay empty.
	go func() { _ = server.ListenAndServeTLS("", "") }()
	return server, nil
}

// --- Handlers ---

func (r *Router) handleHealthz(c *gin.Context) {
	resp := healthzView{Status: "ok", Uptime: time.Since(r.startedAt).Round(time.Second).String()}
	if r.stats != nil {
		snap := r.stats.Snapshot()
		resp.Events = snap.Counts
		resp.ActiveServices = len(snap.Services)
	}
	writeJSON(c, http.StatusOK, resp)
}

func (r *Router) handleListServices(c *gin.Context) {
	sts, err := r.core.StatusAll(c.Request.Context())
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, sts)
}

func (r *Router) handleServiceStatus(c *gin.Context) {
	name := c.Param("name")
	if !isSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid name: allowed [A-Za-z0-9._-] and no '..' or path separators"})
		return
	}
	st, err := r.core.Status(c.Request.Context(), name)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, st)
}

func (r *Router) handleStart(c *gin.Context) { r.serviceOp(c, r.core.StartService) }

func (r *Router) handleStop(c *gin.Context) { r.serviceOp(c, r.core.StopService) }

func (r *Router) handleRestart(c *gin.Context) { r.serviceOp(c, r.core.RestartService) }

func (r *Router) serviceOp(c *gin.Context, op func(context.Context, string) error) {
	name := c.Param("name")
	if !isSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid name: allowed [A-Za-z0-9._-] and no '..' or path separators"})
		return
	}
	if err := op(c.Request.Context(), name); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleFleetStart(c *gin.Context) { r.fleetOp(c, r.core.StartAll) }

func (r *Router) handleFleetStop(c *gin.Context) { r.fleetOp(c, r.core.StopAll) }

func (r *Router) handleFleetRestart(c *gin.Context) { r.fleetOp(c, r.core.RestartAll) }

// fleetOp answers 200 even when some services failed; the body carries the
// per-service outcomes so a partial failure stays visible without hiding
// the successes.
func (r *Router) fleetOp(c *gin.Context, op func(context.Context) []reconcile.OpOutcome) {
	writeJSON(c, http.StatusOK, newFleetView(op(c.Request.Context())))
}

func (r *Router) handleReconcile(c *gin.Context) {
	if name := c.Query("service"); name != "" {
		if !isSafeName(name) {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid service: allowed [A-Za-z0-9._-] and no '..' or path separators"})
			return
		}
		sr, err := r.core.ReconcileService(c.Request.Context(), name)
		if err != nil {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
			return
		}
		writeJSON(c, http.StatusOK, newServiceResultView(sr))
		return
	}
	res, err := r.core.ExecutePass(c.Request.Context())
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, newPassView(res))
}

func (r *Router) handleCleanup(c *gin.Context) {
	if c.Query("confirm") != "true" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "cleanup deletes records and kills leftover processes: pass confirm=true"})
		return
	}
	res, err := r.core.Cleanup(c.Request.Context())
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, newCleanupView(res))
}
