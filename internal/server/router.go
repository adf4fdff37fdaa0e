// Package server exposes the manager over HTTP: install and lifecycle
// control, console history plus a live websocket stream, mod management,
// event history and Prometheus metrics.
package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/craquehouse/vintagestory-server-sub000/internal/auth"
	"github.com/craquehouse/vintagestory-server-sub000/internal/errcode"
	"github.com/craquehouse/vintagestory-server-sub000/internal/history"
	"github.com/craquehouse/vintagestory-server-sub000/internal/installer"
	"github.com/craquehouse/vintagestory-server-sub000/internal/manager"
	"github.com/craquehouse/vintagestory-server-sub000/internal/metrics"
	"github.com/craquehouse/vintagestory-server-sub000/internal/mods"
	"github.com/craquehouse/vintagestory-server-sub000/internal/release"
)

// Router wires the manager's operations onto HTTP endpoints. Auth and
// the optional collaborators may be nil; their endpoints then disappear
// or run unguarded.
type Router struct {
	mgr      *manager.Manager
	mods     *mods.Manager
	events   *history.Store
	releases *release.Client
	auth     *auth.Manager
	basePath string
}

// Deps collects the router's collaborators.
type Deps struct {
	Manager  *manager.Manager
	Mods     *mods.Manager
	Events   *history.Store
	Releases *release.Client
	Auth     *auth.Manager
	BasePath string
}

// NewRouter constructs a Router; BasePath may be empty or "/prefix".
func NewRouter(d Deps) *Router {
	return &Router{
		mgr:      d.Manager,
		mods:     d.Mods,
		events:   d.Events,
		releases: d.Releases,
		auth:     d.Auth,
		basePath: sanitizeBase(d.BasePath),
	}
}

// Handler returns an http.Handler that can be mounted in any server.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())

	root := g.Group(r.basePath)
	root.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })
	root.GET("/metrics", gin.WrapH(metrics.Handler()))
	if r.auth != nil {
		root.POST("/auth/login", r.handleLogin)
	}

	api := root.Group("")
	if r.auth != nil {
		api.Use(r.auth.Middleware())
	}

	api.GET("/status", r.handleStatus)
	api.GET("/versions", r.handleVersions)

	api.POST("/install", r.handleInstall)
	api.GET("/install/progress", r.handleInstallProgress)
	api.DELETE("/install", r.handleUninstall)

	api.POST("/server/start", r.handleStart)
	api.POST("/server/stop", r.handleStop)
	api.POST("/server/restart", r.handleRestart)
	api.POST("/server/command", r.handleCommand)

	api.GET("/console", r.handleConsole)
	api.GET("/console/ws", r.handleConsoleWS)

	if r.events != nil {
		api.GET("/events", r.handleEvents)
	}
	if r.mods != nil {
		api.GET("/mods/catalog", r.handleModCatalog)
		api.GET("/mods", r.handleModsInstalled)
		api.POST("/mods", r.handleModInstall)
		api.DELETE("/mods/:id", r.handleModRemove)
		api.POST("/mods/:id/enable", r.handleModEnable)
		api.POST("/mods/:id/disable", r.handleModDisable)
	}
	return g
}

// NewServer runs the router on addr as a standalone HTTP server.
func NewServer(addr string, r *Router) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}

type errorResp struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type okResp struct {
	OK bool `json:"ok"`
}

// writeErr maps the error taxonomy onto HTTP statuses: bad input 400,
// unknown versions and mods 404, state conflicts 409, everything else
// 500.
func writeErr(c *gin.Context, err error) {
	kind := errcode.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case errcode.InvalidVersion:
		status = http.StatusBadRequest
	case errcode.VersionNotFound:
		status = http.StatusNotFound
	case errcode.ServerAlreadyInstalled, errcode.ServerNotInstalled,
		errcode.InstallationInProgress, errcode.ServerAlreadyRunning,
		errcode.ServerNotRunning:
		status = http.StatusConflict
	}
	c.JSON(status, errorResp{Error: err.Error(), Code: string(kind)})
}

func (r *Router) handleLogin(c *gin.Context) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	token, err := r.auth.Login(body.Username, body.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, errorResp{Error: "invalid credentials"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

// statusResp combines runtime and install state into one poll target.
func (r *Router) handleStatus(c *gin.Context) {
	resp := gin.H{
		"server":  r.mgr.Status(),
		"install": r.mgr.InstallProgress(),
	}
	if r.mods != nil {
		resp["mods_pending_restart"] = r.mods.PendingRestart()
	}
	c.JSON(http.StatusOK, resp)
}

func (r *Router) handleVersions(c *gin.Context) {
	ch := release.Channel(c.DefaultQuery("channel", string(release.ChannelStable)))
	if ch != release.ChannelStable && ch != release.ChannelUnstable {
		c.JSON(http.StatusBadRequest, errorResp{Error: "unknown channel " + string(ch)})
		return
	}
	versions, err := r.releases.Versions(c.Request.Context(), ch)
	if err != nil {
		c.JSON(http.StatusBadGateway, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"channel": ch, "versions": versions})
}

// handleInstall kicks off an asynchronous installation and returns
// immediately; clients poll /install/progress. Version format problems
// are rejected synchronously so a typo fails fast.
func (r *Router) handleInstall(c *gin.Context) {
	var body struct {
		Version string `json:"version"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if body.Version == "" {
		c.JSON(http.StatusBadRequest, errorResp{Error: "version required"})
		return
	}
	if !release.IsAlias(body.Version) && !release.ValidateVersionFormat(body.Version) {
		writeErr(c, errcode.New(errcode.InvalidVersion, "invalid version %q", body.Version))
		return
	}
	if r.mgr.InstallProgress().State == installer.StateInstalling {
		writeErr(c, errcode.New(errcode.InstallationInProgress, "installation in progress"))
		return
	}
	go func(version string) {
		// outcome lands in the progress snapshot
		_ = r.mgr.Install(context.Background(), version)
	}(body.Version)
	c.JSON(http.StatusAccepted, gin.H{"state": "installing", "version": body.Version})
}

func (r *Router) handleInstallProgress(c *gin.Context) {
	c.JSON(http.StatusOK, r.mgr.InstallProgress())
}

func (r *Router) handleUninstall(c *gin.Context) {
	if err := r.mgr.Uninstall(); err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStart(c *gin.Context) {
	if err := r.mgr.Start(); err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStop(c *gin.Context) {
	if err := r.mgr.Stop(); err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleRestart(c *gin.Context) {
	if err := r.mgr.Restart(); err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleCommand(c *gin.Context) {
	var body struct {
		Command string `json:"command"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if strings.TrimSpace(body.Command) == "" {
		c.JSON(http.StatusBadRequest, errorResp{Error: "command required"})
		return
	}
	if !r.mgr.SendCommand(body.Command) {
		writeErr(c, errcode.New(errcode.ServerNotRunning, "server is not accepting commands"))
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleConsole(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	c.JSON(http.StatusOK, gin.H{"lines": r.mgr.Console(limit)})
}

func (r *Router) handleEvents(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	events, err := r.events.Recent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (r *Router) handleModCatalog(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "25"))
	result, err := r.mods.Catalog().Search(
		c.Request.Context(),
		c.Query("query"),
		c.DefaultQuery("sort", mods.SortDownloads),
		page, pageSize,
	)
	if err != nil {
		c.JSON(http.StatusBadGateway, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (r *Router) handleModsInstalled(c *gin.Context) {
	installed, err := r.mods.Installed()
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"mods":            installed,
		"pending_restart": r.mods.PendingRestart(),
	})
}

func (r *Router) handleModInstall(c *gin.Context) {
	var body struct {
		ID      string `json:"id"`
		Version string `json:"version"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if body.ID == "" {
		c.JSON(http.StatusBadRequest, errorResp{Error: "id required"})
		return
	}
	mod, err := r.mods.Install(c.Request.Context(), body.ID, body.Version)
	if err != nil {
		c.JSON(http.StatusBadGateway, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, mod)
}

func (r *Router) handleModRemove(c *gin.Context) {
	if err := r.mods.Remove(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleModEnable(c *gin.Context) {
	if err := r.mods.Enable(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleModDisable(c *gin.Context) {
	if err := r.mods.Disable(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func sanitizeBase(bp string) string {
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	return strings.TrimSuffix(bp, "/")
}
