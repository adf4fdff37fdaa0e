// Package vintagestory manages a single Vintage Story dedicated server:
// installing official releases, supervising the server process, fanning
// out its console, and handling mods. This file is the stable embedding
// surface; the implementation lives under internal/.
package vintagestory

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/craquehouse/vintagestory-server-sub000/internal/auth"
	"github.com/craquehouse/vintagestory-server-sub000/internal/config"
	"github.com/craquehouse/vintagestory-server-sub000/internal/history"
	"github.com/craquehouse/vintagestory-server-sub000/internal/installer"
	"github.com/craquehouse/vintagestory-server-sub000/internal/layout"
	"github.com/craquehouse/vintagestory-server-sub000/internal/manager"
	"github.com/craquehouse/vintagestory-server-sub000/internal/metrics"
	"github.com/craquehouse/vintagestory-server-sub000/internal/mods"
	"github.com/craquehouse/vintagestory-server-sub000/internal/process"
	"github.com/craquehouse/vintagestory-server-sub000/internal/release"
	"github.com/craquehouse/vintagestory-server-sub000/internal/scheduler"
	"github.com/craquehouse/vintagestory-server-sub000/internal/server"
)

// Re-exported types for external consumers; aliases, so conversions are
// zero-cost.

type Config = config.Config

type InstallProgress = installer.Progress

type ServerStatus = process.Status

type VersionInfo = release.VersionInfo

type Mod = mods.Mod

type Event = history.Event

// LoadConfig reads and validates a TOML config file.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// Daemon assembles every component from one config: coordinator, mod
// manager, event store, background scheduler and the HTTP API.
type Daemon struct {
	cfg      *config.Config
	mgr      *manager.Manager
	mods     *mods.Manager
	events   *history.Store
	releases *release.Client
	sched    *scheduler.Scheduler
	httpd    *http.Server
}

// NewDaemon wires a daemon from config. Nothing is listening or
// scheduled until Start.
func NewDaemon(cfg *config.Config) (*Daemon, error) {
	cfg.Log.Setup()
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	paths := layout.Paths{Root: cfg.Root}
	historyPath := cfg.History.Path
	if historyPath == "" {
		historyPath = filepath.Join(paths.ManagerDir(), "events.db")
	}
	if err := paths.EnsureRuntimeDirs(); err != nil {
		return nil, err
	}
	events, err := history.Open(historyPath)
	if err != nil {
		return nil, err
	}

	modMgr := mods.NewManager(paths, mods.NewCatalog(cfg.Mods.APIBase, cfg.Mods.CacheTTL))
	releases := release.NewClient(cfg.Releases.APIBase, cfg.Releases.CDNBase)
	mgr := manager.New(manager.Config{
		Paths:        paths,
		Releases:     releases,
		PrefixDigits: cfg.Install.PrefixDigits,
		BufferLines:  cfg.Console.BufferLines,
		StopTimeout:  cfg.Process.StopTimeout,
		Command:      cfg.Process.Command,
		OnRestart:    modMgr.ClearPendingRestart,
		Events:       events,
	})

	d := &Daemon{cfg: cfg, mgr: mgr, mods: modMgr, events: events, releases: releases, sched: scheduler.New()}
	if cfg.Mods.RefreshSchedule != "" {
		err := d.sched.Add("mod-catalog-refresh", cfg.Mods.RefreshSchedule, modMgr.Catalog().Refresh)
		if err != nil {
			_ = events.Close()
			return nil, err
		}
	}
	return d, nil
}

// Manager exposes the coordinator for embedders.
func (d *Daemon) Manager() *manager.Manager { return d.mgr }

// Mods exposes the mod manager for embedders.
func (d *Daemon) Mods() *mods.Manager { return d.mods }

// Start launches the HTTP API and the background scheduler.
func (d *Daemon) Start() error {
	var authMgr *auth.Manager
	if a := d.cfg.HTTP.Auth; a.Enabled {
		authMgr = auth.New(a.JWTSecret, a.TokenTTL, a.Username, a.Password)
	}
	router := server.NewRouter(server.Deps{
		Manager:  d.mgr,
		Mods:     d.mods,
		Events:   d.events,
		Releases: d.releases,
		Auth:     authMgr,
		BasePath: d.cfg.HTTP.BasePath,
	})
	d.httpd = server.NewServer(d.cfg.HTTP.Listen, router)
	d.sched.Start()
	return nil
}

// Shutdown stops the scheduler, the HTTP listener, a running server
// child, and closes the event store.
func (d *Daemon) Shutdown(ctx context.Context) error {
	d.sched.Stop()
	var err error
	if d.httpd != nil {
		err = d.httpd.Shutdown(ctx)
	}
	d.mgr.Shutdown()
	if cerr := d.events.Close(); err == nil {
		err = cerr
	}
	return err
}
