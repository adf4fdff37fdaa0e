// Package manager coordinates the installer and the process supervisor
// behind one facade. Installation work and lifecycle work serialize on
// two independent locks that are never held together, so a long install
// cannot block a status query or a stop, and vice versa.
package manager

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/craquehouse/vintagestory-server-sub000/internal/errcode"
	"github.com/craquehouse/vintagestory-server-sub000/internal/installer"
	"github.com/craquehouse/vintagestory-server-sub000/internal/layout"
	"github.com/craquehouse/vintagestory-server-sub000/internal/logbuf"
	"github.com/craquehouse/vintagestory-server-sub000/internal/process"
	"github.com/craquehouse/vintagestory-server-sub000/internal/release"
)

// Recorder persists lifecycle events. Implementations must be safe for
// concurrent use; a nil Recorder disables event history.
type Recorder interface {
	Record(kind, detail string)
}

// Event kinds handed to the Recorder.
const (
	EventInstall   = "install"
	EventUninstall = "uninstall"
	EventStart     = "start"
	EventStop      = "stop"
	EventCrash     = "crash"
)

// Config assembles a Manager.
type Config struct {
	Paths        layout.Paths
	Releases     *release.Client
	PrefixDigits int
	BufferLines  int
	StopTimeout  time.Duration
	// Command overrides the server invocation, mainly for tests.
	Command []string
	// OnRestart runs after every completed restart, outside all locks.
	OnRestart func()
	Events    Recorder
}

// Manager is the single coordination point for one managed server.
type Manager struct {
	inst        *installer.Installer
	sup         *process.Supervisor
	buf         *logbuf.Buffer
	stopTimeout time.Duration
	onRestart   func()
	events      Recorder

	// The two locks are never held at the same time.
	installMu   sync.Mutex
	lifecycleMu sync.Mutex
}

// New builds the coordinator and its collaborators.
func New(cfg Config) *Manager {
	m := &Manager{
		buf:         logbuf.New(cfg.BufferLines),
		stopTimeout: cfg.StopTimeout,
		onRestart:   cfg.OnRestart,
		events:      cfg.Events,
	}
	if m.stopTimeout <= 0 {
		m.stopTimeout = process.DefaultStopTimeout
	}
	m.inst = installer.New(cfg.Paths, cfg.Releases, cfg.PrefixDigits)
	m.sup = process.New(cfg.Paths, m.buf, process.Options{
		Command: cfg.Command,
		OnCrash: func(exitCode int) {
			m.record(EventCrash, "exit_code="+strconv.Itoa(exitCode))
		},
	})
	return m
}

// Install downloads, verifies and unpacks the requested version (or
// channel alias). Concurrent calls serialize: the loser of the race
// observes the winner's completed installation.
func (m *Manager) Install(ctx context.Context, version string) error {
	m.installMu.Lock()
	defer m.installMu.Unlock()
	err := m.inst.Install(ctx, version)
	if err == nil {
		m.record(EventInstall, "version="+m.inst.Progress().Version)
	}
	return err
}

// Uninstall removes the server tree and version marker. It refuses while
// the server process is up; stopping first is the caller's decision, not
// an implicit side effect.
func (m *Manager) Uninstall() error {
	if m.inst.Installing() {
		return errcode.New(errcode.InstallationInProgress, "installation in progress")
	}
	m.installMu.Lock()
	defer m.installMu.Unlock()
	switch st := m.sup.Status().State; st {
	case process.StateStarting, process.StateRunning, process.StateStopping:
		return errcode.New(errcode.UninstallFailed, "server is %s, stop it first", st)
	}
	if err := m.inst.Uninstall(); err != nil {
		return err
	}
	m.record(EventUninstall, "")
	return nil
}

// Start brings the server up. Rejected while an installation is in
// flight so a half-written tree is never executed.
func (m *Manager) Start() error {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()
	if m.inst.Installing() {
		return errcode.New(errcode.InstallationInProgress, "installation in progress")
	}
	if err := m.sup.Start(); err != nil {
		return err
	}
	m.record(EventStart, "")
	return nil
}

// Stop shuts the server down gracefully, escalating to SIGKILL after the
// configured grace period.
func (m *Manager) Stop() error {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()
	if err := m.sup.Stop(m.stopTimeout); err != nil {
		return err
	}
	m.record(EventStop, "")
	return nil
}

// Restart performs stop-then-start as one lifecycle operation: no other
// Start or Stop can interleave between the two halves.
func (m *Manager) Restart() error {
	m.lifecycleMu.Lock()
	err := func() error {
		defer m.lifecycleMu.Unlock()
		if m.inst.Installing() {
			return errcode.New(errcode.InstallationInProgress, "installation in progress")
		}
		return m.sup.Restart(m.stopTimeout)
	}()
	if err != nil {
		return err
	}
	if m.onRestart != nil {
		m.onRestart()
	}
	return nil
}

// SendCommand forwards one console command to the running server.
func (m *Manager) SendCommand(text string) bool {
	return m.sup.SendCommand(text)
}

// Status reports the runtime state without taking either coordinator
// lock, so it stays responsive during installs and slow stops.
func (m *Manager) Status() process.Status {
	return m.sup.Status()
}

// InstallProgress reports the installation state without taking either
// coordinator lock.
func (m *Manager) InstallProgress() installer.Progress {
	return m.inst.Progress()
}

// Console returns up to limit recent console lines, oldest first.
func (m *Manager) Console(limit int) []string {
	return m.buf.History(limit)
}

// SubscribeConsole registers fn for every future console line.
func (m *Manager) SubscribeConsole(fn logbuf.Listener) *logbuf.Subscription {
	return m.buf.Subscribe(fn)
}

// UnsubscribeConsole removes a live console subscription.
func (m *Manager) UnsubscribeConsole(s *logbuf.Subscription) {
	m.buf.Unsubscribe(s)
}

// Shutdown stops a running server during daemon teardown; a server that
// is not running is not an error here.
func (m *Manager) Shutdown() {
	if err := m.Stop(); err != nil && errcode.KindOf(err) != errcode.ServerNotRunning {
		slog.Warn("shutdown stop failed", "err", err)
	}
}

func (m *Manager) record(kind, detail string) {
	if m.events != nil {
		m.events.Record(kind, detail)
	}
}

