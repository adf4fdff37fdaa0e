// Package process supervises the lifecycle of the single managed server
// child: spawn, console capture, graceful stop with kill escalation, and
// crash detection.
package process

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/craquehouse/vintagestory-server-sub000/internal/errcode"
	"github.com/craquehouse/vintagestory-server-sub000/internal/layout"
	"github.com/craquehouse/vintagestory-server-sub000/internal/logbuf"
	"github.com/craquehouse/vintagestory-server-sub000/internal/metrics"
)

// DefaultStopTimeout is the grace period between SIGTERM and SIGKILL.
const DefaultStopTimeout = 30 * time.Second

// killReapTimeout bounds the wait for the monitor to reap after SIGKILL.
const killReapTimeout = 5 * time.Second

// Options tune a Supervisor beyond its required collaborators.
type Options struct {
	// Command overrides the child invocation. Element zero is the
	// executable; the default runs the server under the dotnet host.
	Command []string
	// OnRunningChange is invoked, outside all supervisor locks, when the
	// child transitions to or from running.
	OnRunningChange func(running bool)
	// OnCrash is invoked, outside all supervisor locks, when the child
	// exits without a stop having been requested.
	OnCrash func(exitCode int)
}

// Supervisor owns the managed server child process. At most one child is
// tracked at a time; every spawned child gets its own process group so
// stop signals reach grandchildren too.
type Supervisor struct {
	paths     layout.Paths
	buf       *logbuf.Buffer
	command   []string
	onRunning func(bool)
	onCrash   func(int)

	mu        sync.Mutex
	state     State
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	startedAt time.Time
	lastExit  *int
	stopping  bool
	waitDone  chan struct{} // closed by monitor once cmd.Wait returns

	sendMu  sync.Mutex // keeps the [CMD] echo adjacent to its stdin write
	readers sync.WaitGroup
}

// New returns a supervisor for the installation under paths, writing
// console output into buf.
func New(paths layout.Paths, buf *logbuf.Buffer, opts Options) *Supervisor {
	cmd := opts.Command
	if len(cmd) == 0 {
		arg, err := paths.DataPathArg()
		if err != nil {
			arg = paths.DataDir()
		}
		cmd = []string{"dotnet", layout.ServerBinaryName, "--dataPath", arg}
	}
	return &Supervisor{
		paths:     paths,
		buf:       buf,
		command:   cmd,
		onRunning: opts.OnRunningChange,
		onCrash:   opts.OnCrash,
		state:     StateInstalled,
	}
}

// Start spawns the server child and begins console capture. The caller
// serializes lifecycle operations; Start still guards against a live
// child so a racing call cannot double-spawn.
func (s *Supervisor) Start() error {
	if !s.paths.Installed() {
		return errcode.New(errcode.ServerNotInstalled, "no server installation under %s", s.paths.ServerDir())
	}

	s.mu.Lock()
	switch s.state {
	case StateStarting, StateRunning, StateStopping:
		st := s.state
		s.mu.Unlock()
		return errcode.New(errcode.ServerAlreadyRunning, "server is %s", st)
	}
	s.state = StateStarting
	s.mu.Unlock()

	cmd := exec.Command(s.command[0], s.command[1:]...) // #nosec G204 -- operator-configured invocation
	cmd.Dir = s.paths.ServerDir()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return s.startFailed(err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return s.startFailed(err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return s.startFailed(err)
	}
	if err := cmd.Start(); err != nil {
		return s.startFailed(err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.stdin = stdin
	s.startedAt = time.Now()
	s.stopping = false
	s.waitDone = make(chan struct{})
	s.state = StateRunning
	s.mu.Unlock()

	s.readers.Add(2)
	go s.readStream(stdout)
	go s.readStream(stderr)
	go s.monitor(cmd)

	slog.Info("server started", "pid", cmd.Process.Pid, "dir", cmd.Dir)
	metrics.IncServerStart()
	metrics.SetServerRunning(true)
	s.notify(true)
	return nil
}

func (s *Supervisor) startFailed(err error) error {
	s.mu.Lock()
	s.state = StateInstalled
	s.mu.Unlock()
	return errcode.Wrap(errcode.ServerStartFailed, err, "spawning server process")
}

// Stop requests a graceful shutdown: SIGTERM to the child's process
// group, then SIGKILL after timeout. It returns once the child has been
// reaped and both console readers have drained.
func (s *Supervisor) Stop(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultStopTimeout
	}

	s.mu.Lock()
	if s.cmd == nil || s.cmd.Process == nil || s.state == StateStopping {
		st := s.state
		s.mu.Unlock()
		return errcode.New(errcode.ServerNotRunning, "server is %s", st)
	}
	s.state = StateStopping
	s.stopping = true
	pid := s.cmd.Process.Pid
	wd := s.waitDone
	s.mu.Unlock()

	// ESRCH means the group already exited; the monitor reaps it either way.
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		slog.Warn("terminate signal failed", "pid", pid, "err", err)
	}
	select {
	case <-wd:
	case <-time.After(timeout):
		slog.Warn("grace period elapsed, killing server", "pid", pid)
		_ = syscall.Kill(-pid, syscall.SIGKILL)
		select {
		case <-wd:
		case <-time.After(killReapTimeout):
			// Revert so a retry can re-enter Stop once the child becomes
			// reapable.
			s.mu.Lock()
			s.state = StateRunning
			s.stopping = false
			s.mu.Unlock()
			return errcode.New(errcode.ServerStopFailed, "process %d survived SIGKILL", pid)
		}
	}
	s.readers.Wait()

	s.mu.Lock()
	s.cmd = nil
	s.stdin = nil
	s.startedAt = time.Time{}
	s.state = StateInstalled
	s.stopping = false
	var code int
	if s.lastExit != nil {
		code = *s.lastExit
	}
	s.mu.Unlock()

	slog.Info("server stopped", "exit_code", code)
	metrics.IncServerStop()
	metrics.SetServerRunning(false)
	s.notify(false)
	return nil
}

// Restart stops the child when one is running, then starts a fresh one.
// A failed stop aborts the restart; the caller's serialization makes the
// stop+start pair atomic with respect to other lifecycle operations.
func (s *Supervisor) Restart(stopTimeout time.Duration) error {
	s.mu.Lock()
	running := s.cmd != nil && s.state != StateInstalled
	s.mu.Unlock()
	if running {
		if err := s.Stop(stopTimeout); err != nil {
			return err
		}
	}
	return s.Start()
}

// SendCommand writes one command line to the child's stdin, echoing it
// into the console buffer as "[CMD] <text>" so operators see their own
// input in the stream. Returns false when no child is accepting input.
func (s *Supervisor) SendCommand(text string) bool {
	s.mu.Lock()
	stdin := s.stdin
	ok := s.state == StateRunning && stdin != nil
	s.mu.Unlock()
	if !ok {
		return false
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	s.buf.Append("[CMD] " + text)
	if _, err := io.WriteString(stdin, text+"\n"); err != nil {
		slog.Warn("command write failed", "err", err)
		return false
	}
	metrics.IncCommandSent()
	return true
}

// Status derives the externally visible state. Absence of the installed
// files dominates everything else; transitional states are reported
// verbatim.
func (s *Supervisor) Status() Status {
	installed := s.paths.Installed()
	version, _ := s.paths.InstalledVersion()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !installed {
		return Status{State: StateNotInstalled}
	}
	switch s.state {
	case StateStarting, StateStopping:
		return Status{State: s.state, Version: version}
	}
	if s.cmd != nil && s.state == StateRunning {
		return Status{
			State:         StateRunning,
			PID:           s.cmd.Process.Pid,
			UptimeSeconds: time.Since(s.startedAt).Seconds(),
			Version:       version,
		}
	}
	return Status{State: StateInstalled, LastExitCode: s.lastExit, Version: version}
}

// monitor owns the single cmd.Wait. On an expected stop it records the
// exit and lets Stop finalize; on a crash the first observer is the
// monitor itself, which finalizes and reports.
func (s *Supervisor) monitor(cmd *exec.Cmd) {
	err := cmd.Wait()
	code := exitCode(err)

	s.mu.Lock()
	s.lastExit = &code
	stopping := s.stopping
	wd := s.waitDone
	if !stopping {
		s.cmd = nil
		s.stdin = nil
		s.startedAt = time.Time{}
		s.state = StateInstalled
	}
	s.mu.Unlock()
	close(wd)

	if stopping {
		return
	}
	slog.Warn("server exited unexpectedly", "exit_code", code)
	metrics.IncServerCrash()
	metrics.SetServerRunning(false)
	if s.onCrash != nil {
		s.onCrash(code)
	}
	s.notify(false)
}

// readStream pumps one console stream into the ring buffer line by line.
// It ends when the pipe reaches EOF after the child exits.
func (s *Supervisor) readStream(r io.Reader) {
	defer s.readers.Done()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.ToValidUTF8(sc.Text(), string(utf8.RuneError))
		s.buf.Append(line)
		metrics.IncConsoleLine()
	}
}

func (s *Supervisor) notify(running bool) {
	if s.onRunning != nil {
		s.onRunning(running)
	}
}

// exitCode maps a cmd.Wait result to the reported exit code. Termination
// by signal is encoded as the negated signal number.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		if ws, ok := ee.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return -int(ws.Signal())
		}
		return ee.ExitCode()
	}
	return -1
}
