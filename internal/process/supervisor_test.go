package process

import (
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/craquehouse/vintagestory-server-sub000/internal/errcode"
	"github.com/craquehouse/vintagestory-server-sub000/internal/layout"
	"github.com/craquehouse/vintagestory-server-sub000/internal/logbuf"
)

func installedPaths(t *testing.T) layout.Paths {
	t.Helper()
	p := layout.Paths{Root: t.TempDir()}
	require.NoError(t, os.MkdirAll(p.ServerDir(), 0o750))
	require.NoError(t, os.WriteFile(p.ServerBinary(), []byte("dll"), 0o644))
	require.NoError(t, p.EnsureRuntimeDirs())
	require.NoError(t, p.WriteVersion("1.21.6"))
	return p
}

func newTestSupervisor(t *testing.T, command ...string) (*Supervisor, *logbuf.Buffer) {
	t.Helper()
	buf := logbuf.New(100)
	sup := New(installedPaths(t), buf, Options{Command: command})
	t.Cleanup(func() { _ = sup.Stop(2 * time.Second) })
	return sup, buf
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestStartNotInstalled(t *testing.T) {
	sup := New(layout.Paths{Root: t.TempDir()}, logbuf.New(10), Options{Command: []string{"sleep", "5"}})
	err := sup.Start()
	require.Equal(t, errcode.ServerNotInstalled, errcode.KindOf(err))
	require.Equal(t, StateNotInstalled, sup.Status().State)
}

func TestStartStop(t *testing.T) {
	sup, _ := newTestSupervisor(t, "sh", "-c", "while true; do sleep 0.1; done")
	require.NoError(t, sup.Start())

	st := sup.Status()
	require.Equal(t, StateRunning, st.State)
	require.Positive(t, st.PID)
	require.Equal(t, "1.21.6", st.Version)

	require.NoError(t, sup.Stop(2*time.Second))
	st = sup.Status()
	require.Equal(t, StateInstalled, st.State)
	require.Zero(t, st.PID)
	require.NotNil(t, st.LastExitCode)
	require.Negative(t, *st.LastExitCode, "termination by signal reports a negative code")
}

func TestStartAlreadyRunning(t *testing.T) {
	sup, _ := newTestSupervisor(t, "sleep", "5")
	require.NoError(t, sup.Start())
	err := sup.Start()
	require.Equal(t, errcode.ServerAlreadyRunning, errcode.KindOf(err))
}

func TestStopNotRunning(t *testing.T) {
	sup, _ := newTestSupervisor(t, "sleep", "5")
	err := sup.Stop(time.Second)
	require.Equal(t, errcode.ServerNotRunning, errcode.KindOf(err))
}

func TestConsoleCapture(t *testing.T) {
	sup, buf := newTestSupervisor(t, "sh", "-c", "echo from-stdout; echo from-stderr 1>&2; sleep 5")
	require.NoError(t, sup.Start())

	waitFor(t, 3*time.Second, func() bool { return buf.Len() >= 2 })
	joined := strings.Join(buf.History(0), "\n")
	require.Contains(t, joined, "from-stdout")
	require.Contains(t, joined, "from-stderr")
}

func TestCrashDetection(t *testing.T) {
	var notified atomic.Int64
	sup := New(installedPaths(t), logbuf.New(100), Options{
		Command:         []string{"sh", "-c", "exit 7"},
		OnRunningChange: func(running bool) { notified.Add(1) },
	})
	require.NoError(t, sup.Start())

	waitFor(t, 3*time.Second, func() bool { return sup.Status().State == StateInstalled })
	st := sup.Status()
	require.NotNil(t, st.LastExitCode)
	require.Equal(t, 7, *st.LastExitCode)
	require.EqualValues(t, 2, notified.Load(), "one start and one crash notification")
}

func TestSendCommandEcho(t *testing.T) {
	sup, buf := newTestSupervisor(t, "cat")
	require.NoError(t, sup.Start())

	require.True(t, sup.SendCommand("hello world"))
	waitFor(t, 3*time.Second, func() bool { return buf.Len() >= 2 })

	lines := buf.History(0)
	require.True(t, strings.HasSuffix(lines[0], "[CMD] hello world"), "echo first, got %q", lines[0])
	require.True(t, strings.HasSuffix(lines[1], "hello world"), "child output second, got %q", lines[1])
	require.False(t, strings.Contains(lines[1], "[CMD]"))
}

func TestSendCommandNotRunning(t *testing.T) {
	sup, _ := newTestSupervisor(t, "cat")
	require.False(t, sup.SendCommand("stop"))
}

func TestStopEscalatesToKill(t *testing.T) {
	sup, _ := newTestSupervisor(t, "sh", "-c", `trap "" TERM; while true; do sleep 0.1; done`)
	require.NoError(t, sup.Start())

	start := time.Now()
	require.NoError(t, sup.Stop(300*time.Millisecond))
	require.Less(t, time.Since(start), 3*time.Second, "kill escalation must bound the stop")

	st := sup.Status()
	require.Equal(t, StateInstalled, st.State)
	require.NotNil(t, st.LastExitCode)
	require.Equal(t, -9, *st.LastExitCode, "SIGKILL reports -9")
}

func TestRestartReplacesProcess(t *testing.T) {
	sup, _ := newTestSupervisor(t, "sleep", "10")
	require.NoError(t, sup.Start())
	first := sup.Status().PID

	require.NoError(t, sup.Restart(2*time.Second))
	st := sup.Status()
	require.Equal(t, StateRunning, st.State)
	require.NotEqual(t, first, st.PID)
}

func TestRestartStartsWhenStopped(t *testing.T) {
	sup, _ := newTestSupervisor(t, "sleep", "10")
	require.NoError(t, sup.Restart(time.Second))
	require.Equal(t, StateRunning, sup.Status().State)
}

// installed files vanishing out from under a tracked process must not be
// reported as running.
func TestStatusUninstalledWhileTracked(t *testing.T) {
	p := installedPaths(t)
	sup := New(p, logbuf.New(10), Options{Command: []string{"sleep", "5"}})
	t.Cleanup(func() { _ = sup.Stop(time.Second) })
	require.NoError(t, sup.Start())

	require.NoError(t, os.RemoveAll(p.ServerDir()))
	require.Equal(t, StateNotInstalled, sup.Status().State)
}

func TestExitCodeMapping(t *testing.T) {
	p := installedPaths(t)
	// marker without binary content still counts; exercise a plain exit
	require.FileExists(t, filepath.Join(p.ServerDir(), layout.ServerBinaryName))

	sup := New(p, logbuf.New(10), Options{Command: []string{"sh", "-c", "exit 3"}})
	require.NoError(t, sup.Start())
	waitFor(t, 3*time.Second, func() bool { return sup.Status().State == StateInstalled })
	require.Equal(t, 3, *sup.Status().LastExitCode)
}
