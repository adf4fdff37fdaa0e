package process

// State is the runtime lifecycle state of the supervised server.
type State string

const (
	StateNotInstalled State = "not_installed"
	StateInstalled    State = "installed"
	StateStarting     State = "starting"
	StateRunning      State = "running"
	StateStopping     State = "stopping"
)

// Status is a point-in-time snapshot of the supervised server. PID and
// UptimeSeconds are set only while running; LastExitCode only after the
// process has exited at least once. A negative LastExitCode means the
// process was terminated by that signal number.
type Status struct {
	State         State   `json:"state"`
	PID           int     `json:"pid,omitempty"`
	UptimeSeconds float64 `json:"uptime_seconds,omitempty"`
	LastExitCode  *int    `json:"last_exit_code,omitempty"`
	Version       string  `json:"version,omitempty"`
}
