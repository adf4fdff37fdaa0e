package installer

import (
	"sync"

	"github.com/craquehouse/vintagestory-server-sub000/internal/errcode"
)

// State is the top-level installation state.
type State string

const (
	StateNotInstalled State = "not_installed"
	StateInstalling   State = "installing"
	StateInstalled    State = "installed"
	StateError        State = "error"
)

// Stage is the sub-phase of an in-progress installation, reported for
// progress UIs only.
type Stage string

const (
	StageDownloading Stage = "downloading"
	StageExtracting  Stage = "extracting"
	StageConfiguring Stage = "configuring"
)

// Progress is an immutable snapshot of one install attempt. Stage and
// Percentage are set only while State is installing; Error and ErrorCode
// only when State is error.
type Progress struct {
	State      State        `json:"state"`
	Stage      Stage        `json:"stage,omitempty"`
	Percentage *int         `json:"percentage,omitempty"`
	Error      string       `json:"error,omitempty"`
	ErrorCode  errcode.Kind `json:"error_code,omitempty"`
	Version    string       `json:"version,omitempty"`
}

// tracker publishes install progress snapshots. Mutated only by the
// Installer under the coordinator's install lock; read lock-free (w.r.t.
// that lock) by status queries.
type tracker struct {
	mu sync.Mutex
	p  Progress
}

func newTracker() *tracker {
	return &tracker{p: Progress{State: StateNotInstalled}}
}

func (t *tracker) snapshot() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.p
}

// beginInstall clears a prior error back to the empty shape and marks the
// attempt as installing. Returns false when an install is already in
// flight.
func (t *tracker) beginInstall() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.p.State == StateInstalling {
		return false
	}
	t.p = Progress{State: StateInstalling}
	return true
}

func (t *tracker) setVersion(v string) {
	t.mu.Lock()
	t.p.Version = v
	t.mu.Unlock()
}

func (t *tracker) setStage(s Stage) {
	t.mu.Lock()
	if t.p.State == StateInstalling {
		t.p.Stage = s
		if s != StageDownloading {
			t.p.Percentage = nil
		}
	}
	t.mu.Unlock()
}

func (t *tracker) setPercentage(pct int) {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	t.mu.Lock()
	if t.p.State == StateInstalling && t.p.Stage == StageDownloading {
		t.p.Percentage = &pct
	}
	t.mu.Unlock()
}

func (t *tracker) setError(code errcode.Kind, msg string) {
	t.mu.Lock()
	version := t.p.Version
	t.p = Progress{State: StateError, Error: msg, ErrorCode: code, Version: version}
	t.mu.Unlock()
}

func (t *tracker) setInstalled(version string) {
	t.mu.Lock()
	t.p = Progress{State: StateInstalled, Version: version}
	t.mu.Unlock()
}

func (t *tracker) reset() {
	t.mu.Lock()
	t.p = Progress{State: StateNotInstalled}
	t.mu.Unlock()
}
