package mods

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/craquehouse/vintagestory-server-sub000/internal/layout"
)

// disabledSuffix is appended to a mod file to hide it from the server's
// mod loader without deleting it.
const disabledSuffix = ".disabled"

// Mod is one installed mod as tracked in the state file.
type Mod struct {
	Name        string    `json:"name"`
	ModID       string    `json:"mod_id"`
	Version     string    `json:"version"`
	FileName    string    `json:"file_name"`
	Enabled     bool      `json:"enabled"`
	InstalledAt time.Time `json:"installed_at"`
}

// Manager installs and tracks mods for one server installation. Mod
// file changes only take effect after a server restart, which the
// manager surfaces through PendingRestart.
type Manager struct {
	paths   layout.Paths
	catalog *Catalog
	http    *retryablehttp.Client

	mu      sync.Mutex // guards the state file and mod dir mutations
	pending atomic.Bool
}

// NewManager returns a mod manager over the given installation paths.
func NewManager(paths layout.Paths, catalog *Catalog) *Manager {
	c := retryablehttp.NewClient()
	c.RetryMax = 3
	c.Logger = nil
	return &Manager{paths: paths, catalog: catalog, http: c}
}

// Catalog exposes the underlying catalog client for browsing.
func (m *Manager) Catalog() *Catalog { return m.catalog }

// PendingRestart reports whether mod changes await a server restart.
func (m *Manager) PendingRestart() bool { return m.pending.Load() }

// ClearPendingRestart resets the flag; called after a restart.
func (m *Manager) ClearPendingRestart() { m.pending.Store(false) }

// Installed returns the tracked mods, sorted as stored.
func (m *Manager) Installed() ([]Mod, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readState()
}

// Install downloads a mod release into the server's mod directory and
// records it. An empty version picks the newest release by semver;
// installing over an existing entry replaces its file.
func (m *Manager) Install(ctx context.Context, idOrAlias, version string) (*Mod, error) {
	detail, err := m.catalog.ModInfo(ctx, idOrAlias)
	if err != nil {
		return nil, err
	}
	rel, err := pickRelease(detail.Releases, version)
	if err != nil {
		return nil, fmt.Errorf("mod %s: %w", detail.Name, err)
	}
	if rel.FileName == "" || rel.MainFile == "" {
		return nil, fmt.Errorf("mod %s release %s has no downloadable file", detail.Name, rel.ModVersion)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.MkdirAll(m.paths.ModsDir(), 0o750); err != nil {
		return nil, err
	}
	dest := filepath.Join(m.paths.ModsDir(), filepath.Base(rel.FileName))
	if err := m.downloadFile(ctx, rel.MainFile, dest); err != nil {
		return nil, fmt.Errorf("downloading %s: %w", rel.FileName, err)
	}

	mods, err := m.readState()
	if err != nil {
		return nil, err
	}
	entry := Mod{
		Name:        detail.Name,
		ModID:       idOrAlias,
		Version:     rel.ModVersion,
		FileName:    filepath.Base(rel.FileName),
		Enabled:     true,
		InstalledAt: time.Now().UTC(),
	}
	replaced := false
	for i := range mods {
		if mods[i].ModID == entry.ModID {
			if mods[i].FileName != entry.FileName {
				_ = os.Remove(filepath.Join(m.paths.ModsDir(), mods[i].FileName))
				_ = os.Remove(filepath.Join(m.paths.ModsDir(), mods[i].FileName+disabledSuffix))
			}
			mods[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		mods = append(mods, entry)
	}
	if err := m.writeState(mods); err != nil {
		return nil, err
	}
	m.pending.Store(true)
	return &entry, nil
}

// Remove deletes a tracked mod's file and its record.
func (m *Manager) Remove(modID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	mods, err := m.readState()
	if err != nil {
		return err
	}
	idx := indexOf(mods, modID)
	if idx < 0 {
		return fmt.Errorf("mod %q is not installed", modID)
	}
	file := filepath.Join(m.paths.ModsDir(), mods[idx].FileName)
	_ = os.Remove(file)
	_ = os.Remove(file + disabledSuffix)
	mods = append(mods[:idx], mods[idx+1:]...)
	if err := m.writeState(mods); err != nil {
		return err
	}
	m.pending.Store(true)
	return nil
}

// Enable renames the mod file back into the loader's view.
func (m *Manager) Enable(modID string) error { return m.setEnabled(modID, true) }

// Disable renames the mod file out of the loader's view, keeping it on
// disk for a later re-enable.
func (m *Manager) Disable(modID string) error { return m.setEnabled(modID, false) }

func (m *Manager) setEnabled(modID string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	mods, err := m.readState()
	if err != nil {
		return err
	}
	idx := indexOf(mods, modID)
	if idx < 0 {
		return fmt.Errorf("mod %q is not installed", modID)
	}
	if mods[idx].Enabled == enabled {
		return nil
	}
	active := filepath.Join(m.paths.ModsDir(), mods[idx].FileName)
	disabled := active + disabledSuffix
	var renameErr error
	if enabled {
		renameErr = os.Rename(disabled, active)
	} else {
		renameErr = os.Rename(active, disabled)
	}
	if renameErr != nil {
		return renameErr
	}
	mods[idx].Enabled = enabled
	if err := m.writeState(mods); err != nil {
		return err
	}
	m.pending.Store(true)
	return nil
}

func (m *Manager) downloadFile(ctx context.Context, url, dest string) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := m.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	tmp := dest + ".partial"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o640) // #nosec G304 -- path derived from managed mods dir
	if err != nil {
		return err
	}
	if _, err := out.ReadFrom(resp.Body); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dest)
}

// readState loads the tracked mods; a missing state file is an empty
// list, not an error.
func (m *Manager) readState() ([]Mod, error) {
	b, err := os.ReadFile(m.paths.ModStateFile())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var mods []Mod
	if err := json.Unmarshal(b, &mods); err != nil {
		return nil, fmt.Errorf("mod state file corrupt: %w", err)
	}
	return mods, nil
}

// writeState persists via temp-then-rename so a crash mid-write never
// corrupts the record.
func (m *Manager) writeState(mods []Mod) error {
	if err := os.MkdirAll(m.paths.ManagerDir(), 0o750); err != nil {
		return err
	}
	b, err := json.MarshalIndent(mods, "", "  ")
	if err != nil {
		return err
	}
	tmp := m.paths.ModStateFile() + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, m.paths.ModStateFile())
}

func indexOf(mods []Mod, modID string) int {
	for i := range mods {
		if mods[i].ModID == modID || strings.EqualFold(mods[i].Name, modID) {
			return i
		}
	}
	return -1
}

// pickRelease selects the requested version, or the newest by semver
// when version is empty. Releases with unparsable versions lose to any
// parsable one.
func pickRelease(releases []Release, version string) (Release, error) {
	if len(releases) == 0 {
		return Release{}, fmt.Errorf("no releases available")
	}
	if version != "" {
		for _, r := range releases {
			if strings.TrimPrefix(r.ModVersion, "v") == strings.TrimPrefix(version, "v") {
				return r, nil
			}
		}
		return Release{}, fmt.Errorf("version %s not found", version)
	}
	best := releases[0]
	bestVer, bestOK := parseVersion(best.ModVersion)
	for _, r := range releases[1:] {
		v, ok := parseVersion(r.ModVersion)
		switch {
		case ok && !bestOK:
			best, bestVer, bestOK = r, v, true
		case ok && bestOK && v.GreaterThan(bestVer):
			best, bestVer = r, v
		}
	}
	return best, nil
}

func parseVersion(s string) (*semver.Version, bool) {
	v, err := semver.NewVersion(strings.TrimPrefix(s, "v"))
	if err != nil {
		return nil, false
	}
	return v, true
}
