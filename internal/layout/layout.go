// Package layout fixes the on-disk footprint of a managed server under a
// single root directory. All other packages derive paths from here
// instead of joining strings themselves.
package layout

import (
	"os"
	"path/filepath"
	"strings"
)

// ServerBinaryName is the file whose presence marks a completed install.
const ServerBinaryName = "VintagestoryServer.dll"

const (
	serverDirName  = "server"
	dataDirName    = "data"
	managerDirName = ".vsmanager"
	versionFile    = "installed-version"
	modStateFile   = "mods.json"
)

// Paths derives every managed location from the configured root.
type Paths struct {
	Root string
}

// ServerDir is the extracted server tree (also the child's working dir).
func (p Paths) ServerDir() string { return filepath.Join(p.Root, serverDirName) }

// DataDir is the writable working-data directory handed to the child.
func (p Paths) DataDir() string { return filepath.Join(p.Root, dataDirName) }

// ManagerDir holds manager-internal bookkeeping.
func (p Paths) ManagerDir() string { return filepath.Join(p.Root, managerDirName) }

// VersionFile is the marker holding the currently installed version.
func (p Paths) VersionFile() string { return filepath.Join(p.ManagerDir(), versionFile) }

// ModStateFile persists the installed-mod records.
func (p Paths) ModStateFile() string { return filepath.Join(p.ManagerDir(), modStateFile) }

// ModsDir is where the server loads add-on packages from.
func (p Paths) ModsDir() string { return filepath.Join(p.DataDir(), "Mods") }

// ServerBinary is the file checked for install presence.
func (p Paths) ServerBinary() string { return filepath.Join(p.ServerDir(), ServerBinaryName) }

// Installed reports whether the required server files are on disk.
func (p Paths) Installed() bool {
	_, err := os.Stat(p.ServerBinary())
	return err == nil
}

// DataPathArg is the --dataPath value passed to the child: the data dir
// made relative to the server dir, matching the server's own
// cwd-relative path resolution.
func (p Paths) DataPathArg() (string, error) {
	return filepath.Rel(p.ServerDir(), p.DataDir())
}

// InstalledVersion reads the version marker. Second return is false when
// no marker exists.
func (p Paths) InstalledVersion() (string, bool) {
	b, err := os.ReadFile(p.VersionFile())
	if err != nil {
		return "", false
	}
	v := strings.TrimSpace(string(b))
	if v == "" {
		return "", false
	}
	return v, true
}

// WriteVersion persists the version marker via write-to-temp-then-rename
// so a reader never observes a half-written value.
func (p Paths) WriteVersion(version string) error {
	if err := os.MkdirAll(p.ManagerDir(), 0o750); err != nil {
		return err
	}
	tmp := p.VersionFile() + ".tmp"
	if err := os.WriteFile(tmp, []byte(version+"\n"), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, p.VersionFile())
}

// RemoveVersion deletes the marker, best-effort.
func (p Paths) RemoveVersion() {
	_ = os.Remove(p.VersionFile())
}

// EnsureRuntimeDirs idempotently creates the working-data and bookkeeping
// directories.
func (p Paths) EnsureRuntimeDirs() error {
	if err := os.MkdirAll(p.DataDir(), 0o750); err != nil {
		return err
	}
	return os.MkdirAll(p.ManagerDir(), 0o750)
}
