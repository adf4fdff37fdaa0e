// Package installer takes a version identifier through download,
// integrity check, extraction and post-setup to a persisted version
// record. Every failure path rolls the on-disk footprint back and lands
// in a typed error state; raw errors never escape Install.
package installer

import (
	"context"
	"crypto/md5" // #nosec G501 -- the vendor manifest publishes MD5 content hashes
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	retryablehttp "github.com/hashicorp/go-retryablehttp"

	"github.com/craquehouse/vintagestory-server-sub000/internal/errcode"
	"github.com/craquehouse/vintagestory-server-sub000/internal/layout"
	"github.com/craquehouse/vintagestory-server-sub000/internal/metrics"
	"github.com/craquehouse/vintagestory-server-sub000/internal/release"
)

// Installer owns the install/uninstall flow and the InstallationState
// tracker. Callers serialize Install/Uninstall externally (the
// coordinator's install lock); progress snapshots are safe to read at any
// time.
type Installer struct {
	paths        layout.Paths
	releases     *release.Client
	prefixDigits int
	track        *tracker
}

// New builds an Installer. prefixDigits configures the numeric-prefix
// repair threshold; zero means DefaultPrefixDigits.
func New(paths layout.Paths, releases *release.Client, prefixDigits int) *Installer {
	if prefixDigits <= 0 {
		prefixDigits = DefaultPrefixDigits
	}
	return &Installer{
		paths:        paths,
		releases:     releases,
		prefixDigits: prefixDigits,
		track:        newTracker(),
	}
}

// Progress returns the current install snapshot without taking any
// coordinator lock.
func (i *Installer) Progress() Progress { return i.track.snapshot() }

// Installing reports whether an install attempt is currently in flight.
func (i *Installer) Installing() bool { return i.track.snapshot().State == StateInstalling }

// Install runs the full state machine for versionOrAlias. A prior error
// state is cleared the moment the new attempt begins so retries get a
// clean slate. The returned error always carries an errcode kind; the
// same kind is published in the progress snapshot.
func (i *Installer) Install(ctx context.Context, versionOrAlias string) error {
	if !i.track.beginInstall() {
		return errcode.New(errcode.InstallationInProgress, "an installation is already in progress")
	}
	start := time.Now()

	version, err := i.resolveVersion(ctx, versionOrAlias)
	if err != nil {
		return i.failErr(err)
	}
	i.track.setVersion(version)

	if i.paths.Installed() {
		cur, _ := i.paths.InstalledVersion()
		return i.fail(errcode.ServerAlreadyInstalled,
			fmt.Sprintf("server %s is already installed; uninstall it first", cur))
	}

	available, channel := i.releases.CheckAvailability(ctx, version)
	if !available {
		return i.fail(errcode.VersionNotFound,
			fmt.Sprintf("version %s is not available in any release channel", version))
	}
	info, haveManifest := i.releases.Lookup(ctx, version)

	archive, err := i.download(ctx, channel, version)
	if err != nil {
		i.rollback(archive)
		if errcode.KindOf(err) != "" {
			return i.failErr(err)
		}
		return i.fail(errcode.InstallationFailed, fmt.Sprintf("download failed: %v", err))
	}

	if haveManifest && info.MD5 != "" {
		if err := verifyMD5(archive, info.MD5); err != nil {
			i.rollback(archive)
			return i.fail(errcode.ChecksumMismatch, err.Error())
		}
	}

	i.track.setStage(StageExtracting)
	if err := extractArchive(archive, i.paths.ServerDir(), i.prefixDigits); err != nil {
		i.rollback(archive)
		return i.fail(errcode.InstallationFailed, fmt.Sprintf("extraction failed: %v", err))
	}
	_ = os.Remove(archive)

	if !i.paths.Installed() {
		i.rollback(archive)
		return i.fail(errcode.InstallationFailed,
			fmt.Sprintf("archive did not contain %s", layout.ServerBinaryName))
	}

	i.track.setStage(StageConfiguring)
	if err := i.paths.EnsureRuntimeDirs(); err != nil {
		i.rollback(archive)
		return i.fail(errcode.InstallationFailed, fmt.Sprintf("post-install setup failed: %v", err))
	}
	if err := i.paths.WriteVersion(version); err != nil {
		i.rollback(archive)
		return i.fail(errcode.InstallationFailed, fmt.Sprintf("persisting version failed: %v", err))
	}

	i.track.setInstalled(version)
	metrics.IncInstallSuccess()
	metrics.ObserveInstallDuration(time.Since(start).Seconds())
	slog.Info("server installed", "version", version, "channel", channel)
	return nil
}

// Uninstall removes the server tree and version marker. Refused while an
// install is in flight; the caller refuses it while the server runs.
func (i *Installer) Uninstall() error {
	if i.track.snapshot().State == StateInstalling {
		return errcode.New(errcode.InstallationInProgress, "cannot uninstall during an installation")
	}
	if !i.paths.Installed() {
		return errcode.New(errcode.ServerNotInstalled, "no server installation found")
	}
	if err := os.RemoveAll(i.paths.ServerDir()); err != nil {
		return errcode.Wrap(errcode.UninstallFailed, err, "removing server files")
	}
	i.paths.RemoveVersion()
	i.track.reset()
	slog.Info("server uninstalled", "root", i.paths.Root)
	return nil
}

// resolveVersion turns an alias into a concrete version, or validates the
// format of an explicit one. Resolution happens before any artifact I/O.
func (i *Installer) resolveVersion(ctx context.Context, versionOrAlias string) (string, error) {
	if release.IsAlias(versionOrAlias) {
		v, ok := i.releases.ResolveAlias(ctx, versionOrAlias)
		if !ok {
			return "", errcode.New(errcode.VersionNotFound,
				"could not resolve %q to a release version", versionOrAlias)
		}
		return v, nil
	}
	if !release.ValidateVersionFormat(versionOrAlias) {
		return "", errcode.New(errcode.InvalidVersion,
			"%q is not a valid version (want MAJOR.MINOR.PATCH)", versionOrAlias)
	}
	return versionOrAlias, nil
}

// download streams the artifact to a partial file inside the server dir.
// The destination is derived from the sanitized version and verified by
// canonicalization to stay inside the server dir before any byte is
// written. Returns the partial file path (also on error, for rollback).
func (i *Installer) download(ctx context.Context, ch release.Channel, version string) (string, error) {
	i.track.setStage(StageDownloading)
	i.track.setPercentage(0)

	name := release.ArtifactName(sanitizeVersion(version))
	dir := i.paths.ServerDir()
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", err
	}
	dest := filepath.Join(dir, name+".partial")
	dirAbs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	destAbs, err := filepath.Abs(dest)
	if err != nil {
		return "", err
	}
	if filepath.Dir(destAbs) != dirAbs {
		return "", errcode.New(errcode.InstallationFailed,
			"refusing download path %q: escapes install directory", dest)
	}

	url := i.releases.ArtifactURL(ch, version)
	req, err := retryablehttp.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return dest, err
	}
	resp, err := i.releases.HTTPClient().Do(req.WithContext(ctx))
	if err != nil {
		return dest, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return dest, fmt.Errorf("http %s fetching %s", resp.Status, url)
	}

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o640)
	if err != nil {
		return dest, err
	}
	total := resp.ContentLength
	var written int64
	buf := make([]byte, 128<<10)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				_ = out.Close()
				return dest, werr
			}
			written += int64(n)
			if total > 0 {
				i.track.setPercentage(int(written * 100 / total))
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			_ = out.Close()
			return dest, rerr
		}
	}
	if err := out.Close(); err != nil {
		return dest, err
	}
	// No Content-Length leaves the percentage unset until completion.
	i.track.setPercentage(100)
	slog.Info("artifact downloaded", "version", version, "bytes", written, "url", url)
	return dest, nil
}

// rollback deletes the partial archive and the install markers, returning
// the footprint to the not-installed shape. The caller overwrites the
// tracker with the specific error immediately afterwards.
func (i *Installer) rollback(partialArchive string) {
	if partialArchive != "" {
		_ = os.Remove(partialArchive)
	}
	_ = os.Remove(i.paths.ServerBinary())
	i.paths.RemoveVersion()
}

// failErr republishes an already-typed error through the tracker.
func (i *Installer) failErr(err error) error {
	var e *errcode.Error
	if errors.As(err, &e) {
		return i.fail(e.Kind, e.Msg)
	}
	return i.fail(errcode.InstallationFailed, err.Error())
}

func (i *Installer) fail(code errcode.Kind, msg string) error {
	if code == "" {
		code = errcode.InstallationFailed
	}
	i.track.setError(code, msg)
	metrics.IncInstallFailure(string(code))
	slog.Warn("installation failed", "code", code, "error", msg)
	return errcode.New(code, "%s", msg)
}

// sanitizeVersion strips path separators and anything else outside the
// version alphabet before the string is embedded in a filename.
func sanitizeVersion(v string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			return r
		case r == '.', r == '-', r == '+':
			return r
		default:
			return -1
		}
	}, v)
}

// verifyMD5 compares the file's content hash against the manifest value.
func verifyMD5(path, expected string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	h := md5.New() // #nosec G401 -- integrity check against the vendor manifest, not authentication
	if _, err := io.Copy(h, f); err != nil {
		return err
	}
	got := hex.EncodeToString(h.Sum(nil))
	if !strings.EqualFold(got, strings.TrimSpace(expected)) {
		return fmt.Errorf("checksum mismatch: manifest %s, downloaded %s", expected, got)
	}
	return nil
}
