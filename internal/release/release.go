// Package release fetches and interprets the vendor's per-channel release
// manifests and knows how artifact URLs are laid out on the CDN.
package release

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/Masterminds/semver/v3"
	retryablehttp "github.com/hashicorp/go-retryablehttp"
)

// Channel is a vendor release track.
type Channel string

const (
	ChannelStable   Channel = "stable"
	ChannelUnstable Channel = "unstable"
)

// Channels in probe order: stable is always tried first.
var Channels = []Channel{ChannelStable, ChannelUnstable}

// VersionInfo describes one downloadable server release. Ephemeral: built
// fresh from the manifest on every query, never persisted.
type VersionInfo struct {
	Version    string  `json:"version"`
	Filename   string  `json:"filename"`
	Filesize   int64   `json:"filesize"`
	MD5        string  `json:"md5"`
	PrimaryURL string  `json:"primary_url"`
	MirrorURL  string  `json:"mirror_url"`
	IsLatest   bool    `json:"is_latest"`
	Channel    Channel `json:"channel"`
}

// Client queries the release manifest service and the artifact CDN.
type Client struct {
	apiBase string
	cdnBase string
	http    *retryablehttp.Client
}

// NewClient builds a Client for the given manifest and CDN base URLs
// (no trailing slash).
func NewClient(apiBase, cdnBase string) *Client {
	c := retryablehttp.NewClient()
	c.RetryMax = 3
	c.RetryWaitMin = 250 * time.Millisecond
	c.RetryWaitMax = 2 * time.Second
	c.HTTPClient.Timeout = 30 * time.Second
	c.Logger = nil
	return &Client{apiBase: apiBase, cdnBase: cdnBase, http: c}
}

// HTTPClient exposes the underlying retrying client for streamed
// downloads.
func (c *Client) HTTPClient() *retryablehttp.Client { return c.http }

// ArtifactName returns the CDN filename for a server release.
func ArtifactName(version string) string {
	return fmt.Sprintf("vs_server_linux-x64_%s.tar.gz", version)
}

// ArtifactURL returns the predictable CDN location of a release.
func (c *Client) ArtifactURL(ch Channel, version string) string {
	return fmt.Sprintf("%s/%s/%s", c.cdnBase, ch, ArtifactName(version))
}

// manifest wire shape: version -> platform -> record. Only the linux
// record is materialized.
type manifestPlatform struct {
	Latest   int    `json:"latest"`
	Filename string `json:"filename"`
	Filesize int64  `json:"filesize"`
	MD5      string `json:"md5"`
	URLs     struct {
		CDN   string `json:"cdn"`
		Local string `json:"local"`
	} `json:"urls"`
}

// Versions fetches the channel manifest and returns its linux releases,
// newest first. Entries missing either download URL are dropped.
func (c *Client) Versions(ctx context.Context, ch Channel) ([]VersionInfo, error) {
	url := fmt.Sprintf("%s/%s.json", c.apiBase, ch)
	req, err := retryablehttp.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("manifest %s: http %s", url, resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, err
	}
	var raw map[string]map[string]manifestPlatform
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", url, err)
	}

	out := make([]VersionInfo, 0, len(raw))
	for version, platforms := range raw {
		rec, ok := platforms["linux"]
		if !ok {
			continue
		}
		if rec.URLs.CDN == "" || rec.URLs.Local == "" {
			// Incomplete upstream entry; silently dropped.
			continue
		}
		out = append(out, VersionInfo{
			Version:    version,
			Filename:   rec.Filename,
			Filesize:   rec.Filesize,
			MD5:        rec.MD5,
			PrimaryURL: rec.URLs.CDN,
			MirrorURL:  rec.URLs.Local,
			IsLatest:   rec.Latest != 0,
			Channel:    ch,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return compareVersions(out[i].Version, out[j].Version) > 0
	})
	return out, nil
}

// IsAlias reports whether v names a channel rather than a concrete
// version.
func IsAlias(v string) bool {
	return v == string(ChannelStable) || v == string(ChannelUnstable)
}

// ValidateVersionFormat accepts MAJOR.MINOR.PATCH with optional
// prerelease and build-metadata suffixes, nothing else.
func ValidateVersionFormat(v string) bool {
	_, err := semver.StrictNewVersion(v)
	return err == nil
}

// ResolveAlias resolves a channel alias to a concrete version: the entry
// the manifest flags latest, falling back to the numerically highest
// version present. Network failure resolves to not-found, never an
// error.
func (c *Client) ResolveAlias(ctx context.Context, alias string) (string, bool) {
	if !IsAlias(alias) {
		return "", false
	}
	infos, err := c.Versions(ctx, Channel(alias))
	if err != nil {
		slog.Warn("release manifest unavailable during alias resolution", "alias", alias, "error", err)
		return "", false
	}
	if len(infos) == 0 {
		return "", false
	}
	for _, vi := range infos {
		if vi.IsLatest {
			return vi.Version, true
		}
	}
	// No latest flag anywhere: Versions sorts newest first.
	return infos[0].Version, true
}

// Lookup finds the manifest entry for a concrete version, probing stable
// then unstable.
func (c *Client) Lookup(ctx context.Context, version string) (VersionInfo, bool) {
	for _, ch := range Channels {
		infos, err := c.Versions(ctx, ch)
		if err != nil {
			slog.Warn("release manifest unavailable", "channel", ch, "error", err)
			continue
		}
		for _, vi := range infos {
			if vi.Version == version {
				return vi, true
			}
		}
	}
	return VersionInfo{}, false
}

// CheckAvailability probes the CDN for the version's artifact, stable
// channel first. A transport error on one channel is logged and does not
// prevent trying the other.
func (c *Client) CheckAvailability(ctx context.Context, version string) (bool, Channel) {
	for _, ch := range Channels {
		url := c.ArtifactURL(ch, version)
		req, err := retryablehttp.NewRequest(http.MethodHead, url, nil)
		if err != nil {
			continue
		}
		resp, err := c.http.Do(req.WithContext(ctx))
		if err != nil {
			slog.Warn("availability probe failed", "channel", ch, "url", url, "error", err)
			continue
		}
		_ = resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			return true, ch
		}
	}
	return false, ""
}

// compareVersions orders semver strings; unparsable versions sort below
// parsable ones and fall back to lexicographic order among themselves.
func compareVersions(a, b string) int {
	va, ea := semver.NewVersion(a)
	vb, eb := semver.NewVersion(b)
	switch {
	case ea == nil && eb == nil:
		return va.Compare(vb)
	case ea == nil:
		return 1
	case eb == nil:
		return -1
	default:
		switch {
		case a > b:
			return 1
		case a < b:
			return -1
		}
		return 0
	}
}
