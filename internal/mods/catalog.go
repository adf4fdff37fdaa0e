// Package mods manages add-on packages for the installed server: it
// browses the public mod catalog and installs, enables, disables and
// removes mod files under the server's data directory.
package mods

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// CatalogMod is one catalog listing entry.
type CatalogMod struct {
	ModID        int      `json:"modid"`
	AssetID      int      `json:"assetid"`
	Name         string   `json:"name"`
	Summary      string   `json:"summary"`
	Author       string   `json:"author"`
	Side         string   `json:"side"`
	Type         string   `json:"type"`
	Tags         []string `json:"tags"`
	Downloads    int      `json:"downloads"`
	Follows      int      `json:"follows"`
	LastReleased string   `json:"lastreleased"`
	URLAlias     string   `json:"urlalias"`
}

// Release is one downloadable version of a mod.
type Release struct {
	ReleaseID    int      `json:"releaseid"`
	MainFile     string   `json:"mainfile"`
	FileName     string   `json:"filename"`
	ModVersion   string   `json:"modversion"`
	GameVersions []string `json:"tags"`
	Downloads    int      `json:"downloads"`
	Created      string   `json:"created"`
}

// ModDetail is the full record for a single mod.
type ModDetail struct {
	ModID    int       `json:"modid"`
	Name     string    `json:"name"`
	Author   string    `json:"author"`
	Side     string    `json:"side"`
	Releases []Release `json:"releases"`
}

// Page is one slice of filtered catalog results.
type Page struct {
	Mods     []CatalogMod `json:"mods"`
	Total    int          `json:"total"`
	Page     int          `json:"page"`
	PageSize int          `json:"page_size"`
}

// Sort orders accepted by Search.
const (
	SortDownloads = "downloads"
	SortFollows   = "follows"
	SortName      = "name"
	SortRecent    = "recent"
)

// Catalog talks to the mod database API and caches the full listing for
// a TTL, since the upstream returns the whole catalog in one response.
type Catalog struct {
	base string
	http *retryablehttp.Client
	ttl  time.Duration

	mu        sync.Mutex
	cached    []CatalogMod
	fetchedAt time.Time
}

// NewCatalog returns a catalog client for the API at base.
func NewCatalog(base string, ttl time.Duration) *Catalog {
	c := retryablehttp.NewClient()
	c.RetryMax = 3
	c.Logger = nil
	return &Catalog{base: strings.TrimSuffix(base, "/"), http: c, ttl: ttl}
}

// Mods returns the cached listing, refreshing it when stale.
func (c *Catalog) Mods(ctx context.Context) ([]CatalogMod, error) {
	c.mu.Lock()
	fresh := c.cached != nil && time.Since(c.fetchedAt) < c.ttl
	cached := c.cached
	c.mu.Unlock()
	if fresh {
		return cached, nil
	}
	return c.refresh(ctx)
}

// Refresh forces a catalog refetch, replacing the cache.
func (c *Catalog) Refresh(ctx context.Context) error {
	_, err := c.refresh(ctx)
	return err
}

func (c *Catalog) refresh(ctx context.Context) ([]CatalogMod, error) {
	var body struct {
		StatusCode string       `json:"statuscode"`
		Mods       []CatalogMod `json:"mods"`
	}
	if err := c.getJSON(ctx, c.base+"/mods", &body); err != nil {
		// a stale cache beats no listing
		c.mu.Lock()
		cached := c.cached
		c.mu.Unlock()
		if cached != nil {
			return cached, nil
		}
		return nil, err
	}
	c.mu.Lock()
	c.cached = body.Mods
	c.fetchedAt = time.Now()
	c.mu.Unlock()
	return body.Mods, nil
}

// Search filters the listing by a case-insensitive substring over name,
// author and tags, sorts it and returns one page. Page numbers start
// at 1.
func (c *Catalog) Search(ctx context.Context, query, sortBy string, page, pageSize int) (Page, error) {
	all, err := c.Mods(ctx)
	if err != nil {
		return Page{}, err
	}

	q := strings.ToLower(strings.TrimSpace(query))
	var filtered []CatalogMod
	for _, m := range all {
		if q == "" || matchesQuery(m, q) {
			filtered = append(filtered, m)
		}
	}
	sortMods(filtered, sortBy)

	if pageSize <= 0 {
		pageSize = 25
	}
	if page <= 0 {
		page = 1
	}
	total := len(filtered)
	lo := (page - 1) * pageSize
	if lo > total {
		lo = total
	}
	hi := lo + pageSize
	if hi > total {
		hi = total
	}
	return Page{Mods: filtered[lo:hi], Total: total, Page: page, PageSize: pageSize}, nil
}

// ModInfo fetches the full record, including releases, for one mod by
// numeric id or URL alias.
func (c *Catalog) ModInfo(ctx context.Context, idOrAlias string) (*ModDetail, error) {
	var body struct {
		StatusCode string     `json:"statuscode"`
		Mod        *ModDetail `json:"mod"`
	}
	if err := c.getJSON(ctx, c.base+"/mod/"+idOrAlias, &body); err != nil {
		return nil, err
	}
	if body.Mod == nil {
		return nil, fmt.Errorf("mod %q not found in catalog", idOrAlias)
	}
	return body.Mod, nil
}

func (c *Catalog) getJSON(ctx context.Context, url string, dst any) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("catalog request %s: status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

func matchesQuery(m CatalogMod, q string) bool {
	if strings.Contains(strings.ToLower(m.Name), q) ||
		strings.Contains(strings.ToLower(m.Author), q) {
		return true
	}
	for _, tag := range m.Tags {
		if strings.Contains(strings.ToLower(tag), q) {
			return true
		}
	}
	return false
}

func sortMods(mods []CatalogMod, by string) {
	switch by {
	case SortFollows:
		sort.SliceStable(mods, func(i, j int) bool { return mods[i].Follows > mods[j].Follows })
	case SortName:
		sort.SliceStable(mods, func(i, j int) bool {
			return strings.ToLower(mods[i].Name) < strings.ToLower(mods[j].Name)
		})
	case SortRecent:
		sort.SliceStable(mods, func(i, j int) bool { return mods[i].LastReleased > mods[j].LastReleased })
	default: // downloads
		sort.SliceStable(mods, func(i, j int) bool { return mods[i].Downloads > mods[j].Downloads })
	}
}
