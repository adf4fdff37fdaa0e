package release

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

const manifestNoLatest = `{
  "1.21.5": {"linux": {"latest": 0, "filename": "vs_server_linux-x64_1.21.5.tar.gz", "filesize": 100, "md5": "aa", "urls": {"cdn": "https://cdn/x", "local": "https://local/x"}}},
  "1.21.6": {"linux": {"latest": 0, "filename": "vs_server_linux-x64_1.21.6.tar.gz", "filesize": 100, "md5": "bb", "urls": {"cdn": "https://cdn/y", "local": "https://local/y"}}}
}`

const manifestWithLatest = `{
  "1.21.3": {"linux": {"latest": 1, "filename": "f", "filesize": 1, "md5": "cc", "urls": {"cdn": "https://cdn/z", "local": "https://local/z"}}},
  "1.21.6": {"linux": {"latest": 0, "filename": "f", "filesize": 1, "md5": "dd", "urls": {"cdn": "https://cdn/w", "local": "https://local/w"}}}
}`

const manifestMissingURL = `{
  "1.20.0": {"linux": {"latest": 1, "filename": "f", "filesize": 1, "md5": "ee", "urls": {"cdn": "https://cdn/only"}}},
  "1.19.8": {"linux": {"latest": 0, "filename": "f", "filesize": 1, "md5": "ff", "urls": {"cdn": "https://cdn/a", "local": "https://local/a"}}}
}`

func manifestServer(t *testing.T, stable string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/stable.json", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(stable))
	})
	mux.HandleFunc("/unstable.json", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestResolveAliasLatestFlag(t *testing.T) {
	srv := manifestServer(t, manifestWithLatest)
	c := NewClient(srv.URL, srv.URL)
	v, ok := c.ResolveAlias(context.Background(), "stable")
	if !ok || v != "1.21.3" {
		t.Fatalf("want latest-flagged 1.21.3, got %q ok=%v", v, ok)
	}
}

func TestResolveAliasNumericMaxFallback(t *testing.T) {
	srv := manifestServer(t, manifestNoLatest)
	c := NewClient(srv.URL, srv.URL)
	v, ok := c.ResolveAlias(context.Background(), "stable")
	if !ok || v != "1.21.6" {
		t.Fatalf("want numeric-max 1.21.6, got %q ok=%v", v, ok)
	}
}

func TestResolveAliasNetworkFailure(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", "http://127.0.0.1:1")
	c.http.RetryMax = 0
	if v, ok := c.ResolveAlias(context.Background(), "stable"); ok {
		t.Fatalf("unreachable manifest must resolve to not-found, got %q", v)
	}
	if _, ok := c.ResolveAlias(context.Background(), "1.21.6"); ok {
		t.Fatal("non-alias input must not resolve")
	}
}

func TestVersionsDropsEntriesMissingURL(t *testing.T) {
	srv := manifestServer(t, manifestMissingURL)
	c := NewClient(srv.URL, srv.URL)
	infos, err := c.Versions(context.Background(), ChannelStable)
	if err != nil {
		t.Fatalf("versions: %v", err)
	}
	if len(infos) != 1 || infos[0].Version != "1.19.8" {
		t.Fatalf("entry without mirror URL must be dropped, got %+v", infos)
	}
}

func TestValidateVersionFormat(t *testing.T) {
	valid := []string{"1.21.3", "1.0.0-rc.1", "2.0.0-pre.2+build.7"}
	for _, v := range valid {
		if !ValidateVersionFormat(v) {
			t.Fatalf("%q should validate", v)
		}
	}
	invalid := []string{"", "stable", "1.21", "v1.2.3", "1.2.3.4", "../../etc", "1.2.x"}
	for _, v := range invalid {
		if ValidateVersionFormat(v) {
			t.Fatalf("%q should be rejected", v)
		}
	}
}

func TestCheckAvailabilityFallsThroughChannels(t *testing.T) {
	var stableProbes, unstableProbes int
	mux := http.NewServeMux()
	mux.HandleFunc("/stable/", func(w http.ResponseWriter, _ *http.Request) {
		stableProbes++
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/unstable/", func(w http.ResponseWriter, r *http.Request) {
		unstableProbes++
		if r.Method != http.MethodHead {
			t.Errorf("want HEAD probe, got %s", r.Method)
		}
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(srv.URL, srv.URL)
	ok, ch := c.CheckAvailability(context.Background(), "1.21.6")
	if !ok || ch != ChannelUnstable {
		t.Fatalf("want available on unstable, got ok=%v ch=%q", ok, ch)
	}
	if stableProbes == 0 || unstableProbes == 0 {
		t.Fatalf("both channels must be probed, stable=%d unstable=%d", stableProbes, unstableProbes)
	}
}

func TestLookupFindsVersion(t *testing.T) {
	srv := manifestServer(t, manifestNoLatest)
	c := NewClient(srv.URL, srv.URL)
	vi, ok := c.Lookup(context.Background(), "1.21.5")
	if !ok || vi.MD5 != "aa" || vi.Channel != ChannelStable {
		t.Fatalf("lookup got %+v ok=%v", vi, ok)
	}
	if _, ok := c.Lookup(context.Background(), "9.9.9"); ok {
		t.Fatal("unknown version must not be found")
	}
}

func TestArtifactURL(t *testing.T) {
	c := NewClient("https://api.example", "https://cdn.example/gamefiles")
	got := c.ArtifactURL(ChannelStable, "1.21.6")
	want := "https://cdn.example/gamefiles/stable/vs_server_linux-x64_1.21.6.tar.gz"
	if got != want {
		t.Fatalf("artifact url: want %q got %q", want, got)
	}
}
