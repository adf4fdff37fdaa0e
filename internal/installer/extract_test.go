package installer

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"
)

func TestStripNumericPrefix(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"150707311/Lib/x.dll", "Lib/x.dll"},
		{"15070731126/Lib/x.dll", "Lib/x.dll"},
		{"123456789/VintagestoryServer.dll", "VintagestoryServer.dll"},
		{"2024/world.dat", "2024/world.dat"},
		{"20240101/backup.tar", "20240101/backup.tar"},
		{"12345678/x", "12345678/x"},
		{"123456789", "123456789"},
		{"assets/game.dat", "assets/game.dat"},
		{"150707311a/Lib/x.dll", "150707311a/Lib/x.dll"},
		{"./150707311/Lib/x.dll", "Lib/x.dll"},
		{"150707311/123456789/y", "123456789/y"},
	}
	for _, c := range cases {
		if got := stripNumericPrefix(c.in, DefaultPrefixDigits); got != c.want {
			t.Errorf("stripNumericPrefix(%q) = %q, want %q", c.in, got, c.want)
		}
	}
	// threshold is configurable
	if got := stripNumericPrefix("12345/x", 5); got != "x" {
		t.Errorf("threshold 5: got %q", got)
	}
}

type tarEntry struct {
	name     string
	body     string
	typeflag byte
	linkname string
}

func buildArchive(t *testing.T, entries []tarEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, e := range entries {
		hdr := &tar.Header{
			Name:     e.name,
			Mode:     0o644,
			Size:     int64(len(e.body)),
			Typeflag: e.typeflag,
			Linkname: e.linkname,
		}
		if e.typeflag == 0 {
			hdr.Typeflag = tar.TypeReg
		}
		if hdr.Typeflag == tar.TypeDir {
			hdr.Mode = 0o755
			hdr.Size = 0
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("tar header: %v", err)
		}
		if hdr.Typeflag == tar.TypeReg && e.body != "" {
			if _, err := tw.Write([]byte(e.body)); err != nil {
				t.Fatalf("tar body: %v", err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar close: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

func writeArchive(t *testing.T, entries []tarEntry) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.tar.gz")
	if err := os.WriteFile(path, buildArchive(t, entries), 0o644); err != nil {
		t.Fatalf("write archive: %v", err)
	}
	return path
}

func TestExtractRepairsNumericPrefix(t *testing.T) {
	archive := writeArchive(t, []tarEntry{
		{name: "150707311/", typeflag: tar.TypeDir},
		{name: "150707311/VintagestoryServer.dll", body: "binary"},
		{name: "150707311/assets/game.dat", body: "data"},
		{name: "2024/calendar.dat", body: "year dir survives"},
	})
	dest := t.TempDir()
	if err := extractArchive(archive, dest, DefaultPrefixDigits); err != nil {
		t.Fatalf("extract: %v", err)
	}
	for _, f := range []string{"VintagestoryServer.dll", "assets/game.dat", "2024/calendar.dat"} {
		if _, err := os.Stat(filepath.Join(dest, f)); err != nil {
			t.Errorf("expected %s after extraction: %v", f, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dest, "150707311")); !os.IsNotExist(err) {
		t.Error("numeric prefix directory must not be materialized")
	}
}

func TestExtractRepairsSymlinkTarget(t *testing.T) {
	archive := writeArchive(t, []tarEntry{
		{name: "150707311/lib/real.so", body: "so"},
		{name: "150707311/lib/alias.so", typeflag: tar.TypeSymlink, linkname: "real.so"},
	})
	dest := t.TempDir()
	if err := extractArchive(archive, dest, DefaultPrefixDigits); err != nil {
		t.Fatalf("extract: %v", err)
	}
	target, err := os.Readlink(filepath.Join(dest, "lib/alias.so"))
	if err != nil {
		t.Fatalf("readlink: %v", err)
	}
	if target != "real.so" {
		t.Fatalf("symlink target: want real.so got %q", target)
	}
}

func TestExtractRejectsTraversal(t *testing.T) {
	archive := writeArchive(t, []tarEntry{
		{name: "../evil.txt", body: "nope"},
	})
	if err := extractArchive(archive, t.TempDir(), DefaultPrefixDigits); err == nil {
		t.Fatal("traversal entry must be rejected")
	}
}

func TestExtractRejectsAbsolutePath(t *testing.T) {
	archive := writeArchive(t, []tarEntry{
		{name: "/etc/passwd", body: "nope"},
	})
	if err := extractArchive(archive, t.TempDir(), DefaultPrefixDigits); err == nil {
		t.Fatal("absolute entry must be rejected")
	}
}

func TestExtractRejectsDeviceEntries(t *testing.T) {
	archive := writeArchive(t, []tarEntry{
		{name: "dev/null", typeflag: tar.TypeChar},
	})
	if err := extractArchive(archive, t.TempDir(), DefaultPrefixDigits); err == nil {
		t.Fatal("device entry must be rejected")
	}
}

func TestExtractRejectsEscapingSymlink(t *testing.T) {
	archive := writeArchive(t, []tarEntry{
		{name: "lib/alias.so", typeflag: tar.TypeSymlink, linkname: "../../outside.so"},
	})
	if err := extractArchive(archive, t.TempDir(), DefaultPrefixDigits); err == nil {
		t.Fatal("escaping symlink must be rejected")
	}
}
