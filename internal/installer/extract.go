package installer

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// DefaultPrefixDigits is the minimum length of a leading all-digit path
// segment treated as the vendor packaging artifact to strip. Long enough
// that a 4-digit year or 8-digit date directory is never touched; the
// exact boundary is a property of the upstream packaging defect, so it
// stays configurable.
const DefaultPrefixDigits = 9

// stripNumericPrefix removes a leading purely-numeric path segment of at
// least minDigits digits. Only the first segment is considered; the rest
// of the path is kept intact.
func stripNumericPrefix(name string, minDigits int) string {
	if minDigits <= 0 {
		minDigits = DefaultPrefixDigits
	}
	clean := strings.TrimPrefix(name, "./")
	first, rest, found := strings.Cut(clean, "/")
	if !found {
		return name
	}
	if len(first) < minDigits {
		return name
	}
	for _, r := range first {
		if r < '0' || r > '9' {
			return name
		}
	}
	return rest
}

// extractArchive unpacks a tar.gz server release into destDir, repairing
// the vendor's numeric path-prefix defect on both member names and link
// targets before the standard security policy runs: absolute paths,
// destinations escaping destDir, and device entries are rejected.
func extractArchive(archivePath, destDir string, prefixDigits int) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("gzip: %w", err)
	}
	defer func() { _ = gz.Close() }()

	if err := os.MkdirAll(destDir, 0o750); err != nil {
		return err
	}
	destAbs, err := filepath.Abs(destDir)
	if err != nil {
		return err
	}

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("tar: %w", err)
		}

		name := stripNumericPrefix(hdr.Name, prefixDigits)
		if name == "" || name == "." {
			continue
		}
		dst, err := secureJoin(destAbs, name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dst, dirMode(hdr.Mode)); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
				return err
			}
			if err := writeFileFrom(dst, tr, fileMode(hdr.Mode)); err != nil {
				return err
			}
		case tar.TypeSymlink:
			link := stripNumericPrefix(hdr.Linkname, prefixDigits)
			if filepath.IsAbs(link) {
				return fmt.Errorf("tar entry %q: absolute symlink target %q", hdr.Name, hdr.Linkname)
			}
			// The target, resolved from the entry's directory, must stay
			// inside the extraction root.
			if _, err := secureJoin(destAbs, filepath.Join(filepath.Dir(name), link)); err != nil {
				return fmt.Errorf("tar entry %q: %w", hdr.Name, err)
			}
			if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
				return err
			}
			_ = os.Remove(dst)
			if err := os.Symlink(link, dst); err != nil {
				return err
			}
		case tar.TypeLink:
			link := stripNumericPrefix(hdr.Linkname, prefixDigits)
			target, err := secureJoin(destAbs, link)
			if err != nil {
				return fmt.Errorf("tar entry %q: %w", hdr.Name, err)
			}
			if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
				return err
			}
			_ = os.Remove(dst)
			if err := os.Link(target, dst); err != nil {
				return err
			}
		case tar.TypeChar, tar.TypeBlock, tar.TypeFifo:
			return fmt.Errorf("tar entry %q: device entries are not allowed", hdr.Name)
		default:
			// Extended headers and unknown types are skipped.
		}
	}
}

// secureJoin joins name under root and rejects absolute names and any
// resolved destination landing outside root.
func secureJoin(root, name string) (string, error) {
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("absolute path %q not allowed", name)
	}
	dst := filepath.Join(root, name)
	if dst != root && !strings.HasPrefix(dst, root+string(os.PathSeparator)) {
		return "", fmt.Errorf("path %q escapes extraction root", name)
	}
	return dst, nil
}

func writeFileFrom(dst string, r io.Reader, mode os.FileMode) error {
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func dirMode(m int64) os.FileMode {
	mode := os.FileMode(m) & os.ModePerm
	if mode == 0 {
		mode = 0o750
	}
	return mode
}

func fileMode(m int64) os.FileMode {
	mode := os.FileMode(m) & os.ModePerm
	if mode == 0 {
		mode = 0o640
	}
	return mode
}
