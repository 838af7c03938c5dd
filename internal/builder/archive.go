package builder

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/mattn/go-isatty"
	"github.com/ulikunitz/xz"
)

var errUnknownArchive = errors.New("unsupported archive, expected .tar, .tar.gz, .tgz, .tar.xz or .txz")

func archiveKind(name string) string {
	name = strings.ToLower(name)
	for _, suffix := range []string{".tar.gz", ".tgz", ".tar.xz", ".txz", ".tar"} {
		if strings.HasSuffix(name, suffix) {
			return suffix
		}
	}
	return ""
}

func isArchive(name string) bool { return archiveKind(name) != "" }

// archiveReader returns the decompressed tar stream for an archive name.
func archiveReader(name string, r io.Reader) (io.Reader, error) {
	switch archiveKind(name) {
	case ".tar.gz", ".tgz":
		return gzip.NewReader(r)
	case ".tar.xz", ".txz":
		return xz.NewReader(r)
	case ".tar":
		return r, nil
	default:
		return nil, errUnknownArchive
	}
}

// downloadArchive fetches a tarball over http(s) and unpacks it into toWhere.
func downloadArchive(ctx context.Context, rawURL, toWhere string, out io.Writer) error {
	if f, ok := out.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
		s.Writer = out
		s.Suffix = " downloading " + rawURL
		s.Start()
		defer s.Stop()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", rawURL, resp.Status)
	}

	name := rawURL
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	return extractArchive(path.Base(name), resp.Body, toWhere)
}

// extractArchive unpacks a tar stream into toWhere, which must not exist or
// be empty. When every entry lives under one top-level directory, as in
// release tarballs, that directory is stripped.
func extractArchive(name string, r io.Reader, toWhere string) error {
	stream, err := archiveReader(name, r)
	if err != nil {
		return err
	}

	// unpack next to the destination first so the top-level directory can be inspected
	staging, err := os.MkdirTemp(filepath.Dir(toWhere), ".shbuild-unpack-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(staging)

	tr := tar.NewReader(stream)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("error reading tar: %w", err)
		}

		target := filepath.Join(staging, filepath.FromSlash(hdr.Name))
		if !within(staging, target) || throughSymlink(staging, target) {
			return fmt.Errorf("archive entry %q escapes the destination", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("failed to create dir %s: %w", target, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("failed to create parent dir: %w", err)
			}
			outFile, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode)&0o777|0o600)
			if err != nil {
				return fmt.Errorf("failed to create file %s: %w", target, err)
			}
			if _, err := io.Copy(outFile, tr); err != nil {
				outFile.Close()
				return fmt.Errorf("failed to write file %s: %w", target, err)
			}
			if err := outFile.Close(); err != nil {
				return err
			}
		case tar.TypeSymlink:
			link := filepath.FromSlash(hdr.Linkname)
			if filepath.IsAbs(link) || !within(staging, filepath.Join(filepath.Dir(target), link)) {
				return fmt.Errorf("archive symlink %q -> %q points outside the destination", hdr.Name, hdr.Linkname)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("failed to create parent dir: %w", err)
			}
			if err := os.Symlink(link, target); err != nil && !os.IsExist(err) {
				return fmt.Errorf("failed to create symlink %s -> %s: %w", target, hdr.Linkname, err)
			}
		}
	}

	root := staging
	if entries, err := os.ReadDir(staging); err == nil && len(entries) == 1 && entries[0].IsDir() {
		root = filepath.Join(staging, entries[0].Name())
	}
	if err := os.Remove(toWhere); err != nil && !os.IsNotExist(err) {
		return err
	}
	return os.Rename(root, toWhere)
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// throughSymlink reports whether p, or any directory between root and p,
// is an existing symlink. Writing there would follow the link.
func throughSymlink(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil || rel == "." {
		return false
	}
	cur := root
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		cur = filepath.Join(cur, part)
		fi, err := os.Lstat(cur)
		if err != nil {
			return false // the rest does not exist yet
		}
		if fi.Mode()&os.ModeSymlink != 0 {
			return true
		}
	}
	return false
}
