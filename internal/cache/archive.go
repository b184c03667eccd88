package cache

import (
	"archive/tar"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/klauspost/compress/zstd"
)

// manifestName is the first member of every archive.
const manifestName = ".nodeprep-manifest.json"

var (
	// ErrUnsafeArchive indicates an archive member that would land outside
	// the extraction root.
	ErrUnsafeArchive = errors.New("unsafe archive member")

	// ErrLayoutMismatch indicates an archive whose directories are not the
	// ones the caller expects to restore.
	ErrLayoutMismatch = errors.New("archive layout does not match")
)

// Manifest lists the directories captured in an archive, relative to the
// tree root, slash-separated.
type Manifest struct {
	Dirs []string `json:"dirs"`
}

// WriteArchive writes a zstd-compressed tar of dirs (relative to root) to w.
// Directories that do not exist are skipped and left out of the manifest.
func WriteArchive(ctx context.Context, w io.Writer, root string, dirs []string) (*Manifest, error) {
	if root == "" {
		return nil, fmt.Errorf("archive root cannot be empty")
	}

	present, err := ExistingDirs(root, dirs)
	if err != nil {
		return nil, err
	}
	manifest := &Manifest{Dirs: present}

	enc, err := zstd.NewWriter(w)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd writer: %w", err)
	}
	tw := tar.NewWriter(enc)

	if err := writeManifest(tw, manifest); err != nil {
		_ = tw.Close()
		_ = enc.Close()
		return nil, err
	}

	for _, dir := range manifest.Dirs {
		if err := addTree(ctx, tw, root, dir); err != nil {
			_ = tw.Close()
			_ = enc.Close()
			return nil, err
		}
	}

	if err := tw.Close(); err != nil {
		_ = enc.Close()
		return nil, fmt.Errorf("failed to finish tar stream: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish zstd stream: %w", err)
	}
	return manifest, nil
}

// ExistingDirs cleans dirs, drops those missing under root and returns the
// rest sorted and deduplicated.
func ExistingDirs(root string, dirs []string) ([]string, error) {
	var present []string
	seen := make(map[string]bool, len(dirs))
	for _, dir := range dirs {
		clean := path.Clean(filepath.ToSlash(dir))
		if !isLocalDir(clean) {
			return nil, fmt.Errorf("%w: %q", ErrUnsafeArchive, dir)
		}
		info, err := os.Stat(filepath.Join(root, filepath.FromSlash(clean)))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("failed to stat %s: %w", clean, err)
		}
		if !info.IsDir() || seen[clean] {
			continue
		}
		seen[clean] = true
		present = append(present, clean)
	}
	sort.Strings(present)
	return present, nil
}

func writeManifest(tw *tar.Writer, manifest *Manifest) error {
	data, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	hdr := &tar.Header{
		Name:     manifestName,
		Mode:     0o644,
		Size:     int64(len(data)),
		Typeflag: tar.TypeReg,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("failed to write manifest header: %w", err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// addTree appends every entry under root/dir to tw.
func addTree(ctx context.Context, tw *tar.Writer, root, dir string) error {
	base := filepath.Join(root, filepath.FromSlash(dir))
	return filepath.WalkDir(base, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return fmt.Errorf("failed to compute relative path: %w", err)
		}
		name := filepath.ToSlash(rel)

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("failed to stat %s: %w", name, err)
		}

		var link string
		if info.Mode()&os.ModeSymlink != 0 {
			link, err = os.Readlink(p)
			if err != nil {
				return fmt.Errorf("failed to read symlink %s: %w", name, err)
			}
		} else if !info.IsDir() && !info.Mode().IsRegular() {
			// sockets, devices and fifos have no place in a dependency tree
			return nil
		}

		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return fmt.Errorf("failed to create tar header for %s: %w", name, err)
		}
		hdr.Name = name
		if info.IsDir() {
			hdr.Name += "/"
		}
		hdr.Mode &= 0o777
		hdr.Uid, hdr.Gid = 0, 0
		hdr.Uname, hdr.Gname = "", ""

		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("failed to write header for %s: %w", name, err)
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		f, err := os.Open(p)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", name, err)
		}
		defer func() {
			_ = f.Close()
		}()
		if _, err := copyWithContext(ctx, tw, f); err != nil {
			return fmt.Errorf("failed to archive %s: %w", name, err)
		}
		return nil
	})
}

// ExtractArchive reads an archive produced by WriteArchive and materializes it
// under root. Every directory listed in the manifest is removed first so the
// result matches the archived tree exactly.
//
// When expect is non-nil the manifest must list at least one directory and
// only directories from expect; otherwise ErrLayoutMismatch is returned before
// anything under root is touched.
func ExtractArchive(ctx context.Context, r io.Reader, root string, expect []string) (*Manifest, error) {
	if root == "" {
		return nil, fmt.Errorf("extraction root cannot be empty")
	}

	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd reader: %w", err)
	}
	defer dec.Close()

	tr := tar.NewReader(dec)

	manifest, err := readManifest(tr)
	if err != nil {
		return nil, err
	}
	if expect != nil {
		if err := checkLayout(manifest, expect); err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create extraction root: %w", err)
	}
	for _, dir := range manifest.Dirs {
		target, err := securejoin.SecureJoin(root, dir)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrUnsafeArchive, dir)
		}
		if err := os.RemoveAll(target); err != nil {
			return nil, fmt.Errorf("failed to clear %s: %w", dir, err)
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read tar header: %w", err)
		}
		if !withinDirs(hdr.Name, manifest.Dirs) {
			return nil, fmt.Errorf("%w: %q is outside the archived directories", ErrUnsafeArchive, hdr.Name)
		}
		if err := extractEntry(ctx, tr, hdr, root); err != nil {
			return nil, err
		}
	}

	return manifest, nil
}

func readManifest(tr *tar.Reader) (*Manifest, error) {
	hdr, err := tr.Next()
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	if hdr.Name != manifestName {
		return nil, fmt.Errorf("archive does not start with a manifest (got %q)", hdr.Name)
	}
	var manifest Manifest
	if err := json.NewDecoder(io.LimitReader(tr, 1<<20)).Decode(&manifest); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	for _, dir := range manifest.Dirs {
		if !isLocalDir(dir) {
			return nil, fmt.Errorf("%w: manifest directory %q", ErrUnsafeArchive, dir)
		}
	}
	return &manifest, nil
}

func checkLayout(manifest *Manifest, expect []string) error {
	if len(manifest.Dirs) == 0 {
		return fmt.Errorf("%w: archive holds no directories", ErrLayoutMismatch)
	}
	want := make(map[string]bool, len(expect))
	for _, dir := range expect {
		want[path.Clean(filepath.ToSlash(dir))] = true
	}
	for _, dir := range manifest.Dirs {
		if !want[dir] {
			return fmt.Errorf("%w: archive holds %s, expected %s",
				ErrLayoutMismatch, strings.Join(manifest.Dirs, ", "), strings.Join(expect, ", "))
		}
	}
	return nil
}

func isLocalDir(dir string) bool {
	if dir == "" || dir != path.Clean(dir) || path.IsAbs(dir) {
		return false
	}
	return dir != "." && dir != ".." && !strings.HasPrefix(dir, "../")
}

func withinDirs(name string, dirs []string) bool {
	clean := path.Clean(name)
	for _, dir := range dirs {
		if clean == dir || strings.HasPrefix(clean, dir+"/") {
			return true
		}
	}
	return false
}

func extractEntry(ctx context.Context, tr *tar.Reader, hdr *tar.Header, root string) error {
	target, err := securejoin.SecureJoin(root, hdr.Name)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrUnsafeArchive, hdr.Name)
	}
	mode := os.FileMode(hdr.Mode) & 0o777

	switch hdr.Typeflag {
	case tar.TypeDir:
		if err := os.MkdirAll(target, mode|0o700); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", hdr.Name, err)
		}
	case tar.TypeReg:
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("failed to create parent of %s: %w", hdr.Name, err)
		}
		f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", hdr.Name, err)
		}
		if _, err := copyWithContext(ctx, f, tr); err != nil {
			_ = f.Close()
			return fmt.Errorf("failed to extract %s: %w", hdr.Name, err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("failed to close %s: %w", hdr.Name, err)
		}
	case tar.TypeSymlink:
		if err := checkLinkTarget(hdr.Name, hdr.Linkname); err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("failed to create parent of %s: %w", hdr.Name, err)
		}
		if err := os.Symlink(hdr.Linkname, target); err != nil {
			return fmt.Errorf("failed to create symlink %s: %w", hdr.Name, err)
		}
	default:
		return fmt.Errorf("%w: unsupported entry type %q for %s", ErrUnsafeArchive, hdr.Typeflag, hdr.Name)
	}
	return nil
}

// checkLinkTarget rejects symlinks that point outside the extraction root.
func checkLinkTarget(name, link string) error {
	if path.IsAbs(link) || filepath.IsAbs(link) {
		return fmt.Errorf("%w: absolute symlink %s -> %s", ErrUnsafeArchive, name, link)
	}
	resolved := path.Clean(path.Join(path.Dir(path.Clean(name)), link))
	if resolved == ".." || strings.HasPrefix(resolved, "../") {
		return fmt.Errorf("%w: symlink %s -> %s escapes root", ErrUnsafeArchive, name, link)
	}
	return nil
}
