package cache

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

// snapshot returns every file, directory and symlink under root keyed by
// slash path. Files map to content, symlinks to "-> target", dirs to "/".
func snapshot(t *testing.T, root string) map[string]string {
	t.Helper()
	out := make(map[string]string)
	err := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		switch {
		case info.Mode()&os.ModeSymlink != 0:
			target, err := os.Readlink(p)
			if err != nil {
				return err
			}
			out[rel] = "-> " + target
		case info.IsDir():
			out[rel] = "/"
		default:
			data, err := os.ReadFile(p)
			if err != nil {
				return err
			}
			out[rel] = string(data)
		}
		return nil
	})
	require.NoError(t, err)
	return out
}

func populateTree(t *testing.T, root string) {
	t.Helper()
	writeFile(t, root, "package-lock.json", `{"lockfileVersion":3}`)
	writeFile(t, root, "node_modules/left-pad/index.js", "module.exports = pad")
	writeFile(t, root, "node_modules/left-pad/package.json", `{"name":"left-pad"}`)
	writeFile(t, root, "node_modules/@scope/util/lib/a.js", "a")
	writeFile(t, root, "packages/web/node_modules/react/index.js", "react")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "node_modules", ".bin"), 0o755))
	require.NoError(t, os.Symlink("../left-pad/index.js", filepath.Join(root, "node_modules", ".bin", "left-pad")))
}

func TestArchive_RoundTrip(t *testing.T) {
	src := t.TempDir()
	populateTree(t, src)
	dirs := []string{"packages/web/node_modules", "node_modules"}

	var buf bytes.Buffer
	manifest, err := WriteArchive(context.Background(), &buf, src, dirs)
	require.NoError(t, err)
	assert.Equal(t, []string{"node_modules", "packages/web/node_modules"}, manifest.Dirs)

	dst := t.TempDir()
	got, err := ExtractArchive(context.Background(), &buf, dst, nil)
	require.NoError(t, err)
	assert.Equal(t, manifest.Dirs, got.Dirs)

	want := snapshot(t, src)
	delete(want, "package-lock.json")
	delete(want, "packages")
	delete(want, "packages/web")
	restored := snapshot(t, dst)
	delete(restored, "packages")
	delete(restored, "packages/web")
	assert.Equal(t, want, restored)
}

func TestArchive_PreservesExecutableBit(t *testing.T) {
	src := t.TempDir()
	writeFile(t, src, "node_modules/tool/cli.js", "#!/usr/bin/env node")
	require.NoError(t, os.Chmod(filepath.Join(src, "node_modules/tool/cli.js"), 0o755))

	var buf bytes.Buffer
	_, err := WriteArchive(context.Background(), &buf, src, []string{"node_modules"})
	require.NoError(t, err)

	dst := t.TempDir()
	_, err = ExtractArchive(context.Background(), &buf, dst, nil)
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(dst, "node_modules/tool/cli.js"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
}

func TestArchive_SkipsMissingDirs(t *testing.T) {
	src := t.TempDir()
	writeFile(t, src, "node_modules/a/index.js", "a")

	var buf bytes.Buffer
	manifest, err := WriteArchive(context.Background(), &buf, src, []string{"node_modules", "packages/api/node_modules", "node_modules"})
	require.NoError(t, err)
	assert.Equal(t, []string{"node_modules"}, manifest.Dirs)
}

func TestArchive_RejectsEscapingDirs(t *testing.T) {
	src := t.TempDir()
	for _, dir := range []string{"../outside", ".", "/abs/node_modules"} {
		_, err := WriteArchive(context.Background(), &bytes.Buffer{}, src, []string{dir})
		assert.ErrorIs(t, err, ErrUnsafeArchive, dir)
	}
}

func TestExtractArchive_ReplacesStaleTree(t *testing.T) {
	src := t.TempDir()
	writeFile(t, src, "node_modules/fresh/index.js", "fresh")

	var buf bytes.Buffer
	_, err := WriteArchive(context.Background(), &buf, src, []string{"node_modules"})
	require.NoError(t, err)

	dst := t.TempDir()
	writeFile(t, dst, "node_modules/stale/index.js", "stale")
	writeFile(t, dst, "src/app.js", "app")

	_, err = ExtractArchive(context.Background(), &buf, dst, nil)
	require.NoError(t, err)

	assert.NoFileExists(t, filepath.Join(dst, "node_modules/stale/index.js"))
	assert.FileExists(t, filepath.Join(dst, "node_modules/fresh/index.js"))
	assert.FileExists(t, filepath.Join(dst, "src/app.js"), "files outside archived dirs are untouched")
}

// craftArchive builds an archive by hand so tests can inject hostile members.
func craftArchive(t *testing.T, dirs []string, headers ...*tar.Header) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	tw := tar.NewWriter(enc)

	data, err := json.Marshal(Manifest{Dirs: dirs})
	require.NoError(t, err)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: manifestName, Mode: 0o644, Size: int64(len(data)), Typeflag: tar.TypeReg}))
	_, err = tw.Write(data)
	require.NoError(t, err)

	for _, hdr := range headers {
		if hdr.Typeflag == tar.TypeReg {
			hdr.Size = int64(len("payload"))
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if hdr.Typeflag == tar.TypeReg {
			_, err = tw.Write([]byte("payload"))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	require.NoError(t, enc.Close())
	return &buf
}

func TestExtractArchive_RejectsUnsafeMembers(t *testing.T) {
	tests := []struct {
		name   string
		dirs   []string
		header *tar.Header
	}{
		{
			name:   "parent traversal",
			dirs:   []string{"node_modules"},
			header: &tar.Header{Name: "node_modules/../../evil.js", Mode: 0o644, Typeflag: tar.TypeReg},
		},
		{
			name:   "member outside manifest dirs",
			dirs:   []string{"node_modules"},
			header: &tar.Header{Name: "src/evil.js", Mode: 0o644, Typeflag: tar.TypeReg},
		},
		{
			name:   "absolute symlink",
			dirs:   []string{"node_modules"},
			header: &tar.Header{Name: "node_modules/passwd", Linkname: "/etc/passwd", Mode: 0o777, Typeflag: tar.TypeSymlink},
		},
		{
			name:   "escaping symlink",
			dirs:   []string{"node_modules"},
			header: &tar.Header{Name: "node_modules/up", Linkname: "../../etc", Mode: 0o777, Typeflag: tar.TypeSymlink},
		},
		{
			name:   "escaping manifest dir",
			dirs:   []string{"../outside"},
			header: &tar.Header{Name: "../outside/x.js", Mode: 0o644, Typeflag: tar.TypeReg},
		},
		{
			name:   "device node",
			dirs:   []string{"node_modules"},
			header: &tar.Header{Name: "node_modules/dev", Mode: 0o644, Typeflag: tar.TypeChar},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dst := t.TempDir()
			_, err := ExtractArchive(context.Background(), craftArchive(t, tt.dirs, tt.header), dst, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrUnsafeArchive)
			assert.NoFileExists(t, filepath.Join(filepath.Dir(dst), "evil.js"))
		})
	}
}

func TestExtractArchive_RequiresManifest(t *testing.T) {
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	tw := tar.NewWriter(enc)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "node_modules/", Mode: 0o755, Typeflag: tar.TypeDir}))
	require.NoError(t, tw.Close())
	require.NoError(t, enc.Close())

	_, err = ExtractArchive(context.Background(), &buf, t.TempDir(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "manifest")
}

func TestWriteArchive_Canceled(t *testing.T) {
	src := t.TempDir()
	populateTree(t, src)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := WriteArchive(ctx, &bytes.Buffer{}, src, []string{"node_modules"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExtractArchive_ExpectedLayout(t *testing.T) {
	src := t.TempDir()
	writeFile(t, src, "node_modules/a.js", "a")

	var full bytes.Buffer
	_, err := WriteArchive(context.Background(), &full, src, []string{"node_modules"})
	require.NoError(t, err)
	var empty bytes.Buffer
	_, err = WriteArchive(context.Background(), &empty, src, []string{"missing/node_modules"})
	require.NoError(t, err)

	_, err = ExtractArchive(context.Background(), bytes.NewReader(full.Bytes()), t.TempDir(), []string{"web/node_modules"})
	assert.ErrorIs(t, err, ErrLayoutMismatch)

	_, err = ExtractArchive(context.Background(), &empty, t.TempDir(), []string{"node_modules"})
	assert.ErrorIs(t, err, ErrLayoutMismatch, "an archive without directories never satisfies a restore")

	manifest, err := ExtractArchive(context.Background(), bytes.NewReader(full.Bytes()), t.TempDir(), []string{"./node_modules"})
	require.NoError(t, err)
	assert.Equal(t, []string{"node_modules"}, manifest.Dirs)
}
