package lockfile

import (
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTree(t *testing.T, files ...string) billy.Filesystem {
	t.Helper()
	fsys := memfs.New()
	for _, f := range files {
		require.NoError(t, util.WriteFile(fsys, f, []byte(f), 0o644))
	}
	return fsys
}

func TestDiscover(t *testing.T) {
	tests := []struct {
		name     string
		files    []string
		patterns []string
		want     []string
	}{
		{
			name:  "root lockfile",
			files: []string{"package.json", "package-lock.json"},
			want:  []string{"package-lock.json"},
		},
		{
			name: "multi-package layout",
			files: []string{
				"package-lock.json",
				"packages/web/package-lock.json",
				"packages/api/npm-shrinkwrap.json",
				"packages/api/src/index.js",
			},
			want: []string{
				"package-lock.json",
				"packages/api/npm-shrinkwrap.json",
				"packages/web/package-lock.json",
			},
		},
		{
			name: "skips node_modules and .git",
			files: []string{
				"package-lock.json",
				"node_modules/left-pad/package-lock.json",
				".git/package-lock.json",
			},
			want: []string{"package-lock.json"},
		},
		{
			name:  "no lockfile",
			files: []string{"package.json", "README.md"},
			want:  nil,
		},
		{
			name:     "custom pattern",
			files:    []string{"package-lock.json", "apps/site/package-lock.json"},
			patterns: []string{"apps/**/package-lock.json"},
			want:     []string{"apps/site/package-lock.json"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			found, err := Discover(newTree(t, tt.files...), tt.patterns)
			require.NoError(t, err)
			if tt.want == nil {
				assert.Empty(t, found)
				return
			}
			assert.Equal(t, tt.want, Paths(found))
		})
	}
}

func TestDiscover_InvalidPattern(t *testing.T) {
	_, err := Discover(newTree(t, "package-lock.json"), []string{"[unterminated"})
	assert.ErrorIs(t, err, ErrInvalidPattern)
}

func TestDirs(t *testing.T) {
	lockfiles := []Lockfile{
		{Path: "packages/b/package-lock.json", Dir: "packages/b"},
		{Path: "package-lock.json", Dir: "."},
		{Path: "npm-shrinkwrap.json", Dir: "."},
	}
	assert.Equal(t, []string{".", "packages/b"}, Dirs(lockfiles))
}
