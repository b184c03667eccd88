package integration

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/danieljhkim/nodeprep/internal/config"
	"github.com/danieljhkim/nodeprep/internal/engine"
	"github.com/danieljhkim/nodeprep/internal/execx"
	"github.com/danieljhkim/nodeprep/internal/ghaction"
	"github.com/danieljhkim/nodeprep/internal/gitx"
	"github.com/danieljhkim/nodeprep/internal/nodeenv"
)

const nodeVersion = "20.11.1"

// fakeNpm records its arguments and working directory, then writes a
// package into node_modules. NPM_EXIT makes it fail with that code.
const fakeNpm = `#!/bin/sh
echo "$(pwd -P) $*" >> "$NPM_LOG"
if [ -n "$NPM_EXIT" ]; then
  echo "npm ERR! simulated failure" >&2
  exit "$NPM_EXIT"
fi
mkdir -p node_modules/left-pad node_modules/.bin
echo "module.exports = 1" > node_modules/left-pad/index.js
ln -sf ../left-pad/index.js node_modules/.bin/left-pad
`

const fakeNode = `#!/bin/sh
echo "v` + nodeVersion + `"
`

type project struct {
	Dir      string
	CacheDir string
	NpmLog   string
	Output   string
	Engine   *engine.Engine
}

func writeScript(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}
}

// newProject lays out a project, a runner tool cache holding fake node and
// npm binaries, and an engine wired with real implementations.
func newProject(t *testing.T, files map[string]string) *project {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake npm is a shell script")
	}

	p := &project{
		Dir:      t.TempDir(),
		CacheDir: t.TempDir(),
	}
	p.NpmLog = filepath.Join(t.TempDir(), "npm.log")
	p.Output = filepath.Join(t.TempDir(), "github_output")
	t.Setenv("NPM_LOG", p.NpmLog)
	t.Setenv("NPM_EXIT", "")

	toolCache := t.TempDir()
	bin := filepath.Join(toolCache, "node", nodeVersion, "x64", "bin")
	writeScript(t, filepath.Join(bin, "node"), fakeNode)
	writeScript(t, filepath.Join(bin, "npm"), fakeNpm)

	for name, content := range files {
		path := filepath.Join(p.Dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	runner := execx.NewOSRunner()
	p.Engine = engine.New(engine.Deps{
		Checkout: gitx.NewGoGit(),
		Runtimes: nodeenv.NewProvisioner(runner, nodeenv.Options{ToolCache: toolCache, Arch: "x64"}),
		Runner:   runner,
		Reporter: ghaction.NewReporter(true, p.Output, &bytes.Buffer{}),
	})
	return p
}

func (p *project) settings() *config.Settings {
	return &config.Settings{
		Checkout:         false,
		WorkingDirectory: p.Dir,
		VersionFile:      ".nvmrc",
		Platform:         "linux",
		NpmPath:          "npm",
		Cache:            config.CacheConfig{Backend: config.BackendLocal, Dir: p.CacheDir},
	}
}

// npmCalls returns the recorded npm invocations.
func (p *project) npmCalls(t *testing.T) []string {
	t.Helper()
	data, err := os.ReadFile(p.NpmLog)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		t.Fatal(err)
	}
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func standardProject() map[string]string {
	return map[string]string{
		".nvmrc":            "v20\n",
		"package.json":      `{"name":"app"}`,
		"package-lock.json": `{"name":"app","lockfileVersion":3}`,
	}
}
