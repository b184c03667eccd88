package nodeenv

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/danieljhkim/nodeprep/internal/execx"
)

// Runtime sources
const (
	SourceToolCache = "tool-cache"
	SourcePath      = "path"
)

// Runtime is a provisioned Node.js installation.
type Runtime struct {
	Version *semver.Version

	// BinDir holds node and npm; empty when the runtime came from PATH
	BinDir string

	// Source is SourceToolCache or SourcePath
	Source string

	// Env is the environment overlay that puts BinDir first on PATH
	Env map[string]string
}

// Binary returns the path of a tool shipped with the runtime. Runtimes found
// on PATH return name unchanged so it is resolved through PATH.
func (r *Runtime) Binary(name string) string {
	if r.BinDir == "" {
		return name
	}
	if runtime.GOOS == "windows" && name == "npm" {
		name = "npm.cmd"
	}
	return filepath.Join(r.BinDir, name)
}

// Options configures a Provisioner.
type Options struct {
	// ToolCache is the runner tool cache root (RUNNER_TOOL_CACHE)
	ToolCache string

	// Arch is the tool cache architecture directory; defaults from GOARCH
	Arch string

	// Path is the current PATH; defaults to $PATH
	Path string
}

// Provisioner selects a Node.js runtime for a version request.
type Provisioner struct {
	runner    execx.Runner
	toolCache string
	arch      string
	path      string
}

// NewProvisioner creates a Provisioner. Unset options are read from the
// environment.
func NewProvisioner(runner execx.Runner, opts Options) *Provisioner {
	if opts.ToolCache == "" {
		opts.ToolCache = os.Getenv("RUNNER_TOOL_CACHE")
	}
	if opts.Arch == "" {
		opts.Arch = toolCacheArch(runtime.GOARCH)
	}
	if opts.Path == "" {
		opts.Path = os.Getenv("PATH")
	}
	return &Provisioner{
		runner:    runner,
		toolCache: opts.ToolCache,
		arch:      opts.Arch,
		path:      opts.Path,
	}
}

// Setup reads versionFile and provisions a runtime that satisfies it.
//
// The tool cache is searched first and the highest satisfying version wins.
// Without a match, `node --version` on PATH must satisfy the request.
func (p *Provisioner) Setup(ctx context.Context, versionFile string) (*Runtime, error) {
	req, err := ReadVersionFile(versionFile)
	if err != nil {
		return nil, err
	}

	if rt, ok := p.fromToolCache(req); ok {
		return rt, nil
	}

	version, err := p.pathVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrRuntimeMismatch, req, err)
	}
	if !req.Satisfied(version) {
		return nil, fmt.Errorf("%w: requested %s, found node %s on PATH", ErrRuntimeMismatch, req, version)
	}
	return &Runtime{Version: version, Source: SourcePath, Env: map[string]string{}}, nil
}

// fromToolCache finds the highest cached version matching req.
func (p *Provisioner) fromToolCache(req *Request) (*Runtime, bool) {
	if p.toolCache == "" {
		return nil, false
	}
	nodeRoot := filepath.Join(p.toolCache, "node")
	entries, err := os.ReadDir(nodeRoot)
	if err != nil {
		return nil, false
	}

	var candidates []*semver.Version
	dirs := make(map[*semver.Version]string)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		v, err := semver.NewVersion(entry.Name())
		if err != nil || !req.Satisfied(v) {
			continue
		}
		bin := filepath.Join(nodeRoot, entry.Name(), p.arch, "bin")
		if !hasNode(bin) {
			continue
		}
		candidates = append(candidates, v)
		dirs[v] = bin
	}
	if len(candidates) == 0 {
		return nil, false
	}

	sort.Sort(sort.Reverse(semver.Collection(candidates)))
	best := candidates[0]
	bin := dirs[best]
	return &Runtime{
		Version: best,
		BinDir:  bin,
		Source:  SourceToolCache,
		Env:     map[string]string{"PATH": prependPath(bin, p.path)},
	}, true
}

func (p *Provisioner) pathVersion(ctx context.Context) (*semver.Version, error) {
	res, err := p.runner.Run(ctx, execx.Cmd{Name: "node", Args: []string{"--version"}})
	if err != nil {
		return nil, err
	}
	out := strings.TrimSpace(res.Stdout)
	v, err := semver.NewVersion(out)
	if err != nil {
		return nil, fmt.Errorf("unexpected node --version output %q", out)
	}
	return v, nil
}

func hasNode(bin string) bool {
	for _, name := range []string{"node", "node.exe"} {
		if info, err := os.Stat(filepath.Join(bin, name)); err == nil && !info.IsDir() {
			return true
		}
	}
	return false
}

func prependPath(dir, path string) string {
	if path == "" {
		return dir
	}
	return dir + string(os.PathListSeparator) + path
}

// toolCacheArch maps GOARCH to the directory names used by the runner tool cache.
func toolCacheArch(goarch string) string {
	switch goarch {
	case "amd64":
		return "x64"
	case "386":
		return "x86"
	default:
		return goarch
	}
}
