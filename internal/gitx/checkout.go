// Package gitx prepares the source tree a run operates on.
//
// When checkout is enabled the working directory is opened as a git
// repository and moved to the requested revision, or cloned from the
// repository the CI run belongs to when nothing is there yet.
package gitx

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
)

var (
	// ErrNoSource indicates checkout was requested but there is neither a
	// repository in the working directory nor a URL to clone from.
	ErrNoSource = errors.New("no repository to check out")

	// ErrRevisionNotFound indicates the requested commit is not reachable.
	ErrRevisionNotFound = errors.New("revision not found")
)

// DefaultDepth is the clone depth used when CheckoutOptions.Depth is zero.
const DefaultDepth = 1

// CheckoutOptions describes the revision to materialise.
type CheckoutOptions struct {
	// Dir is the working directory
	Dir string

	// URL is the clone source; empty means only an existing repository is used
	URL string

	// Ref is a full reference name (refs/heads/main) or a branch name
	Ref string

	// SHA pins the commit to check out
	SHA string

	Depth int

	// Token authenticates HTTPS clones
	Token string
}

// OptionsFromEnv fills CheckoutOptions from the GitHub Actions environment.
func OptionsFromEnv(dir string) CheckoutOptions {
	opts := CheckoutOptions{
		Dir:   dir,
		Ref:   os.Getenv("GITHUB_REF"),
		SHA:   os.Getenv("GITHUB_SHA"),
		Token: os.Getenv("GITHUB_TOKEN"),
	}
	server := strings.TrimSuffix(os.Getenv("GITHUB_SERVER_URL"), "/")
	repo := os.Getenv("GITHUB_REPOSITORY")
	if server != "" && repo != "" {
		opts.URL = server + "/" + repo + ".git"
	}
	return opts
}

// WorkingTree is the checked out source.
type WorkingTree struct {
	// Root is the absolute working directory
	Root string

	// FS is rooted at Root
	FS billy.Filesystem

	// Head is the commit hash, empty when checkout was disabled
	Head string

	// Cloned reports whether the tree was cloned during this run
	Cloned bool
}

// SourceCheckout prepares the working tree.
type SourceCheckout interface {
	Checkout(ctx context.Context, enabled bool, opts CheckoutOptions) (*WorkingTree, error)
}

// GoGit implements SourceCheckout with go-git. No git binary is required.
type GoGit struct{}

// NewGoGit creates a GoGit.
func NewGoGit() *GoGit {
	return &GoGit{}
}

// Checkout prepares opts.Dir.
//
// Algorithm steps:
//  1. Disabled: return the directory as it is.
//  2. An existing repository is opened and, when a SHA is given, moved to it.
//  3. Otherwise the URL is cloned at Ref with the configured depth.
func (g *GoGit) Checkout(ctx context.Context, enabled bool, opts CheckoutOptions) (*WorkingTree, error) {
	root, err := filepath.Abs(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve working directory: %w", err)
	}
	if !enabled {
		return &WorkingTree{Root: root, FS: osfs.New(root)}, nil
	}

	repo, err := gogit.PlainOpen(root)
	switch {
	case err == nil:
		head, err := checkoutExisting(ctx, repo, opts)
		if err != nil {
			return nil, err
		}
		return &WorkingTree{Root: root, FS: osfs.New(root), Head: head}, nil
	case errors.Is(err, gogit.ErrRepositoryNotExists):
		head, err := clone(ctx, root, opts)
		if err != nil {
			return nil, err
		}
		return &WorkingTree{Root: root, FS: osfs.New(root), Head: head, Cloned: true}, nil
	default:
		return nil, fmt.Errorf("failed to open repository at %s: %w", root, err)
	}
}

func checkoutExisting(ctx context.Context, repo *gogit.Repository, opts CheckoutOptions) (string, error) {
	if opts.SHA == "" {
		return headHash(repo)
	}

	hash := plumbing.NewHash(opts.SHA)
	if _, err := repo.CommitObject(hash); err != nil {
		if !errors.Is(err, plumbing.ErrObjectNotFound) {
			return "", fmt.Errorf("failed to look up %s: %w", opts.SHA, err)
		}
		if err := fetch(ctx, repo, opts); err != nil {
			return "", err
		}
		if _, err := repo.CommitObject(hash); err != nil {
			return "", fmt.Errorf("%w: %s", ErrRevisionNotFound, opts.SHA)
		}
	}

	wt, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("failed to open worktree: %w", err)
	}
	if err := wt.Checkout(&gogit.CheckoutOptions{Hash: hash, Force: true}); err != nil {
		return "", fmt.Errorf("failed to check out %s: %w", opts.SHA, err)
	}
	return hash.String(), nil
}

// fetch pulls Ref from origin so a missing commit can be resolved.
func fetch(ctx context.Context, repo *gogit.Repository, opts CheckoutOptions) error {
	if _, err := repo.Remote(gogit.DefaultRemoteName); err != nil {
		return fmt.Errorf("%w: %s", ErrRevisionNotFound, opts.SHA)
	}
	err := repo.FetchContext(ctx, &gogit.FetchOptions{
		RemoteName: gogit.DefaultRemoteName,
		Depth:      depth(opts),
		Auth:       auth(opts),
		Tags:       gogit.NoTags,
	})
	if err != nil && !errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return fmt.Errorf("failed to fetch %s: %w", opts.SHA, err)
	}
	return nil
}

func clone(ctx context.Context, root string, opts CheckoutOptions) (string, error) {
	if opts.URL == "" {
		return "", fmt.Errorf("%w: %s is not a repository and no clone URL is set", ErrNoSource, root)
	}

	cloneOpts := &gogit.CloneOptions{
		URL:          opts.URL,
		Auth:         auth(opts),
		Depth:        depth(opts),
		SingleBranch: true,
		Tags:         gogit.NoTags,
	}
	if opts.Ref != "" {
		cloneOpts.ReferenceName = referenceName(opts.Ref)
	}

	repo, err := gogit.PlainCloneContext(ctx, root, false, cloneOpts)
	if err != nil {
		return "", fmt.Errorf("failed to clone %s: %w", opts.URL, err)
	}

	head, err := headHash(repo)
	if err != nil {
		return "", err
	}
	if opts.SHA == "" || opts.SHA == head {
		return head, nil
	}
	return checkoutExisting(ctx, repo, opts)
}

func headHash(repo *gogit.Repository) (string, error) {
	ref, err := repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			// Fresh repository without commits.
			return "", nil
		}
		return "", fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	return ref.Hash().String(), nil
}

func referenceName(ref string) plumbing.ReferenceName {
	if strings.HasPrefix(ref, "refs/") {
		return plumbing.ReferenceName(ref)
	}
	return plumbing.NewBranchReferenceName(ref)
}

func depth(opts CheckoutOptions) int {
	if opts.Depth <= 0 {
		return DefaultDepth
	}
	return opts.Depth
}

func auth(opts CheckoutOptions) transport.AuthMethod {
	if opts.Token == "" || !strings.HasPrefix(opts.URL, "http") {
		return nil
	}
	return &githttp.BasicAuth{Username: "x-access-token", Password: opts.Token}
}

// FakeCheckout implements SourceCheckout over a fixed filesystem for testing.
type FakeCheckout struct {
	Tree  *WorkingTree
	Err   error
	Calls int
}

// Checkout returns the configured tree or error.
func (f *FakeCheckout) Checkout(_ context.Context, _ bool, _ CheckoutOptions) (*WorkingTree, error) {
	f.Calls++
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Tree, nil
}
