package gitx

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// initRepo creates a repository in a temp dir and commits each content in
// turn as package-lock.json. It returns the dir and the commit hashes.
func initRepo(t *testing.T, contents ...string) (string, []string) {
	t.Helper()
	dir := t.TempDir()
	repo, err := gogit.PlainInit(dir, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)

	var hashes []string
	for i, content := range contents {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "package-lock.json"), []byte(content), 0o644))
		_, err := wt.Add("package-lock.json")
		require.NoError(t, err)
		h, err := wt.Commit("commit", &gogit.CommitOptions{
			Author: &object.Signature{
				Name:  "Test User",
				Email: "test@example.com",
				When:  time.Unix(int64(1700000000+i), 0),
			},
		})
		require.NoError(t, err)
		hashes = append(hashes, h.String())
	}
	return dir, hashes
}

func readLockfile(t *testing.T, tree *WorkingTree) string {
	t.Helper()
	f, err := tree.FS.Open("package-lock.json")
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	buf := make([]byte, 64)
	n, _ := f.Read(buf)
	return string(buf[:n])
}

func TestCheckout_Disabled(t *testing.T) {
	dir := t.TempDir()
	tree, err := NewGoGit().Checkout(context.Background(), false, CheckoutOptions{Dir: dir})
	require.NoError(t, err)
	assert.Equal(t, dir, tree.Root)
	assert.Empty(t, tree.Head)
	assert.False(t, tree.Cloned)
	assert.Equal(t, dir, tree.FS.Root())
}

func TestCheckout_ExistingRepository(t *testing.T) {
	dir, hashes := initRepo(t, `{"v":1}`)

	tree, err := NewGoGit().Checkout(context.Background(), true, CheckoutOptions{Dir: dir})
	require.NoError(t, err)
	assert.Equal(t, hashes[0], tree.Head)
	assert.False(t, tree.Cloned)
}

func TestCheckout_PinnedSHA(t *testing.T) {
	dir, hashes := initRepo(t, `{"v":1}`, `{"v":2}`)

	tree, err := NewGoGit().Checkout(context.Background(), true, CheckoutOptions{Dir: dir, SHA: hashes[0]})
	require.NoError(t, err)
	assert.Equal(t, hashes[0], tree.Head)
	assert.Equal(t, `{"v":1}`, readLockfile(t, tree))
}

func TestCheckout_UnknownSHAWithoutRemote(t *testing.T) {
	dir, _ := initRepo(t, `{"v":1}`)

	_, err := NewGoGit().Checkout(context.Background(), true, CheckoutOptions{
		Dir: dir,
		SHA: "0123456789abcdef0123456789abcdef01234567",
	})
	assert.ErrorIs(t, err, ErrRevisionNotFound)
}

func TestCheckout_NoSource(t *testing.T) {
	_, err := NewGoGit().Checkout(context.Background(), true, CheckoutOptions{Dir: t.TempDir()})
	assert.ErrorIs(t, err, ErrNoSource)
}

func TestCheckout_ClonesFromURL(t *testing.T) {
	if _, err := exec.LookPath("git-upload-pack"); err != nil {
		t.Skip("git-upload-pack not available for local clones")
	}
	src, hashes := initRepo(t, `{"v":1}`)
	dst := filepath.Join(t.TempDir(), "work")

	tree, err := NewGoGit().Checkout(context.Background(), true, CheckoutOptions{
		Dir: dst,
		URL: src,
		Ref: "master",
		SHA: hashes[0],
	})
	require.NoError(t, err)
	assert.True(t, tree.Cloned)
	assert.Equal(t, hashes[0], tree.Head)
	assert.Equal(t, `{"v":1}`, readLockfile(t, tree))
}

func TestOptionsFromEnv(t *testing.T) {
	t.Setenv("GITHUB_SERVER_URL", "https://github.com/")
	t.Setenv("GITHUB_REPOSITORY", "acme/widgets")
	t.Setenv("GITHUB_REF", "refs/heads/main")
	t.Setenv("GITHUB_SHA", "abc")
	t.Setenv("GITHUB_TOKEN", "secret")

	opts := OptionsFromEnv("/work")
	assert.Equal(t, CheckoutOptions{
		Dir:   "/work",
		URL:   "https://github.com/acme/widgets.git",
		Ref:   "refs/heads/main",
		SHA:   "abc",
		Token: "secret",
	}, opts)
	assert.NotNil(t, auth(opts))
}

func TestOptionsFromEnv_NoRepository(t *testing.T) {
	t.Setenv("GITHUB_SERVER_URL", "")
	t.Setenv("GITHUB_REPOSITORY", "")
	assert.Empty(t, OptionsFromEnv(".").URL)
}

func TestReferenceName(t *testing.T) {
	assert.Equal(t, "refs/heads/main", referenceName("main").String())
	assert.Equal(t, "refs/pull/7/merge", referenceName("refs/pull/7/merge").String())
}

func TestAuth(t *testing.T) {
	assert.Nil(t, auth(CheckoutOptions{URL: "https://x", Token: ""}))
	assert.Nil(t, auth(CheckoutOptions{URL: "/local/path", Token: "t"}))
}

func TestFakeCheckout(t *testing.T) {
	fake := &FakeCheckout{Err: errors.New("boom")}
	_, err := fake.Checkout(context.Background(), true, CheckoutOptions{})
	assert.Error(t, err)
	assert.Equal(t, 1, fake.Calls)
}
