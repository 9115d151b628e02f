package gitx

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irgordon/slipway/internal/core/domain"
)

// initFixtureRepo creates a local repository with one commit on master and
// returns its path.
func initFixtureRepo(t *testing.T) (string, *git.Repository) {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	commitFile(t, repo, dir, "README.md", "hello\n", "initial commit")
	return dir, repo
}

func commitFile(t *testing.T, repo *git.Repository, dir, name, content, msg string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add(name)
	require.NoError(t, err)
	_, err = wt.Commit(msg, &git.CommitOptions{
		Author: &object.Signature{Name: "tester", Email: "tester@example.com", When: time.Now()},
	})
	require.NoError(t, err)
}

func TestSyncClonesFreshWorkingCopy(t *testing.T) {
	src, _ := initFixtureRepo(t)
	dst := filepath.Join(t.TempDir(), "copy")

	info, err := NewFetcher().Sync(context.Background(), dst, src, "master", domain.GitAnonymous{})
	require.NoError(t, err)

	assert.Len(t, info.Hash, 40)
	assert.Contains(t, info.Message, "initial commit")
	assert.FileExists(t, filepath.Join(dst, "README.md"))
}

func TestSyncUpdatesExistingWorkingCopy(t *testing.T) {
	src, srcRepo := initFixtureRepo(t)
	dst := filepath.Join(t.TempDir(), "copy")
	f := NewFetcher()

	first, err := f.Sync(context.Background(), dst, src, "master", domain.GitAnonymous{})
	require.NoError(t, err)

	commitFile(t, srcRepo, src, "new.txt", "more\n", "second commit")

	second, err := f.Sync(context.Background(), dst, src, "master", domain.GitAnonymous{})
	require.NoError(t, err)

	assert.NotEqual(t, first.Hash, second.Hash)
	assert.Contains(t, second.Message, "second commit")
	assert.FileExists(t, filepath.Join(dst, "new.txt"))
}

func TestSyncUnknownBranchIsNotFound(t *testing.T) {
	src, _ := initFixtureRepo(t)
	dst := filepath.Join(t.TempDir(), "copy")

	_, err := NewFetcher().Sync(context.Background(), dst, src, "does-not-exist", domain.GitAnonymous{})
	require.Error(t, err)
	assert.Equal(t, FailureNotFound, KindOf(err))
	// The error enumerates what the remote actually has.
	assert.Contains(t, err.Error(), `"does-not-exist"`)
	assert.Contains(t, err.Error(), "master")

	// A failed clone must not leave a half-written working copy behind.
	_, statErr := os.Stat(filepath.Join(dst, ".git"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestSyncUnknownBranchOnExistingCopyListsRemoteBranches(t *testing.T) {
	src, _ := initFixtureRepo(t)
	dst := filepath.Join(t.TempDir(), "copy")
	f := NewFetcher()

	_, err := f.Sync(context.Background(), dst, src, "master", domain.GitAnonymous{})
	require.NoError(t, err)

	_, err = f.Sync(context.Background(), dst, src, "ghost", domain.GitAnonymous{})
	require.Error(t, err)
	assert.Equal(t, FailureNotFound, KindOf(err))
	assert.Contains(t, err.Error(), "master")
}

func TestListBranches(t *testing.T) {
	src, repo := initFixtureRepo(t)

	head, err := repo.Head()
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)
	require.NoError(t, wt.Checkout(&git.CheckoutOptions{
		Branch: "refs/heads/feature/login",
		Create: true,
		Hash:   head.Hash(),
	}))

	branches, err := ListBranches(context.Background(), src, domain.GitAnonymous{})
	require.NoError(t, err)
	assert.Equal(t, []string{"feature/login", "master"}, branches)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		msg  string
		want FailureKind
	}{
		{"authentication required", FailureAuth},
		{"Permission denied (publickey)", FailureAuth},
		{"repository not found", FailureNotFound},
		{"couldn't find remote ref refs/heads/x", FailureNotFound},
		{"knownhosts: key mismatch", FailureHostKey},
		{"dial tcp: connection refused", FailureNetwork},
		{"dial tcp: lookup x: no such host", FailureNetwork},
		{"something else entirely", FailureUnknown},
	}
	for _, tc := range cases {
		err := classify("clone", errors.New(tc.msg))
		assert.Equal(t, tc.want, KindOf(err), "message %q", tc.msg)
	}
	assert.NoError(t, classify("clone", nil))
}

func TestErrorHints(t *testing.T) {
	e := &Error{Kind: FailureAuth, Op: "clone", Err: errors.New("authentication required")}
	assert.Contains(t, e.Hint(), "credentials")
	assert.Contains(t, e.Error(), "clone")
}
