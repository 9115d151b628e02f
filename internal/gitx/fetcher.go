package gitx

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	gitssh "github.com/go-git/go-git/v5/plumbing/transport/ssh"
	cryptossh "golang.org/x/crypto/ssh"

	"github.com/irgordon/slipway/internal/core/domain"
)

// CommitInfo describes the checked-out HEAD after a sync.
type CommitInfo struct {
	Hash    string
	Message string
	Author  string
}

// Fetcher materializes project branches into per-project working copies.
type Fetcher struct{}

func NewFetcher() *Fetcher { return &Fetcher{} }

// Sync brings dir to the tip of branch from repoURL: a fresh clone when dir
// holds no repository, otherwise fetch + checkout + pull. Returns the HEAD
// commit of the synced branch.
func (f *Fetcher) Sync(ctx context.Context, dir, repoURL, branch string, creds domain.GitCredentials) (*CommitInfo, error) {
	auth, err := authMethod(creds)
	if err != nil {
		return nil, err
	}

	repo, err := git.PlainOpen(dir)
	switch {
	case errors.Is(err, git.ErrRepositoryNotExists):
		repo, err = f.clone(ctx, dir, repoURL, branch, auth)
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("open working copy %s: %w", dir, err)
	default:
		if err := f.update(ctx, repo, repoURL, branch, auth); err != nil {
			return nil, err
		}
	}

	return head(repo)
}

func (f *Fetcher) clone(ctx context.Context, dir, repoURL, branch string, auth transport.AuthMethod) (*git.Repository, error) {
	repo, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
		URL:           repoURL,
		Auth:          auth,
		ReferenceName: plumbing.NewBranchReferenceName(branch),
		SingleBranch:  true,
		Tags:          git.NoTags,
	})
	if err != nil {
		// Leave no half-written clone behind for the next attempt.
		_ = os.RemoveAll(dir)
		if strings.Contains(err.Error(), "couldn't find remote ref") {
			return nil, &Error{Kind: FailureNotFound, Op: "clone",
				Err: branchNotFound(ctx, repoURL, branch, auth)}
		}
		return nil, classify("clone", err)
	}
	return repo, nil
}

func (f *Fetcher) update(ctx context.Context, repo *git.Repository, repoURL, branch string, auth transport.AuthMethod) error {
	err := repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: "origin",
		Auth:       auth,
		Tags:       git.NoTags,
		Force:      true,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return classify("fetch", err)
	}

	remoteRef, err := repo.Reference(plumbing.NewRemoteReferenceName("origin", branch), true)
	if err != nil {
		return &Error{Kind: FailureNotFound, Op: "fetch",
			Err: branchNotFound(ctx, repoURL, branch, auth)}
	}

	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("worktree: %w", err)
	}

	localRef := plumbing.NewBranchReferenceName(branch)
	checkout := &git.CheckoutOptions{Branch: localRef, Force: true}
	if _, refErr := repo.Reference(localRef, true); refErr != nil {
		checkout.Create = true
		checkout.Hash = remoteRef.Hash()
		checkout.Branch = localRef
	}
	if err := wt.Checkout(checkout); err != nil {
		return classify("checkout", err)
	}

	// Hard-align the local branch with the remote tip; local history in the
	// working copy is never authoritative.
	if err := wt.Reset(&git.ResetOptions{Commit: remoteRef.Hash(), Mode: git.HardReset}); err != nil {
		return classify("reset", err)
	}
	return nil
}

// branchNotFound names the missing branch and, when the remote can still be
// listed, the branches that do exist, so the operator sees the valid choices
// in the deployment log.
func branchNotFound(ctx context.Context, repoURL, branch string, auth transport.AuthMethod) error {
	names, err := listRemoteBranches(ctx, repoURL, auth)
	if err != nil || len(names) == 0 {
		return fmt.Errorf("branch %q not found on remote", branch)
	}
	return fmt.Errorf("branch %q not found on remote (available branches: %s)",
		branch, strings.Join(names, ", "))
}

func head(repo *git.Repository) (*CommitInfo, error) {
	ref, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve HEAD: %w", err)
	}
	commit, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("read HEAD commit: %w", err)
	}
	return &CommitInfo{
		Hash:    ref.Hash().String(),
		Message: commit.Message,
		Author:  commit.Author.Name,
	}, nil
}

// authMethod converts stored project credentials into a go-git transport
// auth method. SSH keys are parsed in memory, never written to disk.
func authMethod(creds domain.GitCredentials) (transport.AuthMethod, error) {
	switch c := creds.(type) {
	case nil, domain.GitAnonymous:
		return nil, nil
	case domain.GitToken:
		// Token auth over HTTPS; the username is ignored by the common hosts.
		return &githttp.BasicAuth{Username: "oauth2", Password: c.Token}, nil
	case domain.GitUserPass:
		return &githttp.BasicAuth{Username: c.Username, Password: c.Password}, nil
	case domain.GitSSHKey:
		keys, err := gitssh.NewPublicKeys("git", c.Key, c.Passphrase)
		if err != nil {
			return nil, &Error{Kind: FailureAuth, Op: "auth",
				Err: fmt.Errorf("parse SSH private key: %w", err)}
		}
		keys.HostKeyCallback = cryptossh.InsecureIgnoreHostKey()
		return keys, nil
	default:
		return nil, fmt.Errorf("unsupported git credential type %T", creds)
	}
}
