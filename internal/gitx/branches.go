package gitx

import (
	"context"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/storage/memory"

	"github.com/irgordon/slipway/internal/core/domain"
)

// ListBranches enumerates the branch names on the remote without cloning it.
// Names are returned sorted; HEAD and non-branch refs are excluded.
func ListBranches(ctx context.Context, repoURL string, creds domain.GitCredentials) ([]string, error) {
	auth, err := authMethod(creds)
	if err != nil {
		return nil, err
	}
	return listRemoteBranches(ctx, repoURL, auth)
}

func listRemoteBranches(ctx context.Context, repoURL string, auth transport.AuthMethod) ([]string, error) {
	remote := git.NewRemote(memory.NewStorage(), &config.RemoteConfig{
		Name: "origin",
		URLs: []string{repoURL},
	})
	refs, err := remote.ListContext(ctx, &git.ListOptions{Auth: auth})
	if err != nil {
		return nil, classify("ls-remote", err)
	}

	var names []string
	for _, ref := range refs {
		name := ref.Name()
		if !name.IsBranch() {
			continue
		}
		names = append(names, strings.TrimPrefix(name.String(), "refs/heads/"))
	}
	sort.Strings(names)
	return names, nil
}
