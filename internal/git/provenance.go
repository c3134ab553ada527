// Package git reads source-control provenance for the definitions being deployed.
package git

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"metricdrop/pkg/models"
)

// Provenance describes the HEAD commit of the repository containing path. It returns
// nil, nil when path is not inside a repository or the repository has no commits yet.
func Provenance(path string) (*models.GitInfo, error) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open repository: %w", err)
	}

	ref, err := repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get HEAD reference: %w", err)
	}

	commit, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("failed to read HEAD commit: %w", err)
	}

	info := &models.GitInfo{
		Commit:     commit.Hash.String(),
		Author:     commit.Author.Name,
		Message:    firstLine(commit.Message),
		CommitDate: commit.Author.When,
	}
	if ref.Name().IsBranch() {
		info.Branch = ref.Name().Short()
	}

	if wt, err := repo.Worktree(); err == nil {
		if status, err := wt.Status(); err == nil {
			info.Dirty = !status.IsClean()
		}
	}

	return info, nil
}

func firstLine(message string) string {
	message = strings.TrimSpace(message)
	if i := strings.IndexByte(message, '\n'); i >= 0 {
		return strings.TrimSpace(message[:i])
	}
	return message
}

// InitRepository creates a repository at path unless one already contains it. It
// reports whether a new repository was created.
func InitRepository(path string) (bool, error) {
	_, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return false, fmt.Errorf("failed to open repository: %w", err)
	}

	if _, err := git.PlainInit(path, false); err != nil {
		return false, fmt.Errorf("failed to initialize repository: %w", err)
	}
	return true, nil
}
