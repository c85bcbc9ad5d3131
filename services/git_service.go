// services/git_service.go
package services

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// GitService versions saved site folders so regenerated or edited sites
// keep their history.
type GitService struct {
	authorName  string
	authorEmail string
}

func NewGitService() *GitService {
	return &GitService{authorName: "sitesmith", authorEmail: "sitesmith@localhost"}
}

// PublishSite commits the current contents of folderPath, initializing a
// repository there on first publish. Returns the commit hash.
func (g *GitService) PublishSite(folderPath, description string) (string, error) {
	repo, err := git.PlainInit(folderPath, false)
	if errors.Is(err, git.ErrRepositoryAlreadyExists) {
		repo, err = git.PlainOpen(folderPath)
	}
	if err != nil {
		return "", fmt.Errorf("open site repository: %w", err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("open worktree: %w", err)
	}
	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return "", fmt.Errorf("stage site files: %w", err)
	}

	hash, err := wt.Commit(commitMessage(description), &git.CommitOptions{
		Author: &object.Signature{
			Name:  g.authorName,
			Email: g.authorEmail,
			When:  time.Now(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("commit site: %w", err)
	}

	log.Printf("Site published: %s at %s", hash.String()[:8], folderPath)
	return hash.String(), nil
}

// commitMessage derives a short subject line from the site description,
// truncated to the usual 50 character limit.
func commitMessage(description string) string {
	msg := "Generate site"
	if desc := strings.Join(strings.Fields(description), " "); desc != "" {
		msg = "Generate site: " + desc
	}
	if len(msg) > 50 {
		msg = msg[:47] + "..."
	}
	return msg
}
