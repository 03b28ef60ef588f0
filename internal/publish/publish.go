// Package publish pushes the built site to the hosting branch of the
// project's git remote.
package publish

import (
	"context"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"

	"github.com/conneroisu/sitewright/internal/assets"
	"github.com/conneroisu/sitewright/internal/config"
	"github.com/conneroisu/sitewright/internal/errors"
	"github.com/conneroisu/sitewright/internal/logging"
)

// Publisher commits the output tree onto the hosting branch and pushes it.
type Publisher struct {
	cfg    *config.Config
	logger logging.Logger
	// Auth is used for clone and push; nil relies on the transport default.
	Auth transport.AuthMethod
	now  func() time.Time
}

func New(cfg *config.Config, logger logging.Logger) *Publisher {
	return &Publisher{
		cfg:    cfg,
		logger: logger.WithComponent("publish"),
		now:    time.Now,
	}
}

// Publish replaces the hosting branch's tree with dir. An unchanged tree is a
// successful no-op.
func (p *Publisher) Publish(ctx context.Context, dir string) (err error) {
	perf := logging.StartOperation(p.logger, "publish")
	defer func() {
		if err != nil {
			perf.EndWithError(ctx, err)
		} else {
			perf.End(ctx)
		}
	}()

	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return errors.NewPublishError(errors.CodePushFailed, "output directory missing: "+dir, err)
	}

	url, err := p.remoteURL()
	if err != nil {
		return err
	}

	work, err := os.MkdirTemp("", "sitewright-publish-")
	if err != nil {
		return errors.NewIOError(errors.CodePushFailed, "creating publish worktree", err)
	}
	defer os.RemoveAll(work)

	repo, err := p.checkout(ctx, url, work)
	if err != nil {
		return errors.NewPublishError(errors.CodePushFailed, "checking out "+p.cfg.Publish.Branch, err)
	}

	if err := replaceTree(work, dir); err != nil {
		return errors.NewIOError(errors.CodePushFailed, "copying output into worktree", err)
	}

	committed, err := p.commit(repo)
	if err != nil {
		return errors.NewPublishError(errors.CodePushFailed, "committing", err)
	}
	if !committed {
		p.logger.Info(ctx, "nothing to publish", "branch", p.cfg.Publish.Branch)
		return nil
	}

	ref := plumbing.NewBranchReferenceName(p.cfg.Publish.Branch)
	err = repo.PushContext(ctx, &git.PushOptions{
		RemoteName: git.DefaultRemoteName,
		RefSpecs:   []gitconfig.RefSpec{gitconfig.RefSpec(ref + ":" + ref)},
		Auth:       p.Auth,
	})
	if err != nil && !stderrors.Is(err, git.NoErrAlreadyUpToDate) {
		return errors.NewPublishError(errors.CodePushFailed, "pushing to "+url, err)
	}

	p.logger.Info(ctx, "published", "remote", p.cfg.Publish.Remote, "branch", p.cfg.Publish.Branch)
	return nil
}

func (p *Publisher) remoteURL() (string, error) {
	repo, err := git.PlainOpenWithOptions(p.cfg.Root, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return "", errors.NewConfigError(errors.CodePushFailed, "project is not a git repository", err)
	}
	remote, err := repo.Remote(p.cfg.Publish.Remote)
	if err != nil {
		return "", errors.NewConfigError(errors.CodePushFailed, "unknown remote "+p.cfg.Publish.Remote, err)
	}
	urls := remote.Config().URLs
	if len(urls) == 0 {
		return "", errors.NewConfigError(errors.CodePushFailed, "remote has no URL: "+p.cfg.Publish.Remote, nil)
	}
	return urls[0], nil
}

// checkout clones the hosting branch into work, or starts it as an orphan
// branch when the remote does not have it yet.
func (p *Publisher) checkout(ctx context.Context, url, work string) (*git.Repository, error) {
	ref := plumbing.NewBranchReferenceName(p.cfg.Publish.Branch)

	repo, err := git.PlainCloneContext(ctx, work, false, &git.CloneOptions{
		URL:           url,
		ReferenceName: ref,
		SingleBranch:  true,
		Auth:          p.Auth,
	})
	if err == nil {
		return repo, nil
	}
	if !isMissingBranch(err) {
		return nil, err
	}

	p.logger.Info(ctx, "creating branch", "branch", p.cfg.Publish.Branch)
	if err := os.MkdirAll(work, 0o755); err != nil {
		return nil, err
	}
	if err := clearDir(work, true); err != nil {
		return nil, err
	}

	repo, err = git.PlainInit(work, false)
	if err != nil {
		return nil, err
	}
	if _, err := repo.CreateRemote(&gitconfig.RemoteConfig{Name: git.DefaultRemoteName, URLs: []string{url}}); err != nil {
		return nil, err
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, ref)); err != nil {
		return nil, err
	}
	return repo, nil
}

func isMissingBranch(err error) bool {
	if stderrors.Is(err, transport.ErrEmptyRemoteRepository) ||
		stderrors.Is(err, plumbing.ErrReferenceNotFound) ||
		stderrors.Is(err, git.NoMatchingRefSpecError{}) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "reference not found") || strings.Contains(msg, "couldn't find remote ref")
}

// commit stages every change in the worktree, deletions included, and
// commits it. It reports false when there was nothing to commit.
func (p *Publisher) commit(repo *git.Repository) (bool, error) {
	wt, err := repo.Worktree()
	if err != nil {
		return false, err
	}

	status, err := wt.Status()
	if err != nil {
		return false, err
	}
	if status.IsClean() {
		return false, nil
	}

	for path, st := range status {
		if st.Worktree == git.Deleted {
			if _, err := wt.Remove(path); err != nil {
				return false, err
			}
			continue
		}
		if _, err := wt.Add(path); err != nil {
			return false, err
		}
	}

	when := p.now()
	msg := strings.ReplaceAll(p.cfg.Publish.Message, "{{timestamp}}", when.UTC().Format(time.RFC3339))
	_, err = wt.Commit(msg, &git.CommitOptions{
		Author: &object.Signature{
			Name:  p.cfg.Publish.AuthorName,
			Email: p.cfg.Publish.AuthorEmail,
			When:  when,
		},
	})
	if err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// replaceTree makes work's contents, apart from .git, a copy of src.
func replaceTree(work, src string) error {
	if err := clearDir(work, false); err != nil {
		return err
	}

	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if d.Name() == ".git" {
			return filepath.SkipDir
		}
		target := filepath.Join(work, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return assets.CopyFile(path, target)
	})
}

func clearDir(dir string, includeGit bool) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Name() == ".git" && !includeGit {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}
