package builder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/plumbing"
	"github.com/mitchellh/go-homedir"
	"github.com/sherlockcv/shbuild/internal/msg"
)

var depShortcuts = map[string]string{
	"gh:": "https://github.com/",
	"gl:": "https://gitlab.com/",
	"bb:": "https://bitbucket.org/",
	"sr:": "https://sr.ht/",
	"cb:": "https://codeberg.org/",
}

const gitPrefix = "git:"

var (
	errIllegalSource = errors.New("empty or illegal sub-build source")
	errNotGitSource  = errors.New("URL is neither an archive nor a git source, prefix git URLs with git:")
)

// fetchSource makes the sources of a sub-build available in toWhere
func fetchSource(ctx context.Context, source string, toWhere string, out io.Writer) error {
	if source == "" {
		return errIllegalSource
	}

	// check for `git:` prefix, e.g. git:https://example.com/bites.git
	if strings.HasPrefix(source, gitPrefix) {
		return cloneGitRepo(ctx, source[len(gitPrefix):], toWhere, out)
	}

	// check for shortcut prefix, e.g. gh:owner/bites
	for shortcut, url := range depShortcuts {
		if strings.HasPrefix(source, shortcut) {
			return cloneGitRepo(ctx, url+source[len(shortcut):], toWhere, out)
		}
	}

	if isURL(source) {
		if isArchive(source) {
			return downloadArchive(ctx, source, toWhere, out)
		}
		return errNotGitSource
	}

	local, err := homedir.Expand(source)
	if err != nil {
		return err
	}
	if isArchive(local) {
		f, err := os.Open(local)
		if err != nil {
			return err
		}
		defer f.Close()
		return extractArchive(local, f, toWhere)
	}

	// otherwise it's a local directory to copy from
	return os.CopyFS(toWhere, os.DirFS(local))
}

func isURL(maybeURL string) bool {
	u, err := url.Parse(maybeURL)
	return err == nil && u.Scheme != "" && u.Host != ""
}

type gitURL struct {
	cleanURL    string
	branch      string
	commitOrTag string
}

// someone/something@master#0.1.0
// someone/something@feature-branch#12345abc
// someone/something#12345abc
func parseGitURL(rawURL string) (res gitURL) {
	parts := strings.SplitN(rawURL, "#", 2)
	baseURL := parts[0]
	if len(parts) == 2 {
		res.commitOrTag = parts[1]
	}

	parts = strings.SplitN(baseURL, "@", 2)
	res.cleanURL = parts[0]
	if len(parts) == 2 {
		res.branch = parts[1]
	}

	if !strings.HasSuffix(res.cleanURL, ".git") {
		res.cleanURL += ".git"
	}

	return
}

// cloneGitRepo clones a Git remote into the specified directory
func cloneGitRepo(ctx context.Context, url, toWhere string, out io.Writer) error {
	parsedURL := parseGitURL(url)

	cloneOptions := &git.CloneOptions{
		URL:               parsedURL.cleanURL,
		Progress:          &msg.IndentWriter{Indent: "    ", W: out},
		RecurseSubmodules: git.DefaultSubmoduleRecursionDepth,
	}

	if parsedURL.commitOrTag == "" {
		cloneOptions.Depth = 1 // we can do a shallow clone of the latest commit
	}

	if parsedURL.branch != "" {
		cloneOptions.ReferenceName = plumbing.NewBranchReferenceName(parsedURL.branch)
		cloneOptions.SingleBranch = true
	}

	repo, err := git.PlainCloneContext(ctx, toWhere, cloneOptions)
	if err != nil {
		return err
	}

	if parsedURL.commitOrTag != "" {
		w, err := repo.Worktree()
		if err != nil {
			return fmt.Errorf("could not get worktree: %w", err)
		}

		revision := parsedURL.commitOrTag
		hash, err := repo.ResolveRevision(plumbing.Revision(revision))
		if err != nil {
			return fmt.Errorf("could not resolve revision `%s`: %w", revision, err)
		}

		err = w.Checkout(&git.CheckoutOptions{
			Hash:  *hash,
			Force: true,
		})
		if err != nil {
			return fmt.Errorf("failed to checkout `%s`: %w", revision, err)
		}
	}

	return nil
}
