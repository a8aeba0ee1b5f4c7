// Package revision wraps the git object database behind the store: it
// builds single-parent commits from the index and walks commit ancestry.
package revision

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"
	"unicode/utf8"

	qerrors "quire/internal/errors"
	"quire/internal/index"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	gitindex "github.com/go-git/go-git/v5/plumbing/format/index"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

const defaultCacheSize = 256

// Signature identifies the author of a commit.
type Signature struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Entry describes one revision.
type Entry struct {
	Revision    string    `json:"revision"`
	AuthorName  string    `json:"author_name"`
	AuthorEmail string    `json:"author_email"`
	Datetime    time.Time `json:"datetime"`
	Message     string    `json:"message"`
}

// ChangelogEntry is a revision with the full file listing of its snapshot
// and the paths whose content differs from the parent snapshot.
type ChangelogEntry struct {
	Entry
	Files   []string `json:"files"`
	Changed []string `json:"changed"`
}

// FileChange is one working-tree edit: new content for Path, or its
// removal.
type FileChange struct {
	Path    string
	Content string
	Removed bool
}

// BlameLine is one line of a file with the revision that last changed it.
type BlameLine struct {
	Revision   string    `json:"revision"`
	AuthorName string    `json:"author_name"`
	Datetime   time.Time `json:"datetime"`
	Line       int       `json:"line"`
	Text       string    `json:"text"`
}

// Changes lists the paths to stage for a commit.
type Changes struct {
	Added   []string
	Removed []string
}

// ListingCache stores derived per-commit listings.
type ListingCache interface {
	Get(hash string) (*index.Listing, bool, error)
	Put(hash string, listing *index.Listing) error
}

type Options struct {
	CacheSize int
	Listings  ListingCache
	Logger    *zap.Logger
}

// Engine is not safe for concurrent use; the store serializes access.
type Engine struct {
	root     string
	repo     *git.Repository
	blobs    *lru.Cache[string, string]
	listings ListingCache
	logger   *zap.Logger
}

// Open opens the repository at root, initialising an empty one when none
// exists. The boolean reports whether a new repository was created.
func Open(root string, opts Options) (*Engine, bool, error) {
	info, err := os.Stat(root)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := os.MkdirAll(root, 0o775); err != nil {
			return nil, false, qerrors.Repository("open", err)
		}
	case err != nil:
		return nil, false, qerrors.Repository("open", err)
	case !info.IsDir():
		return nil, false, qerrors.Repository("open", fmt.Errorf("%s is not a directory", root))
	}

	created := false
	repo, err := git.PlainOpen(root)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		repo, err = git.PlainInit(root, false)
		created = true
	}
	if err != nil {
		return nil, false, qerrors.Repository("open", err)
	}

	size := opts.CacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	blobs, err := lru.New[string, string](size)
	if err != nil {
		return nil, false, qerrors.Repository("open", fmt.Errorf("creating blob cache: %w", err))
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		root:     root,
		repo:     repo,
		blobs:    blobs,
		listings: opts.Listings,
		logger:   logger,
	}, created, nil
}

// head returns the tip commit, or nil when the history is empty.
func (e *Engine) head() (*object.Commit, error) {
	ref, err := e.repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolving HEAD: %w", err)
	}
	return e.repo.CommitObject(ref.Hash())
}

// Head returns the tip revision id, or "" when nothing is committed yet.
func (e *Engine) Head() (string, error) {
	c, err := e.head()
	if err != nil {
		return "", qerrors.Repository("head", err)
	}
	if c == nil {
		return "", nil
	}
	return c.Hash.String(), nil
}

// Resolve turns a revision expression (full or abbreviated hash, HEAD,
// HEAD~n, branch name) into a commit.
func (e *Engine) Resolve(rev string) (*object.Commit, error) {
	if rev == "" {
		c, err := e.head()
		if err != nil {
			return nil, qerrors.Repository("resolve", err)
		}
		if c == nil {
			return nil, qerrors.Repository("resolve", plumbing.ErrReferenceNotFound)
		}
		return c, nil
	}

	hash, err := e.repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return nil, qerrors.Repository("resolve", fmt.Errorf("revision %q: %w", rev, err))
	}
	c, err := e.repo.CommitObject(*hash)
	if err != nil {
		return nil, qerrors.Repository("resolve", fmt.Errorf("revision %q: %w", rev, err))
	}
	return c, nil
}

// ReadAt returns the content of path in the snapshot of rev.
func (e *Engine) ReadAt(path, rev string) (string, error) {
	c, err := e.Resolve(rev)
	if err != nil {
		return "", err
	}

	key := c.Hash.String() + "\x00" + path
	if content, ok := e.blobs.Get(key); ok {
		return content, nil
	}

	entry, err := fileEntry(c, path)
	if err != nil {
		return "", qerrors.Repository("read", err)
	}
	if entry == nil {
		return "", qerrors.NotFound("read", path)
	}

	content, err := e.readBlob("read", path, entry.Hash)
	if err != nil {
		return "", err
	}
	e.blobs.Add(key, content)
	return content, nil
}

func (e *Engine) readBlob(op, path string, hash plumbing.Hash) (string, error) {
	blob, err := e.repo.BlobObject(hash)
	if err != nil {
		return "", qerrors.Repository(op, err)
	}
	r, err := blob.Reader()
	if err != nil {
		return "", qerrors.Repository(op, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return "", qerrors.Repository(op, err)
	}
	if !utf8.Valid(data) {
		return "", qerrors.Encoding(op, path, nil)
	}
	return string(data), nil
}

// Commit stages the changes on top of the current index and records a
// commit whose single parent is the tip (none for the first commit). On
// failure the index is reset to the tip so no staged state leaks into the
// next commit.
func (e *Engine) Commit(changes Changes, author Signature, message string) (string, error) {
	tip, err := e.head()
	if err != nil {
		return "", qerrors.Repository("commit", err)
	}

	hash, err := e.commit(changes, author, message)
	if err != nil {
		if rerr := e.resetIndex(tip); rerr != nil {
			e.logger.Warn("resetting index after failed commit", zap.Error(rerr))
		}
		return "", qerrors.Repository("commit", err)
	}

	e.logger.Debug("commit created",
		zap.String("revision", hash.String()),
		zap.Strings("added", changes.Added),
		zap.Strings("removed", changes.Removed),
		zap.String("author", author.Name),
	)
	return hash.String(), nil
}

func (e *Engine) commit(changes Changes, author Signature, message string) (plumbing.Hash, error) {
	wt, err := e.repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("opening worktree: %w", err)
	}

	for _, path := range changes.Removed {
		if _, err := wt.Remove(path); err != nil && !errors.Is(err, gitindex.ErrEntryNotFound) {
			return plumbing.ZeroHash, fmt.Errorf("unstaging %s: %w", path, err)
		}
	}
	for _, path := range changes.Added {
		if _, err := wt.Add(path); err != nil {
			return plumbing.ZeroHash, fmt.Errorf("staging %s: %w", path, err)
		}
	}

	return wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  author.Name,
			Email: author.Email,
			When:  time.Now().UTC(),
		},
		AllowEmptyCommits: true,
	})
}

func (e *Engine) resetIndex(tip *object.Commit) error {
	if tip == nil {
		return e.repo.Storer.SetIndex(&gitindex.Index{Version: 2})
	}
	wt, err := e.repo.Worktree()
	if err != nil {
		return err
	}
	return wt.Reset(&git.ResetOptions{Commit: tip.Hash, Mode: git.MixedReset})
}

// walk visits the ancestry of the tip, newest first, until fn returns
// storer.ErrStop or the history is exhausted.
func (e *Engine) walk(from *object.Commit, fn func(*object.Commit) error) error {
	iter, err := e.repo.Log(&git.LogOptions{From: from.Hash, Order: git.LogOrderCommitterTime})
	if err != nil {
		return err
	}
	defer iter.Close()

	err = iter.ForEach(fn)
	if errors.Is(err, storer.ErrStop) {
		return nil
	}
	return err
}

// History lists the revisions whose snapshot contains path, newest first.
// Presence is enough: a page left untouched by a commit still appears for
// it. A limit <= 0 means no limit.
func (e *Engine) History(path string, limit int) ([]Entry, error) {
	tip, err := e.head()
	if err != nil {
		return nil, qerrors.Repository("history", err)
	}
	if tip == nil {
		return []Entry{}, nil
	}

	entries := []Entry{}
	err = e.walk(tip, func(c *object.Commit) error {
		entry, err := fileEntry(c, path)
		if err != nil {
			return err
		}
		if entry == nil {
			return nil
		}
		entries = append(entries, entryOf(c))
		if limit > 0 && len(entries) >= limit {
			return storer.ErrStop
		}
		return nil
	})
	if err != nil {
		return nil, qerrors.Repository("history", err)
	}
	return entries, nil
}

// Changelog lists the newest limit revisions with their file listings.
// A limit <= 0 means no limit.
func (e *Engine) Changelog(limit int) ([]ChangelogEntry, error) {
	tip, err := e.head()
	if err != nil {
		return nil, qerrors.Repository("changelog", err)
	}
	if tip == nil {
		return []ChangelogEntry{}, nil
	}

	entries := []ChangelogEntry{}
	err = e.walk(tip, func(c *object.Commit) error {
		listing, err := e.listing(c)
		if err != nil {
			return err
		}
		entries = append(entries, ChangelogEntry{
			Entry:   entryOf(c),
			Files:   listing.Files,
			Changed: listing.Changed,
		})
		if limit > 0 && len(entries) >= limit {
			return storer.ErrStop
		}
		return nil
	})
	if err != nil {
		return nil, qerrors.Repository("changelog", err)
	}
	return entries, nil
}

// ListFiles walks the tip snapshot and returns the matching paths.
func (e *Engine) ListFiles(match Predicate) ([]string, error) {
	tip, err := e.head()
	if err != nil {
		return nil, qerrors.Repository("list", err)
	}
	if tip == nil {
		return []string{}, nil
	}

	tree, err := tip.Tree()
	if err != nil {
		return nil, qerrors.Repository("list", err)
	}
	paths, err := Walk(e.repo.Storer, tree, match)
	if err != nil {
		return nil, qerrors.Repository("list", err)
	}
	if paths == nil {
		paths = []string{}
	}
	return paths, nil
}

// Metadata returns the newest revision at or below rev that changed path
// relative to its parent. Removing the file counts as a change.
func (e *Engine) Metadata(path, rev string) (*Entry, error) {
	if rev == "" {
		tip, err := e.head()
		if err != nil {
			return nil, qerrors.Repository("metadata", err)
		}
		if tip == nil {
			return nil, qerrors.NotFound("metadata", path)
		}
		rev = tip.Hash.String()
	}
	from, err := e.Resolve(rev)
	if err != nil {
		return nil, err
	}

	var found *Entry
	err = e.walk(from, func(c *object.Commit) error {
		changed, err := changedIn(c, path)
		if err != nil {
			return err
		}
		if changed {
			entry := entryOf(c)
			found = &entry
			return storer.ErrStop
		}
		return nil
	})
	if err != nil {
		return nil, qerrors.Repository("metadata", err)
	}
	if found == nil {
		return nil, qerrors.NotFound("metadata", path)
	}
	return found, nil
}

// Diff returns the unified patch that turns from into to.
func (e *Engine) Diff(from, to string) (string, error) {
	a, err := e.Resolve(from)
	if err != nil {
		return "", err
	}
	b, err := e.Resolve(to)
	if err != nil {
		return "", err
	}
	patch, err := a.Patch(b)
	if err != nil {
		return "", qerrors.Repository("diff", err)
	}
	return patch.String(), nil
}

// RevertPlan returns the working-tree changes that undo rev on top of the
// tip: each path rev touched goes back to its content in rev's parent, or
// away when rev created it. A path changed again after rev is a conflict.
func (e *Engine) RevertPlan(rev string) ([]FileChange, error) {
	c, err := e.Resolve(rev)
	if err != nil {
		return nil, err
	}
	if c.NumParents() > 1 {
		return nil, qerrors.Validation("revert", "", "cannot revert a merge commit")
	}
	tip, err := e.head()
	if err != nil {
		return nil, qerrors.Repository("revert", err)
	}

	tree, err := c.Tree()
	if err != nil {
		return nil, qerrors.Repository("revert", err)
	}
	parentTree := &object.Tree{}
	if c.NumParents() == 1 {
		parent, err := c.Parent(0)
		if err != nil {
			return nil, qerrors.Repository("revert", err)
		}
		if parentTree, err = parent.Tree(); err != nil {
			return nil, qerrors.Repository("revert", err)
		}
	}

	diff, err := object.DiffTree(parentTree, tree)
	if err != nil {
		return nil, qerrors.Repository("revert", err)
	}

	plan := make([]FileChange, 0, len(diff))
	for _, ch := range diff {
		path := ch.To.Name
		if path == "" {
			path = ch.From.Name
		}

		current, err := fileEntry(tip, path)
		if err != nil {
			return nil, qerrors.Repository("revert", err)
		}
		switch {
		case ch.To.Name == "" && current != nil,
			ch.To.Name != "" && (current == nil || current.Hash != ch.To.TreeEntry.Hash):
			return nil, qerrors.Conflict("revert", path, "changed after "+c.Hash.String())
		}

		if ch.From.Name == "" {
			plan = append(plan, FileChange{Path: path, Removed: true})
			continue
		}
		content, err := e.readBlob("revert", path, ch.From.TreeEntry.Hash)
		if err != nil {
			return nil, err
		}
		plan = append(plan, FileChange{Path: path, Content: content})
	}

	sort.Slice(plan, func(i, j int) bool { return plan[i].Path < plan[j].Path })
	return plan, nil
}

// Blame attributes every line of path at rev to the revision that last
// changed it.
func (e *Engine) Blame(path, rev string) ([]BlameLine, error) {
	c, err := e.Resolve(rev)
	if err != nil {
		return nil, err
	}
	entry, err := fileEntry(c, path)
	if err != nil {
		return nil, qerrors.Repository("blame", err)
	}
	if entry == nil {
		return nil, qerrors.NotFound("blame", path)
	}

	result, err := git.Blame(c, path)
	if err != nil {
		return nil, qerrors.Repository("blame", err)
	}

	seen := make(map[plumbing.Hash]Entry)
	lines := make([]BlameLine, 0, len(result.Lines))
	for i, l := range result.Lines {
		meta, ok := seen[l.Hash]
		if !ok {
			lc, err := e.repo.CommitObject(l.Hash)
			if err != nil {
				return nil, qerrors.Repository("blame", err)
			}
			meta = entryOf(lc)
			seen[l.Hash] = meta
		}
		lines = append(lines, BlameLine{
			Revision:   meta.Revision,
			AuthorName: meta.AuthorName,
			Datetime:   meta.Datetime,
			Line:       i + 1,
			Text:       l.Text,
		})
	}
	return lines, nil
}

func (e *Engine) listing(c *object.Commit) (*index.Listing, error) {
	if e.listings != nil {
		l, ok, err := e.listings.Get(c.Hash.String())
		if err != nil {
			return nil, err
		}
		if ok {
			return l, nil
		}
	}

	tree, err := c.Tree()
	if err != nil {
		return nil, fmt.Errorf("reading tree of %s: %w", c.Hash, err)
	}
	files, err := Walk(e.repo.Storer, tree, All)
	if err != nil {
		return nil, err
	}
	if files == nil {
		files = []string{}
	}

	changed, err := changedFiles(c, tree, files)
	if err != nil {
		return nil, err
	}

	l := &index.Listing{Files: files, Changed: changed}
	if e.listings != nil {
		if err := e.listings.Put(c.Hash.String(), l); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func changedFiles(c *object.Commit, tree *object.Tree, files []string) ([]string, error) {
	if c.NumParents() == 0 {
		return append([]string{}, files...), nil
	}

	parent, err := c.Parent(0)
	if err != nil {
		return nil, fmt.Errorf("reading parent of %s: %w", c.Hash, err)
	}
	parentTree, err := parent.Tree()
	if err != nil {
		return nil, fmt.Errorf("reading tree of %s: %w", parent.Hash, err)
	}

	diff, err := object.DiffTree(parentTree, tree)
	if err != nil {
		return nil, fmt.Errorf("diffing %s: %w", c.Hash, err)
	}

	changed := make([]string, 0, len(diff))
	for _, ch := range diff {
		name := ch.To.Name
		if name == "" {
			name = ch.From.Name
		}
		changed = append(changed, name)
	}
	sort.Strings(changed)
	return changed, nil
}

// fileEntry finds the blob entry for path, or nil when the snapshot has no
// file there.
func fileEntry(c *object.Commit, path string) (*object.TreeEntry, error) {
	tree, err := c.Tree()
	if err != nil {
		return nil, fmt.Errorf("reading tree of %s: %w", c.Hash, err)
	}
	entry, err := tree.FindEntry(path)
	if err != nil {
		if errors.Is(err, object.ErrEntryNotFound) || errors.Is(err, object.ErrDirectoryNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if !entry.Mode.IsFile() {
		return nil, nil
	}
	return entry, nil
}

func changedIn(c *object.Commit, path string) (bool, error) {
	entry, err := fileEntry(c, path)
	if err != nil {
		return false, err
	}
	if c.NumParents() == 0 {
		return entry != nil, nil
	}

	parent, err := c.Parent(0)
	if err != nil {
		return false, err
	}
	prev, err := fileEntry(parent, path)
	if err != nil {
		return false, err
	}

	switch {
	case entry == nil:
		return prev != nil, nil
	case prev == nil:
		return true, nil
	default:
		return prev.Hash != entry.Hash, nil
	}
}

func entryOf(c *object.Commit) Entry {
	return Entry{
		Revision:    c.Hash.String(),
		AuthorName:  c.Author.Name,
		AuthorEmail: c.Author.Email,
		Datetime:    c.Author.When.UTC(),
		Message:     c.Message,
	}
}
