// Package store is the versioned page store: every write lands in the
// working tree and in a new git commit, under one repository lock.
package store

import (
	"fmt"
	"path/filepath"
	"sync"

	"quire/internal/errors"
	"quire/internal/revision"
	"quire/internal/validation"
	"quire/internal/worktree"

	"go.uber.org/zap"
)

// PageSuffix marks the files that are pages.
const PageSuffix = ".md"

type Options struct {
	CacheSize int
	Listings  revision.ListingCache
	Logger    *zap.Logger
	// WatchReload reopens the repository when an external tool drops
	// .git/RELOAD_GIT.
	WatchReload bool
}

// Store is safe for concurrent use. Every operation that touches the
// repository holds mu for its full duration; writes hold it across both
// the filesystem mutation and the commit.
type Store struct {
	mu      sync.Mutex
	root    string
	tree    *worktree.Tree
	engine  *revision.Engine
	opts    Options
	logger  *zap.Logger
	watcher *reloadWatcher
}

func Open(root string, opts Options) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Repository("open", err)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	engine, created, err := revision.Open(abs, revision.Options{
		CacheSize: opts.CacheSize,
		Listings:  opts.Listings,
		Logger:    opts.Logger,
	})
	if err != nil {
		return nil, err
	}

	s := &Store{
		root:   abs,
		tree:   worktree.New(abs),
		engine: engine,
		opts:   opts,
		logger: opts.Logger,
	}
	if created {
		s.logger.Info("initialized repository", zap.String("root", abs))
	} else {
		s.logger.Info("opened repository", zap.String("root", abs))
	}

	if opts.WatchReload {
		w, err := newReloadWatcher(s)
		if err != nil {
			return nil, errors.IO("watch", ".git", err)
		}
		s.watcher = w
	}
	return s, nil
}

func (s *Store) Root() string {
	return s.root
}

// Close stops the reload watcher. The repository itself holds no open
// handles.
func (s *Store) Close() error {
	if s.watcher != nil {
		return s.watcher.close()
	}
	return nil
}

// Reload reopens the repository handle, picking up changes made by
// external git tools.
func (s *Store) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	engine, _, err := revision.Open(s.root, revision.Options{
		CacheSize: s.opts.CacheSize,
		Listings:  s.opts.Listings,
		Logger:    s.logger,
	})
	if err != nil {
		return err
	}
	s.engine = engine
	s.logger.Info("reloaded repository", zap.String("root", s.root))
	return nil
}

// Exists reports whether path is a file in the working tree.
func (s *Store) Exists(path string) bool {
	p, err := validation.Path(path)
	if err != nil {
		return false
	}
	return s.tree.Exists(p)
}

func (s *Store) Stat(path string) (worktree.FileInfo, error) {
	p, err := validation.Path(path)
	if err != nil {
		return worktree.FileInfo{}, err
	}
	return s.tree.Stat(p)
}

// Load returns the working-tree content of path, or its content at rev
// when rev is not empty.
func (s *Store) Load(path, rev string) (string, error) {
	p, err := validation.Path(path)
	if err != nil {
		return "", err
	}
	rev, err = validation.Revision(rev)
	if err != nil {
		return "", err
	}
	if rev == "" {
		return s.tree.Read(p)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.ReadAt(p, rev)
}

// Save writes content to path and commits it. It returns the new revision.
func (s *Store) Save(path, content string, author revision.Signature, message string) (string, error) {
	p, err := validation.Path(path)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(p, content, author, message)
}

func (s *Store) save(p, content string, author revision.Signature, message string) (string, error) {
	prev, err := s.snapshot(p)
	if err != nil {
		return "", err
	}
	if err := s.tree.Write(p, content); err != nil {
		return "", err
	}

	rev, err := s.engine.Commit(revision.Changes{Added: []string{p}}, author, message)
	if err != nil {
		s.restore(p, prev)
		return "", err
	}

	s.logger.Debug("page stored", zap.String("path", p), zap.String("revision", rev))
	return rev, nil
}

// Delete removes path from the working tree and records the removal. A
// path that was never committed still produces a revision.
func (s *Store) Delete(path string, author revision.Signature, message string) (string, error) {
	p, err := validation.Path(path)
	if err != nil {
		return "", err
	}
	if message == "" {
		message = fmt.Sprintf("Deleted %s.", p)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, err := s.snapshot(p)
	if err != nil {
		return "", err
	}
	if err := s.tree.Remove(p); err != nil {
		return "", err
	}

	rev, err := s.engine.Commit(revision.Changes{Removed: []string{p}}, author, message)
	if err != nil {
		s.restore(p, prev)
		return "", err
	}

	s.logger.Debug("page deleted", zap.String("path", p), zap.String("revision", rev))
	return rev, nil
}

// Rename moves a page in one commit.
func (s *Store) Rename(from, to string, author revision.Signature, message string) (string, error) {
	src, err := validation.Path(from)
	if err != nil {
		return "", err
	}
	dst, err := validation.Path(to)
	if err != nil {
		return "", err
	}
	if src == dst {
		return "", errors.Validation("rename", dst, "source and destination are the same")
	}
	if message == "" {
		message = fmt.Sprintf("%s renamed to %s.", src, dst)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.tree.Exists(src) {
		return "", errors.NotFound("rename", src)
	}
	if s.tree.Exists(dst) {
		return "", errors.Conflict("rename", dst, "destination already exists")
	}
	if err := s.tree.Rename(src, dst); err != nil {
		return "", err
	}

	rev, err := s.engine.Commit(revision.Changes{Added: []string{dst}, Removed: []string{src}}, author, message)
	if err != nil {
		if rerr := s.tree.Rename(dst, src); rerr != nil {
			s.logger.Error("restoring renamed page", zap.String("path", src), zap.Error(rerr))
		}
		return "", err
	}

	s.logger.Debug("page renamed", zap.String("from", src), zap.String("to", dst), zap.String("revision", rev))
	return rev, nil
}

// Revert commits the inverse of rev on top of the tip. Every path rev
// touched must still hold the content rev gave it.
func (s *Store) Revert(rev string, author revision.Signature, message string) (string, error) {
	rev, err := validation.Revision(rev)
	if err != nil {
		return "", err
	}
	if rev == "" {
		return "", errors.Validation("revert", "", "revision is required")
	}
	if message == "" {
		message = fmt.Sprintf("Reverted %s.", rev)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	plan, err := s.engine.RevertPlan(rev)
	if err != nil {
		return "", err
	}

	var changes revision.Changes
	applied := make([]string, 0, len(plan))
	prevs := make(map[string]previous, len(plan))
	rollback := func() {
		for _, p := range applied {
			s.restore(p, prevs[p])
		}
	}
	for _, fc := range plan {
		prev, err := s.snapshot(fc.Path)
		if err != nil {
			rollback()
			return "", err
		}
		prevs[fc.Path] = prev

		if fc.Removed {
			err = s.tree.Remove(fc.Path)
			changes.Removed = append(changes.Removed, fc.Path)
		} else {
			err = s.tree.Write(fc.Path, fc.Content)
			changes.Added = append(changes.Added, fc.Path)
		}
		if err != nil {
			rollback()
			return "", err
		}
		applied = append(applied, fc.Path)
	}

	newRev, err := s.engine.Commit(changes, author, message)
	if err != nil {
		rollback()
		return "", err
	}

	s.logger.Debug("revision reverted", zap.String("reverted", rev), zap.String("revision", newRev), zap.Int("files", len(plan)))
	return newRev, nil
}

// Blame attributes each line of path at rev (the tip when empty) to the
// revision that last changed it.
func (s *Store) Blame(path, rev string) ([]revision.BlameLine, error) {
	p, err := validation.Path(path)
	if err != nil {
		return nil, err
	}
	rev, err = validation.Revision(rev)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Blame(p, rev)
}

// ListPages returns every page in the tip snapshot.
func (s *Store) ListPages() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.ListFiles(revision.HasSuffix(PageSuffix))
}

// PageHistory returns up to limit revisions whose snapshot contains path,
// newest first.
func (s *Store) PageHistory(path string, limit int) ([]revision.Entry, error) {
	p, err := validation.Path(path)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.History(p, limit)
}

// Changelog returns the newest limit revisions with their file listings.
func (s *Store) Changelog(limit int) ([]revision.ChangelogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Changelog(limit)
}

// Metadata returns the last revision at or below rev that changed path.
func (s *Store) Metadata(path, rev string) (*revision.Entry, error) {
	p, err := validation.Path(path)
	if err != nil {
		return nil, err
	}
	rev, err = validation.Revision(rev)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Metadata(p, rev)
}

func (s *Store) Diff(from, to string) (string, error) {
	from, err := validation.Revision(from)
	if err != nil {
		return "", err
	}
	to, err = validation.Revision(to)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Diff(from, to)
}

// EnsurePage commits content at path when the tip snapshot holds no pages
// at all. It reports whether a commit was made.
func (s *Store) EnsurePage(path, content string, author revision.Signature, message string) (bool, error) {
	p, err := validation.Path(path)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pages, err := s.engine.ListFiles(revision.HasSuffix(PageSuffix))
	if err != nil {
		return false, err
	}
	if len(pages) > 0 {
		return false, nil
	}

	rev, err := s.save(p, content, author, message)
	if err != nil {
		return false, err
	}
	s.logger.Info("created initial page", zap.String("path", p), zap.String("revision", rev))
	return true, nil
}

// previous holds a file's content before a write so a failed commit can
// put it back.
type previous struct {
	content string
	existed bool
}

func (s *Store) snapshot(path string) (previous, error) {
	content, err := s.tree.Read(path)
	if errors.Is(err, errors.KindNotFound) {
		return previous{}, nil
	}
	if err != nil {
		return previous{}, err
	}
	return previous{content: content, existed: true}, nil
}

func (s *Store) restore(path string, prev previous) {
	var err error
	if prev.existed {
		err = s.tree.Write(path, prev.content)
	} else {
		err = s.tree.Remove(path)
	}
	if err != nil {
		s.logger.Error("restoring working tree after failed commit", zap.String("path", path), zap.Error(err))
	}
}
