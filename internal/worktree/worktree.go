// Package worktree reads and writes the plain files under the store root.
// It never touches version-control history.
package worktree

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	qerrors "quire/internal/errors"

	"github.com/natefinch/atomic"
)

const (
	dirPerms  = 0o775
	filePerms = 0o644
)

type FileInfo struct {
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// Tree is the working tree rooted at a directory. Paths passed to its
// methods are slash separated and relative to the root; callers validate
// them first.
type Tree struct {
	root string
}

func New(root string) *Tree {
	return &Tree{root: root}
}

func (t *Tree) Root() string {
	return t.root
}

func (t *Tree) abs(path string) string {
	return filepath.Join(t.root, filepath.FromSlash(path))
}

// Exists reports whether a regular file exists at path.
func (t *Tree) Exists(path string) bool {
	info, err := os.Stat(t.abs(path))
	return err == nil && info.Mode().IsRegular()
}

// Read returns the file content. A directory at path reads as not found.
func (t *Tree) Read(path string) (string, error) {
	abs := t.abs(path)
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", qerrors.NotFound("read", path)
		}
		return "", qerrors.IO("read", path, err)
	}
	if !info.Mode().IsRegular() {
		return "", qerrors.NotFound("read", path)
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", qerrors.NotFound("read", path)
		}
		return "", qerrors.IO("read", path, err)
	}
	return string(data), nil
}

// Write replaces the file content, creating parent directories as needed.
// The file is either fully written or left untouched.
func (t *Tree) Write(path, content string) error {
	abs := t.abs(path)
	if err := os.MkdirAll(filepath.Dir(abs), dirPerms); err != nil {
		return qerrors.IO("write", path, err)
	}
	if err := atomic.WriteFile(abs, strings.NewReader(content)); err != nil {
		return qerrors.IO("write", path, err)
	}
	if err := os.Chmod(abs, filePerms); err != nil {
		return qerrors.IO("write", path, err)
	}
	return nil
}

// Remove deletes the file and prunes parent directories left empty.
// A missing file is not an error.
func (t *Tree) Remove(path string) error {
	abs := t.abs(path)
	if err := os.Remove(abs); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return qerrors.IO("remove", path, err)
	}
	t.prune(filepath.Dir(abs))
	return nil
}

// Rename moves a file, creating the destination's parent directories.
func (t *Tree) Rename(from, to string) error {
	dst := t.abs(to)
	if err := os.MkdirAll(filepath.Dir(dst), dirPerms); err != nil {
		return qerrors.IO("rename", to, err)
	}
	if err := os.Rename(t.abs(from), dst); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return qerrors.NotFound("rename", from)
		}
		return qerrors.IO("rename", from, err)
	}
	t.prune(filepath.Dir(t.abs(from)))
	return nil
}

func (t *Tree) Stat(path string) (FileInfo, error) {
	info, err := os.Stat(t.abs(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return FileInfo{}, qerrors.NotFound("stat", path)
		}
		return FileInfo{}, qerrors.IO("stat", path, err)
	}
	if !info.Mode().IsRegular() {
		return FileInfo{}, qerrors.NotFound("stat", path)
	}
	return FileInfo{Size: info.Size(), ModTime: info.ModTime()}, nil
}

// prune removes empty directories from dir up to, but excluding, the root.
func (t *Tree) prune(dir string) {
	root := filepath.Clean(t.root)
	for dir != root && strings.HasPrefix(dir, root+string(filepath.Separator)) {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}
