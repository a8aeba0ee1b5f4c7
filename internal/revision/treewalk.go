package revision

import (
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
)

// Predicate selects file paths during a tree walk.
type Predicate func(path string) bool

// HasSuffix matches paths ending in suffix.
func HasSuffix(suffix string) Predicate {
	return func(path string) bool {
		return strings.HasSuffix(path, suffix)
	}
}

// All matches every file.
func All(string) bool {
	return true
}

// Walk descends a snapshot tree and collects the slash-joined paths of the
// blobs that match. Only tree and blob entries are followed; symlinks and
// submodules are skipped. The caller holds whatever lock guards s.
func Walk(s storer.EncodedObjectStorer, tree *object.Tree, match Predicate) ([]string, error) {
	var paths []string
	if err := walkTree(s, tree, "", match, &paths); err != nil {
		return nil, err
	}
	return paths, nil
}

func walkTree(s storer.EncodedObjectStorer, tree *object.Tree, prefix string, match Predicate, paths *[]string) error {
	for _, entry := range tree.Entries {
		path := entry.Name
		if prefix != "" {
			path = prefix + "/" + entry.Name
		}

		switch entry.Mode {
		case filemode.Dir:
			sub, err := object.GetTree(s, entry.Hash)
			if err != nil {
				return fmt.Errorf("reading tree %s: %w", path, err)
			}
			if err := walkTree(s, sub, path, match, paths); err != nil {
				return err
			}
		case filemode.Regular, filemode.Executable, filemode.Deprecated:
			if match(path) {
				*paths = append(*paths, path)
			}
		}
	}
	return nil
}
