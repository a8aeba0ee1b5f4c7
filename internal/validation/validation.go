package validation

import (
	"path"
	"strings"

	"quire/internal/errors"
)

// Path cleans a caller supplied document path and rejects anything that
// could leave the store root or reach into the repository metadata.
func Path(p string) (string, error) {
	p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	if p == "" {
		return "", errors.Validation("validate", p, "path is required")
	}
	if strings.HasPrefix(p, "/") {
		return "", errors.Validation("validate", p, "path must be relative")
	}

	cleaned := path.Clean(p)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.Validation("validate", p, "path escapes the repository root")
	}
	for _, part := range strings.Split(cleaned, "/") {
		if part == ".git" {
			return "", errors.Validation("validate", p, "path points into the repository database")
		}
	}
	return cleaned, nil
}

// Revision accepts an empty revision (meaning the working tree) or any
// single-token revision expression.
func Revision(rev string) (string, error) {
	rev = strings.TrimSpace(rev)
	if strings.ContainsAny(rev, " \t\n") {
		return "", errors.Validation("validate", rev, "revision must not contain whitespace")
	}
	return rev, nil
}
