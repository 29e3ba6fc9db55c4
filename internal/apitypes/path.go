package apitypes

import (
	"path/filepath"
	"strings"
)

// ResolveUnderRoot resolves candidate against root and rejects any ".."
// segment, any path (relative or absolute) that lands outside root after
// resolution, and embedded NUL bytes (spec.md §6, Testable Property 10).
func ResolveUnderRoot(root, candidate string) (string, error) {
	if strings.ContainsRune(candidate, 0) {
		return "", Validation("path contains a NUL byte")
	}
	for _, seg := range strings.FieldsFunc(candidate, func(r rune) bool { return r == '/' || r == filepath.Separator }) {
		if seg == ".." {
			return "", Validation("path contains a .. segment")
		}
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", Wrap(TagIO, "resolve project root", err)
	}
	absRoot = filepath.Clean(absRoot)

	var resolved string
	if filepath.IsAbs(candidate) {
		resolved = filepath.Clean(candidate)
	} else {
		resolved = filepath.Clean(filepath.Join(absRoot, candidate))
	}

	if resolved != absRoot && !strings.HasPrefix(resolved, absRoot+string(filepath.Separator)) {
		return "", Validation("path escapes project root")
	}
	return resolved, nil
}
