package lockstore

import (
	"path/filepath"
	"strings"
)

// NormalizeResource converts a resource path to its canonical project-relative
// forward-slash form, so a lock acquired with an absolute path and released
// with a relative one (or vice versa) still matches. Non-path logical names
// pass through unchanged.
func NormalizeResource(projectRoot, resource string) string {
	resource = strings.TrimSpace(resource)
	if resource == "" {
		return resource
	}

	cleaned := filepath.Clean(resource)
	if filepath.IsAbs(cleaned) && projectRoot != "" {
		root := filepath.Clean(projectRoot)
		if rel, err := filepath.Rel(root, cleaned); err == nil && !strings.HasPrefix(rel, "..") {
			cleaned = rel
		}
	}

	key := filepath.ToSlash(cleaned)
	key = strings.TrimPrefix(key, "./")
	return key
}
