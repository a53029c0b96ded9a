package kbfile

import (
	"path/filepath"
	"strings"
)

// TopicsPath resolves the relative path of a note under topics/ given its
// category, optional subcategory, and file name. Category and subcategory
// are slugified so the layout invariant (every file sits under a known
// category directory or the root of topics/) always holds regardless of
// what text the agent supplied.
func TopicsPath(category, subcategory, fileName string) string {
	parts := []string{"topics"}
	if c := Slugify(category); c != "" && c != "untitled" {
		parts = append(parts, c)
	}
	if s := Slugify(subcategory); s != "" && s != "untitled" {
		parts = append(parts, s)
	}
	parts = append(parts, fileName)
	return filepath.Join(parts...)
}

// CategoryFromPath extracts the category/subcategory implied by a path
// already rooted at topics/, returning empty strings if the file sits at
// the topics/ root.
func CategoryFromPath(relPath string) (category, subcategory string) {
	cleaned := filepath.ToSlash(filepath.Clean(relPath))
	cleaned = strings.TrimPrefix(cleaned, "topics/")
	segments := strings.Split(cleaned, "/")
	if len(segments) <= 1 {
		return "", ""
	}
	if len(segments) == 2 {
		return segments[0], ""
	}
	return segments[0], segments[1]
}
