package ggpk

import "strings"

// NormalizePath converts a user-provided pack path to fs.ValidPath format.
//
// It performs the following transformations:
//   - Converts backslashes to slashes: `Art\2DArt` → "Art/2DArt"
//   - Strips leading and trailing slashes: "/Art/" → "Art"
//   - Collapses consecutive slashes: "Art//a.dds" → "Art/a.dds"
//   - Converts empty string and "/" to root: "" → "."
//
// Paths containing "." or ".." elements are preserved and will be rejected
// by Pack methods via fs.ValidPath.
func NormalizePath(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	p = strings.Trim(p, "/")
	if p == "" {
		return "."
	}

	parts := strings.Split(p, "/")
	result := parts[:0]
	for _, part := range parts {
		if part != "" {
			result = append(result, part)
		}
	}
	if len(result) == 0 {
		return "."
	}
	return strings.Join(result, "/")
}

// treePath converts a valid fs path to the form the index resolves, where
// the root is the empty string.
func treePath(name string) string {
	if name == "." {
		return ""
	}
	return name
}
