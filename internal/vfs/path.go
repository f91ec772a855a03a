package vfs

import "strings"

// SplitPath returns the non-empty segments of p. Repeated, leading and
// trailing separators are ignored, so "/", "" and "//" all yield nil.
func SplitPath(p string) []string {
	var segs []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}

// ParentOf returns the path of the directory containing p.
// The parent of the root is the root.
func ParentOf(p string) string {
	segs := SplitPath(p)
	if len(segs) <= 1 {
		return "/"
	}
	return "/" + strings.Join(segs[:len(segs)-1], "/")
}

// LastComponent returns the final segment of p, or "" for the root.
func LastComponent(p string) string {
	segs := SplitPath(p)
	if len(segs) == 0 {
		return ""
	}
	return segs[len(segs)-1]
}
