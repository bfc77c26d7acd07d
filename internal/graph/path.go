package graph

import "strings"

// RootPath is the location of the implicit root node.
const RootPath = "/"

// Split validates a path and returns its segments.
//
// Paths are absolute, slash separated and have no empty, "." or ".."
// segments. The root path has no segments.
func Split(path string) ([]string, error) {
	if path == RootPath {
		return nil, nil
	}
	if !strings.HasPrefix(path, "/") {
		return nil, errInvalidPath(path, "path must be absolute")
	}
	segs := strings.Split(path[1:], "/")
	for _, seg := range segs {
		switch seg {
		case "":
			return nil, errInvalidPath(path, "empty path segment")
		case ".", "..":
			return nil, errInvalidPath(path, "relative path segment")
		}
	}
	return segs, nil
}

// Join appends relative segments to a base path. rel may be empty, in
// which case base is returned unchanged.
func Join(base, rel string) string {
	rel = strings.Trim(rel, "/")
	if rel == "" {
		return base
	}
	if base == RootPath {
		return "/" + rel
	}
	return base + "/" + rel
}

// Parent returns the parent location, or "" for the root.
func Parent(path string) string {
	if path == RootPath || path == "" {
		return ""
	}
	i := strings.LastIndexByte(path, '/')
	if i == 0 {
		return RootPath
	}
	return path[:i]
}

// Base returns the last segment of a path.
func Base(path string) string {
	return path[strings.LastIndexByte(path, '/')+1:]
}

// IsWithin reports whether path equals ancestor or lies beneath it.
func IsWithin(path, ancestor string) bool {
	if ancestor == RootPath || path == ancestor {
		return true
	}
	return strings.HasPrefix(path, ancestor+"/")
}
