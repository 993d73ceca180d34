package vfs

import "strings"

// Mapper translates an external address into an internal registry path.
// ok is false for addresses outside the filesystem.
type Mapper func(uri string) (path string, ok bool)

// DefaultRoot is the root segment used by RootMapper when none is given.
const DefaultRoot = "/node_modules"

// RootMapper buckets addresses under root: root itself maps to "", and
// root/x maps to x. Everything else is outside the filesystem.
func RootMapper(root string) Mapper {
	root = strings.TrimSuffix(root, "/")
	if root == "" {
		root = DefaultRoot
	}
	return func(uri string) (string, bool) {
		if uri == root {
			return "", true
		}
		rest, ok := strings.CutPrefix(uri, root+"/")
		if !ok {
			return "", false
		}
		return rest, true
	}
}
