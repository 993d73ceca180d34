// Package pkgpath splits registry paths such as "@scope/name@1.2.3/lib/a.js"
// into a package identity and a package-relative sub-path.
package pkgpath

import (
	"context"
	"strings"
)

// Components is the parsed form of a registry path.
type Components struct {
	// ModuleToken is the first segment, or the first two when scoped.
	ModuleToken string
	// PackageName is ModuleToken without its "@version" suffix. Valid only
	// when HasPackage is set.
	PackageName string
	// HasPackage is false for empty input and for a bare scope such as "@types".
	HasPackage bool
	// Version is the explicit version, or "" when the path has none.
	Version string
	// SubPath is everything after the module token, without a leading slash.
	SubPath string
}

// IsBareScope reports whether the path names only a scope, e.g. "@types".
func (c Components) IsBareScope() bool {
	return !c.HasPackage && strings.HasPrefix(c.ModuleToken, "@")
}

// Specifier returns the package name with "@version" appended when the path
// carried an explicit version.
func (c Components) Specifier() string {
	if c.Version == "" {
		return c.PackageName
	}
	return c.PackageName + "@" + c.Version
}

// VersionFunc is notified of packages addressed without an explicit version.
// Its result does not affect resolution.
type VersionFunc func(ctx context.Context, packageName string) string

// Resolver parses registry paths.
type Resolver struct {
	// OnMissingVersion, when set, is invoked for paths without a version.
	OnMissingVersion VersionFunc
}

// Resolve parses path. It never fails; see Components.HasPackage.
func (r *Resolver) Resolve(ctx context.Context, path string) Components {
	c := split(path)
	if c.HasPackage && c.Version == "" && r != nil && r.OnMissingVersion != nil {
		_ = r.OnMissingVersion(ctx, c.PackageName)
	}
	return c
}

// Resolve parses path without version discovery.
func Resolve(path string) Components {
	return split(path)
}

func split(path string) Components {
	var c Components
	if path == "" {
		return c
	}

	first, rest, _ := strings.Cut(path, "/")
	if first == "" {
		// Leading or doubled slash: no package segment.
		return c
	}
	c.ModuleToken = first
	c.SubPath = rest

	if strings.HasPrefix(first, "@") {
		second, after, _ := strings.Cut(rest, "/")
		if second == "" {
			// Bare scope: nothing to name a package with yet.
			c.SubPath = after
			return c
		}
		c.ModuleToken = first + "/" + second
		c.SubPath = after
	}

	c.HasPackage = true
	c.PackageName = c.ModuleToken
	if i := strings.LastIndex(c.ModuleToken, "@"); i >= 1 {
		c.PackageName = c.ModuleToken[:i]
		c.Version = c.ModuleToken[i+1:]
	}
	return c
}
