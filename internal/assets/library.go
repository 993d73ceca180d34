package assets

import "strings"

// Library maps registry paths inside one package's library directory to
// asset-relative paths, e.g. "typescript/lib/lib.es5.d.ts" to
// "node_modules/typescript/lib/lib.es5.d.ts".
type Library struct {
	// Prefix is the registry path prefix, e.g. "typescript/lib/".
	Prefix string
	// AssetPrefix replaces Prefix in the asset path.
	AssetPrefix string
}

// NewLibrary builds a mapping for the dir directory of pkg.
func NewLibrary(pkg, dir, assetPrefix string) Library {
	prefix := strings.Trim(pkg, "/") + "/" + strings.Trim(dir, "/") + "/"
	if assetPrefix != "" && !strings.HasSuffix(assetPrefix, "/") {
		assetPrefix += "/"
	}
	return Library{Prefix: prefix, AssetPrefix: assetPrefix}
}

// Rewrite returns the asset path for path, or false when path is outside
// the library directory.
func (l Library) Rewrite(path string) (string, bool) {
	if l.Prefix == "" {
		return "", false
	}
	rest, ok := strings.CutPrefix(path, l.Prefix)
	if !ok || rest == "" {
		return "", false
	}
	return l.AssetPrefix + rest, true
}
