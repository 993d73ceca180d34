// Package assets provides the bundled data sources: precomputed flat
// listings for well-known packages and direct stores for library files.
package assets

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/Ka0gaMi/vscode-typescript-web/internal/models"
)

// Listings maps package specifiers to precomputed flat listings.
type Listings map[string]models.Listing

// LoadListings reads a JSON object of specifier to listing. An empty path
// yields no listings.
func LoadListings(path string) (Listings, error) {
	if path == "" {
		return Listings{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read listings %s: %w", path, err)
	}
	var l Listings
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("parse listings %s: %w", path, err)
	}
	return l, nil
}

// Lookup returns the bundled listing for spec.
func (l Listings) Lookup(spec string) ([]models.FileEntry, bool) {
	listing, ok := l[spec]
	if !ok {
		return nil, false
	}
	return listing.Files, true
}
