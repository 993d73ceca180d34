// Package fetch obtains package listings and file texts, from bundled data,
// direct asset stores or the remote host, and memoizes every outcome.
package fetch

import (
	"sync"

	"github.com/Ka0gaMi/vscode-typescript-web/internal/memo"
	"github.com/Ka0gaMi/vscode-typescript-web/internal/models"
)

// Caches are the text- and JSON-level caches. One set is shared by every
// filesystem in the process; see SharedCaches.
type Caches struct {
	// Text maps a registry path to its text. An error means absent.
	Text *memo.Group[string]
	// JSON maps a package specifier to its decoded flat listing.
	JSON *memo.Group[*models.Listing]
}

// NewCaches creates an empty, independent set of caches.
func NewCaches() *Caches {
	return &Caches{
		Text: memo.New[string]("text"),
		JSON: memo.New[*models.Listing]("json"),
	}
}

var (
	sharedOnce   sync.Once
	sharedCaches *Caches
)

// SharedCaches returns the process-wide caches, creating them on first use.
func SharedCaches() *Caches {
	sharedOnce.Do(func() {
		sharedCaches = NewCaches()
	})
	return sharedCaches
}
