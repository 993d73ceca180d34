package fetch

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/Ka0gaMi/vscode-typescript-web/internal/assets"
	"github.com/Ka0gaMi/vscode-typescript-web/internal/logging"
	"github.com/Ka0gaMi/vscode-typescript-web/internal/metrics"
)

var errNoSource = errors.New("no source for path")

// ContentsOptions configures a Contents fetcher.
type ContentsOptions struct {
	// Library routes one package's library directory to Store.
	Library assets.Library
	// Store serves library files. Nil sends them to Remote like any path.
	Store assets.Store
	// Remote serves every other path.
	Remote TextSource
	// Shared caches; nil uses SharedCaches.
	Shared *Caches
}

// Contents serves file texts, memoized per exact path in the shared text
// cache.
type Contents struct {
	library assets.Library
	store   assets.Store
	remote  TextSource
	shared  *Caches
	log     *zap.Logger
}

// NewContents creates a fetcher.
func NewContents(opts ContentsOptions) *Contents {
	if opts.Shared == nil {
		opts.Shared = SharedCaches()
	}
	return &Contents{
		library: opts.Library,
		store:   opts.Store,
		remote:  opts.Remote,
		shared:  opts.Shared,
		log:     logging.Named("contents"),
	}
}

// GetText returns the text at path, or false when it cannot be obtained.
func (c *Contents) GetText(ctx context.Context, path string) (string, bool) {
	text, err := c.shared.Text.Do(ctx, path, func(ctx context.Context) (string, error) {
		return c.load(ctx, path)
	})
	if err != nil {
		return "", false
	}
	return text, true
}

func (c *Contents) load(ctx context.Context, path string) (string, error) {
	start := time.Now()
	source := "remote"

	var text string
	var err error
	if rel, ok := c.library.Rewrite(path); ok && c.store != nil {
		source = "asset"
		text, err = c.store.Get(ctx, rel)
	} else if c.remote != nil {
		text, err = c.remote.Text(ctx, path)
	} else {
		err = errNoSource
	}

	metrics.RecordFetch("text", source, time.Since(start), err == nil)
	if err != nil {
		c.log.Debug("text unavailable",
			zap.String("path", path),
			zap.String("source", source),
			zap.Error(err))
	}
	return text, err
}
