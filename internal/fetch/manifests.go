package fetch

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Ka0gaMi/vscode-typescript-web/internal/assets"
	"github.com/Ka0gaMi/vscode-typescript-web/internal/logging"
	"github.com/Ka0gaMi/vscode-typescript-web/internal/memo"
	"github.com/Ka0gaMi/vscode-typescript-web/internal/metrics"
	"github.com/Ka0gaMi/vscode-typescript-web/internal/models"
)

// Manifests serves flat listings. Bundled listings win over the remote
// source. Each instance memoizes listings for its own lifetime; decoded
// remote listings also land in the shared JSON cache.
type Manifests struct {
	bundled assets.Listings
	remote  ListingSource
	shared  *Caches
	cache   *memo.Group[[]models.FileEntry]
	log     *zap.Logger
}

// NewManifests creates a fetcher. A nil shared uses SharedCaches.
func NewManifests(bundled assets.Listings, remote ListingSource, shared *Caches) *Manifests {
	if shared == nil {
		shared = SharedCaches()
	}
	return &Manifests{
		bundled: bundled,
		remote:  remote,
		shared:  shared,
		cache:   memo.New[[]models.FileEntry]("listing"),
		log:     logging.Named("manifests"),
	}
}

// GetListing returns the files of spec. Failures and unknown packages yield
// an empty listing; the outcome is memoized either way.
func (m *Manifests) GetListing(ctx context.Context, spec string) []models.FileEntry {
	files, err := m.cache.Do(ctx, spec, func(ctx context.Context) ([]models.FileEntry, error) {
		return m.load(ctx, spec)
	})
	if err != nil {
		return nil
	}
	return files
}

// Fetches returns the number of distinct specifiers requested so far.
func (m *Manifests) Fetches() int {
	return m.cache.Len()
}

func (m *Manifests) load(ctx context.Context, spec string) ([]models.FileEntry, error) {
	if files, ok := m.bundled.Lookup(spec); ok {
		metrics.RecordFetch("listing", "bundled", 0, true)
		return files, nil
	}
	if m.remote == nil {
		return nil, nil
	}

	listing, err := m.shared.JSON.Do(ctx, spec, func(ctx context.Context) (*models.Listing, error) {
		start := time.Now()
		l, err := m.remote.Listing(ctx, spec)
		metrics.RecordFetch("listing", "remote", time.Since(start), err == nil)
		return l, err
	})
	if err != nil {
		m.log.Debug("listing unavailable", zap.String("package", spec), zap.Error(err))
		return nil, err
	}
	if listing == nil {
		return nil, nil
	}
	return listing.Files, nil
}
