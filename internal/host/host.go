// Package host serves the filesystem's remote functions from a CDN client.
package host

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Ka0gaMi/vscode-typescript-web/internal/logging"
	"github.com/Ka0gaMi/vscode-typescript-web/internal/metrics"
	"github.com/Ka0gaMi/vscode-typescript-web/internal/models"
	"github.com/Ka0gaMi/vscode-typescript-web/internal/protocol"
	"github.com/Ka0gaMi/vscode-typescript-web/internal/rpc"
)

// Registry accepts function handlers; *rpc.Channel implements it.
type Registry interface {
	Register(name string, h rpc.Handler)
}

// Source is the network side of the host; *cdn.Client implements it.
type Source interface {
	FlatListing(ctx context.Context, spec string) (*models.Listing, error)
	FileText(ctx context.Context, path string) (string, error)
}

// Register serves getFlatListing and getFileText from src.
func Register(r Registry, src Source) {
	log := logging.Named("host")

	r.Register(protocol.FuncGetFlatListing, func(ctx context.Context, spec string) (string, error) {
		start := time.Now()
		listing, err := src.FlatListing(ctx, spec)
		metrics.RecordFetch("listing", "cdn", time.Since(start), err == nil)
		if err != nil {
			log.Debug("flat listing failed", zap.String("package", spec), zap.Error(err))
			return "", err
		}
		data, err := json.Marshal(listing)
		if err != nil {
			return "", fmt.Errorf("encode listing: %w", err)
		}
		return string(data), nil
	})

	r.Register(protocol.FuncGetFileText, func(ctx context.Context, path string) (string, error) {
		start := time.Now()
		text, err := src.FileText(ctx, path)
		metrics.RecordFetch("text", "cdn", time.Since(start), err == nil)
		if err != nil {
			log.Debug("file text failed", zap.String("path", path), zap.Error(err))
			return "", err
		}
		return text, nil
	})
}
