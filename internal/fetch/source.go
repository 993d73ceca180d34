package fetch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Ka0gaMi/vscode-typescript-web/internal/models"
	"github.com/Ka0gaMi/vscode-typescript-web/internal/protocol"
	"github.com/Ka0gaMi/vscode-typescript-web/internal/rpc"
)

// ListingSource produces flat listings for package specifiers.
type ListingSource interface {
	Listing(ctx context.Context, spec string) (*models.Listing, error)
}

// TextSource produces file texts for registry paths.
type TextSource interface {
	Text(ctx context.Context, path string) (string, error)
}

// RPCSource calls the host's getFlatListing and getFileText functions.
type RPCSource struct {
	caller rpc.Caller
}

var (
	_ ListingSource = (*RPCSource)(nil)
	_ TextSource    = (*RPCSource)(nil)
)

// NewRPCSource creates a source that calls through caller.
func NewRPCSource(caller rpc.Caller) *RPCSource {
	return &RPCSource{caller: caller}
}

// Listing calls getFlatListing with spec and decodes the JSON reply.
func (s *RPCSource) Listing(ctx context.Context, spec string) (*models.Listing, error) {
	out, err := s.caller.Call(ctx, protocol.FuncGetFlatListing, spec)
	if err != nil {
		return nil, err
	}
	var listing models.Listing
	if err := json.Unmarshal([]byte(out), &listing); err != nil {
		return nil, fmt.Errorf("decode listing for %s: %w", spec, err)
	}
	return &listing, nil
}

// Text calls getFileText with path.
func (s *RPCSource) Text(ctx context.Context, path string) (string, error) {
	return s.caller.Call(ctx, protocol.FuncGetFileText, path)
}
