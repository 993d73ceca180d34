// Package app wires configuration into the filesystem engine and its RPC
// connection. Both binaries build on it.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Ka0gaMi/vscode-typescript-web/internal/assets"
	"github.com/Ka0gaMi/vscode-typescript-web/internal/broadcast"
	"github.com/Ka0gaMi/vscode-typescript-web/internal/cdn"
	"github.com/Ka0gaMi/vscode-typescript-web/internal/config"
	"github.com/Ka0gaMi/vscode-typescript-web/internal/fetch"
	"github.com/Ka0gaMi/vscode-typescript-web/internal/host"
	"github.com/Ka0gaMi/vscode-typescript-web/internal/logging"
	"github.com/Ka0gaMi/vscode-typescript-web/internal/pkgpath"
	"github.com/Ka0gaMi/vscode-typescript-web/internal/retry"
	"github.com/Ka0gaMi/vscode-typescript-web/internal/rpc"
	"github.com/Ka0gaMi/vscode-typescript-web/internal/versions"
	"github.com/Ka0gaMi/vscode-typescript-web/internal/vfs"
)

// HostEndpoint is the endpoint id the host joins its channel with.
const HostEndpoint = "host"

// NewCDNClient builds the registry CDN client from cfg.
func NewCDNClient(cfg *config.Config) *cdn.Client {
	rc := retry.DefaultConfig()
	if cfg.CDNRetries > 0 {
		rc.MaxAttempts = cfg.CDNRetries
	}
	return cdn.New(cdn.Config{
		DataURL:     cfg.CDNDataURL,
		FileURL:     cfg.CDNFileURL,
		Timeout:     cfg.CDNTimeout,
		RetryConfig: rc,
	})
}

// Conn is the filesystem's RPC connection.
type Conn struct {
	Channel *rpc.Channel
	host    *rpc.Channel
}

// Close tears down the connection and, for an embedded host, the host.
func (c *Conn) Close() error {
	err := c.Channel.Close()
	if c.host != nil {
		c.host.Close()
	}
	return err
}

// Connect joins the configured channel. With EmbeddedHost the host functions
// run in-process over an in-memory hub; otherwise the channel is reached
// through the relay at RelayURL.
func Connect(ctx context.Context, cfg *config.Config) (*Conn, error) {
	if cfg.EmbeddedHost {
		hub := broadcast.NewHub()
		hostCh := rpc.New(hub.JoinWithID(cfg.ChannelID, HostEndpoint), rpc.Options{
			Timeout:     cfg.RPCTimeout,
			Broadcaster: HostEndpoint,
		})
		host.Register(hostCh, NewCDNClient(cfg))

		client := rpc.New(hub.Join(cfg.ChannelID), rpc.Options{
			Timeout:       cfg.RPCTimeout,
			IgnoreUnknown: true,
		})
		logging.Info("using embedded host", zap.String("channel", cfg.ChannelID))
		return &Conn{Channel: client, host: hostCh}, nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.RPCTimeout)
	defer cancel()
	remote, err := broadcast.Dial(dialCtx, cfg.RelayURL, cfg.ChannelID)
	if err != nil {
		return nil, err
	}
	client := rpc.New(remote, rpc.Options{
		Timeout:       cfg.RPCTimeout,
		IgnoreUnknown: true,
	})
	return &Conn{Channel: client}, nil
}

// NewEngine assembles the filesystem engine: bundled listings and library
// assets first, everything else over caller.
func NewEngine(ctx context.Context, cfg *config.Config, caller rpc.Caller) (*vfs.Engine, error) {
	listings, err := assets.LoadListings(cfg.ListingsFile)
	if err != nil {
		return nil, err
	}

	var store assets.Store
	if cfg.AssetBaseURL != "" {
		store, err = assets.Open(ctx, cfg.AssetBaseURL, assets.S3Options{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		}, cfg.CDNTimeout)
		if err != nil {
			return nil, fmt.Errorf("open asset store: %w", err)
		}
	}

	recorder, err := versions.LoadRecorder(cfg.ProjectManifest)
	if err != nil {
		return nil, err
	}

	remote := fetch.NewRPCSource(caller)
	shared := fetch.SharedCaches()
	engine := vfs.New(vfs.Options{
		Mapper:    vfs.RootMapper(cfg.RootSegment),
		Resolver:  &pkgpath.Resolver{OnMissingVersion: recorder.Lookup},
		Manifests: fetch.NewManifests(listings, remote, shared),
		Contents: fetch.NewContents(fetch.ContentsOptions{
			Library: assets.NewLibrary(cfg.LibraryPackage, cfg.LibraryDir, cfg.AssetPrefix),
			Store:   store,
			Remote:  remote,
			Shared:  shared,
		}),
	})

	logging.Info("filesystem engine ready",
		zap.String("root", cfg.RootSegment),
		zap.Int("bundled_listings", len(listings)),
		zap.Bool("asset_store", store != nil))
	return engine, nil
}

// OpTimeout bounds one filesystem operation: long enough for the RPC round
// trips a cold stat can need.
func OpTimeout(cfg *config.Config) time.Duration {
	return 3 * cfg.RPCTimeout
}
