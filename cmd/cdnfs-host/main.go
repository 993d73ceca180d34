// cdnfs host
//
// Serves the broadcast relay that filesystem clients join, and answers their
// getFlatListing and getFileText calls from the registry CDN.
//
//	cdnfs-host [--listen :8080] [--metrics :9090] [--channel cdnfs]
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/Ka0gaMi/vscode-typescript-web/internal/app"
	"github.com/Ka0gaMi/vscode-typescript-web/internal/broadcast"
	"github.com/Ka0gaMi/vscode-typescript-web/internal/config"
	"github.com/Ka0gaMi/vscode-typescript-web/internal/host"
	"github.com/Ka0gaMi/vscode-typescript-web/internal/logging"
	"github.com/Ka0gaMi/vscode-typescript-web/internal/metrics"
	"github.com/Ka0gaMi/vscode-typescript-web/internal/rpc"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	pflag.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "relay listen address")
	pflag.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "metrics listen address")
	pflag.StringVar(&cfg.ChannelID, "channel", cfg.ChannelID, "broadcast channel to serve")
	pflag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	pflag.Parse()

	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("cdnfs host starting",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr),
		zap.String("channel", cfg.ChannelID),
		zap.String("cdn", cfg.CDNDataURL))

	hub := broadcast.NewHub()
	hostCh := rpc.New(hub.JoinWithID(cfg.ChannelID, app.HostEndpoint), rpc.Options{
		Timeout:     cfg.RPCTimeout,
		Broadcaster: app.HostEndpoint,
	})
	defer hostCh.Close()
	host.Register(hostCh, app.NewCDNClient(cfg))

	mux := http.NewServeMux()
	mux.Handle("/channels/", broadcast.NewRelay(hub).Handler())
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"channel":   cfg.ChannelID,
			"endpoints": hub.Count(cfg.ChannelID),
		})
	})

	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           logging.Middleware(metrics.Middleware(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		// Event streams never finish on their own.
		if err := httpServer.Shutdown(ctx); err != nil {
			httpServer.Close()
		}
		metricsServer.Close()
	}()

	logging.Info("relay listening", zap.String("addr", cfg.ListenAddr))
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logging.Fatal("server error", zap.Error(err))
	}
}
