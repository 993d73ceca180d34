// cdnfs client
//
// Presents npm packages from the registry CDN as a read-only node_modules
// tree.
//
// Sub-commands:
//
//	cdnfs mount <dir>     Mount the tree with FUSE
//	cdnfs serve           Serve the tree over WebDAV
//	cdnfs stat <path>     Describe one path
//	cdnfs cat <path>      Print a file
//	cdnfs ls <path>       List a directory
//
// Paths are addresses below the root segment, e.g. /node_modules/lodash/fp.js.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/Ka0gaMi/vscode-typescript-web/internal/app"
	"github.com/Ka0gaMi/vscode-typescript-web/internal/config"
	"github.com/Ka0gaMi/vscode-typescript-web/internal/fuse"
	"github.com/Ka0gaMi/vscode-typescript-web/internal/logging"
	"github.com/Ka0gaMi/vscode-typescript-web/internal/metrics"
	"github.com/Ka0gaMi/vscode-typescript-web/internal/models"
	"github.com/Ka0gaMi/vscode-typescript-web/internal/vfs"
	"github.com/Ka0gaMi/vscode-typescript-web/internal/webdav"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: configuration: %v\n", err)
		os.Exit(1)
	}

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "mount":
		err = cmdMount(cfg, args)
	case "serve":
		err = cmdServe(cfg, args)
	case "stat", "cat", "ls":
		err = cmdQuery(cfg, cmd, args)
	case "help", "-h", "--help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n", cmd)
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: cdnfs <command> [flags]

Commands:
  mount <dir>    mount the package tree with FUSE
  serve          serve the package tree over WebDAV
  stat <path>    describe a path
  cat <path>     print a file
  ls <path>      list a directory

Run 'cdnfs <command> --help' for command flags.`)
}

// commonFlags registers the flags every command shares.
func commonFlags(fs *pflag.FlagSet, cfg *config.Config) {
	fs.BoolVar(&cfg.EmbeddedHost, "embedded-host", cfg.EmbeddedHost, "serve host functions in-process instead of joining a relay")
	fs.StringVar(&cfg.RelayURL, "relay", cfg.RelayURL, "relay base URL")
	fs.StringVar(&cfg.ChannelID, "channel", cfg.ChannelID, "broadcast channel")
	fs.StringVar(&cfg.RootSegment, "root", cfg.RootSegment, "address root segment")
	fs.StringVar(&cfg.ProjectManifest, "project", cfg.ProjectManifest, "package.json whose dependency versions are recorded")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
}

// session is an engine together with the connection it calls through.
type session struct {
	engine *vfs.Engine
	conn   *app.Conn
}

func (s *session) Close() {
	s.conn.Close()
}

func start(ctx context.Context, cfg *config.Config, logOutput string) (*session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := logging.Init(logging.Config{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		OutputPath: logOutput,
	}); err != nil {
		return nil, fmt.Errorf("logging init: %w", err)
	}

	conn, err := app.Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	engine, err := app.NewEngine(ctx, cfg, conn.Channel)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &session{engine: engine, conn: conn}, nil
}

func cmdMount(cfg *config.Config, args []string) error {
	fs := pflag.NewFlagSet("mount", pflag.ExitOnError)
	commonFlags(fs, cfg)
	allowOther := fs.Bool("allow-other", false, "allow other users to access the mount")
	debug := fs.Bool("fuse-debug", false, "log every FUSE request")
	fs.Parse(args)

	if fs.NArg() != 1 {
		return fmt.Errorf("mount needs exactly one mount point")
	}
	mountPoint := fs.Arg(0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := start(ctx, cfg, "")
	if err != nil {
		return err
	}
	defer s.Close()
	defer logging.Sync()

	cdnfs := fuse.New(s.engine, fuse.Config{
		Root:       cfg.RootSegment,
		Timeout:    app.OpTimeout(cfg),
		AllowOther: *allowOther,
		Debug:      *debug,
	})
	server, err := cdnfs.Mount(mountPoint)
	if err != nil {
		return err
	}

	logging.Info("filesystem mounted, press Ctrl+C to unmount",
		zap.String("mount_point", mountPoint))

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("unmounting...")
		if err := server.Unmount(); err != nil {
			logging.Error("unmount failed", zap.Error(err))
		}
	}()

	server.Wait()
	return nil
}

func cmdServe(cfg *config.Config, args []string) error {
	fs := pflag.NewFlagSet("serve", pflag.ExitOnError)
	commonFlags(fs, cfg)
	fs.StringVar(&cfg.DAVAddr, "listen", cfg.DAVAddr, "WebDAV listen address")
	fs.Parse(args)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := start(ctx, cfg, "")
	if err != nil {
		return err
	}
	defer s.Close()
	defer logging.Sync()

	mux := http.NewServeMux()
	mux.Handle(webdav.Prefix+"/", webdav.NewHandler(s.engine, cfg.RootSegment))
	mux.Handle("/metrics", metrics.Handler())

	httpServer := &http.Server{
		Addr:              cfg.DAVAddr,
		Handler:           logging.Middleware(metrics.Middleware(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	logging.Info("WebDAV listening",
		zap.String("addr", cfg.DAVAddr),
		zap.String("prefix", webdav.Prefix))
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func cmdQuery(cfg *config.Config, cmd string, args []string) error {
	fs := pflag.NewFlagSet(cmd, pflag.ExitOnError)
	commonFlags(fs, cfg)
	fs.Parse(args)

	if fs.NArg() != 1 {
		return fmt.Errorf("%s needs exactly one path", cmd)
	}
	uri := fs.Arg(0)
	if !strings.HasPrefix(uri, "/") {
		uri = strings.TrimSuffix(cfg.RootSegment, "/") + "/" + uri
	}

	// Queries keep stdout for results.
	if cfg.LogLevel == config.Defaults().LogLevel {
		cfg.LogLevel = "warn"
	}
	cfg.LogFormat = "console"

	ctx, cancel := context.WithTimeout(context.Background(), app.OpTimeout(cfg))
	defer cancel()

	s, err := start(ctx, cfg, "stderr")
	if err != nil {
		return err
	}
	defer s.Close()
	defer logging.Sync()

	switch cmd {
	case "stat":
		st := s.engine.Stat(ctx, uri)
		if st == nil {
			return fmt.Errorf("%s: no such file or directory", uri)
		}
		printStat(uri, st)
	case "cat":
		text, ok := s.engine.ReadFile(ctx, uri)
		if !ok {
			return fmt.Errorf("%s: no such file", uri)
		}
		fmt.Print(text)
	case "ls":
		entries := s.engine.ReadDirectory(ctx, uri)
		if len(entries) == 0 && !s.engine.Stat(ctx, uri).IsDir() {
			return fmt.Errorf("%s: no such directory", uri)
		}
		for _, e := range entries {
			if e.Type == models.TypeDirectory {
				fmt.Println(e.Name + "/")
			} else {
				fmt.Println(e.Name)
			}
		}
	}
	return nil
}

func printStat(uri string, st *models.FileStat) {
	fmt.Printf("%s\n  type:  %s\n", uri, st.Type)
	if st.IsFile() {
		fmt.Printf("  size:  %d\n  mtime: %s\n", st.Size, st.Mtime.Format(time.RFC3339))
	}
}
