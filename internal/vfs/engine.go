// Package vfs is the read-only package filesystem: it resolves registry
// paths, gates packages through the validator and answers stat, readFile
// and readDirectory from package listings and file texts.
package vfs

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/Ka0gaMi/vscode-typescript-web/internal/logging"
	"github.com/Ka0gaMi/vscode-typescript-web/internal/memo"
	"github.com/Ka0gaMi/vscode-typescript-web/internal/metrics"
	"github.com/Ka0gaMi/vscode-typescript-web/internal/models"
	"github.com/Ka0gaMi/vscode-typescript-web/internal/pkgpath"
	"github.com/Ka0gaMi/vscode-typescript-web/internal/validate"
)

var errAbsent = errors.New("absent")

// ListingGetter serves package listings; *fetch.Manifests implements it.
type ListingGetter interface {
	GetListing(ctx context.Context, spec string) []models.FileEntry
}

// TextGetter serves file texts; *fetch.Contents implements it.
type TextGetter interface {
	GetText(ctx context.Context, path string) (string, bool)
}

// Options configures an Engine.
type Options struct {
	// Mapper translates addresses. Defaults to RootMapper(DefaultRoot).
	Mapper Mapper
	// Resolver parses paths. Defaults to a resolver without version
	// discovery.
	Resolver *pkgpath.Resolver
	// Manifests and Contents are required.
	Manifests ListingGetter
	Contents  TextGetter
}

// Engine implements the filesystem operations.
type Engine struct {
	mapper    Mapper
	resolver  *pkgpath.Resolver
	manifests ListingGetter
	contents  TextGetter
	validator *validate.Validator
	files     *memo.Group[string]
	log       *zap.Logger
}

var _ validate.Reader = (*Engine)(nil)

// New creates an engine.
func New(opts Options) *Engine {
	if opts.Mapper == nil {
		opts.Mapper = RootMapper(DefaultRoot)
	}
	if opts.Resolver == nil {
		opts.Resolver = &pkgpath.Resolver{}
	}
	e := &Engine{
		mapper:    opts.Mapper,
		resolver:  opts.Resolver,
		manifests: opts.Manifests,
		contents:  opts.Contents,
		files:     memo.New[string]("readfile"),
		log:       logging.Named("vfs"),
	}
	e.validator = validate.New(e)
	return e
}

// Stat describes the file or directory at uri, or returns nil.
func (e *Engine) Stat(ctx context.Context, uri string) *models.FileStat {
	path, ok := e.mapper(uri)
	if !ok {
		metrics.RecordVFSOperation("stat", "unmapped")
		return nil
	}
	return e.StatPath(ctx, path)
}

// ReadFile returns the text of the file at uri.
func (e *Engine) ReadFile(ctx context.Context, uri string) (string, bool) {
	path, ok := e.mapper(uri)
	if !ok {
		metrics.RecordVFSOperation("read_file", "unmapped")
		return "", false
	}
	return e.ReadFilePath(ctx, path)
}

// ReadDirectory lists the directory at uri.
func (e *Engine) ReadDirectory(ctx context.Context, uri string) []models.DirEntry {
	path, ok := e.mapper(uri)
	if !ok {
		metrics.RecordVFSOperation("read_directory", "unmapped")
		return nil
	}
	return e.ReadDirectoryPath(ctx, path)
}

// StatPath is Stat on an internal path.
func (e *Engine) StatPath(ctx context.Context, path string) *models.FileStat {
	st := e.stat(ctx, path)
	switch {
	case st == nil:
		metrics.RecordVFSOperation("stat", "absent")
	case st.IsDir():
		metrics.RecordVFSOperation("stat", "directory")
	default:
		metrics.RecordVFSOperation("stat", "file")
	}
	return st
}

func (e *Engine) stat(ctx context.Context, path string) *models.FileStat {
	c := e.resolver.Resolve(ctx, path)
	if !c.HasPackage {
		if c.IsBareScope() {
			return &models.FileStat{Type: models.TypeDirectory}
		}
		return nil
	}
	if !e.validator.IsValid(ctx, c.PackageName) {
		return nil
	}
	if c.SubPath == "" {
		return &models.FileStat{Type: models.TypeDirectory}
	}

	name := "/" + strings.TrimSuffix(c.SubPath, "/")
	dirPrefix := name + "/"
	files := e.manifests.GetListing(ctx, c.Specifier())

	for _, f := range files {
		if f.Name == name {
			return &models.FileStat{
				Type:  models.TypeFile,
				Size:  f.Size,
				Ctime: f.Time,
				Mtime: f.Time,
			}
		}
	}
	for _, f := range files {
		if strings.HasPrefix(f.Name, dirPrefix) {
			return &models.FileStat{Type: models.TypeDirectory}
		}
	}
	return nil
}

// ReadFilePath is ReadFile on an internal path. Outcomes, misses included,
// are memoized per path for the engine's lifetime.
func (e *Engine) ReadFilePath(ctx context.Context, path string) (string, bool) {
	c := e.resolver.Resolve(ctx, path)
	if !c.HasPackage || c.SubPath == "" || !e.validator.IsValid(ctx, c.PackageName) {
		metrics.RecordVFSOperation("read_file", "absent")
		return "", false
	}

	text, err := e.files.Do(ctx, path, func(ctx context.Context) (string, error) {
		if !e.StatPath(ctx, path).IsFile() {
			return "", errAbsent
		}
		text, ok := e.contents.GetText(ctx, path)
		if !ok {
			return "", errAbsent
		}
		return text, nil
	})
	if err != nil {
		if !errors.Is(err, errAbsent) {
			e.log.Debug("read file failed", zap.String("path", path), zap.Error(err))
		}
		metrics.RecordVFSOperation("read_file", "absent")
		return "", false
	}
	metrics.RecordVFSOperation("read_file", "found")
	return text, true
}

// ReadDirectoryPath is ReadDirectory on an internal path. Entries come in
// order of first appearance in the package listing; deeper files fold into
// their first-level directory.
func (e *Engine) ReadDirectoryPath(ctx context.Context, path string) []models.DirEntry {
	c := e.resolver.Resolve(ctx, path)
	if !c.HasPackage || !e.validator.IsValid(ctx, c.PackageName) {
		metrics.RecordVFSOperation("read_directory", "empty")
		return nil
	}

	prefix := "/"
	if sub := strings.TrimSuffix(c.SubPath, "/"); sub != "" {
		prefix = "/" + sub + "/"
	}

	var entries []models.DirEntry
	seenDirs := make(map[string]bool)
	for _, f := range e.manifests.GetListing(ctx, c.Specifier()) {
		rest, ok := strings.CutPrefix(f.Name, prefix)
		if !ok || rest == "" {
			continue
		}
		dir, _, nested := strings.Cut(rest, "/")
		if !nested {
			entries = append(entries, models.DirEntry{Name: rest, Type: models.TypeFile})
			continue
		}
		if dir == "" || seenDirs[dir] {
			continue
		}
		seenDirs[dir] = true
		entries = append(entries, models.DirEntry{Name: dir, Type: models.TypeDirectory})
	}

	if len(entries) == 0 {
		metrics.RecordVFSOperation("read_directory", "empty")
	} else {
		metrics.RecordVFSOperation("read_directory", "found")
	}
	return entries
}
