package vfs

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Ka0gaMi/vscode-typescript-web/internal/fetch"
	"github.com/Ka0gaMi/vscode-typescript-web/internal/models"
	"github.com/Ka0gaMi/vscode-typescript-web/internal/pkgpath"
)

var when = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// registry is an in-memory listing and text source.
type registry struct {
	mu        sync.Mutex
	listings  map[string][]models.FileEntry
	texts     map[string]string
	listCalls map[string]int
	textCalls atomic.Int32
	delay     time.Duration
}

func newRegistry() *registry {
	return &registry{
		listings:  make(map[string][]models.FileEntry),
		texts:     make(map[string]string),
		listCalls: make(map[string]int),
	}
}

func (r *registry) add(pkg string, files map[string]string) {
	for name, text := range files {
		r.listings[pkg] = append(r.listings[pkg], models.FileEntry{Name: "/" + name, Size: int64(len(text)), Time: when})
		r.texts[pkg+"/"+name] = text
	}
}

func (r *registry) Listing(ctx context.Context, spec string) (*models.Listing, error) {
	r.mu.Lock()
	r.listCalls[spec]++
	r.mu.Unlock()
	time.Sleep(r.delay)
	files, ok := r.listings[spec]
	if !ok {
		return nil, errors.New("no such package")
	}
	return &models.Listing{Files: files}, nil
}

func (r *registry) Text(ctx context.Context, path string) (string, error) {
	r.textCalls.Add(1)
	if t, ok := r.texts[path]; ok {
		return t, nil
	}
	return "", errors.New("no such file")
}

func (r *registry) calls(spec string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listCalls[spec]
}

func newEngine(r *registry) *Engine {
	caches := fetch.NewCaches()
	return New(Options{
		Manifests: fetch.NewManifests(nil, r, caches),
		Contents:  fetch.NewContents(fetch.ContentsOptions{Remote: r, Shared: caches}),
	})
}

func exampleRegistry() *registry {
	r := newRegistry()
	r.listings["pkg"] = []models.FileEntry{
		{Name: "/index.js", Size: 11, Time: when},
		{Name: "/lib/a.js", Size: 1, Time: when},
		{Name: "/lib/b.js", Size: 2, Time: when},
		{Name: "/lib/deep/c.js", Size: 3, Time: when},
	}
	r.texts["pkg/index.js"] = "module.a=1;"
	r.texts["pkg/lib/a.js"] = "a"
	return r
}

func TestReadDirectoryFromManifest(t *testing.T) {
	e := newEngine(exampleRegistry())
	ctx := context.Background()

	root := e.ReadDirectory(ctx, "/node_modules/pkg")
	want := []models.DirEntry{
		{Name: "index.js", Type: models.TypeFile},
		{Name: "lib", Type: models.TypeDirectory},
	}
	if !reflect.DeepEqual(root, want) {
		t.Errorf("root listing = %+v, want %+v", root, want)
	}

	lib := e.ReadDirectory(ctx, "/node_modules/pkg/lib")
	want = []models.DirEntry{
		{Name: "a.js", Type: models.TypeFile},
		{Name: "b.js", Type: models.TypeFile},
		{Name: "deep", Type: models.TypeDirectory},
	}
	if !reflect.DeepEqual(lib, want) {
		t.Errorf("lib listing = %+v, want %+v", lib, want)
	}

	if again := e.ReadDirectory(ctx, "/node_modules/pkg/lib/"); !reflect.DeepEqual(again, lib) {
		t.Errorf("trailing slash listing = %+v, want %+v", again, lib)
	}
}

func TestReadDirectoryIsIdempotent(t *testing.T) {
	e := newEngine(exampleRegistry())
	ctx := context.Background()

	first := e.ReadDirectoryPath(ctx, "pkg/lib")
	for i := 0; i < 3; i++ {
		if got := e.ReadDirectoryPath(ctx, "pkg/lib"); !reflect.DeepEqual(got, first) {
			t.Fatalf("call %d = %+v, want %+v", i, got, first)
		}
	}
}

func TestConcurrentStatFetchesManifestOnce(t *testing.T) {
	r := exampleRegistry()
	r.delay = 30 * time.Millisecond
	e := newEngine(r)

	var wg sync.WaitGroup
	for _, p := range []string{"pkg/index.js", "pkg/index.js", "pkg/lib/a.js", "pkg/lib"} {
		wg.Add(1)
		go func(p string) {
			defer wg.Done()
			if e.StatPath(context.Background(), p) == nil {
				t.Errorf("stat %s: absent", p)
			}
		}(p)
	}
	wg.Wait()

	if n := r.calls("pkg"); n != 1 {
		t.Errorf("expected one manifest fetch, got %d", n)
	}
}

func TestStat(t *testing.T) {
	e := newEngine(exampleRegistry())
	ctx := context.Background()

	tests := []struct {
		uri  string
		want *models.FileStat
	}{
		{"/node_modules/pkg/index.js", &models.FileStat{Type: models.TypeFile, Size: 11, Ctime: when, Mtime: when}},
		{"/node_modules/pkg/lib", &models.FileStat{Type: models.TypeDirectory}},
		{"/node_modules/pkg/lib/deep", &models.FileStat{Type: models.TypeDirectory}},
		{"/node_modules/pkg", &models.FileStat{Type: models.TypeDirectory}},
		{"/node_modules/@scope", &models.FileStat{Type: models.TypeDirectory}},
		{"/node_modules/pkg/li", nil},
		{"/node_modules/pkg/missing.js", nil},
		{"/node_modules", nil},
		{"/elsewhere/pkg/index.js", nil},
		{"/node_modules/foo/node_modules", nil},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			got := e.Stat(ctx, tt.uri)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Stat(%q) = %+v, want %+v", tt.uri, got, tt.want)
			}
		})
	}
}

func TestStatPackageRootSkipsListing(t *testing.T) {
	r := exampleRegistry()
	e := newEngine(r)

	if !e.StatPath(context.Background(), "pkg").IsDir() {
		t.Fatal("package root should be a directory")
	}
	if n := r.calls("pkg"); n != 0 {
		t.Errorf("package root stat must not fetch the listing, got %d fetches", n)
	}
}

func TestEmptyPackageSegmentIsAbsent(t *testing.T) {
	r := exampleRegistry()
	e := newEngine(r)
	ctx := context.Background()

	for _, uri := range []string{"/node_modules//index.js", "/node_modules//pkg/index.js"} {
		if st := e.Stat(ctx, uri); st != nil {
			t.Errorf("Stat(%q) = %+v, want absent", uri, st)
		}
		if _, ok := e.ReadFile(ctx, uri); ok {
			t.Errorf("ReadFile(%q) should be absent", uri)
		}
		if entries := e.ReadDirectory(ctx, uri); len(entries) != 0 {
			t.Errorf("ReadDirectory(%q) = %+v, want empty", uri, entries)
		}
	}
	if st := e.StatPath(ctx, "/index.js"); st != nil {
		t.Errorf("StatPath(/index.js) = %+v, want absent", st)
	}
	if n := r.calls(""); n != 0 {
		t.Errorf("empty package name must not fetch a listing, got %d fetches", n)
	}
}

func TestReadFile(t *testing.T) {
	r := exampleRegistry()
	e := newEngine(r)
	ctx := context.Background()

	text, ok := e.ReadFile(ctx, "/node_modules/pkg/index.js")
	if !ok || text != "module.a=1;" {
		t.Fatalf("unexpected %q, %v", text, ok)
	}

	for _, uri := range []string{
		"/node_modules/pkg",
		"/node_modules/pkg/lib",
		"/node_modules/pkg/nope.js",
		"/node_modules/@scope",
	} {
		if _, ok := e.ReadFile(ctx, uri); ok {
			t.Errorf("ReadFile(%q) should be absent", uri)
		}
	}
}

func TestReadFileMemoizesMisses(t *testing.T) {
	r := exampleRegistry()
	// Listed but not downloadable.
	r.listings["pkg"] = append(r.listings["pkg"], models.FileEntry{Name: "/ghost.js", Time: when})
	e := newEngine(r)

	for i := 0; i < 3; i++ {
		if _, ok := e.ReadFilePath(context.Background(), "pkg/ghost.js"); ok {
			t.Fatal("expected absent")
		}
	}
	if n := r.textCalls.Load(); n != 1 {
		t.Errorf("expected one text fetch, got %d", n)
	}
}

func TestTypesPackageShadowedByIndex(t *testing.T) {
	r := newRegistry()
	r.add("shipsown", map[string]string{
		"package.json": `{"name":"shipsown"}`,
		"index.d.ts":   "export {};",
	})
	r.add("@types/shipsown", map[string]string{
		"package.json": `{"name":"@types/shipsown"}`,
		"index.d.ts":   "declare module 'shipsown';",
	})
	e := newEngine(r)
	ctx := context.Background()

	if !e.StatPath(ctx, "shipsown/index.d.ts").IsFile() {
		t.Fatal("precondition: shipsown/index.d.ts should be a file")
	}
	if got := e.ReadDirectoryPath(ctx, "@types/shipsown"); len(got) != 0 {
		t.Errorf("rejected @types package should list nothing, got %+v", got)
	}
	if st := e.StatPath(ctx, "@types/shipsown/index.d.ts"); st != nil {
		t.Errorf("rejected @types package should stat absent, got %+v", st)
	}
	if st := e.StatPath(ctx, "@types/shipsown"); st != nil {
		t.Errorf("rejected @types package root should stat absent, got %+v", st)
	}
	if _, ok := e.ReadFilePath(ctx, "@types/shipsown/index.d.ts"); ok {
		t.Error("rejected @types package file should be absent")
	}
}

func TestTypesPackageShadowedByTypesField(t *testing.T) {
	r := newRegistry()
	r.add("typed", map[string]string{
		"package.json":    `{"name":"typed","types":"dist/typed.d.ts"}`,
		"dist/typed.d.ts": "export {};",
	})
	r.add("@types/typed", map[string]string{"index.d.ts": "x"})
	e := newEngine(r)

	if got := e.ReadDirectoryPath(context.Background(), "@types/typed"); len(got) != 0 {
		t.Errorf("expected empty listing, got %+v", got)
	}
}

func TestTypesPackageAccepted(t *testing.T) {
	r := newRegistry()
	r.add("@babel/core", map[string]string{"package.json": `{"name":"@babel/core","main":"lib/index.js"}`})
	r.add("@types/babel__core", map[string]string{"index.d.ts": "declare const x: 1;"})
	e := newEngine(r)
	ctx := context.Background()

	text, ok := e.ReadFilePath(ctx, "@types/babel__core/index.d.ts")
	if !ok || text != "declare const x: 1;" {
		t.Fatalf("expected accepted @types file, got %q, %v", text, ok)
	}
	if got := e.ReadDirectoryPath(ctx, "@types/babel__core"); len(got) != 1 {
		t.Errorf("expected one entry, got %+v", got)
	}
}

func TestExplicitVersionUsesVersionedListing(t *testing.T) {
	r := newRegistry()
	r.add("pkg@1.0.0", map[string]string{"old.js": "old"})
	r.add("pkg", map[string]string{"new.js": "new"})
	e := newEngine(r)
	ctx := context.Background()

	if !e.StatPath(ctx, "pkg@1.0.0/old.js").IsFile() {
		t.Error("versioned path should use the versioned listing")
	}
	if e.StatPath(ctx, "pkg@1.0.0/new.js") != nil {
		t.Error("versioned path must not see the unversioned listing")
	}
}

func TestResolverCallbackInvoked(t *testing.T) {
	var seen []string
	var mu sync.Mutex
	caches := fetch.NewCaches()
	r := exampleRegistry()
	e := New(Options{
		Resolver: &pkgpath.Resolver{OnMissingVersion: func(ctx context.Context, name string) string {
			mu.Lock()
			seen = append(seen, name)
			mu.Unlock()
			return "1.0.0"
		}},
		Manifests: fetch.NewManifests(nil, r, caches),
		Contents:  fetch.NewContents(fetch.ContentsOptions{Remote: r, Shared: caches}),
	})

	if !e.StatPath(context.Background(), "pkg/index.js").IsFile() {
		t.Fatal("callback result must not change resolution")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) == 0 || seen[0] != "pkg" {
		t.Errorf("expected callback for pkg, got %v", seen)
	}
}

func TestRootMapper(t *testing.T) {
	m := RootMapper("/node_modules/")
	tests := []struct {
		uri  string
		path string
		ok   bool
	}{
		{"/node_modules", "", true},
		{"/node_modules/a/b.js", "a/b.js", true},
		{"/node_modulesx/a", "", false},
		{"/other", "", false},
	}
	for _, tt := range tests {
		path, ok := m(tt.uri)
		if path != tt.path || ok != tt.ok {
			t.Errorf("map(%q) = %q, %v; want %q, %v", tt.uri, path, ok, tt.path, tt.ok)
		}
	}
}
