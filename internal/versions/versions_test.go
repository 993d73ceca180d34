package versions

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/Ka0gaMi/vscode-typescript-web/internal/pkgpath"
)

func TestParseManifest(t *testing.T) {
	pins, err := ParseManifest([]byte(`{
		"dependencies": {"react": "^18.2.0", "lodash": "v4.17"},
		"devDependencies": {"react": "17.0.0", "typescript": "5.4.5"},
		"peerDependencies": {"@types/node": "*"}
	}`))
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}

	want := map[string]string{
		"react":       "^18.2.0",
		"lodash":      "4.17.0",
		"typescript":  "5.4.5",
		"@types/node": "*",
	}
	if !reflect.DeepEqual(pins, want) {
		t.Errorf("pins = %v, want %v", pins, want)
	}
}

func TestParseManifestInvalid(t *testing.T) {
	if _, err := ParseManifest([]byte("{")); err == nil {
		t.Error("expected error")
	}
}

func TestNormalize(t *testing.T) {
	tests := map[string]string{
		"1.2.3":    "1.2.3",
		"v1.2":     "1.2.0",
		" ^1.0.0 ": "^1.0.0",
		"latest":   "latest",
		"1.x":      "1.x",
	}
	for in, want := range tests {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLoadRecorder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "package.json")
	os.WriteFile(path, []byte(`{"dependencies":{"lodash":"4.17.21"}}`), 0o644)

	r, err := LoadRecorder(path)
	if err != nil {
		t.Fatalf("LoadRecorder: %v", err)
	}
	if got := r.Lookup(context.Background(), "lodash"); got != "4.17.21" {
		t.Errorf("expected 4.17.21, got %q", got)
	}
	if got := r.Lookup(context.Background(), "react"); got != "" {
		t.Errorf("expected no pin for react, got %q", got)
	}
}

func TestRecorderAsResolverCallback(t *testing.T) {
	rec := NewRecorder(map[string]string{"lodash": "4.17.21"})
	res := &pkgpath.Resolver{OnMissingVersion: rec.Lookup}

	c := res.Resolve(context.Background(), "lodash/fp.js")
	if c.Version != "" {
		t.Errorf("pinned version must not change resolution, got %q", c.Version)
	}
	res.Resolve(context.Background(), "react@18.2.0/index.js")
	res.Resolve(context.Background(), "@types/node/index.d.ts")

	if got := rec.Seen(); !reflect.DeepEqual(got, []string{"@types/node", "lodash"}) {
		t.Errorf("Seen() = %v", got)
	}
}
