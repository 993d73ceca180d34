package validate

import (
	"context"
	"testing"

	"github.com/Ka0gaMi/vscode-typescript-web/internal/models"
)

type fakeFS struct {
	files map[string]string
}

func (f *fakeFS) StatPath(ctx context.Context, path string) *models.FileStat {
	if _, ok := f.files[path]; ok {
		return &models.FileStat{Type: models.TypeFile}
	}
	return nil
}

func (f *fakeFS) ReadFilePath(ctx context.Context, path string) (string, bool) {
	text, ok := f.files[path]
	return text, ok
}

func TestIsValid(t *testing.T) {
	fs := &fakeFS{files: map[string]string{
		"plain/package.json":        `{"name":"plain","main":"index.js"}`,
		"typed/package.json":        `{"name":"typed","types":"dist/index.d.ts"}`,
		"typings/package.json":      `{"name":"typings","typings":"x.d.ts"}`,
		"emptytypes/package.json":   `{"name":"emptytypes","types":""}`,
		"indexed/package.json":      `{"name":"indexed"}`,
		"indexed/index.d.ts":        `export {};`,
		"@babel/core/package.json":  `{"name":"@babel/core"}`,
		"@scope/typed/package.json": `{"types":"a.d.ts"}`,
		"broken/package.json":       `{not json`,
	}}
	v := New(fs)

	tests := []struct {
		name string
		want bool
	}{
		{"lodash", true},
		{"@scope/pkg", true},
		{"foo/node_modules", false},
		{"lib.d.ts", false},
		{"@typescript/vfs", false},
		{"@types/typescript__lib", false},
		{"@types/plain", true},
		{"@types/typed", false},
		{"@types/typings", false},
		{"@types/emptytypes", true},
		{"@types/indexed", false},
		{"@types/missing", false},
		{"@types/babel__core", true},
		{"@types/scope__typed", false},
		{"@types/broken", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := v.IsValid(context.Background(), tt.name); got != tt.want {
				t.Errorf("IsValid(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestOriginalName(t *testing.T) {
	tests := map[string]string{
		"node":        "node",
		"babel__core": "@babel/core",
		"a__b__c":     "@a/b__c",
		"react-dom":   "react-dom",
	}
	for in, want := range tests {
		if got := OriginalName(in); got != want {
			t.Errorf("OriginalName(%q) = %q, want %q", in, got, want)
		}
	}
}
