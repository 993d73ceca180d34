// Package validate decides which packages the filesystem exposes.
package validate

import (
	"context"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/Ka0gaMi/vscode-typescript-web/internal/logging"
	"github.com/Ka0gaMi/vscode-typescript-web/internal/metrics"
	"github.com/Ka0gaMi/vscode-typescript-web/internal/models"
)

const typesScope = "@types/"

// Reader is the part of the filesystem the validator consults when judging
// @types packages.
type Reader interface {
	StatPath(ctx context.Context, path string) *models.FileStat
	ReadFilePath(ctx context.Context, path string) (string, bool)
}

// Validator applies the package exposure rules.
type Validator struct {
	fs  Reader
	log *zap.Logger
}

// New creates a validator reading through fs.
func New(fs Reader) *Validator {
	return &Validator{
		fs:  fs,
		log: logging.Named("validate"),
	}
}

// IsValid reports whether name may be exposed.
//
// A @types package is rejected when the package it describes is missing or
// ships its own declarations (a types/typings field or a root index.d.ts).
func (v *Validator) IsValid(ctx context.Context, name string) bool {
	switch {
	case strings.HasSuffix(name, "/node_modules"):
		return v.reject(name, "node_modules")
	case strings.HasSuffix(name, ".d.ts"),
		strings.HasPrefix(name, "@typescript/"),
		strings.HasPrefix(name, "@types/typescript__"):
		return v.reject(name, "excluded")
	}

	rest, ok := strings.CutPrefix(name, typesScope)
	if !ok {
		return true
	}

	original := OriginalName(rest)
	manifest, ok := v.fs.ReadFilePath(ctx, original+"/package.json")
	if !ok {
		return v.reject(name, "types_original_missing")
	}
	if declaresTypes(manifest) {
		return v.reject(name, "types_shadowed")
	}
	if v.fs.StatPath(ctx, original+"/index.d.ts").IsFile() {
		return v.reject(name, "types_index")
	}
	return true
}

// OriginalName maps the unscoped part of a @types name back to the package
// it describes: "node" → "node", "babel__core" → "@babel/core".
func OriginalName(typesName string) string {
	if scope, pkg, ok := strings.Cut(typesName, "__"); ok {
		return "@" + scope + "/" + pkg
	}
	return typesName
}

// declaresTypes reports whether a package.json names its own declarations.
// Unparseable manifests declare nothing.
func declaresTypes(manifest string) bool {
	if !gjson.Valid(manifest) {
		return false
	}
	doc := gjson.Parse(manifest)
	if !doc.IsObject() {
		return false
	}
	return nonEmpty(doc.Get("types")) || nonEmpty(doc.Get("typings"))
}

func nonEmpty(r gjson.Result) bool {
	switch r.Type {
	case gjson.Null, gjson.False:
		return false
	case gjson.String:
		return r.Str != ""
	default:
		return r.Exists()
	}
}

func (v *Validator) reject(name, rule string) bool {
	metrics.RecordPackageRejected(rule)
	v.log.Debug("package rejected", zap.String("package", name), zap.String("rule", rule))
	return false
}
