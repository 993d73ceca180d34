// Package versions discovers the versions a project pins for its
// dependencies and records packages addressed without a version.
package versions

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/blang/semver/v4"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/Ka0gaMi/vscode-typescript-web/internal/logging"
)

var dependencyFields = []string{"dependencies", "devDependencies", "peerDependencies", "optionalDependencies"}

// Recorder answers version lookups from a project manifest.
type Recorder struct {
	pins map[string]string
	log  *zap.Logger

	mu   sync.Mutex
	seen map[string]int
}

// NewRecorder creates a recorder over pins (package name to version range).
func NewRecorder(pins map[string]string) *Recorder {
	if pins == nil {
		pins = map[string]string{}
	}
	return &Recorder{
		pins: pins,
		log:  logging.Named("versions"),
		seen: make(map[string]int),
	}
}

// LoadRecorder reads dependency ranges from a package.json. An empty path
// yields a recorder without pins.
func LoadRecorder(path string) (*Recorder, error) {
	if path == "" {
		return NewRecorder(nil), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read project manifest: %w", err)
	}
	pins, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return NewRecorder(pins), nil
}

// ParseManifest extracts dependency ranges from package.json data. Earlier
// fields win: dependencies over devDependencies over peerDependencies.
func ParseManifest(data []byte) (map[string]string, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("invalid package.json")
	}
	doc := gjson.ParseBytes(data)
	pins := make(map[string]string)
	for _, field := range dependencyFields {
		doc.Get(field).ForEach(func(name, rng gjson.Result) bool {
			if _, ok := pins[name.String()]; !ok && rng.Type == gjson.String {
				pins[name.String()] = Normalize(rng.String())
			}
			return true
		})
	}
	return pins, nil
}

// Normalize canonicalizes exact versions ("v1.2" → "1.2.0") and trims
// anything else.
func Normalize(rng string) string {
	rng = strings.TrimSpace(rng)
	if strings.ContainsAny(rng, "^~<>=*| xX") {
		return rng
	}
	if v, err := semver.ParseTolerant(rng); err == nil {
		return v.String()
	}
	return rng
}

// Lookup records name and returns its pinned range, or "".
func (r *Recorder) Lookup(ctx context.Context, name string) string {
	r.mu.Lock()
	r.seen[name]++
	first := r.seen[name] == 1
	r.mu.Unlock()

	pin := r.pins[name]
	if first {
		r.log.Debug("package addressed without version",
			zap.String("package", name),
			zap.String("pinned", pin))
	}
	return pin
}

// Seen returns the names looked up so far, sorted.
func (r *Recorder) Seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.seen))
	for name := range r.seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
