// Package bundle seeds the rules directory with the rule documents shipped
// inside the binary.
package bundle

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"log/slog"
	"path"
	"slices"
	"strings"

	"github.com/starford/generalrules/internal/checksum"
	"github.com/starford/generalrules/internal/generalrule"
	"github.com/starford/generalrules/internal/storage"
)

//go:embed rules/*.md
var defaultRules embed.FS

// MarkerPath is the hidden file recording the extracted bundle version.
const MarkerPath = ".bundle-version"

type document struct {
	name string
	data []byte
}

// Initializer implements generalrule.Initializer. It extracts the bundle when
// the rules directory has no rule documents or was seeded from another
// bundle version. Documents outside the bundle are never touched.
type Initializer struct {
	store  storage.Provider
	source fs.FS
	logger *slog.Logger
}

// Option configures an Initializer.
type Option func(*Initializer)

// WithSource replaces the embedded bundle with the *.md files at the root of
// fsys.
func WithSource(fsys fs.FS) Option {
	return func(i *Initializer) { i.source = fsys }
}

// New creates an Initializer writing into store.
func New(store storage.Provider, logger *slog.Logger, opts ...Option) *Initializer {
	sub, _ := fs.Sub(defaultRules, "rules")
	i := &Initializer{store: store, source: sub, logger: logger}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Initialize yields InitStart, one InitProcessing per extracted document and
// InitDone. On failure it yields the error and stops.
func (i *Initializer) Initialize(ctx context.Context) iter.Seq2[generalrule.InitializeState, error] {
	return func(yield func(generalrule.InitializeState, error) bool) {
		if !yield(generalrule.InitializeState{Kind: generalrule.InitStart}, nil) {
			return
		}

		docs, version, err := i.load()
		if err != nil {
			yield(generalrule.InitializeState{}, err)
			return
		}
		extract, err := i.needsExtract(version)
		if err != nil {
			yield(generalrule.InitializeState{}, err)
			return
		}

		if extract {
			for _, d := range docs {
				if err := ctx.Err(); err != nil {
					yield(generalrule.InitializeState{}, err)
					return
				}
				if err := i.store.Write(d.name, d.data); err != nil {
					yield(generalrule.InitializeState{}, fmt.Errorf("bundle: extract %s: %w", d.name, err))
					return
				}
				if !yield(generalrule.InitializeState{Kind: generalrule.InitProcessing, Name: d.name}, nil) {
					return
				}
			}
			if err := i.store.Write(MarkerPath, []byte(version+"\n")); err != nil {
				yield(generalrule.InitializeState{}, fmt.Errorf("bundle: write marker: %w", err))
				return
			}
			i.logger.Info("bundle: extracted",
				slog.Int("documents", len(docs)), slog.String("version", version))
		}

		yield(generalrule.InitializeState{Kind: generalrule.InitDone}, nil)
	}
}

func (i *Initializer) needsExtract(version string) (bool, error) {
	metas, err := i.store.List("")
	if err != nil {
		return false, fmt.Errorf("bundle: list rules: %w", err)
	}
	if len(metas) == 0 {
		return true, nil
	}
	marker, err := i.store.Read(MarkerPath)
	if errors.Is(err, fs.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("bundle: read marker: %w", err)
	}
	return strings.TrimSpace(string(marker)) != version, nil
}

// load reads the bundle documents sorted by name and derives the bundle
// version from their contents.
func (i *Initializer) load() ([]document, string, error) {
	names, err := fs.Glob(i.source, "*"+storage.DocumentExt)
	if err != nil {
		return nil, "", fmt.Errorf("bundle: list: %w", err)
	}
	slices.Sort(names)

	docs := make([]document, 0, len(names))
	fields := make([]string, 0, 2*len(names))
	for _, name := range names {
		data, err := fs.ReadFile(i.source, name)
		if err != nil {
			return nil, "", fmt.Errorf("bundle: read %s: %w", name, err)
		}
		docs = append(docs, document{name: path.Base(name), data: bytes.Clone(data)})
		fields = append(fields, name, checksum.Sum(data))
	}
	return docs, checksum.Strings(fields...), nil
}
