// Package rulesync brings the local rule index up to date: it optionally
// pulls the rule set published at a remote URL into the rules directory and
// then re-indexes the directory.
package rulesync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"log/slog"
	"net/http"
	"path"
	"time"

	"github.com/starford/generalrules/internal/checksum"
	"github.com/starford/generalrules/internal/generalrule"
	"github.com/starford/generalrules/internal/index"
	"github.com/starford/generalrules/internal/parser"
	"github.com/starford/generalrules/internal/storage"
)

// RemoteDir is the rules subdirectory holding downloaded documents. It is
// owned by the syncer: documents that vanish from the remote set are removed.
const RemoteDir = "remote"

const maxBundleSize = 16 << 20

// RemoteRule is one entry of a remote rule bundle.
type RemoteRule struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Company      string   `json:"company,omitempty"`
	IconURL      string   `json:"icon_url,omitempty"`
	Description  string   `json:"description,omitempty"`
	SafeToBlock  bool     `json:"safe_to_block,omitempty"`
	SideEffect   string   `json:"side_effect,omitempty"`
	Contributors []string `json:"contributors,omitempty"`
	Keywords     []string `json:"keywords"`
	UseRegex     bool     `json:"use_regex,omitempty"`
}

// Bundle is the JSON document served at the remote URL.
type Bundle struct {
	Rules []RemoteRule `json:"rules"`
}

// Syncer implements generalrule.RemoteSync.
type Syncer struct {
	db     *index.DB
	store  storage.Provider
	url    string
	client *http.Client
	logger *slog.Logger
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithRemote enables downloading the bundle at url before indexing.
func WithRemote(url string, timeout time.Duration) Option {
	return func(s *Syncer) {
		s.url = url
		s.client = &http.Client{Timeout: timeout}
	}
}

// WithHTTPClient overrides the HTTP client used for downloads.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Syncer) { s.client = c }
}

// New creates a Syncer indexing store into db.
func New(db *index.DB, store storage.Provider, logger *slog.Logger, opts ...Option) *Syncer {
	s := &Syncer{db: db, store: store, client: http.DefaultClient, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// UpdateRules yields SyncRunning, then SyncOK or SyncFailed.
func (s *Syncer) UpdateRules(ctx context.Context) iter.Seq[generalrule.SyncResult] {
	return func(yield func(generalrule.SyncResult) bool) {
		if !yield(generalrule.SyncRunning()) {
			return
		}
		if err := s.sync(ctx); err != nil {
			yield(generalrule.SyncFailed(err))
			return
		}
		yield(generalrule.SyncOK())
	}
}

func (s *Syncer) sync(ctx context.Context) error {
	if s.url != "" {
		if err := s.download(ctx); err != nil {
			return err
		}
	}
	stats, err := index.Sync(ctx, s.db, s.store, s.logger)
	if err != nil {
		return fmt.Errorf("rulesync: index: %w", err)
	}
	s.logger.Info("rulesync: indexed",
		slog.Int("indexed", stats.Indexed),
		slog.Int("unchanged", stats.Unchanged),
		slog.Int("removed", stats.Removed),
		slog.Int("failed", stats.Failed),
	)
	return nil
}

// download fetches the remote bundle and mirrors it into RemoteDir. Unchanged
// documents are not rewritten.
func (s *Syncer) download(ctx context.Context) error {
	bundle, err := s.fetch(ctx)
	if err != nil {
		return err
	}

	existing, err := s.store.List(RemoteDir)
	if errors.Is(err, fs.ErrNotExist) {
		existing, err = nil, nil
	}
	if err != nil {
		return fmt.Errorf("rulesync: list remote dir: %w", err)
	}
	current := make(map[string]string, len(existing))
	for _, m := range existing {
		current[m.Path] = m.Checksum
	}

	keep := make(map[string]struct{}, len(bundle.Rules))
	written, skipped := 0, 0
	for _, r := range bundle.Rules {
		if err := ctx.Err(); err != nil {
			return err
		}
		doc, err := parser.Render(r.header(), r.Description)
		if err != nil {
			skipped++
			s.logger.Warn("rulesync: invalid remote rule",
				slog.String("id", r.ID), slog.String("error", err.Error()))
			continue
		}
		p := path.Join(RemoteDir, r.ID+storage.DocumentExt)
		keep[p] = struct{}{}
		if current[p] == checksum.Sum(doc) {
			continue
		}
		if err := s.store.Write(p, doc); err != nil {
			return fmt.Errorf("rulesync: write %s: %w", p, err)
		}
		written++
	}

	removed := 0
	for p := range current {
		if _, ok := keep[p]; ok {
			continue
		}
		if err := s.store.Delete(p); err != nil {
			return fmt.Errorf("rulesync: delete %s: %w", p, err)
		}
		removed++
	}

	s.logger.Info("rulesync: downloaded",
		slog.String("url", s.url),
		slog.Int("rules", len(bundle.Rules)),
		slog.Int("written", written),
		slog.Int("removed", removed),
		slog.Int("skipped", skipped),
	)
	return nil
}

func (s *Syncer) fetch(ctx context.Context) (*Bundle, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("rulesync: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rulesync: fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rulesync: fetch: unexpected status %s", resp.Status)
	}

	var b Bundle
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBundleSize)).Decode(&b); err != nil {
		return nil, fmt.Errorf("rulesync: decode bundle: %w", err)
	}
	return &b, nil
}

func (r RemoteRule) header() parser.Header {
	return parser.Header{
		ID:           r.ID,
		Name:         r.Name,
		Company:      r.Company,
		Icon:         r.IconURL,
		SafeToBlock:  r.SafeToBlock,
		SideEffect:   r.SideEffect,
		Contributors: r.Contributors,
		Keywords:     r.Keywords,
		UseRegex:     r.UseRegex,
	}
}
