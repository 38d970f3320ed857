package rulesync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/generalrules/internal/generalrule"
	"github.com/starford/generalrules/internal/testutil"
)

type bundleServer struct {
	mu     sync.Mutex
	bundle Bundle
	status int
	hits   atomic.Int32
	srv    *httptest.Server
}

func newBundleServer(t *testing.T, rules ...RemoteRule) *bundleServer {
	t.Helper()
	b := &bundleServer{bundle: Bundle{Rules: rules}, status: http.StatusOK}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.hits.Add(1)
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.status != http.StatusOK {
			w.WriteHeader(b.status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(b.bundle)
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *bundleServer) set(rules ...RemoteRule) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bundle = Bundle{Rules: rules}
}

func collect(s *Syncer) []generalrule.SyncResult {
	var out []generalrule.SyncResult
	for res := range s.UpdateRules(context.Background()) {
		out = append(out, res)
	}
	return out
}

func remoteRule(id string, keywords ...string) RemoteRule {
	return RemoteRule{ID: id, Name: "Remote " + id, Description: "From the server.", Keywords: keywords}
}

func TestUpdateRules_LocalOnly(t *testing.T) {
	db := testutil.TestDB(t)
	_, store := testutil.TestRulesDir(t)
	require.NoError(t, store.Write("local.md", testutil.RuleDoc("local")))

	results := collect(New(db, store, testutil.Logger()))
	require.Len(t, results, 2)
	assert.Equal(t, generalrule.SyncInProgress, results[0].Kind)
	assert.Equal(t, generalrule.SyncSuccess, results[1].Kind)

	r, err := db.GetRule(context.Background(), "local")
	require.NoError(t, err)
	assert.Equal(t, "local.md", r.Path)
}

func TestUpdateRules_DownloadsBundle(t *testing.T) {
	db := testutil.TestDB(t)
	dir, store := testutil.TestRulesDir(t)
	srv := newBundleServer(t,
		remoteRule("adjust", "com.adjust.sdk"),
		remoteRule("branch", "io.branch"),
		RemoteRule{ID: "broken", Name: "No keywords"},
	)

	s := New(db, store, testutil.Logger(), WithRemote(srv.srv.URL, 5*time.Second))
	results := collect(s)
	require.Len(t, results, 2)
	require.Equal(t, generalrule.SyncSuccess, results[1].Kind, "err: %v", results[1].Err)

	assert.FileExists(t, filepath.Join(dir, RemoteDir, "adjust.md"))
	assert.NoFileExists(t, filepath.Join(dir, RemoteDir, "broken.md"))

	rules, err := db.Rules(context.Background())
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "adjust", rules[0].ID)
	assert.Equal(t, "From the server.", rules[0].Description)
	assert.Equal(t, []string{"com.adjust.sdk"}, rules[0].Keywords)

	// A rule dropped upstream disappears locally.
	srv.set(remoteRule("adjust", "com.adjust.sdk"))
	results = collect(s)
	require.Equal(t, generalrule.SyncSuccess, results[1].Kind)
	assert.NoFileExists(t, filepath.Join(dir, RemoteDir, "branch.md"))
	rules, err = db.Rules(context.Background())
	require.NoError(t, err)
	assert.Len(t, rules, 1)
}

func TestUpdateRules_UnchangedRuleHashIsStable(t *testing.T) {
	db := testutil.TestDB(t)
	_, store := testutil.TestRulesDir(t)
	srv := newBundleServer(t, remoteRule("adjust", "com.adjust.sdk"))
	s := New(db, store, testutil.Logger(), WithRemote(srv.srv.URL, 5*time.Second))
	ctx := context.Background()

	collect(s)
	before, err := db.RuleHash(ctx)
	require.NoError(t, err)

	collect(s)
	after, err := db.RuleHash(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.EqualValues(t, 2, srv.hits.Load())
}

func TestUpdateRules_ServerError(t *testing.T) {
	db := testutil.TestDB(t)
	_, store := testutil.TestRulesDir(t)
	testutil.SeedRule(t, db, store, "local")
	srv := newBundleServer(t)
	srv.status = http.StatusInternalServerError

	results := collect(New(db, store, testutil.Logger(), WithRemote(srv.srv.URL, 5*time.Second)))
	require.Len(t, results, 2)
	assert.Equal(t, generalrule.SyncError, results[1].Kind)
	assert.ErrorContains(t, results[1].Err, "500")

	_, err := db.GetRule(context.Background(), "local")
	assert.NoError(t, err, "local index is untouched")
}

func TestUpdateRules_BadPayload(t *testing.T) {
	db := testutil.TestDB(t)
	_, store := testutil.TestRulesDir(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>"))
	}))
	t.Cleanup(srv.Close)

	results := collect(New(db, store, testutil.Logger(), WithRemote(srv.URL, 5*time.Second)))
	require.Len(t, results, 2)
	assert.Equal(t, generalrule.SyncError, results[1].Kind)
	assert.ErrorContains(t, results[1].Err, "decode bundle")
}

func TestUpdateRules_StopsWhenConsumerBreaks(t *testing.T) {
	db := testutil.TestDB(t)
	_, store := testutil.TestRulesDir(t)
	srv := newBundleServer(t, remoteRule("adjust", "com.adjust.sdk"))
	s := New(db, store, testutil.Logger(), WithRemote(srv.srv.URL, 5*time.Second))

	for res := range s.UpdateRules(context.Background()) {
		assert.Equal(t, generalrule.SyncInProgress, res.Kind)
		break
	}
	assert.Zero(t, srv.hits.Load())
}

func TestUpdateRules_Cancelled(t *testing.T) {
	db := testutil.TestDB(t)
	_, store := testutil.TestRulesDir(t)
	srv := newBundleServer(t, remoteRule("adjust", "com.adjust.sdk"))
	s := New(db, store, testutil.Logger(), WithRemote(srv.srv.URL, 5*time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var last generalrule.SyncResult
	for res := range s.UpdateRules(ctx) {
		last = res
	}
	assert.Equal(t, generalrule.SyncError, last.Kind)
	assert.ErrorIs(t, last.Err, context.Canceled)
}
