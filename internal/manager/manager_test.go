package manager

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/kestrelsearch/kestrel/internal/document"
	"github.com/kestrelsearch/kestrel/internal/record"
	"github.com/kestrelsearch/kestrel/internal/schema"
	"github.com/kestrelsearch/kestrel/pkg/config"
	kerrors "github.com/kestrelsearch/kestrel/pkg/errors"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		Index: config.IndexConfig{
			DataDir:        t.TempDir(),
			SegmentMaxDocs: 100,
			FlushInterval:  time.Minute,
			MergeInterval:  time.Minute,
			MergeLiveRatio: 0.5,
		},
		Search: config.SearchConfig{
			DefaultLimit: 20,
			MaxResults:   100,
			Timeout:      5 * time.Second,
		},
		Schemas: testSchemas(),
	}
}

func testSchemas() config.SchemasConfig {
	return config.SchemasConfig{
		Classes: map[string]config.ClassConfig{
			"Page": {
				Fields: map[string]any{
					"Title":  map[string]any{"storageClass": "text", "boost": 2.0},
					"Status": map[string]any{"storageClass": "keyword"},
				},
				RebuildQuery: `SELECT objectid, title, status FROM pages WHERE status = 'Live'`,
			},
		},
	}
}

func openManager(t *testing.T, cfg config.Config) *Manager {
	t.Helper()
	registry, err := schema.NewRegistry(cfg.Schemas)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	m, err := Open(cfg, registry)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func pageRecord(id, title, status string) document.MapRecord {
	return document.MapRecord{
		RecordClass: "Page",
		ID:          id,
		Fields: map[string]string{
			"Title":      title,
			"Status":     status,
			"LastEdited": "2026-08-01T10:00:00Z",
		},
	}
}

func searchKeys(t *testing.T, m *Manager, query string) []string {
	t.Helper()
	result, err := m.Search(context.Background(), query, 10)
	if err != nil {
		t.Fatalf("Search(%q): %v", query, err)
	}
	keys := make([]string, len(result.Results))
	for i, h := range result.Results {
		keys[i] = h.Key
	}
	return keys
}

func TestIndexAndSearch(t *testing.T) {
	m := openManager(t, testConfig(t))
	ctx := context.Background()

	if err := m.IndexRecord(ctx, pageRecord("1", "The quick red fox", "Draft")); err != nil {
		t.Fatalf("IndexRecord: %v", err)
	}
	if err := m.IndexRecord(ctx, pageRecord("2", "A red car", "Live")); err != nil {
		t.Fatalf("IndexRecord: %v", err)
	}

	if got := searchKeys(t, m, "red"); len(got) != 2 {
		t.Fatalf("Search(red) = %v, want both pages", got)
	}
	if diff := cmp.Diff([]string{"Page/1"}, searchKeys(t, m, "red fox")); diff != "" {
		t.Fatalf("Search(red fox) mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"Page/1"}, searchKeys(t, m, "Status:Draft")); diff != "" {
		t.Fatalf("Search(Status:Draft) mismatch (-want +got):\n%s", diff)
	}
}

func TestIndexRecordSkipsUnconfiguredClass(t *testing.T) {
	m := openManager(t, testConfig(t))

	rec := document.MapRecord{RecordClass: "Ghost", ID: "1", Fields: map[string]string{"Title": "spectre"}}
	if err := m.IndexRecord(context.Background(), rec); err != nil {
		t.Fatalf("IndexRecord for unconfigured class: %v", err)
	}
	if got := searchKeys(t, m, "spectre"); len(got) != 0 {
		t.Fatalf("unconfigured class was indexed: %v", got)
	}
}

func TestIndexRecordIsIdempotent(t *testing.T) {
	m := openManager(t, testConfig(t))
	ctx := context.Background()

	if err := m.IndexRecord(ctx, pageRecord("1", "red fox", "Draft")); err != nil {
		t.Fatalf("IndexRecord: %v", err)
	}
	if err := m.IndexRecord(ctx, pageRecord("1", "red fox", "Live")); err != nil {
		t.Fatalf("IndexRecord again: %v", err)
	}

	if got := searchKeys(t, m, "fox"); len(got) != 1 {
		t.Fatalf("reindexed record duplicated: %v", got)
	}
	if got := searchKeys(t, m, "Status:Live"); len(got) != 1 {
		t.Fatalf("last write did not win: %v", got)
	}
	if got := searchKeys(t, m, "Status:Draft"); len(got) != 0 {
		t.Fatalf("stale copy still visible: %v", got)
	}
}

func TestDeleteRecord(t *testing.T) {
	m := openManager(t, testConfig(t))
	ctx := context.Background()

	if err := m.IndexRecord(ctx, pageRecord("1", "red fox", "Draft")); err != nil {
		t.Fatalf("IndexRecord: %v", err)
	}
	if err := m.DeleteRecord(ctx, document.Key{Class: "Page", ObjectID: "1"}); err != nil {
		t.Fatalf("DeleteRecord: %v", err)
	}
	if got := searchKeys(t, m, "fox"); len(got) != 0 {
		t.Fatalf("deleted record still visible: %v", got)
	}

	// Deleting an identity the index never held is a no-op.
	if err := m.DeleteRecord(ctx, document.Key{Class: "Page", ObjectID: "404"}); err != nil {
		t.Fatalf("DeleteRecord unknown: %v", err)
	}
}

func TestGetRecord(t *testing.T) {
	m := openManager(t, testConfig(t))
	ctx := context.Background()

	if err := m.IndexRecord(ctx, pageRecord("1", "red fox", "Draft")); err != nil {
		t.Fatalf("IndexRecord: %v", err)
	}

	fields, err := m.GetRecord(document.Key{Class: "Page", ObjectID: "1"})
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if fields["Title"] != "red fox" || fields["Status"] != "Draft" {
		t.Fatalf("GetRecord fields = %v", fields)
	}

	_, err = m.GetRecord(document.Key{Class: "Page", ObjectID: "404"})
	if !errors.Is(err, kerrors.ErrRecordNotFound) {
		t.Fatalf("GetRecord missing error = %v, want ErrRecordNotFound", err)
	}
}

func TestSearchClampsLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.Search.MaxResults = 1
	m := openManager(t, cfg)
	ctx := context.Background()

	for _, id := range []string{"1", "2", "3"} {
		if err := m.IndexRecord(ctx, pageRecord(id, "red fox", "Live")); err != nil {
			t.Fatalf("IndexRecord: %v", err)
		}
	}

	result, err := m.Search(ctx, "fox", 50)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(result.Results) != 1 {
		t.Fatalf("limit clamp ignored: %d results", len(result.Results))
	}
	if result.TotalHits != 3 {
		t.Fatalf("TotalHits = %d, want 3", result.TotalHits)
	}
}

func TestSearchRejectsMalformedQuery(t *testing.T) {
	m := openManager(t, testConfig(t))

	_, err := m.Search(context.Background(), "NOT", 10)
	if !errors.Is(err, kerrors.ErrQuerySyntax) {
		t.Fatalf("Search(NOT) error = %v, want ErrQuerySyntax", err)
	}
}

func TestOpenRefusesSecondWriter(t *testing.T) {
	cfg := testConfig(t)
	m := openManager(t, cfg)

	registry, err := schema.NewRegistry(cfg.Schemas)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if _, err := Open(cfg, registry); !errors.Is(err, kerrors.ErrWriterLocked) {
		t.Fatalf("second Open error = %v, want ErrWriterLocked", err)
	}

	// Releasing the lock lets the next writer in.
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	second, err := Open(cfg, registry)
	if err != nil {
		t.Fatalf("Open after Close: %v", err)
	}
	second.Close()
}

func TestRebuildSwapsGeneration(t *testing.T) {
	cfg := testConfig(t)
	m := openManager(t, cfg)
	ctx := context.Background()

	if err := m.IndexRecord(ctx, pageRecord("old", "stale aardvark", "Live")); err != nil {
		t.Fatalf("IndexRecord: %v", err)
	}
	oldGen := readCurrentGen(t, cfg.Index.DataDir)

	stream := record.NewSliceIterator([]document.Record{
		pageRecord("1", "fresh heron", "Live"),
		pageRecord("2", "fresh osprey", "Live"),
	})
	result, err := m.Rebuild(ctx, stream)
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	if got := searchKeys(t, m, "aardvark"); len(got) != 0 {
		t.Fatalf("pre-rebuild doc survived the swap: %v", got)
	}
	if got := searchKeys(t, m, "fresh"); len(got) != 2 {
		t.Fatalf("Search(fresh) = %v, want both rebuilt docs", got)
	}

	newGen := readCurrentGen(t, cfg.Index.DataDir)
	if newGen == oldGen {
		t.Fatal("CURRENT still points at the old generation")
	}
	if result.Generation != newGen {
		t.Fatalf("result generation = %q, want the swapped generation %q", result.Generation, newGen)
	}
	if result.Records != 2 {
		t.Fatalf("result records = %d, want 2", result.Records)
	}
	if _, err := os.Stat(filepath.Join(cfg.Index.DataDir, oldGen)); !os.IsNotExist(err) {
		t.Fatalf("old generation directory not removed: %v", err)
	}
}

func TestRebuildAbortLeavesLiveIndexUntouched(t *testing.T) {
	cfg := testConfig(t)
	m := openManager(t, cfg)
	ctx := context.Background()

	if err := m.IndexRecord(ctx, pageRecord("1", "red fox", "Live")); err != nil {
		t.Fatalf("IndexRecord: %v", err)
	}
	gen := readCurrentGen(t, cfg.Index.DataDir)

	stream := record.NewFailingIterator(
		[]document.Record{pageRecord("2", "doomed heron", "Live")},
		1, errors.New("connection reset"),
	)
	result, err := m.Rebuild(ctx, stream)
	if !errors.Is(err, kerrors.ErrRebuildAborted) {
		t.Fatalf("Rebuild error = %v, want ErrRebuildAborted", err)
	}
	if result != nil {
		t.Fatalf("aborted rebuild returned a result: %+v", result)
	}

	if got := searchKeys(t, m, "fox"); len(got) != 1 {
		t.Fatalf("live index lost a doc during aborted rebuild: %v", got)
	}
	if got := searchKeys(t, m, "heron"); len(got) != 0 {
		t.Fatalf("aborted rebuild leaked a doc: %v", got)
	}
	if readCurrentGen(t, cfg.Index.DataDir) != gen {
		t.Fatal("CURRENT changed despite the abort")
	}

	// The abandoned generation directory must be cleaned up.
	entries, err := os.ReadDir(cfg.Index.DataDir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if e.IsDir() && e.Name() != gen {
			t.Fatalf("abandoned generation left behind: %s", e.Name())
		}
	}
}

func TestSearchSurvivesRestart(t *testing.T) {
	cfg := testConfig(t)
	registry, err := schema.NewRegistry(cfg.Schemas)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	m, err := Open(cfg, registry)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := m.IndexRecord(context.Background(), pageRecord("1", "durable heron", "Live")); err != nil {
		t.Fatalf("IndexRecord: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(cfg, registry)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if got := searchKeys(t, reopened, "durable"); len(got) != 1 || got[0] != "Page/1" {
		t.Fatalf("Search after restart = %v, want [Page/1]", got)
	}
}

func readCurrentGen(t *testing.T, dataDir string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dataDir, currentFileName))
	if err != nil {
		t.Fatalf("reading CURRENT: %v", err)
	}
	return strings.TrimSpace(string(data))
}
