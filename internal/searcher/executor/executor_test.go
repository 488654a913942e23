package executor

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/kestrelsearch/kestrel/internal/document"
	"github.com/kestrelsearch/kestrel/internal/indexer"
	"github.com/kestrelsearch/kestrel/internal/schema"
	"github.com/kestrelsearch/kestrel/internal/searcher/parser"
	"github.com/kestrelsearch/kestrel/pkg/config"
)

func seedEngine(t *testing.T) *indexer.Engine {
	t.Helper()
	e, err := indexer.Open(t.TempDir(), config.IndexConfig{SegmentMaxDocs: 100})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { e.Close() })

	docs := []*document.Document{
		pageDoc("1", "The quick red fox", "Draft"),
		pageDoc("2", "A red car", "Live"),
		pageDoc("3", "Blue heron by the lake", "Live"),
	}
	for _, d := range docs {
		if err := e.Upsert(d); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}
	return e
}

func pageDoc(id, title, status string) *document.Document {
	return &document.Document{
		Key: document.Key{Class: "Page", ObjectID: id},
		Fields: []document.Field{
			{Name: "Title", Value: title, Class: schema.Text, Boost: 2.0},
			{Name: "Status", Value: status, Class: schema.Keyword, Boost: 1.0},
		},
	}
}

func search(t *testing.T, e *indexer.Engine, query string, limit int) *SearchResult {
	t.Helper()
	plan, err := parser.Parse(query)
	if err != nil {
		t.Fatalf("Parse(%q): %v", query, err)
	}
	snap := e.Acquire()
	defer snap.Release()
	result, err := New().Execute(context.Background(), snap, plan, limit)
	if err != nil {
		t.Fatalf("Execute(%q): %v", query, err)
	}
	return result
}

func hitKeys(result *SearchResult) []string {
	keys := make([]string, len(result.Results))
	for i, h := range result.Results {
		keys[i] = h.Key
	}
	return keys
}

func TestExecuteSingleTermAcrossFields(t *testing.T) {
	e := seedEngine(t)

	result := search(t, e, "red", 10)
	want := []string{"Page/1", "Page/2"}
	got := hitKeys(result)
	if len(got) != 2 {
		t.Fatalf("hits = %v, want 2 of %v", got, want)
	}
	for _, key := range want {
		found := false
		for _, k := range got {
			if k == key {
				found = true
			}
		}
		if !found {
			t.Fatalf("hits = %v, missing %s", got, key)
		}
	}
	if result.TotalHits != 2 {
		t.Fatalf("TotalHits = %d, want 2", result.TotalHits)
	}
}

func TestExecuteAndIntersects(t *testing.T) {
	e := seedEngine(t)

	result := search(t, e, "red fox", 10)
	if diff := cmp.Diff([]string{"Page/1"}, hitKeys(result)); diff != "" {
		t.Fatalf("AND hits mismatch (-want +got):\n%s", diff)
	}
}

func TestExecuteOrUnions(t *testing.T) {
	e := seedEngine(t)

	result := search(t, e, "fox OR heron", 10)
	got := hitKeys(result)
	if len(got) != 2 {
		t.Fatalf("OR hits = %v, want Page/1 and Page/3", got)
	}
}

func TestExecuteNotExcludes(t *testing.T) {
	e := seedEngine(t)

	result := search(t, e, "red NOT fox", 10)
	if diff := cmp.Diff([]string{"Page/2"}, hitKeys(result)); diff != "" {
		t.Fatalf("NOT hits mismatch (-want +got):\n%s", diff)
	}
}

func TestExecuteFieldScopedKeywordIsVerbatim(t *testing.T) {
	e := seedEngine(t)

	result := search(t, e, "Status:Draft", 10)
	if diff := cmp.Diff([]string{"Page/1"}, hitKeys(result)); diff != "" {
		t.Fatalf("keyword hits mismatch (-want +got):\n%s", diff)
	}

	// Keyword fields are not analyzed, so the lowercased form matches nothing.
	result = search(t, e, "Status:draft", 10)
	if len(result.Results) != 0 {
		t.Fatalf("lowercased keyword matched %v, want no hits", hitKeys(result))
	}
}

func TestExecuteAttachesStoredFields(t *testing.T) {
	e := seedEngine(t)

	result := search(t, e, "heron", 10)
	if len(result.Results) != 1 {
		t.Fatalf("hits = %v, want [Page/3]", hitKeys(result))
	}
	fields := result.Results[0].Fields
	if fields["Title"] != "Blue heron by the lake" {
		t.Fatalf("stored Title = %q", fields["Title"])
	}
	if fields["Status"] != "Live" {
		t.Fatalf("stored Status = %q", fields["Status"])
	}
}

func TestExecuteBoostOrdersHits(t *testing.T) {
	e, err := indexer.Open(t.TempDir(), config.IndexConfig{SegmentMaxDocs: 100})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer e.Close()

	// Same token in a boosted field on one doc and an unboosted field on the
	// other. The boosted occurrence must rank strictly higher.
	docs := []*document.Document{
		{
			Key: document.Key{Class: "Page", ObjectID: "boosted"},
			Fields: []document.Field{
				{Name: "Title", Value: "zebra", Class: schema.Text, Boost: 2.0},
			},
		},
		{
			Key: document.Key{Class: "Page", ObjectID: "plain"},
			Fields: []document.Field{
				{Name: "Title", Value: "zebra", Class: schema.Text, Boost: 1.0},
			},
		},
	}
	for _, d := range docs {
		if err := e.Upsert(d); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	result := search(t, e, "zebra", 10)
	if diff := cmp.Diff([]string{"Page/boosted", "Page/plain"}, hitKeys(result)); diff != "" {
		t.Fatalf("boost ordering mismatch (-want +got):\n%s", diff)
	}
	if result.Results[0].Score <= result.Results[1].Score {
		t.Fatalf("boosted score %v not above plain score %v",
			result.Results[0].Score, result.Results[1].Score)
	}
}

func TestExecuteLimitTruncatesButCountsAll(t *testing.T) {
	e := seedEngine(t)

	result := search(t, e, "red", 1)
	if len(result.Results) != 1 {
		t.Fatalf("limit ignored: %d results", len(result.Results))
	}
	if result.TotalHits != 2 {
		t.Fatalf("TotalHits = %d, want 2", result.TotalHits)
	}
}

func TestExecuteTermStats(t *testing.T) {
	e := seedEngine(t)

	result := search(t, e, "red fox", 10)
	if result.TermStats["red"] != 2 {
		t.Fatalf("TermStats[red] = %d, want 2", result.TermStats["red"])
	}
	if result.TermStats["fox"] != 1 {
		t.Fatalf("TermStats[fox] = %d, want 1", result.TermStats["fox"])
	}
}

func TestExecuteNoMatches(t *testing.T) {
	e := seedEngine(t)

	result := search(t, e, "aardvark", 10)
	if result.TotalHits != 0 || len(result.Results) != 0 {
		t.Fatalf("unexpected hits for absent term: %+v", result)
	}
}
