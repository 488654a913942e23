package benchmark

import (
	"context"
	"fmt"
	"testing"

	"github.com/kestrelsearch/kestrel/internal/indexer"
	"github.com/kestrelsearch/kestrel/internal/indexer/index"
	"github.com/kestrelsearch/kestrel/internal/searcher/executor"
	"github.com/kestrelsearch/kestrel/internal/searcher/parser"
	"github.com/kestrelsearch/kestrel/internal/searcher/ranker"
	"github.com/kestrelsearch/kestrel/pkg/config"
)

// BenchmarkQueryParse measures query parsing latency for queries of varying
// complexity.
func BenchmarkQueryParse(b *testing.B) {
	queries := []struct {
		name  string
		query string
	}{
		{"simple", "content management"},
		{"boolean_and", "search AND records AND pages"},
		{"boolean_or", "indexing OR caching OR ranking"},
		{"with_not", "published NOT archived"},
		{"field_scoped", "Status:Live editor Title:welcome"},
		{"long", "content management record indexing query processing ranking caching segments tombstones"},
	}

	for _, q := range queries {
		b.Run(q.name, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				plan, err := parser.Parse(q.query)
				if err != nil {
					b.Fatal(err)
				}
				_ = plan
			}
		})
	}
}

// BenchmarkRanking measures scoring and sorting for different posting-list
// sizes.
func BenchmarkRanking(b *testing.B) {
	sizes := []int{100, 1000, 10000}
	for _, numDocs := range sizes {
		b.Run(fmt.Sprintf("docs_%d", numDocs), func(b *testing.B) {
			pl := make(index.PostingList, numDocs)
			for i := 0; i < numDocs; i++ {
				pl[i] = index.Posting{
					DocKey:    fmt.Sprintf("Page/%d", i),
					Frequency: (i % 10) + 1,
					Positions: []int{0, 5, 10},
					Boost:     1.0,
				}
			}
			groups := []index.PostingList{pl}

			params := ranker.RankParams{
				TotalDocs:    int64(numDocs * 2),
				AvgDocLength: 150.0,
			}
			getDocInfo := func(docKey string) ranker.DocInfo {
				return ranker.DocInfo{DocLength: 100 + (len(docKey) * 10)}
			}

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				ranked := ranker.Rank(groups, params, getDocInfo, 10)
				_ = ranked
			}
		})
	}
}

// BenchmarkRankingMultiTerm measures scoring with an increasing number of
// query terms contributing posting groups.
func BenchmarkRankingMultiTerm(b *testing.B) {
	termCount := []int{1, 3, 5, 10}
	for _, tc := range termCount {
		b.Run(fmt.Sprintf("terms_%d", tc), func(b *testing.B) {
			groups := make([]index.PostingList, 0, tc)
			for t := 0; t < tc; t++ {
				pl := make(index.PostingList, 500)
				for i := 0; i < 500; i++ {
					pl[i] = index.Posting{
						DocKey:    fmt.Sprintf("Page/%d", i),
						Frequency: (i % 5) + 1,
						Positions: []int{t * 10},
						Boost:     1.0,
					}
				}
				groups = append(groups, pl)
			}

			params := ranker.RankParams{
				TotalDocs:    5000,
				AvgDocLength: 200.0,
			}
			getDocInfo := func(docKey string) ranker.DocInfo {
				return ranker.DocInfo{DocLength: 180}
			}

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				ranked := ranker.Rank(groups, params, getDocInfo, 10)
				_ = ranked
			}
		})
	}
}

func seedBenchEngine(b *testing.B, docs int) *indexer.Engine {
	b.Helper()
	cfg := config.IndexConfig{SegmentMaxDocs: 2000, MergeLiveRatio: 0.5}
	engine, err := indexer.Open(b.TempDir(), cfg)
	if err != nil {
		b.Fatal(err)
	}
	terms := []string{"content", "record", "search", "page", "indexing", "query", "segment", "ranking"}
	for i := 0; i < docs; i++ {
		title := fmt.Sprintf("document about %s and %s", terms[i%len(terms)], terms[(i+1)%len(terms)])
		body := fmt.Sprintf("this document covers %s %s %s in production systems",
			terms[i%len(terms)], terms[(i+2)%len(terms)], terms[(i+3)%len(terms)])
		if err := engine.Upsert(benchDoc(fmt.Sprintf("doc-%d", i), title, body)); err != nil {
			b.Fatal(err)
		}
	}
	return engine
}

// BenchmarkSearchExecute measures end-to-end query execution across a corpus
// spanning several sealed segments and the active one.
func BenchmarkSearchExecute(b *testing.B) {
	engine := seedBenchEngine(b, 10000)
	defer engine.Close()

	exec := executor.New()
	plan, err := parser.Parse("content search")
	if err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		snap := engine.Acquire()
		result, err := exec.Execute(context.Background(), snap, plan, 10)
		snap.Release()
		if err != nil {
			b.Fatal(err)
		}
		_ = result
	}
}

// BenchmarkSearchExecuteParallel measures concurrent search throughput over a
// shared engine, with each goroutine pinning its own snapshot.
func BenchmarkSearchExecuteParallel(b *testing.B) {
	engine := seedBenchEngine(b, 10000)
	defer engine.Close()

	exec := executor.New()
	plan, err := parser.Parse("content search")
	if err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			snap := engine.Acquire()
			result, err := exec.Execute(context.Background(), snap, plan, 10)
			snap.Release()
			if err != nil {
				b.Fatal(err)
			}
			_ = result
		}
	})
}
