package ranker

import (
	"testing"

	"github.com/kestrelsearch/kestrel/internal/indexer/index"
)

func fixedDocInfo(length int) func(string) DocInfo {
	return func(string) DocInfo { return DocInfo{DocLength: length} }
}

func TestRankOrdersByScoreThenKey(t *testing.T) {
	groups := []index.PostingList{{
		{DocKey: "Page/1", Frequency: 5, Boost: 1.0},
		{DocKey: "Page/2", Frequency: 1, Boost: 1.0},
	}}
	params := RankParams{TotalDocs: 10, AvgDocLength: 10}

	ranked := Rank(groups, params, fixedDocInfo(10), 0)
	if len(ranked) != 2 {
		t.Fatalf("got %d results, want 2", len(ranked))
	}
	if ranked[0].DocKey != "Page/1" {
		t.Errorf("higher term frequency should rank first, got %q", ranked[0].DocKey)
	}
	if ranked[0].Score <= ranked[1].Score {
		t.Errorf("scores not descending: %v then %v", ranked[0].Score, ranked[1].Score)
	}
}

func TestRankBreaksTiesByKey(t *testing.T) {
	groups := []index.PostingList{{
		{DocKey: "Page/b", Frequency: 2, Boost: 1.0},
		{DocKey: "Page/a", Frequency: 2, Boost: 1.0},
	}}
	params := RankParams{TotalDocs: 10, AvgDocLength: 10}

	ranked := Rank(groups, params, fixedDocInfo(10), 0)
	if ranked[0].DocKey != "Page/a" || ranked[1].DocKey != "Page/b" {
		t.Errorf("tie not broken by key: %q, %q", ranked[0].DocKey, ranked[1].DocKey)
	}
}

// Raising a field's boost must strictly raise the score of an otherwise
// identical document.
func TestRankBoostMonotonicity(t *testing.T) {
	groups := []index.PostingList{{
		{DocKey: "Page/boosted", Frequency: 1, Boost: 2.0},
		{DocKey: "Page/plain", Frequency: 1, Boost: 1.0},
	}}
	params := RankParams{TotalDocs: 2, AvgDocLength: 5}

	ranked := Rank(groups, params, fixedDocInfo(5), 0)
	if ranked[0].DocKey != "Page/boosted" {
		t.Fatalf("boosted document should rank first, got %q", ranked[0].DocKey)
	}
	if ranked[0].Score <= ranked[1].Score {
		t.Fatalf("boost 2.0 score %v not strictly above boost 1.0 score %v",
			ranked[0].Score, ranked[1].Score)
	}
}

// A term matching every document must still contribute a positive score, or
// boosts could never separate otherwise identical documents.
func TestIDFPositiveWhenTermIsUbiquitous(t *testing.T) {
	if idf := computeIDF(2, 2); idf <= 0 {
		t.Fatalf("computeIDF(2, 2) = %v, want > 0", idf)
	}
}

func TestRankAppliesLimit(t *testing.T) {
	groups := []index.PostingList{{
		{DocKey: "Page/1", Frequency: 3, Boost: 1.0},
		{DocKey: "Page/2", Frequency: 2, Boost: 1.0},
		{DocKey: "Page/3", Frequency: 1, Boost: 1.0},
	}}
	params := RankParams{TotalDocs: 10, AvgDocLength: 10}

	ranked := Rank(groups, params, fixedDocInfo(10), 2)
	if len(ranked) != 2 {
		t.Fatalf("limit ignored: got %d results", len(ranked))
	}
}

func TestRankEmptyCorpus(t *testing.T) {
	ranked := Rank(nil, RankParams{}, fixedDocInfo(0), 10)
	if len(ranked) != 0 {
		t.Fatalf("got %d results from empty input", len(ranked))
	}
}
