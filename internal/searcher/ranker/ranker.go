package ranker

import (
	"math"
	"sort"

	"github.com/kestrelsearch/kestrel/internal/indexer/index"
)

const (
	k1 = 1.2
	b  = 0.75
)

// ScoredDoc is one ranked hit.
type ScoredDoc struct {
	DocKey string  `json:"doc_key"`
	Score  float64 `json:"score"`
}

// RankParams carries the corpus statistics of the snapshot being searched.
type RankParams struct {
	TotalDocs    int64
	AvgDocLength float64
}

// DocInfo is the per-document data the ranker needs from the snapshot.
type DocInfo struct {
	DocLength int
}

// Rank scores the given posting groups and returns hits ordered by
// descending score, ties broken by key. Each group holds the postings of
// one matched (term, field) pair; the per-posting boost is the indexed
// field boost and scales the group's contribution, so a higher boost
// always yields a strictly higher score for the same match.
func Rank(
	groups []index.PostingList,
	params RankParams,
	getDocInfo func(docKey string) DocInfo,
	limit int,
) []ScoredDoc {
	scores := make(map[string]float64)
	for _, postings := range groups {
		docFreq := len(postings)
		idf := computeIDF(params.TotalDocs, int64(docFreq))
		for _, posting := range postings {
			info := getDocInfo(posting.DocKey)
			tfNorm := computeTFNorm(
				float64(posting.Frequency),
				float64(info.DocLength),
				params.AvgDocLength,
			)
			scores[posting.DocKey] += idf * tfNorm * posting.Boost
		}
	}
	result := make([]ScoredDoc, 0, len(scores))
	for docKey, score := range scores {
		result = append(result, ScoredDoc{
			DocKey: docKey,
			Score:  math.Round(score*10000) / 10000,
		})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Score != result[j].Score {
			return result[i].Score > result[j].Score
		}
		return result[i].DocKey < result[j].DocKey
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

// computeIDF keeps the numerator strictly positive so every match
// contributes a nonzero score even when a term appears in all documents.
func computeIDF(totalDocs int64, docFreq int64) float64 {
	numerator := float64(totalDocs) - float64(docFreq) + 0.5
	denominator := float64(docFreq) + 0.5
	return math.Log(numerator/denominator + 1)
}

func computeTFNorm(termFreq float64, docLength float64, avgDocLength float64) float64 {
	if avgDocLength == 0 {
		return 0
	}
	lengthRatio := docLength / avgDocLength
	denominator := termFreq + k1*(1-b+b*lengthRatio)
	return (termFreq * (k1 + 1)) / denominator
}
