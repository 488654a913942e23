package executor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kestrelsearch/kestrel/internal/analysis"
	"github.com/kestrelsearch/kestrel/internal/indexer"
	"github.com/kestrelsearch/kestrel/internal/indexer/index"
	"github.com/kestrelsearch/kestrel/internal/searcher/parser"
	"github.com/kestrelsearch/kestrel/internal/searcher/ranker"
	"github.com/kestrelsearch/kestrel/pkg/logger"
)

// Hit is one ranked search result with its retrievable field values.
type Hit struct {
	Key    string            `json:"key"`
	Score  float64           `json:"score"`
	Fields map[string]string `json:"fields,omitempty"`
}

// SearchResult is the full response for one executed query.
type SearchResult struct {
	Query     string         `json:"query"`
	TotalHits int            `json:"total_hits"`
	Results   []Hit          `json:"results"`
	TermStats map[string]int `json:"term_stats"`
}

// Executor resolves parsed query plans against index snapshots.
type Executor struct {
	logger *slog.Logger
}

func New() *Executor {
	return &Executor{
		logger: logger.WithComponent("query-executor"),
	}
}

// termMatch is everything one positive query term matched in the snapshot:
// the posting groups per (field, variant) pair and the union of their keys.
type termMatch struct {
	groups []index.PostingList
	docs   map[string]struct{}
}

// Execute resolves the plan against the snapshot and returns ranked hits.
// The caller owns the snapshot and releases it after the result is built.
func (e *Executor) Execute(ctx context.Context, snap *indexer.Snapshot, plan *parser.Plan, limit int) (*SearchResult, error) {
	matches := make([]termMatch, 0, len(plan.Terms))
	termStats := make(map[string]int)
	for _, term := range plan.Terms {
		match, err := e.resolveTerm(snap, term)
		if err != nil {
			return nil, fmt.Errorf("resolving term %q: %w", term.Raw, err)
		}
		matches = append(matches, match)
		termStats[termLabel(term)] = len(match.docs)
	}

	var candidates map[string]struct{}
	switch plan.Mode {
	case parser.ModeOr:
		candidates = unionMatches(matches)
	default:
		candidates = intersectMatches(matches)
	}

	for _, term := range plan.Excluded {
		match, err := e.resolveTerm(snap, term)
		if err != nil {
			e.logger.Error("resolving excluded term failed", "term", term.Raw, "error", err)
			continue
		}
		for key := range match.docs {
			delete(candidates, key)
		}
	}

	groups := make([]index.PostingList, 0)
	for _, match := range matches {
		for _, postings := range match.groups {
			filtered := make(index.PostingList, 0, len(postings))
			for _, p := range postings {
				if _, ok := candidates[p.DocKey]; ok {
					filtered = append(filtered, p)
				}
			}
			if len(filtered) > 0 {
				groups = append(groups, filtered)
			}
		}
	}

	params := ranker.RankParams{
		TotalDocs:    snap.TotalDocs(),
		AvgDocLength: snap.AvgDocLength(),
	}
	getDocInfo := func(docKey string) ranker.DocInfo {
		return ranker.DocInfo{DocLength: snap.DocLength(docKey)}
	}
	ranked := ranker.Rank(groups, params, getDocInfo, limit)

	results := make([]Hit, 0, len(ranked))
	for _, doc := range ranked {
		results = append(results, Hit{
			Key:    doc.DocKey,
			Score:  doc.Score,
			Fields: snap.StoredFields(doc.DocKey),
		})
	}

	e.logger.Info("query executed",
		"query", plan.RawQuery,
		"request_id", logger.RequestID(ctx),
		"candidates", len(candidates),
		"results", len(results),
	)
	return &SearchResult{
		Query:     plan.RawQuery,
		TotalHits: len(candidates),
		Results:   results,
		TermStats: termStats,
	}, nil
}

// resolveTerm looks a query term up both verbatim and analyzed. Verbatim
// hits Keyword terms that were indexed untokenized; the analyzed variants
// hit tokenized Text and Unstored content.
func (e *Executor) resolveTerm(snap *indexer.Snapshot, term parser.Term) (termMatch, error) {
	variants := termVariants(term.Raw)
	match := termMatch{docs: make(map[string]struct{})}

	if term.Field != "" {
		for _, variant := range variants {
			postings, err := snap.Lookup(term.Field, variant)
			if err != nil {
				return termMatch{}, err
			}
			match.add(postings)
		}
		return match, nil
	}

	for _, variant := range variants {
		perField, err := snap.LookupTerm(variant)
		if err != nil {
			return termMatch{}, err
		}
		for _, postings := range perField {
			match.add(postings)
		}
	}
	return match, nil
}

func (m *termMatch) add(postings index.PostingList) {
	if len(postings) == 0 {
		return
	}
	m.groups = append(m.groups, postings)
	for _, p := range postings {
		m.docs[p.DocKey] = struct{}{}
	}
}

// termVariants returns the distinct index terms a raw query token can
// match: the token verbatim plus its analyzed forms.
func termVariants(raw string) []string {
	seen := map[string]struct{}{raw: {}}
	variants := []string{raw}
	for _, analyzed := range analysis.Terms(raw) {
		if _, dup := seen[analyzed]; dup {
			continue
		}
		seen[analyzed] = struct{}{}
		variants = append(variants, analyzed)
	}
	return variants
}

func termLabel(term parser.Term) string {
	if term.Field == "" {
		return term.Raw
	}
	return term.Field + ":" + term.Raw
}

func intersectMatches(matches []termMatch) map[string]struct{} {
	if len(matches) == 0 {
		return make(map[string]struct{})
	}
	shortest := 0
	for i, match := range matches {
		if len(match.docs) < len(matches[shortest].docs) {
			shortest = i
		}
	}
	candidates := make(map[string]struct{}, len(matches[shortest].docs))
	for key := range matches[shortest].docs {
		candidates[key] = struct{}{}
	}
	for i, match := range matches {
		if i == shortest {
			continue
		}
		for key := range candidates {
			if _, ok := match.docs[key]; !ok {
				delete(candidates, key)
			}
		}
	}
	return candidates
}

func unionMatches(matches []termMatch) map[string]struct{} {
	result := make(map[string]struct{})
	for _, match := range matches {
		for key := range match.docs {
			result[key] = struct{}{}
		}
	}
	return result
}
