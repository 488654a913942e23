package index

import (
	"sort"
	"sync"

	"github.com/kestrelsearch/kestrel/internal/analysis"
	"github.com/kestrelsearch/kestrel/internal/document"
)

// MemorySegment is the active (unsealed) segment. It accumulates document
// postings, stored fields, and tombstones under a writer lock until the
// engine seals it into an on-disk segment.
type MemorySegment struct {
	mu sync.RWMutex
	// postings maps field → term → docKey → posting.
	postings map[string]map[string]map[string]*Posting
	// docTerms remembers which (field, term) pairs each document touched,
	// so in-batch replacement can unwind them.
	docTerms   map[string][][2]string
	docs       map[string]*StoredDoc
	tombstones map[string]struct{}
}

// NewMemorySegment creates an empty active segment.
func NewMemorySegment() *MemorySegment {
	return &MemorySegment{
		postings:   make(map[string]map[string]map[string]*Posting),
		docTerms:   make(map[string][][2]string),
		docs:       make(map[string]*StoredDoc),
		tombstones: make(map[string]struct{}),
	}
}

// AddDocument indexes a document into the active segment, replacing any
// in-batch copy of the same identity. Keyword fields index the verbatim
// value as a single term; tokenized fields pass through the analyzer;
// unindexed fields contribute stored values only.
func (m *MemorySegment) AddDocument(doc *document.Document) {
	key := doc.Key.String()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.removeLocked(key)
	m.tombstones[key] = struct{}{}

	stored := &StoredDoc{
		DocKey: key,
		Class:  doc.Key.Class,
		Fields: make(map[string]string),
	}
	for _, f := range doc.Fields {
		if f.Class.Stored() {
			stored.Fields[f.Name] = f.Value
		}
		if !f.Class.Indexed() || f.Value == "" {
			continue
		}
		if f.Class.Tokenized() {
			for _, token := range analysis.Tokenize(f.Value) {
				m.addPostingLocked(f.Name, token.Term, key, token.Position, f.Boost)
				stored.Length++
			}
		} else {
			m.addPostingLocked(f.Name, f.Value, key, 0, f.Boost)
			stored.Length++
		}
	}
	m.docs[key] = stored
}

// Delete tombstones an identity and unwinds any in-batch copy. Safe to call
// for identities the segment has never seen.
func (m *MemorySegment) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(key)
	m.tombstones[key] = struct{}{}
}

func (m *MemorySegment) addPostingLocked(field, term, key string, position int, boost float64) {
	terms, ok := m.postings[field]
	if !ok {
		terms = make(map[string]map[string]*Posting)
		m.postings[field] = terms
	}
	docs, ok := terms[term]
	if !ok {
		docs = make(map[string]*Posting)
		terms[term] = docs
	}
	p, ok := docs[key]
	if !ok {
		p = &Posting{DocKey: key, Boost: boost}
		docs[key] = p
		m.docTerms[key] = append(m.docTerms[key], [2]string{field, term})
	}
	p.Frequency++
	p.Positions = append(p.Positions, position)
}

func (m *MemorySegment) removeLocked(key string) {
	for _, ft := range m.docTerms[key] {
		if docs, ok := m.postings[ft[0]][ft[1]]; ok {
			delete(docs, key)
			if len(docs) == 0 {
				delete(m.postings[ft[0]], ft[1])
			}
		}
	}
	delete(m.docTerms, key)
	delete(m.docs, key)
}

// Search returns the postings for one (field, term) pair, ordered by
// document key.
func (m *MemorySegment) Search(field, term string) PostingList {
	m.mu.RLock()
	defer m.mu.RUnlock()
	docs, ok := m.postings[field][term]
	if !ok {
		return nil
	}
	return sortedPostings(docs)
}

// SearchTerm returns the postings for a term across every indexed field.
func (m *MemorySegment) SearchTerm(term string) map[string]PostingList {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make(map[string]PostingList)
	for field, terms := range m.postings {
		if docs, ok := terms[term]; ok && len(docs) > 0 {
			result[field] = sortedPostings(docs)
		}
	}
	return result
}

func sortedPostings(docs map[string]*Posting) PostingList {
	result := make(PostingList, 0, len(docs))
	for _, p := range docs {
		result = append(result, *p)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].DocKey < result[j].DocKey
	})
	return result
}

// Stored returns the stored document for a live in-batch identity.
func (m *MemorySegment) Stored(key string) (*StoredDoc, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[key]
	return doc, ok
}

// Snapshot returns all term entries sorted by (term, field), ready for a
// segment writer.
func (m *MemorySegment) Snapshot() []TermEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := make([]TermEntry, 0)
	for field, terms := range m.postings {
		for term, docs := range terms {
			if len(docs) == 0 {
				continue
			}
			entries = append(entries, TermEntry{
				Field:    field,
				Term:     term,
				Postings: sortedPostings(docs),
			})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Term != entries[j].Term {
			return entries[i].Term < entries[j].Term
		}
		return entries[i].Field < entries[j].Field
	})
	return entries
}

// Docs returns the stored documents of the batch, ordered by key.
func (m *MemorySegment) Docs() []StoredDoc {
	m.mu.RLock()
	defer m.mu.RUnlock()
	docs := make([]StoredDoc, 0, len(m.docs))
	for _, d := range m.docs {
		docs = append(docs, *d)
	}
	sort.Slice(docs, func(i, j int) bool {
		return docs[i].DocKey < docs[j].DocKey
	})
	return docs
}

// Tombstones returns the identities deleted or replaced during this batch,
// ordered by key.
func (m *MemorySegment) Tombstones() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.tombstones))
	for k := range m.tombstones {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DocCount returns the number of live documents in the batch.
func (m *MemorySegment) DocCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

// Dirty reports whether the batch holds anything worth flushing.
func (m *MemorySegment) Dirty() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs) > 0 || len(m.tombstones) > 0
}

// TotalLength returns the summed token counts of the batch's live documents.
func (m *MemorySegment) TotalLength() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := 0
	for _, d := range m.docs {
		total += d.Length
	}
	return total
}
