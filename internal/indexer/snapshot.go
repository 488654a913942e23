package indexer

import (
	"sync"

	"github.com/kestrelsearch/kestrel/internal/indexer/index"
	"github.com/kestrelsearch/kestrel/internal/indexer/segment"
)

// Snapshot is a consistent read view of the index: the sealed segment set,
// their dead sets, and the active segment as they stood at acquisition.
// Later flushes and merges do not change what the snapshot consults.
// Callers must Release the snapshot when done.
type Snapshot struct {
	mem     *index.MemorySegment
	readers []*segment.Reader
	dead    []map[string]struct{}

	totalDocs   int64
	totalLength int64

	releaseOnce sync.Once
}

// Acquire pins the current segment set and returns a Snapshot. Readers are
// reference counted; segment files retired by a concurrent merge survive
// until the snapshot is released.
func (e *Engine) Acquire() *Snapshot {
	e.readerMu.RLock()
	s := &Snapshot{
		mem:     e.mem,
		readers: make([]*segment.Reader, len(e.readers)),
		dead:    make([]map[string]struct{}, len(e.readers)),
	}
	copy(s.readers, e.readers)
	for _, r := range s.readers {
		r.Acquire()
	}
	e.readerMu.RUnlock()

	for i, r := range s.readers {
		deadSet := r.DeadSet()
		s.dead[i] = deadSet
		s.totalDocs += int64(r.DocCount() - len(deadSet))
		s.totalLength += int64(r.LiveLength())
	}
	s.totalDocs += int64(s.mem.DocCount())
	s.totalLength += int64(s.mem.TotalLength())
	return s
}

// Release unpins the snapshot's segments. Safe to call more than once.
func (s *Snapshot) Release() {
	s.releaseOnce.Do(func() {
		for _, r := range s.readers {
			r.Release()
		}
	})
}

// Lookup returns the live postings for one (field, term) pair across the
// snapshot, newest version of each identity winning.
func (s *Snapshot) Lookup(field, term string) (index.PostingList, error) {
	seen := make(map[string]struct{})
	result := make(index.PostingList, 0)

	for _, p := range s.mem.Search(field, term) {
		seen[p.DocKey] = struct{}{}
		result = append(result, p)
	}
	for i := len(s.readers) - 1; i >= 0; i-- {
		postings, err := s.readers[i].Lookup(field, term)
		if err != nil {
			return nil, err
		}
		for _, p := range postings {
			if _, dup := seen[p.DocKey]; dup {
				continue
			}
			if _, dead := s.dead[i][p.DocKey]; dead {
				continue
			}
			seen[p.DocKey] = struct{}{}
			result = append(result, p)
		}
	}
	return result, nil
}

// LookupTerm returns the live postings for a term in every field that
// indexed it.
func (s *Snapshot) LookupTerm(term string) (map[string]index.PostingList, error) {
	perField := make(map[string]map[string]struct{})
	result := make(map[string]index.PostingList)

	add := func(field string, postings index.PostingList, dead map[string]struct{}) {
		seen, ok := perField[field]
		if !ok {
			seen = make(map[string]struct{})
			perField[field] = seen
		}
		for _, p := range postings {
			if _, dup := seen[p.DocKey]; dup {
				continue
			}
			if dead != nil {
				if _, gone := dead[p.DocKey]; gone {
					continue
				}
			}
			seen[p.DocKey] = struct{}{}
			result[field] = append(result[field], p)
		}
	}

	for field, postings := range s.mem.SearchTerm(term) {
		add(field, postings, nil)
	}
	for i := len(s.readers) - 1; i >= 0; i-- {
		fields, err := s.readers[i].LookupTerm(term)
		if err != nil {
			return nil, err
		}
		for field, postings := range fields {
			add(field, postings, s.dead[i])
		}
	}
	return result, nil
}

// StoredFields returns the retrievable field values of the live version of
// an identity, or nil if the snapshot holds none.
func (s *Snapshot) StoredFields(key string) map[string]string {
	if doc, ok := s.mem.Stored(key); ok {
		return doc.Fields
	}
	for i := len(s.readers) - 1; i >= 0; i-- {
		if _, dead := s.dead[i][key]; dead {
			continue
		}
		if doc, ok := s.readers[i].Stored(key); ok {
			return doc.Fields
		}
	}
	return nil
}

// DocLength returns the indexed token count of the live version of an
// identity.
func (s *Snapshot) DocLength(key string) int {
	if doc, ok := s.mem.Stored(key); ok {
		return doc.Length
	}
	for i := len(s.readers) - 1; i >= 0; i-- {
		if _, dead := s.dead[i][key]; dead {
			continue
		}
		if doc, ok := s.readers[i].Stored(key); ok {
			return doc.Length
		}
	}
	return 0
}

// TotalDocs returns the number of live documents visible to the snapshot.
func (s *Snapshot) TotalDocs() int64 {
	return s.totalDocs
}

// AvgDocLength returns the mean indexed token count of live documents.
func (s *Snapshot) AvgDocLength() float64 {
	if s.totalDocs == 0 {
		return 0
	}
	return float64(s.totalLength) / float64(s.totalDocs)
}

// Segments returns the number of sealed segments the snapshot consults.
func (s *Snapshot) Segments() int {
	return len(s.readers)
}
