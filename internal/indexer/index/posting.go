// Package index holds the inverted-index data types and the in-memory
// active segment that accumulates writes between flushes.
package index

// Posting records one document's occurrences of a term in one field.
// Boost is the indexed field's weight, captured at write time.
type Posting struct {
	DocKey    string  `json:"k"`
	Frequency int     `json:"f"`
	Positions []int   `json:"p,omitempty"`
	Boost     float64 `json:"b"`
}

// PostingList is a set of postings for one (field, term) pair, ordered by
// document key.
type PostingList []Posting

// TermEntry is one (field, term) row of a segment snapshot.
type TermEntry struct {
	Field    string
	Term     string
	Postings PostingList
}

// StoredDoc carries a document's retrievable field values and its indexed
// token count.
type StoredDoc struct {
	DocKey string            `json:"k"`
	Class  string            `json:"c"`
	Fields map[string]string `json:"f,omitempty"`
	Length int               `json:"l"`
}

// Tombstone marks a document identity as logically deleted. Seq orders the
// deletion against segment creation times: a tombstone kills document copies
// in segments strictly older than Seq.
type Tombstone struct {
	Key string `json:"k"`
	Seq int64  `json:"s"`
}
