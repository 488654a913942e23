package segment

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"log/slog"
	"os"
	"sort"
	"sync/atomic"

	"github.com/kestrelsearch/kestrel/internal/indexer/index"
)

// deadState is an immutable snapshot of a segment's logically deleted
// document keys, swapped copy-on-write so in-flight searches keep a
// consistent view.
type deadState struct {
	keys    map[string]struct{}
	lenSum  int
	docDead int
}

var emptyDead = &deadState{keys: map[string]struct{}{}}

// Reader serves lookups against one sealed, immutable segment file. Readers
// are reference counted: searches pin them for the duration of a snapshot,
// and a retired reader deletes its file once the last pin is released.
type Reader struct {
	file    *os.File
	path    string
	name    string
	header  Header
	dict    []DictEntry
	docs    map[string]index.StoredDoc
	tombs   []index.Tombstone
	lenSum  int
	dead    atomic.Pointer[deadState]
	refs    atomic.Int64
	retired atomic.Bool
}

// OpenReader memory-maps a segment's dictionary, stored documents, and
// tombstones, leaving postings on disk for on-demand reads.
func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening segment file: %w", err)
	}
	headerBytes := make([]byte, HeaderSize)
	if _, err := f.ReadAt(headerBytes, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("reading segment header: %w", err)
	}
	magic := binary.LittleEndian.Uint32(headerBytes[0:4])
	if magic != MagicBytes {
		f.Close()
		return nil, fmt.Errorf("invalid segment file: bad magic bytes %x", magic)
	}
	header := Header{
		Magic:      magic,
		Version:    binary.LittleEndian.Uint32(headerBytes[4:8]),
		TermCount:  binary.LittleEndian.Uint32(headerBytes[8:12]),
		DocCount:   binary.LittleEndian.Uint32(headerBytes[12:16]),
		CreatedAt:  int64(binary.LittleEndian.Uint64(headerBytes[16:24])),
		DictOffset: int64(binary.LittleEndian.Uint64(headerBytes[24:32])),
		DictSize:   int64(binary.LittleEndian.Uint64(headerBytes[32:40])),
		DocsOffset: int64(binary.LittleEndian.Uint64(headerBytes[40:48])),
		DocsSize:   int64(binary.LittleEndian.Uint64(headerBytes[48:56])),
		TombOffset: int64(binary.LittleEndian.Uint64(headerBytes[56:64])),
		TombSize:   int64(binary.LittleEndian.Uint64(headerBytes[64:72])),
	}

	dictData, err := readSection(f, header.DictOffset, header.DictSize)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("reading dictionary: %w", err)
	}
	docsData, err := readSection(f, header.DocsOffset, header.DocsSize)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("reading stored documents: %w", err)
	}
	tombData, err := readSection(f, header.TombOffset, header.TombSize)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("reading tombstones: %w", err)
	}

	footer := make([]byte, FooterSize)
	if _, err := f.ReadAt(footer, header.TombOffset+header.TombSize); err != nil {
		f.Close()
		return nil, fmt.Errorf("reading footer: %w", err)
	}
	if crc32.ChecksumIEEE(dictData) != binary.LittleEndian.Uint32(footer[0:4]) ||
		crc32.ChecksumIEEE(docsData) != binary.LittleEndian.Uint32(footer[4:8]) ||
		crc32.ChecksumIEEE(tombData) != binary.LittleEndian.Uint32(footer[8:12]) {
		f.Close()
		return nil, fmt.Errorf("segment %s: checksum mismatch", path)
	}

	var dict []DictEntry
	if err := json.Unmarshal(dictData, &dict); err != nil {
		f.Close()
		return nil, fmt.Errorf("parsing dictionary: %w", err)
	}
	var docList []index.StoredDoc
	if err := json.Unmarshal(docsData, &docList); err != nil {
		f.Close()
		return nil, fmt.Errorf("parsing stored documents: %w", err)
	}
	var tombs []index.Tombstone
	if err := json.Unmarshal(tombData, &tombs); err != nil {
		f.Close()
		return nil, fmt.Errorf("parsing tombstones: %w", err)
	}

	docs := make(map[string]index.StoredDoc, len(docList))
	lenSum := 0
	for _, d := range docList {
		docs[d.DocKey] = d
		lenSum += d.Length
	}
	r := &Reader{
		file:   f,
		path:   path,
		name:   baseName(path),
		header: header,
		dict:   dict,
		docs:   docs,
		tombs:  tombs,
		lenSum: lenSum,
	}
	r.dead.Store(emptyDead)
	r.refs.Store(1)
	return r, nil
}

func readSection(f *os.File, offset, size int64) ([]byte, error) {
	buf := make([]byte, size)
	if size == 0 {
		return buf, nil
	}
	if _, err := f.ReadAt(buf, offset); err != nil {
		return nil, err
	}
	return buf, nil
}

func baseName(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' || path[i] == '\\' {
			return path[i+1:]
		}
	}
	return path
}

// Lookup returns the postings for an exact (field, term) pair.
func (r *Reader) Lookup(field, term string) (index.PostingList, error) {
	i := sort.Search(len(r.dict), func(i int) bool {
		if r.dict[i].Term != term {
			return r.dict[i].Term >= term
		}
		return r.dict[i].Field >= field
	})
	if i >= len(r.dict) || r.dict[i].Term != term || r.dict[i].Field != field {
		return nil, nil
	}
	return r.readPostings(r.dict[i])
}

// LookupTerm returns the postings for a term across every field that
// indexed it.
func (r *Reader) LookupTerm(term string) (map[string]index.PostingList, error) {
	i := sort.Search(len(r.dict), func(i int) bool {
		return r.dict[i].Term >= term
	})
	result := make(map[string]index.PostingList)
	for ; i < len(r.dict) && r.dict[i].Term == term; i++ {
		postings, err := r.readPostings(r.dict[i])
		if err != nil {
			return nil, err
		}
		result[r.dict[i].Field] = postings
	}
	return result, nil
}

func (r *Reader) readPostings(entry DictEntry) (index.PostingList, error) {
	buf := make([]byte, entry.PostLen)
	if _, err := r.file.ReadAt(buf, int64(HeaderSize)+entry.PostOffset); err != nil {
		return nil, fmt.Errorf("reading postings: %w", err)
	}
	var postings index.PostingList
	if err := json.Unmarshal(buf, &postings); err != nil {
		return nil, fmt.Errorf("parsing postings: %w", err)
	}
	return postings, nil
}

// Entries replays every (field, term, postings) row of the segment, used by
// the merge path.
func (r *Reader) Entries() ([]index.TermEntry, error) {
	entries := make([]index.TermEntry, 0, len(r.dict))
	for _, d := range r.dict {
		postings, err := r.readPostings(d)
		if err != nil {
			return nil, err
		}
		entries = append(entries, index.TermEntry{
			Field:    d.Field,
			Term:     d.Term,
			Postings: postings,
		})
	}
	return entries, nil
}

// Stored returns the stored document for an identity held by this segment.
func (r *Reader) Stored(key string) (index.StoredDoc, bool) {
	d, ok := r.docs[key]
	return d, ok
}

// Docs returns the segment's stored documents.
func (r *Reader) Docs() []index.StoredDoc {
	docs := make([]index.StoredDoc, 0, len(r.docs))
	for _, d := range r.docs {
		docs = append(docs, d)
	}
	sort.Slice(docs, func(i, j int) bool {
		return docs[i].DocKey < docs[j].DocKey
	})
	return docs
}

// Tombstones returns the deletions recorded while this segment's batch was
// active.
func (r *Reader) Tombstones() []index.Tombstone {
	return r.tombs
}

// MarkDead flags an identity in this segment as logically deleted. The dead
// set is replaced copy-on-write so pinned snapshots are unaffected.
func (r *Reader) MarkDead(key string) {
	doc, ok := r.docs[key]
	if !ok {
		return
	}
	for {
		old := r.dead.Load()
		if _, already := old.keys[key]; already {
			return
		}
		next := &deadState{
			keys:    make(map[string]struct{}, len(old.keys)+1),
			lenSum:  old.lenSum + doc.Length,
			docDead: old.docDead + 1,
		}
		for k := range old.keys {
			next.keys[k] = struct{}{}
		}
		next.keys[key] = struct{}{}
		if r.dead.CompareAndSwap(old, next) {
			return
		}
	}
}

// DeadSet returns the current immutable dead-key set. Snapshots capture the
// returned map and stay consistent across later deletions.
func (r *Reader) DeadSet() map[string]struct{} {
	return r.dead.Load().keys
}

// IsDead reports whether the identity is logically deleted in this segment.
func (r *Reader) IsDead(key string) bool {
	_, dead := r.dead.Load().keys[key]
	return dead
}

// Name returns the segment's file name.
func (r *Reader) Name() string {
	return r.name
}

// CreatedAt returns the segment's creation sequence (unix nanoseconds).
func (r *Reader) CreatedAt() int64 {
	return r.header.CreatedAt
}

// Terms returns the number of dictionary entries.
func (r *Reader) Terms() int {
	return len(r.dict)
}

// DocCount returns the number of documents written into the segment.
func (r *Reader) DocCount() int {
	return len(r.docs)
}

// LiveCount returns the number of documents not yet logically deleted.
func (r *Reader) LiveCount() int {
	return len(r.docs) - r.dead.Load().docDead
}

// LiveLength returns the summed token counts of live documents.
func (r *Reader) LiveLength() int {
	return r.lenSum - r.dead.Load().lenSum
}

// LiveRatio returns the fraction of the segment's documents still live.
func (r *Reader) LiveRatio() float64 {
	if len(r.docs) == 0 {
		return 1.0
	}
	return float64(r.LiveCount()) / float64(len(r.docs))
}

// Acquire pins the reader for the duration of a snapshot.
func (r *Reader) Acquire() {
	r.refs.Add(1)
}

// Release unpins the reader. A retired reader deletes its file once the last
// pin drops.
func (r *Reader) Release() {
	if r.refs.Add(-1) == 0 {
		if err := r.file.Close(); err != nil {
			slog.Default().Warn("closing retired segment", "segment", r.name, "error", err)
		}
		if r.retired.Load() {
			if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) {
				slog.Default().Warn("removing retired segment", "segment", r.name, "error", err)
			}
		}
	}
}

// Retire marks the reader superseded and drops the index's own pin. The
// file disappears once in-flight snapshots release theirs.
func (r *Reader) Retire() {
	r.retired.Store(true)
	r.Release()
}

// Close drops the index's own pin without retiring the file.
func (r *Reader) Close() error {
	r.Release()
	return nil
}
