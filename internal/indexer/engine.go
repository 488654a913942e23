// Package indexer implements the index writer: a single-writer,
// multi-reader segmented inverted index with tombstone deletes, atomic
// flushes, and compaction of segments whose live-document ratio decays.
package indexer

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kestrelsearch/kestrel/internal/document"
	"github.com/kestrelsearch/kestrel/internal/indexer/index"
	"github.com/kestrelsearch/kestrel/internal/indexer/segment"
	"github.com/kestrelsearch/kestrel/pkg/config"
	kerrors "github.com/kestrelsearch/kestrel/pkg/errors"
)

// Engine owns one index generation: the active in-memory segment plus the
// sealed segment set named by the generation's manifest. Exactly one Engine
// may write to a generation directory at a time; upserts, removes, flushes,
// and merges are serialised on an internal writer lock, while searches pin
// read snapshots and never block the writer.
type Engine struct {
	dir    string
	cfg    config.IndexConfig
	writer *segment.Writer
	logger *slog.Logger

	writeMu sync.Mutex
	mem     *index.MemorySegment

	readerMu sync.RWMutex
	readers  []*segment.Reader
}

// Open loads (or initialises) the index generation at dir.
func Open(dir string, cfg config.IndexConfig) (*Engine, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}
	e := &Engine{
		dir:    dir,
		cfg:    cfg,
		writer: segment.NewWriter(dir),
		mem:    index.NewMemorySegment(),
		logger: slog.Default().With("component", "index-engine", "dir", dir),
	}
	if err := e.loadSegments(); err != nil {
		return nil, fmt.Errorf("loading segments: %w", err)
	}
	return e, nil
}

// Upsert replaces any live version of the document's identity with the new
// document. The old version is tombstoned first, then the new postings are
// appended to the active segment. When the active segment reaches the
// configured document threshold it is flushed automatically.
func (e *Engine) Upsert(doc *document.Document) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	key := doc.Key.String()
	e.mem.AddDocument(doc)
	e.markDeadInSealed(key)
	e.logger.Debug("document upserted", "key", key, "mem_docs", e.mem.DocCount())

	if e.cfg.SegmentMaxDocs > 0 && e.mem.DocCount() >= e.cfg.SegmentMaxDocs {
		e.logger.Info("active segment reached max docs, flushing",
			"docs", e.mem.DocCount(),
			"threshold", e.cfg.SegmentMaxDocs,
		)
		if err := e.flushLocked(); err != nil {
			return err
		}
	}
	return nil
}

// Remove tombstones an identity. It does not require the identity to exist.
func (e *Engine) Remove(key string) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	e.mem.Delete(key)
	e.markDeadInSealed(key)
	e.logger.Debug("document removed", "key", key)
	return nil
}

// markDeadInSealed flags an identity as logically deleted in every sealed
// segment. Searches holding a snapshot keep their captured dead sets; only
// searches started afterwards observe the deletion.
func (e *Engine) markDeadInSealed(key string) {
	e.readerMu.RLock()
	defer e.readerMu.RUnlock()
	for _, r := range e.readers {
		r.MarkDead(key)
	}
}

// Flush seals the active segment into an on-disk segment file, replaces the
// manifest, and starts a fresh active segment. Flush is the only point at
// which the batch becomes durable: a crash beforehand loses the batch, a
// failed flush leaves the active segment intact and retryable.
func (e *Engine) Flush() error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	return e.flushLocked()
}

func (e *Engine) flushLocked() error {
	if !e.mem.Dirty() {
		return nil
	}
	seq := time.Now().UnixNano()
	tombKeys := e.mem.Tombstones()
	tombstones := make([]index.Tombstone, len(tombKeys))
	for i, k := range tombKeys {
		tombstones[i] = index.Tombstone{Key: k, Seq: seq}
	}

	name, err := e.writer.Write(seq, e.mem.Snapshot(), e.mem.Docs(), tombstones)
	if err != nil {
		return fmt.Errorf("%w: sealing segment: %v", kerrors.ErrWriteFailure, err)
	}
	reader, err := segment.OpenReader(filepath.Join(e.dir, name))
	if err != nil {
		return fmt.Errorf("%w: opening sealed segment: %v", kerrors.ErrWriteFailure, err)
	}

	e.readerMu.Lock()
	names := make([]string, 0, len(e.readers)+1)
	for _, r := range e.readers {
		names = append(names, r.Name())
	}
	names = append(names, name)
	if err := storeManifest(e.dir, &manifest{Version: 1, Segments: names}); err != nil {
		e.readerMu.Unlock()
		reader.Retire()
		return fmt.Errorf("%w: committing manifest: %v", kerrors.ErrWriteFailure, err)
	}
	e.readers = append(e.readers, reader)
	e.mem = index.NewMemorySegment()
	e.readerMu.Unlock()

	e.logger.Info("segment flushed",
		"segment", name,
		"terms", reader.Terms(),
		"docs", reader.DocCount(),
		"tombstones", len(tombstones),
		"sealed_segments", len(names),
	)
	return nil
}

// MaybeMerge compacts sealed segments whose live-document ratio has fallen
// below the configured threshold. Surviving documents are rewritten into one
// new segment; the superseded segments are retired and their files deleted
// once no snapshot pins them. Returns whether a merge happened.
func (e *Engine) MaybeMerge() (bool, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	threshold := e.cfg.MergeLiveRatio
	if threshold <= 0 {
		threshold = 0.5
	}
	e.readerMu.RLock()
	candidates := make([]*segment.Reader, 0)
	for _, r := range e.readers {
		if r.DocCount() > 0 && r.LiveRatio() < threshold {
			candidates = append(candidates, r)
		}
	}
	e.readerMu.RUnlock()
	if len(candidates) < 1 {
		return false, nil
	}

	entries, docs, tombstones, err := collectSurvivors(candidates)
	if err != nil {
		return false, fmt.Errorf("%w: reading merge candidates: %v", kerrors.ErrWriteFailure, err)
	}

	var merged *segment.Reader
	var mergedName string
	if len(entries) > 0 || len(docs) > 0 || len(tombstones) > 0 {
		mergedName, err = e.writer.Write(time.Now().UnixNano(), entries, docs, tombstones)
		if err != nil {
			return false, fmt.Errorf("%w: writing merged segment: %v", kerrors.ErrWriteFailure, err)
		}
		merged, err = segment.OpenReader(filepath.Join(e.dir, mergedName))
		if err != nil {
			return false, fmt.Errorf("%w: opening merged segment: %v", kerrors.ErrWriteFailure, err)
		}
	}

	retire := make(map[string]struct{}, len(candidates))
	for _, r := range candidates {
		retire[r.Name()] = struct{}{}
	}

	e.readerMu.Lock()
	keep := make([]*segment.Reader, 0, len(e.readers))
	names := make([]string, 0, len(e.readers))
	for _, r := range e.readers {
		if _, gone := retire[r.Name()]; gone {
			continue
		}
		keep = append(keep, r)
		names = append(names, r.Name())
	}
	if merged != nil {
		keep = append(keep, merged)
		names = append(names, mergedName)
	}
	if err := storeManifest(e.dir, &manifest{Version: 1, Segments: names}); err != nil {
		e.readerMu.Unlock()
		if merged != nil {
			merged.Retire()
		}
		return false, fmt.Errorf("%w: committing manifest: %v", kerrors.ErrWriteFailure, err)
	}
	e.readers = keep
	e.readerMu.Unlock()

	for _, r := range candidates {
		r.Retire()
	}
	e.logger.Info("segments merged",
		"merged", len(candidates),
		"into", mergedName,
		"live_docs", len(docs),
	)
	return true, nil
}

// collectSurvivors gathers the live postings, stored documents, and carried
// tombstones of the merge candidates. Tombstone sequences are preserved so
// they keep killing document copies in older unmerged segments.
func collectSurvivors(candidates []*segment.Reader) ([]index.TermEntry, []index.StoredDoc, []index.Tombstone, error) {
	type fieldTerm struct{ term, field string }
	postings := make(map[fieldTerm]index.PostingList)
	docs := make([]index.StoredDoc, 0)
	tombSeen := make(map[index.Tombstone]struct{})
	tombstones := make([]index.Tombstone, 0)

	for _, r := range candidates {
		segEntries, err := r.Entries()
		if err != nil {
			return nil, nil, nil, err
		}
		for _, entry := range segEntries {
			ft := fieldTerm{term: entry.Term, field: entry.Field}
			for _, p := range entry.Postings {
				if r.IsDead(p.DocKey) {
					continue
				}
				postings[ft] = append(postings[ft], p)
			}
		}
		for _, d := range r.Docs() {
			if !r.IsDead(d.DocKey) {
				docs = append(docs, d)
			}
		}
		for _, t := range r.Tombstones() {
			if _, dup := tombSeen[t]; !dup {
				tombSeen[t] = struct{}{}
				tombstones = append(tombstones, t)
			}
		}
	}

	entries := make([]index.TermEntry, 0, len(postings))
	for ft, list := range postings {
		sort.Slice(list, func(i, j int) bool { return list[i].DocKey < list[j].DocKey })
		entries = append(entries, index.TermEntry{Field: ft.field, Term: ft.term, Postings: list})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Term != entries[j].Term {
			return entries[i].Term < entries[j].Term
		}
		return entries[i].Field < entries[j].Field
	})
	sort.Slice(docs, func(i, j int) bool { return docs[i].DocKey < docs[j].DocKey })
	sort.Slice(tombstones, func(i, j int) bool {
		if tombstones[i].Key != tombstones[j].Key {
			return tombstones[i].Key < tombstones[j].Key
		}
		return tombstones[i].Seq < tombstones[j].Seq
	})
	return entries, docs, tombstones, nil
}

// SealedSegments returns the number of sealed segments.
func (e *Engine) SealedSegments() int {
	e.readerMu.RLock()
	defer e.readerMu.RUnlock()
	return len(e.readers)
}

// PendingDocs returns the live document count of the active segment.
func (e *Engine) PendingDocs() int {
	e.readerMu.RLock()
	mem := e.mem
	e.readerMu.RUnlock()
	return mem.DocCount()
}

// Close flushes the active segment and drops the engine's reader pins.
func (e *Engine) Close() error {
	if err := e.Flush(); err != nil {
		e.logger.Error("final flush on close failed", "error", err)
	}
	e.readerMu.Lock()
	defer e.readerMu.Unlock()
	for _, r := range e.readers {
		if err := r.Close(); err != nil {
			e.logger.Error("closing segment reader", "error", err)
		}
	}
	e.readers = nil
	return nil
}

// Retire marks every sealed segment superseded without flushing. Segment
// files disappear as in-flight snapshots release their pins; callers remove
// the generation directory afterwards (unlinked files stay readable through
// held descriptors).
func (e *Engine) Retire() {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	e.readerMu.Lock()
	defer e.readerMu.Unlock()
	for _, r := range e.readers {
		r.Retire()
	}
	e.readers = nil
	e.mem = index.NewMemorySegment()
}

// loadSegments opens the manifest's sealed segments in order, discards
// orphaned segment files from interrupted flushes, and replays tombstones:
// a tombstone with sequence s kills document copies in segments created
// strictly before s.
func (e *Engine) loadSegments() error {
	m, err := loadManifest(e.dir)
	if err != nil {
		return err
	}
	known := make(map[string]struct{}, len(m.Segments))
	for _, name := range m.Segments {
		known[name] = struct{}{}
	}

	dirEntries, err := os.ReadDir(e.dir)
	if err != nil {
		return fmt.Errorf("reading index directory: %w", err)
	}
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, segment.FileSuffix) {
			continue
		}
		if _, ok := known[name]; !ok {
			e.logger.Warn("discarding orphaned segment file", "segment", name)
			if err := os.Remove(filepath.Join(e.dir, name)); err != nil {
				e.logger.Error("removing orphaned segment", "segment", name, "error", err)
			}
		}
	}

	for _, name := range m.Segments {
		reader, err := segment.OpenReader(filepath.Join(e.dir, name))
		if err != nil {
			return fmt.Errorf("opening segment %s: %w", name, err)
		}
		e.readers = append(e.readers, reader)
	}

	for _, r := range e.readers {
		for _, t := range r.Tombstones() {
			for _, older := range e.readers {
				if older.CreatedAt() < t.Seq {
					older.MarkDead(t.Key)
				}
			}
		}
	}

	e.logger.Info("segment recovery complete", "segments_loaded", len(e.readers))
	return nil
}
