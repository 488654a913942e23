package segment

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/kestrelsearch/kestrel/internal/indexer/index"
)

func writeTestSegment(t *testing.T, dir string) (string, []index.TermEntry, []index.StoredDoc, []index.Tombstone) {
	t.Helper()
	// Dictionary order is (term, field); "Published" sorts before "fox".
	entries := []index.TermEntry{
		{Field: "Status", Term: "Published", Postings: index.PostingList{
			{DocKey: "Page/1", Frequency: 1, Positions: []int{0}, Boost: 1.0},
		}},
		{Field: "Title", Term: "fox", Postings: index.PostingList{
			{DocKey: "Page/1", Frequency: 2, Positions: []int{0, 4}, Boost: 2.0},
			{DocKey: "Page/2", Frequency: 1, Positions: []int{1}, Boost: 2.0},
		}},
	}
	docs := []index.StoredDoc{
		{DocKey: "Page/1", Class: "Page", Fields: map[string]string{"Title": "fox and fox"}, Length: 3},
		{DocKey: "Page/2", Class: "Page", Fields: map[string]string{"Title": "one fox"}, Length: 2},
	}
	tombstones := []index.Tombstone{{Key: "Page/9", Seq: 1000}}

	name, err := NewWriter(dir).Write(1000, entries, docs, tombstones)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	return name, entries, docs, tombstones
}

func TestSegmentRoundTrip(t *testing.T) {
	dir := t.TempDir()
	name, entries, docs, tombstones := writeTestSegment(t, dir)
	if !strings.HasSuffix(name, FileSuffix) {
		t.Fatalf("segment name %q missing %s suffix", name, FileSuffix)
	}

	r, err := OpenReader(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()

	if r.CreatedAt() != 1000 {
		t.Errorf("CreatedAt = %d, want 1000", r.CreatedAt())
	}
	if r.DocCount() != len(docs) {
		t.Errorf("DocCount = %d, want %d", r.DocCount(), len(docs))
	}
	if r.Terms() != len(entries) {
		t.Errorf("Terms = %d, want %d", r.Terms(), len(entries))
	}

	postings, err := r.Lookup("Title", "fox")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if diff := cmp.Diff(entries[1].Postings, postings); diff != "" {
		t.Errorf("postings mismatch (-want +got):\n%s", diff)
	}

	missing, err := r.Lookup("Title", "hound")
	if err != nil {
		t.Fatalf("Lookup missing term: %v", err)
	}
	if len(missing) != 0 {
		t.Errorf("lookup of absent term returned %d postings", len(missing))
	}

	stored, ok := r.Stored("Page/1")
	if !ok {
		t.Fatal("Stored(Page/1) not found")
	}
	if stored.Fields["Title"] != "fox and fox" {
		t.Errorf("stored Title = %q", stored.Fields["Title"])
	}

	if diff := cmp.Diff(tombstones, r.Tombstones()); diff != "" {
		t.Errorf("tombstones mismatch (-want +got):\n%s", diff)
	}
}

func TestLookupTermSpansFields(t *testing.T) {
	dir := t.TempDir()
	entries := []index.TermEntry{
		{Field: "Summary", Term: "fox", Postings: index.PostingList{{DocKey: "Page/2", Frequency: 1, Boost: 1.0}}},
		{Field: "Title", Term: "fox", Postings: index.PostingList{{DocKey: "Page/1", Frequency: 1, Boost: 2.0}}},
	}
	docs := []index.StoredDoc{
		{DocKey: "Page/1", Class: "Page", Length: 1},
		{DocKey: "Page/2", Class: "Page", Length: 1},
	}
	name, err := NewWriter(dir).Write(0, entries, docs, nil)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	r, err := OpenReader(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()

	perField, err := r.LookupTerm("fox")
	if err != nil {
		t.Fatalf("LookupTerm: %v", err)
	}
	if len(perField) != 2 {
		t.Fatalf("LookupTerm matched %d fields, want 2", len(perField))
	}
	if perField["Title"][0].DocKey != "Page/1" || perField["Summary"][0].DocKey != "Page/2" {
		t.Errorf("unexpected per-field postings: %+v", perField)
	}
}

func TestWriteRejectsEmptyBatch(t *testing.T) {
	if _, err := NewWriter(t.TempDir()).Write(0, nil, nil, nil); err == nil {
		t.Fatal("expected error for empty segment")
	}
}

func TestFailedWriteRemovesTempFile(t *testing.T) {
	dir := t.TempDir()
	// A NaN boost is unencodable, failing the write after the temp file
	// and header already exist.
	entries := []index.TermEntry{
		{Field: "Title", Term: "fox", Postings: index.PostingList{
			{DocKey: "Page/1", Frequency: 1, Boost: math.NaN()},
		}},
	}
	docs := []index.StoredDoc{{DocKey: "Page/1", Class: "Page", Length: 1}}

	if _, err := NewWriter(dir).Write(0, entries, docs, nil); err == nil {
		t.Fatal("expected error for unencodable postings")
	}
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, de := range dirEntries {
		if strings.HasSuffix(de.Name(), ".tmp") {
			t.Errorf("failed write left temp file behind: %s", de.Name())
		}
	}
}

func TestWriteLeavesNoTempFileBehind(t *testing.T) {
	dir := t.TempDir()
	writeTestSegment(t, dir)

	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, de := range dirEntries {
		if strings.HasSuffix(de.Name(), ".tmp") {
			t.Errorf("temp file left behind: %s", de.Name())
		}
	}
}

func TestOpenReaderRejectsCorruption(t *testing.T) {
	dir := t.TempDir()
	name, _, _, _ := writeTestSegment(t, dir)
	path := filepath.Join(dir, name)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	// Flip a byte in the last data section; the CRC footer must catch it.
	data[len(data)-FooterSize-2] ^= 0xFF
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := OpenReader(path); err == nil {
		t.Fatal("expected checksum error for corrupted segment")
	}
}

func TestOpenReaderRejectsBadMagic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bogus"+FileSuffix)
	if err := os.WriteFile(path, make([]byte, HeaderSize+FooterSize), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := OpenReader(path); err == nil {
		t.Fatal("expected error for bad magic bytes")
	}
}

func TestMarkDeadIsCopyOnWrite(t *testing.T) {
	dir := t.TempDir()
	name, _, _, _ := writeTestSegment(t, dir)
	r, err := OpenReader(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()

	before := r.DeadSet()
	r.MarkDead("Page/1")
	if len(before) != 0 {
		t.Error("captured dead set mutated by later MarkDead")
	}
	if !r.IsDead("Page/1") {
		t.Error("Page/1 not dead after MarkDead")
	}
	if r.IsDead("Page/2") {
		t.Error("Page/2 unexpectedly dead")
	}

	if got := r.LiveCount(); got != 1 {
		t.Errorf("LiveCount = %d, want 1", got)
	}
	if got := r.LiveRatio(); got != 0.5 {
		t.Errorf("LiveRatio = %v, want 0.5", got)
	}
	if got := r.LiveLength(); got != 2 {
		t.Errorf("LiveLength = %d, want 2", got)
	}

	// Marking a key the segment does not hold is a no-op.
	r.MarkDead("Page/404")
	if got := r.LiveCount(); got != 1 {
		t.Errorf("LiveCount after foreign key = %d, want 1", got)
	}
}

func TestRetiredReaderDeletesFileAfterLastRelease(t *testing.T) {
	dir := t.TempDir()
	name, _, _, _ := writeTestSegment(t, dir)
	path := filepath.Join(dir, name)
	r, err := OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}

	r.Acquire() // simulate a pinned snapshot
	r.Retire()
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("file removed while still pinned: %v", err)
	}

	r.Release()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("file still present after last pin released: %v", err)
	}
}
