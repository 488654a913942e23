package segment

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"time"

	"github.com/kestrelsearch/kestrel/internal/indexer/index"
)

// Writer serialises sealed batches into new .kseg segment files.
type Writer struct {
	dataDir string
}

// NewWriter creates a Writer that writes segments into the given directory.
func NewWriter(dataDir string) *Writer {
	return &Writer{dataDir: dataDir}
}

// Write atomically creates a new segment file containing the given term
// entries, stored documents, and tombstones. createdAt orders the segment
// against its siblings and doubles as the tombstone sequence for the batch.
// It writes to a .tmp file first and renames on success, so a crash
// mid-write never leaves a segment the loader would accept; a failed write
// removes its temp file. Returns the new segment's file name.
func (w *Writer) Write(createdAt int64, entries []index.TermEntry, docs []index.StoredDoc, tombstones []index.Tombstone) (string, error) {
	if len(entries) == 0 && len(docs) == 0 && len(tombstones) == 0 {
		return "", fmt.Errorf("cannot write empty segment")
	}
	if createdAt == 0 {
		createdAt = time.Now().UnixNano()
	}
	segmentName := fmt.Sprintf("seg_%d%s", createdAt, FileSuffix)
	finalPath := filepath.Join(w.dataDir, segmentName)
	tmpPath := finalPath + ".tmp"

	if err := os.MkdirAll(w.dataDir, 0755); err != nil {
		return "", fmt.Errorf("creating segment directory: %w", err)
	}
	f, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("creating temp segment file: %w", err)
	}
	committed := false
	defer func() {
		f.Close()
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	headerBytes := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(headerBytes[0:4], MagicBytes)
	binary.LittleEndian.PutUint32(headerBytes[4:8], FormatVersion)
	binary.LittleEndian.PutUint32(headerBytes[8:12], uint32(len(entries)))
	binary.LittleEndian.PutUint32(headerBytes[12:16], uint32(len(docs)))
	binary.LittleEndian.PutUint64(headerBytes[16:24], uint64(createdAt))
	if _, err := f.Write(headerBytes); err != nil {
		return "", fmt.Errorf("writing header: %w", err)
	}

	postingsStart, _ := f.Seek(0, 1)
	dict := make([]DictEntry, 0, len(entries))
	for _, entry := range entries {
		offset, _ := f.Seek(0, 1)
		postingsData, err := json.Marshal(entry.Postings)
		if err != nil {
			return "", fmt.Errorf("marshaling postings for term %q: %w", entry.Term, err)
		}
		if _, err := f.Write(postingsData); err != nil {
			return "", fmt.Errorf("writing postings for term %q: %w", entry.Term, err)
		}
		dict = append(dict, DictEntry{
			Field:      entry.Field,
			Term:       entry.Term,
			PostOffset: offset - postingsStart,
			PostLen:    len(postingsData),
			DocFreq:    len(entry.Postings),
		})
	}

	dictStart, _ := f.Seek(0, 1)
	dictData, err := json.Marshal(dict)
	if err != nil {
		return "", fmt.Errorf("marshaling dictionary: %w", err)
	}
	if _, err := f.Write(dictData); err != nil {
		return "", fmt.Errorf("writing dictionary: %w", err)
	}

	docsStart, _ := f.Seek(0, 1)
	docsData, err := json.Marshal(docs)
	if err != nil {
		return "", fmt.Errorf("marshaling stored documents: %w", err)
	}
	if _, err := f.Write(docsData); err != nil {
		return "", fmt.Errorf("writing stored documents: %w", err)
	}

	tombStart, _ := f.Seek(0, 1)
	tombData, err := json.Marshal(tombstones)
	if err != nil {
		return "", fmt.Errorf("marshaling tombstones: %w", err)
	}
	if _, err := f.Write(tombData); err != nil {
		return "", fmt.Errorf("writing tombstones: %w", err)
	}
	tombEnd, _ := f.Seek(0, 1)

	footer := make([]byte, FooterSize)
	binary.LittleEndian.PutUint32(footer[0:4], crc32.ChecksumIEEE(dictData))
	binary.LittleEndian.PutUint32(footer[4:8], crc32.ChecksumIEEE(docsData))
	binary.LittleEndian.PutUint32(footer[8:12], crc32.ChecksumIEEE(tombData))
	if _, err := f.Write(footer); err != nil {
		return "", fmt.Errorf("writing footer: %w", err)
	}

	binary.LittleEndian.PutUint64(headerBytes[24:32], uint64(dictStart))
	binary.LittleEndian.PutUint64(headerBytes[32:40], uint64(len(dictData)))
	binary.LittleEndian.PutUint64(headerBytes[40:48], uint64(docsStart))
	binary.LittleEndian.PutUint64(headerBytes[48:56], uint64(len(docsData)))
	binary.LittleEndian.PutUint64(headerBytes[56:64], uint64(tombStart))
	binary.LittleEndian.PutUint64(headerBytes[64:72], uint64(tombEnd-tombStart))
	if _, err := f.WriteAt(headerBytes, 0); err != nil {
		return "", fmt.Errorf("updating header: %w", err)
	}
	if err := f.Sync(); err != nil {
		return "", fmt.Errorf("syncing segment file: %w", err)
	}
	f.Close()
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", fmt.Errorf("renaming segment file: %w", err)
	}
	committed = true
	return segmentName, nil
}
