// Package segment serialises sealed index segments to self-describing,
// immutable .kseg files and reads them back with reference-counted readers.
//
// File layout: fixed header, postings section (one JSON blob per dictionary
// entry), term dictionary, stored documents, tombstones, CRC footer. The
// header is rewritten in place with final offsets before the file is
// atomically renamed into place.
package segment

// MagicBytes identifies a valid .kseg segment file.
const (
	MagicBytes    uint32 = 0x4B534547
	FormatVersion uint32 = 1
	HeaderSize    int    = 96
	FooterSize    int    = 16

	// FileSuffix is the extension of sealed segment files.
	FileSuffix = ".kseg"
)

// Header is the fixed-size block at the start of every segment file.
type Header struct {
	Magic      uint32
	Version    uint32
	TermCount  uint32
	DocCount   uint32
	CreatedAt  int64
	DictOffset int64
	DictSize   int64
	DocsOffset int64
	DocsSize   int64
	TombOffset int64
	TombSize   int64
}

// DictEntry maps a (field, term) pair to its postings offset, length, and
// document frequency in the segment file. Entries are sorted by term, then
// field.
type DictEntry struct {
	Field      string `json:"fd"`
	Term       string `json:"t"`
	PostOffset int64  `json:"o"`
	PostLen    int    `json:"l"`
	DocFreq    int    `json:"d"`
}
