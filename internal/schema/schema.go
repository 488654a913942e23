// Package schema resolves raw per-class field configuration into complete,
// immutable field schemas. Resolution happens once at configuration-load
// time; the engine only ever sees fully resolved schemas.
package schema

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/kestrelsearch/kestrel/pkg/errors"
)

// StorageClass controls how a field is indexed and stored.
type StorageClass int

const (
	// Keyword fields are indexed as a single untokenized term and stored
	// verbatim. Used for exact-match identifiers and status flags.
	Keyword StorageClass = iota
	// Unindexed fields are stored but not searchable. Metadata only.
	Unindexed
	// Unstored fields are tokenized and indexed but not retrievable.
	Unstored
	// Text fields are tokenized, indexed, and stored.
	Text
)

// String returns the configuration name of the storage class.
func (c StorageClass) String() string {
	switch c {
	case Keyword:
		return "keyword"
	case Unindexed:
		return "unindexed"
	case Unstored:
		return "unstored"
	case Text:
		return "text"
	default:
		return fmt.Sprintf("storageclass(%d)", int(c))
	}
}

// Indexed reports whether terms of this class appear in the inverted index.
func (c StorageClass) Indexed() bool {
	return c != Unindexed
}

// Tokenized reports whether values of this class pass through the analyzer.
func (c StorageClass) Tokenized() bool {
	return c == Unstored || c == Text
}

// Stored reports whether the verbatim value is retrievable from the index.
func (c StorageClass) Stored() bool {
	return c != Unstored
}

// ParseStorageClass converts a configuration string into a StorageClass.
func ParseStorageClass(s string) (StorageClass, error) {
	switch s {
	case "keyword":
		return Keyword, nil
	case "unindexed":
		return Unindexed, nil
	case "unstored":
		return Unstored, nil
	case "text":
		return Text, nil
	default:
		return 0, errors.Newf(errors.ErrConfiguration, http.StatusBadRequest,
			"unknown storage class %q", s)
	}
}

// Reserved field names present in every schema.
const (
	IdentityField      = "ObjectID"
	DiscriminatorField = "RecordClass"
	TimestampField     = "LastEdited"
)

// FieldSpec is the complete resolved description of one indexed field.
// It is pure data: the content filter is referenced by name and applied
// through the filter registry.
type FieldSpec struct {
	SourceName    string
	StoredName    string
	Class         StorageClass
	Boost         float64
	ContentFilter string
}

// Transform applies the field's content filter, if any, to a raw value.
func (f FieldSpec) Transform(value string) string {
	if f.ContentFilter == "" {
		return value
	}
	filter, ok := lookupFilter(f.ContentFilter)
	if !ok {
		return value
	}
	return filter(value)
}

// Schema is the resolved field set for one record class. Fields are ordered
// by stored name so equal configuration always yields an identical schema.
type Schema struct {
	Class  string
	Fields []FieldSpec
}

// Field returns the spec stored under the given name.
func (s *Schema) Field(storedName string) (FieldSpec, bool) {
	i := sort.Search(len(s.Fields), func(i int) bool {
		return s.Fields[i].StoredName >= storedName
	})
	if i < len(s.Fields) && s.Fields[i].StoredName == storedName {
		return s.Fields[i], true
	}
	return FieldSpec{}, false
}
