package document

import (
	"log/slog"

	"github.com/kestrelsearch/kestrel/internal/schema"
)

// Builder produces Documents from source records and their resolved schemas.
type Builder struct {
	logger *slog.Logger
}

// NewBuilder creates a Builder.
func NewBuilder() *Builder {
	return &Builder{
		logger: slog.Default().With("component", "document-builder"),
	}
}

// Build reads every schema field from the record, applies its content
// filter, and assembles the Document. Missing or unreadable source values
// become empty strings; indexing never blocks on incomplete data. Field
// order follows the schema's canonical stored-name order, so equal content
// always yields an identical Document.
func (b *Builder) Build(rec Record, s *schema.Schema) *Document {
	doc := &Document{
		Key: Key{
			Class:    rec.Class(),
			ObjectID: rec.ObjectID(),
		},
		Fields: make([]Field, 0, len(s.Fields)),
	}
	for _, spec := range s.Fields {
		value, err := rec.Get(spec.SourceName)
		if err != nil {
			b.logger.Debug("source value unreadable, indexing empty",
				"key", doc.Key.String(),
				"field", spec.SourceName,
				"error", err,
			)
			value = ""
		}
		doc.Fields = append(doc.Fields, Field{
			Name:  spec.StoredName,
			Value: spec.Transform(value),
			Class: spec.Class,
			Boost: spec.Boost,
		})
	}
	return doc
}
