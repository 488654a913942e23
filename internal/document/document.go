// Package document converts source records into indexable documents using
// their resolved field schemas.
package document

import (
	"fmt"
	"strings"

	"github.com/kestrelsearch/kestrel/internal/schema"
	kerrors "github.com/kestrelsearch/kestrel/pkg/errors"
)

// Key identifies a document across its whole lifetime: the record's class
// discriminator plus its ObjectID. Updates and deletions address documents
// by Key.
type Key struct {
	Class    string
	ObjectID string
}

// String renders the key in its canonical "Class/ObjectID" form.
func (k Key) String() string {
	return k.Class + "/" + k.ObjectID
}

// ParseKey parses the canonical "Class/ObjectID" form back into a Key.
func ParseKey(s string) (Key, error) {
	class, id, ok := strings.Cut(s, "/")
	if !ok || class == "" || id == "" {
		return Key{}, fmt.Errorf("%w: malformed document key %q", kerrors.ErrInvalidInput, s)
	}
	return Key{Class: class, ObjectID: id}, nil
}

// Field is one typed value of a document, named by the schema's stored name.
type Field struct {
	Name  string
	Value string
	Class schema.StorageClass
	Boost float64
}

// Document is the indexable unit produced from one record. Fields are in
// canonical (stored-name) order. Immutable once built; owned exclusively by
// the index writer during a write.
type Document struct {
	Key    Key
	Fields []Field
}

// Stored returns the retrievable field values of the document.
func (d *Document) Stored() map[string]string {
	stored := make(map[string]string)
	for _, f := range d.Fields {
		if f.Class.Stored() {
			stored[f.Name] = f.Value
		}
	}
	return stored
}
