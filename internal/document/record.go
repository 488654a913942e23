package document

import (
	"net/http"

	"github.com/kestrelsearch/kestrel/pkg/errors"
)

// Record is the opaque key-value accessor the builder reads source values
// from. Implementations wrap whatever shape the glue layer delivers records
// in (Kafka event payloads, database rows).
type Record interface {
	// Class returns the record's class discriminator.
	Class() string
	// ObjectID returns the record's identity within its class.
	ObjectID() string
	// Get returns the named source value. A read failure degrades to an
	// empty indexed value; it never aborts indexing.
	Get(field string) (string, error)
}

// MapRecord is the canonical Record implementation over a plain field map.
type MapRecord struct {
	RecordClass string
	ID          string
	Fields      map[string]string
}

// Class implements Record.
func (r MapRecord) Class() string { return r.RecordClass }

// ObjectID implements Record.
func (r MapRecord) ObjectID() string { return r.ID }

// Get implements Record. The identity and discriminator fields resolve from
// the record itself; unknown fields report a read error, which the builder
// degrades to an empty value.
func (r MapRecord) Get(field string) (string, error) {
	switch field {
	case "ObjectID":
		return r.ID, nil
	case "RecordClass":
		return r.RecordClass, nil
	}
	if v, ok := r.Fields[field]; ok {
		return v, nil
	}
	return "", errors.Newf(errors.ErrRecordRead, http.StatusInternalServerError,
		"field %q not present on %s/%s", field, r.RecordClass, r.ID)
}
