package record

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kestrelsearch/kestrel/internal/document"
	kerrors "github.com/kestrelsearch/kestrel/pkg/errors"
	"github.com/kestrelsearch/kestrel/pkg/logger"
	"github.com/kestrelsearch/kestrel/pkg/postgres"
)

// Store reads CMS records out of PostgreSQL for rebuilds. Each record
// class configures its own scan query; the filter predicate (for example
// "published only") lives in that query's WHERE clause, so the stream the
// index consumes is already restricted.
type Store struct {
	client *postgres.Client
	logger *slog.Logger
}

func NewStore(client *postgres.Client) *Store {
	return &Store{
		client: client,
		logger: logger.WithComponent("record-store"),
	}
}

// Scan runs the class's rebuild query and returns a lazy iterator over the
// matching records. Column names become source field names; a column named
// ObjectID (any casing) becomes the record identity.
func (s *Store) Scan(ctx context.Context, class, query string) (Iterator, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: class %q has no rebuild query", kerrors.ErrConfiguration, class)
	}
	rows, err := s.client.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: scanning class %q: %v", kerrors.ErrRecordRead, class, err)
	}
	columns, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, fmt.Errorf("%w: reading columns for class %q: %v", kerrors.ErrRecordRead, class, err)
	}
	s.logger.Debug("rebuild scan started", "class", class, "columns", len(columns))
	return &rowIterator{class: class, rows: rows, columns: columns}, nil
}

// rowIterator adapts *sql.Rows to the Iterator contract, converting each
// row into a MapRecord with string field values.
type rowIterator struct {
	class   string
	rows    *sql.Rows
	columns []string
	current document.MapRecord
	err     error
}

func (it *rowIterator) Next() bool {
	if it.err != nil {
		return false
	}
	if !it.rows.Next() {
		it.err = it.rows.Err()
		return false
	}

	values := make([]sql.NullString, len(it.columns))
	dest := make([]any, len(it.columns))
	for i := range values {
		dest[i] = &values[i]
	}
	if err := it.rows.Scan(dest...); err != nil {
		it.err = fmt.Errorf("%w: scanning row: %v", kerrors.ErrRecordRead, err)
		return false
	}

	rec := document.MapRecord{
		RecordClass: it.class,
		Fields:      make(map[string]string, len(it.columns)),
	}
	for i, col := range it.columns {
		value := ""
		if values[i].Valid {
			value = values[i].String
		}
		if strings.EqualFold(col, "objectid") {
			rec.ID = value
			continue
		}
		rec.Fields[col] = value
	}
	if rec.ID == "" {
		it.err = fmt.Errorf("%w: row for class %q has no ObjectID column", kerrors.ErrRecordRead, it.class)
		return false
	}
	it.current = rec
	return true
}

func (it *rowIterator) Record() document.Record { return it.current }

func (it *rowIterator) Err() error { return it.err }

func (it *rowIterator) Close() error { return it.rows.Close() }
