package manager

import (
	"context"
	"fmt"

	"github.com/kestrelsearch/kestrel/internal/document"
	"github.com/kestrelsearch/kestrel/internal/record"
	kerrors "github.com/kestrelsearch/kestrel/pkg/errors"
)

// RebuildFromStore rebuilds every configured record class from its
// database scan query. Classes without a rebuild query are skipped; the
// per-class filter predicate lives inside the query itself.
func (m *Manager) RebuildFromStore(ctx context.Context, store *record.Store) (*RebuildResult, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: no record store configured for rebuild", kerrors.ErrConfiguration)
	}

	streams := make([]record.Iterator, 0, len(m.registry.Classes()))
	for _, class := range m.registry.Classes() {
		classCfg, ok := m.cfg.Schemas.Classes[class]
		if !ok || classCfg.RebuildQuery == "" {
			m.logger.Debug("class has no rebuild query, skipping", "class", class)
			continue
		}
		it, err := store.Scan(ctx, class, classCfg.RebuildQuery)
		if err != nil {
			for _, open := range streams {
				open.Close()
			}
			return nil, fmt.Errorf("%w: %v", kerrors.ErrRebuildAborted, err)
		}
		streams = append(streams, it)
	}
	return m.Rebuild(ctx, chainIterators(streams))
}

// chainIterators streams several iterators back to back, stopping at the
// first error.
func chainIterators(its []record.Iterator) record.Iterator {
	return &chainIterator{its: its}
}

type chainIterator struct {
	its []record.Iterator
	pos int
	err error
}

func (c *chainIterator) Next() bool {
	for c.pos < len(c.its) {
		it := c.its[c.pos]
		if it.Next() {
			return true
		}
		if err := it.Err(); err != nil {
			c.err = err
			return false
		}
		c.pos++
	}
	return false
}

func (c *chainIterator) Record() document.Record {
	return c.its[c.pos].Record()
}

func (c *chainIterator) Err() error { return c.err }

func (c *chainIterator) Close() error {
	var first error
	for _, it := range c.its {
		if err := it.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
