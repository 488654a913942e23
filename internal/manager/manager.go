// Package manager is the sole public entry point of the index. It owns the
// writer lock, the live index generation, and the atomic rebuild swap, and
// exposes the operations the record-lifecycle glue consumes: IndexRecord,
// DeleteRecord, GetRecord, Search, and Rebuild.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/kestrelsearch/kestrel/internal/document"
	"github.com/kestrelsearch/kestrel/internal/indexer"
	"github.com/kestrelsearch/kestrel/internal/record"
	"github.com/kestrelsearch/kestrel/internal/schema"
	"github.com/kestrelsearch/kestrel/internal/searcher/cache"
	"github.com/kestrelsearch/kestrel/internal/searcher/executor"
	"github.com/kestrelsearch/kestrel/internal/searcher/parser"
	"github.com/kestrelsearch/kestrel/pkg/config"
	kerrors "github.com/kestrelsearch/kestrel/pkg/errors"
	"github.com/kestrelsearch/kestrel/pkg/logger"
	"github.com/kestrelsearch/kestrel/pkg/metrics"
)

const (
	lockFileName    = "kestrel.lock"
	currentFileName = "CURRENT"
	genDirPrefix    = "gen_"
)

// Manager coordinates the single writer, the searchers, and generation
// swaps. Exactly one Manager may own a data directory at a time; a second
// Open on the same directory fails with ErrWriterLocked.
type Manager struct {
	cfg      config.Config
	registry *schema.Registry
	builder  *document.Builder
	exec     *executor.Executor
	cache    *cache.QueryCache
	metrics  *metrics.Metrics
	logger   *slog.Logger

	fileLock *flock.Flock

	mu     sync.RWMutex
	engine *indexer.Engine
	genDir string

	rebuildMu sync.Mutex
}

// Option configures optional manager collaborators.
type Option func(*Manager)

// WithCache attaches a redis query cache.
func WithCache(qc *cache.QueryCache) Option {
	return func(m *Manager) { m.cache = qc }
}

// WithMetrics attaches prometheus collectors.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// Open acquires the writer lock, resolves the current index generation, and
// opens its engine. A missing or empty data directory starts generation one.
func Open(cfg config.Config, registry *schema.Registry, opts ...Option) (*Manager, error) {
	dataDir := cfg.Index.DataDir
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	fileLock := flock.New(filepath.Join(dataDir, lockFileName))
	locked, err := fileLock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring writer lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", kerrors.ErrWriterLocked, dataDir)
	}

	m := &Manager{
		cfg:      cfg,
		registry: registry,
		builder:  document.NewBuilder(),
		exec:     executor.New(),
		logger:   logger.WithComponent("index-manager"),
		fileLock: fileLock,
	}
	for _, opt := range opts {
		opt(m)
	}

	genDir, err := m.resolveCurrentGen()
	if err != nil {
		fileLock.Unlock()
		return nil, err
	}
	engine, err := indexer.Open(genDir, cfg.Index)
	if err != nil {
		fileLock.Unlock()
		return nil, fmt.Errorf("opening index generation %s: %w", filepath.Base(genDir), err)
	}
	m.engine = engine
	m.genDir = genDir

	m.logger.Info("index opened",
		"data_dir", dataDir,
		"generation", filepath.Base(genDir),
		"segments", engine.SealedSegments(),
	)
	return m, nil
}

// IndexRecord builds a Document for the record and upserts it. Redundant
// calls for the same record are safe; the last write wins. Records of a
// class without a schema are skipped, not failed: the index only carries
// what it is configured to carry.
func (m *Manager) IndexRecord(ctx context.Context, rec document.Record) error {
	s, ok := m.registry.For(rec.Class())
	if !ok {
		m.logger.Debug("skipping record of unconfigured class",
			"class", rec.Class(),
			"object_id", rec.ObjectID(),
		)
		return nil
	}
	doc := m.builder.Build(rec, s)

	m.mu.RLock()
	err := m.engine.Upsert(doc)
	m.mu.RUnlock()
	if err != nil {
		return err
	}

	if m.metrics != nil {
		m.metrics.RecordsIndexedTotal.WithLabelValues(rec.Class()).Inc()
	}
	m.invalidateCache(ctx)
	return nil
}

// DeleteRecord tombstones the identity. Deleting an identity the index
// does not hold is a no-op.
func (m *Manager) DeleteRecord(ctx context.Context, key document.Key) error {
	m.mu.RLock()
	err := m.engine.Remove(key.String())
	m.mu.RUnlock()
	if err != nil {
		return err
	}

	if m.metrics != nil {
		m.metrics.RecordsDeletedTotal.Inc()
	}
	m.invalidateCache(ctx)
	return nil
}

// GetRecord returns the stored field values of one live document.
func (m *Manager) GetRecord(key document.Key) (map[string]string, error) {
	m.mu.RLock()
	snap := m.engine.Acquire()
	m.mu.RUnlock()
	defer snap.Release()

	fields := snap.StoredFields(key.String())
	if fields == nil {
		return nil, fmt.Errorf("%w: %s", kerrors.ErrRecordNotFound, key)
	}
	return fields, nil
}

// Search parses and executes a query against a snapshot of the live
// generation. Results are cached when a query cache is attached.
func (m *Manager) Search(ctx context.Context, query string, limit int) (*executor.SearchResult, error) {
	start := time.Now()
	if limit <= 0 {
		limit = m.cfg.Search.DefaultLimit
	}
	if limit > m.cfg.Search.MaxResults {
		limit = m.cfg.Search.MaxResults
	}

	plan, err := parser.Parse(query)
	if err != nil {
		m.countSearch("error")
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.Search.Timeout)
	defer cancel()

	compute := func() (*executor.SearchResult, error) {
		m.mu.RLock()
		snap := m.engine.Acquire()
		m.mu.RUnlock()
		defer snap.Release()
		return m.exec.Execute(ctx, snap, plan, limit)
	}

	var result *executor.SearchResult
	var cached bool
	if m.cache != nil {
		result, cached, err = m.cache.GetOrCompute(ctx, query, limit, compute)
	} else {
		result, err = compute()
	}
	if err != nil {
		m.countSearch("error")
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: search %q exceeded %v", kerrors.ErrTimeout, query, m.cfg.Search.Timeout)
		}
		return nil, err
	}

	if m.metrics != nil {
		m.metrics.SearchLatency.Observe(time.Since(start).Seconds())
		if cached {
			m.metrics.CacheHitsTotal.Inc()
		} else if m.cache != nil {
			m.metrics.CacheMissesTotal.Inc()
		}
	}
	if result.TotalHits == 0 {
		m.countSearch("zero_result")
	} else {
		m.countSearch("hit")
	}
	return result, nil
}

// Flush seals the active segment of the live generation.
func (m *Manager) Flush() error {
	m.mu.RLock()
	engine := m.engine
	m.mu.RUnlock()

	err := engine.Flush()
	if m.metrics != nil {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		m.metrics.SegmentFlushesTotal.WithLabelValues(outcome).Inc()
		m.metrics.LiveSegments.Set(float64(engine.SealedSegments()))
	}
	return err
}

// MaybeMerge compacts sealed segments whose live ratio fell below the
// configured threshold. Returns whether a compaction ran.
func (m *Manager) MaybeMerge() (bool, error) {
	m.mu.RLock()
	engine := m.engine
	m.mu.RUnlock()

	merged, err := engine.MaybeMerge()
	if m.metrics != nil {
		if err != nil {
			m.metrics.SegmentMergesTotal.WithLabelValues("error").Inc()
		} else if merged {
			m.metrics.SegmentMergesTotal.WithLabelValues("ok").Inc()
		}
		m.metrics.LiveSegments.Set(float64(engine.SealedSegments()))
	}
	return merged, err
}

// StartMaintenanceLoop runs periodic flushes and compactions until the
// context is cancelled. The final flush on shutdown happens in Close.
func (m *Manager) StartMaintenanceLoop(ctx context.Context) {
	flushTicker := time.NewTicker(m.cfg.Index.FlushInterval)
	mergeTicker := time.NewTicker(m.cfg.Index.MergeInterval)
	go func() {
		defer flushTicker.Stop()
		defer mergeTicker.Stop()
		for {
			select {
			case <-ctx.Done():
				m.logger.Info("maintenance loop stopping")
				return
			case <-flushTicker.C:
				m.mu.RLock()
				pending := m.engine.PendingDocs()
				m.mu.RUnlock()
				if pending > 0 {
					if err := m.Flush(); err != nil {
						m.logger.Error("periodic flush failed", "error", err)
					}
				}
			case <-mergeTicker.C:
				if _, err := m.MaybeMerge(); err != nil {
					m.logger.Error("periodic merge failed", "error", err)
				}
			}
		}
	}()
}

// RebuildResult reports the outcome of a completed rebuild: the generation
// now serving searches and the number of records it was built from.
type RebuildResult struct {
	Generation string
	Records    int
}

// Rebuild consumes the record stream into a brand-new generation and swaps
// it in for the live one only after the stream is exhausted without error.
// A stream failure abandons the new generation; the live index is never
// touched. The stream is expected to be pre-filtered by the caller's
// predicate (for example, published records only).
func (m *Manager) Rebuild(ctx context.Context, stream record.Iterator) (*RebuildResult, error) {
	m.rebuildMu.Lock()
	defer m.rebuildMu.Unlock()
	defer stream.Close()

	genDir := filepath.Join(m.cfg.Index.DataDir, fmt.Sprintf("%s%d", genDirPrefix, time.Now().UnixNano()))
	fresh, err := indexer.Open(genDir, m.cfg.Index)
	if err != nil {
		return nil, fmt.Errorf("opening rebuild generation: %w", err)
	}

	abort := func(cause error) error {
		fresh.Retire()
		fresh.Close()
		if rmErr := os.RemoveAll(genDir); rmErr != nil {
			m.logger.Error("removing abandoned generation failed", "dir", genDir, "error", rmErr)
		}
		if m.metrics != nil {
			m.metrics.RebuildsTotal.WithLabelValues("aborted").Inc()
		}
		m.logger.Warn("rebuild aborted, previous index remains live",
			"generation", filepath.Base(genDir),
			"error", cause,
		)
		return fmt.Errorf("%w: %v", kerrors.ErrRebuildAborted, cause)
	}

	scanned := 0
	for stream.Next() {
		if err := ctx.Err(); err != nil {
			return nil, abort(err)
		}
		rec := stream.Record()
		s, ok := m.registry.For(rec.Class())
		if !ok {
			m.logger.Debug("rebuild skipping unconfigured class", "class", rec.Class())
			continue
		}
		if err := fresh.Upsert(m.builder.Build(rec, s)); err != nil {
			return nil, abort(err)
		}
		scanned++
		if m.metrics != nil {
			m.metrics.RebuildDocsScanned.Inc()
		}
	}
	if err := stream.Err(); err != nil {
		return nil, abort(err)
	}
	if err := fresh.Flush(); err != nil {
		return nil, abort(err)
	}

	if err := m.setCurrentGen(filepath.Base(genDir)); err != nil {
		return nil, abort(err)
	}

	m.mu.Lock()
	old := m.engine
	oldDir := m.genDir
	m.engine = fresh
	m.genDir = genDir
	m.mu.Unlock()

	old.Retire()
	old.Close()
	if err := os.RemoveAll(oldDir); err != nil {
		m.logger.Error("removing retired generation failed", "dir", oldDir, "error", err)
	}

	if m.metrics != nil {
		m.metrics.RebuildsTotal.WithLabelValues("ok").Inc()
		m.metrics.LiveSegments.Set(float64(fresh.SealedSegments()))
	}
	m.invalidateCache(ctx)
	m.logger.Info("rebuild complete",
		"generation", filepath.Base(genDir),
		"records", scanned,
	)
	return &RebuildResult{Generation: filepath.Base(genDir), Records: scanned}, nil
}

// Close flushes the active segment, releases segment readers, and gives up
// the writer lock.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	err := m.engine.Close()
	if lockErr := m.fileLock.Unlock(); lockErr != nil && err == nil {
		err = lockErr
	}
	return err
}

func (m *Manager) countSearch(resultType string) {
	if m.metrics != nil {
		m.metrics.SearchesTotal.WithLabelValues(resultType).Inc()
	}
}

func (m *Manager) invalidateCache(ctx context.Context) {
	if m.cache == nil {
		return
	}
	if err := m.cache.Invalidate(ctx); err != nil {
		m.logger.Error("cache invalidation failed", "error", err)
	}
}

// resolveCurrentGen reads the CURRENT pointer, creating the first
// generation when the directory is fresh.
func (m *Manager) resolveCurrentGen() (string, error) {
	dataDir := m.cfg.Index.DataDir
	currentPath := filepath.Join(dataDir, currentFileName)

	data, err := os.ReadFile(currentPath)
	if err == nil {
		name := strings.TrimSpace(string(data))
		genDir := filepath.Join(dataDir, name)
		if info, statErr := os.Stat(genDir); statErr == nil && info.IsDir() {
			return genDir, nil
		}
		m.logger.Warn("CURRENT points at a missing generation, starting fresh", "generation", name)
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("reading CURRENT: %w", err)
	}

	name := fmt.Sprintf("%s%d", genDirPrefix, time.Now().UnixNano())
	if err := os.MkdirAll(filepath.Join(dataDir, name), 0755); err != nil {
		return "", fmt.Errorf("creating generation directory: %w", err)
	}
	if err := m.setCurrentGen(name); err != nil {
		return "", err
	}
	return filepath.Join(dataDir, name), nil
}

// setCurrentGen atomically repoints CURRENT at a generation directory.
func (m *Manager) setCurrentGen(name string) error {
	currentPath := filepath.Join(m.cfg.Index.DataDir, currentFileName)
	tmpPath := currentPath + ".tmp"
	if err := os.WriteFile(tmpPath, []byte(name+"\n"), 0644); err != nil {
		return fmt.Errorf("writing CURRENT: %w", err)
	}
	if err := os.Rename(tmpPath, currentPath); err != nil {
		return fmt.Errorf("swapping CURRENT: %w", err)
	}
	return nil
}
