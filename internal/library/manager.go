// Package library keeps point-in-time snapshots of target media libraries.
//
// A snapshot is built from one bulk fetch, persisted (one record per target),
// and swapped into memory atomically. Readers never see a partially built index.
// Memory is released when the last sync using a snapshot lets go of it; the
// persisted copy stays and is reloaded on the next acquisition.
package library

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/cmdarr/internal/metrics"
	"github.com/desertthunder/cmdarr/internal/models"
	"github.com/desertthunder/cmdarr/internal/shared"
)

// Store persists snapshots. GetSnapshot returns [shared.ErrNotFound] when the
// target has none and [shared.ErrSnapshotCorrupt] when the record cannot be decoded.
type Store interface {
	GetSnapshot(ctx context.Context, targetID string) (*models.LibrarySnapshot, error)
	SnapshotInfo(ctx context.Context, targetID string) (*models.LibrarySnapshot, error)
	PutSnapshot(ctx context.Context, snap *models.LibrarySnapshot) error
	DeleteSnapshot(ctx context.Context, targetID string) error
	ListSnapshots(ctx context.Context) ([]models.LibrarySnapshot, error)
}

// Fetcher returns a target's whole library in one bulk operation.
type Fetcher interface {
	GetFullLibrary(ctx context.Context) ([]models.TrackRecord, error)
}

// Options configure a [Manager].
type Options struct {
	TTL          time.Duration
	CeilingBytes int64 // zero disables the ceiling
	KeepInMemory bool
	Clock        models.Clock
	Metrics      *metrics.Collector
}

// Manager owns the in-memory snapshots of every target.
type Manager struct {
	store   Store
	logger  *log.Logger
	opts    Options
	metrics *metrics.Collector

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	current atomic.Pointer[Snapshot]
	build   sync.Mutex
	users   int
	hits    atomic.Int64
	misses  atomic.Int64
}

// NewManager returns a Manager backed by store.
func NewManager(store Store, logger *log.Logger, opts Options) *Manager {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}
	return &Manager{
		store:   store,
		logger:  shared.WithLogger(logger, "component", "library"),
		opts:    opts,
		metrics: opts.Metrics,
		entries: make(map[string]*entry),
	}
}

func (m *Manager) entry(targetID string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[targetID]
	if !ok {
		e = &entry{}
		m.entries[targetID] = e
	}
	return e
}

// Build fetches the target's library, indexes it, and persists it. The new
// snapshot replaces the in-memory one only while a sync holds the target or
// memory is kept between syncs; otherwise the next [Manager.Acquire] loads it
// from the store.
//
// A library whose estimated size exceeds the memory ceiling is not indexed; the
// returned error wraps [shared.ErrCacheUnavailable] so callers degrade to live search.
func (m *Manager) Build(ctx context.Context, targetID string, src Fetcher) (*Snapshot, error) {
	e := m.entry(targetID)
	e.build.Lock()
	defer e.build.Unlock()

	m.mu.Lock()
	resident := e.users > 0 || m.opts.KeepInMemory
	m.mu.Unlock()
	return m.build(ctx, targetID, src, e, resident)
}

// build swaps the snapshot into memory when resident is set.
func (m *Manager) build(ctx context.Context, targetID string, src Fetcher, e *entry, resident bool) (*Snapshot, error) {
	started := m.opts.Clock()
	records, err := src.GetFullLibrary(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch %s library: %w", targetID, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if size := EstimateSize(records); m.opts.CeilingBytes > 0 && size > m.opts.CeilingBytes {
		m.metrics.CacheLookup(targetID, "degraded")
		m.logger.Warn("library exceeds memory ceiling, using live search",
			"target", targetID, "tracks", len(records), "estimated_mb", size>>20, "ceiling_mb", m.opts.CeilingBytes>>20)
		return nil, fmt.Errorf("%w: %s library needs ~%d MB, ceiling is %d MB",
			shared.ErrCacheUnavailable, targetID, size>>20, m.opts.CeilingBytes>>20)
	}

	snap := NewSnapshot(targetID, records, m.opts.Clock(), m.opts.TTL)
	if dropped := len(records) - snap.Len(); dropped > 0 {
		m.logger.Debug("skipped incomplete library records", "target", targetID, "count", dropped)
	}

	if err := m.store.PutSnapshot(ctx, snap.Model()); err != nil {
		m.logger.Error("failed to persist snapshot, keeping it in memory only", "target", targetID, "error", err)
	}

	if resident {
		e.current.Store(snap)
	}
	took := m.opts.Clock().Sub(started)
	m.metrics.SnapshotBuilt(targetID, snap.Len(), snap.SizeBytes, took)
	m.logger.Info("library snapshot built", "target", targetID, "tracks", snap.Len(), "size_kb", snap.SizeBytes>>10, "took", took)
	return snap, nil
}

// IsStale reports whether target has no snapshot or its snapshot is older than the TTL at now.
func (m *Manager) IsStale(ctx context.Context, targetID string, now time.Time) bool {
	if snap := m.entry(targetID).current.Load(); snap != nil {
		return snap.Stale(now)
	}
	info, err := m.store.SnapshotInfo(ctx, targetID)
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			m.logger.Warn("snapshot lookup failed", "target", targetID, "error", err)
		}
		return true
	}
	return info.Expired(now)
}

// Acquire returns a fresh snapshot of target and a release func the caller must invoke
// when done. A missing or stale snapshot is loaded from the store or rebuilt from src;
// with a nil src the call fails with [shared.ErrCacheUnavailable] instead.
//
// An unreadable persisted snapshot is deleted and the error returned, so this
// acquisition fails and the next one rebuilds.
func (m *Manager) Acquire(ctx context.Context, targetID string, src Fetcher) (*Snapshot, func(), error) {
	e := m.entry(targetID)
	snap, err := m.resolve(ctx, targetID, src, e)
	if err != nil {
		return nil, nil, err
	}

	m.mu.Lock()
	e.users++
	m.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() { m.release(e) })
	}
	return snap, release, nil
}

func (m *Manager) resolve(ctx context.Context, targetID string, src Fetcher, e *entry) (*Snapshot, error) {
	now := m.opts.Clock()
	if snap := e.current.Load(); snap != nil && !snap.Stale(now) {
		e.hits.Add(1)
		m.metrics.CacheLookup(targetID, "hit")
		return snap, nil
	}

	e.build.Lock()
	defer e.build.Unlock()

	// Another caller may have finished a build while this one waited.
	if snap := e.current.Load(); snap != nil && !snap.Stale(now) {
		e.hits.Add(1)
		m.metrics.CacheLookup(targetID, "hit")
		return snap, nil
	}

	stored, err := m.store.GetSnapshot(ctx, targetID)
	switch {
	case err == nil && !stored.Expired(now):
		snap := FromModel(stored)
		e.current.Store(snap)
		e.hits.Add(1)
		m.metrics.CacheLookup(targetID, "hit")
		return snap, nil
	case errors.Is(err, shared.ErrSnapshotCorrupt):
		m.metrics.CacheLookup(targetID, "corrupt")
		if derr := m.store.DeleteSnapshot(ctx, targetID); derr != nil {
			m.logger.Error("failed to delete unreadable snapshot", "target", targetID, "error", derr)
		}
		return nil, err
	case err != nil && !errors.Is(err, shared.ErrNotFound):
		m.logger.Warn("snapshot load failed, rebuilding", "target", targetID, "error", err)
	}

	e.misses.Add(1)
	m.metrics.CacheLookup(targetID, "miss")
	if src == nil {
		return nil, fmt.Errorf("%w: no fresh snapshot for %s", shared.ErrCacheUnavailable, targetID)
	}
	return m.build(ctx, targetID, src, e, true)
}

func (m *Manager) release(e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.users--
	if e.users <= 0 {
		e.users = 0
		if !m.opts.KeepInMemory {
			e.current.Store(nil)
		}
	}
}

// Invalidate drops target's snapshot from memory and storage.
func (m *Manager) Invalidate(ctx context.Context, targetID string) error {
	m.entry(targetID).current.Store(nil)
	if err := m.store.DeleteSnapshot(ctx, targetID); err != nil && !errors.Is(err, shared.ErrNotFound) {
		return err
	}
	return nil
}

// CleanupExpired deletes persisted snapshots past their TTL that no sync is using.
func (m *Manager) CleanupExpired(ctx context.Context, now time.Time) (int, error) {
	infos, err := m.store.ListSnapshots(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, info := range infos {
		if !info.Expired(now) || m.inUse(info.TargetID) {
			continue
		}
		if err := m.Invalidate(ctx, info.TargetID); err != nil {
			return removed, fmt.Errorf("delete %s snapshot: %w", info.TargetID, err)
		}
		removed++
	}
	return removed, nil
}

func (m *Manager) inUse(targetID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[targetID]
	return ok && e.users > 0
}

// TargetStatus describes one target's snapshot for status output.
type TargetStatus struct {
	TargetID   string
	BuiltAt    time.Time
	TrackCount int
	SizeBytes  int64
	Stale      bool
	InMemory   bool
	Hits       int64
	Misses     int64
}

// Status lists every persisted snapshot in target order.
func (m *Manager) Status(ctx context.Context) ([]TargetStatus, error) {
	infos, err := m.store.ListSnapshots(ctx)
	if err != nil {
		return nil, err
	}

	now := m.opts.Clock()
	out := make([]TargetStatus, 0, len(infos))
	for _, info := range infos {
		e := m.entry(info.TargetID)
		out = append(out, TargetStatus{
			TargetID:   info.TargetID,
			BuiltAt:    info.BuiltAt,
			TrackCount: info.TrackCount,
			SizeBytes:  info.SizeBytes,
			Stale:      info.Expired(now),
			InMemory:   e.current.Load() != nil,
			Hits:       e.hits.Load(),
			Misses:     e.misses.Load(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TargetID < out[j].TargetID })
	return out, nil
}
