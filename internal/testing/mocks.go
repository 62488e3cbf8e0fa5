package testing

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/desertthunder/cmdarr/internal/models"
	"github.com/desertthunder/cmdarr/internal/shared"
)

// MockSource is an in-memory playlist source keyed by reference.
type MockSource struct {
	mu        sync.Mutex
	name      string
	playlists map[string]models.SourcePlaylist
	Err       error
	Calls     int
}

func NewMockSource(name string) *MockSource {
	return &MockSource{name: name, playlists: make(map[string]models.SourcePlaylist)}
}

func (m *MockSource) Name() string { return m.name }

func (m *MockSource) Put(ref string, p models.SourcePlaylist) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playlists[ref] = p
}

func (m *MockSource) GetPlaylistTracks(ctx context.Context, ref string) (*models.SourcePlaylist, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.Err != nil {
		return nil, m.Err
	}
	p, ok := m.playlists[ref]
	if !ok {
		return nil, fmt.Errorf("%w: playlist %s", shared.ErrNotFound, ref)
	}
	p.Tracks = append([]models.Track(nil), p.Tracks...)
	return &p, nil
}

// MockTarget is an in-memory media server. Playlists keep creation order.
type MockTarget struct {
	mu        sync.Mutex
	name      string
	library   []models.TrackRecord
	playlists []*models.TargetPlaylist
	nextID    int
	Now       models.Clock

	LibraryErr error
	SearchErr  error

	LibraryCalls int
	SearchCalls  int
	CreateCalls  int
	UpdateCalls  int
	DeleteCalls  int
}

func NewMockTarget(name string, library ...models.TrackRecord) *MockTarget {
	return &MockTarget{name: name, library: library, Now: time.Now}
}

func (m *MockTarget) Name() string { return m.name }

func (m *MockTarget) SetLibrary(records ...models.TrackRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.library = records
}

func (m *MockTarget) GetFullLibrary(ctx context.Context) ([]models.TrackRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LibraryCalls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.LibraryErr != nil {
		return nil, m.LibraryErr
	}
	return append([]models.TrackRecord(nil), m.library...), nil
}

// SearchLibrary returns records whose normalized title appears in the normalized query.
func (m *MockTarget) SearchLibrary(ctx context.Context, query string) ([]models.TrackRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SearchCalls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.SearchErr != nil {
		return nil, m.SearchErr
	}
	q := shared.NormalizeText(query)
	var out []models.TrackRecord
	for _, r := range m.library {
		if t := shared.NormalizeText(r.Title); t != "" && strings.Contains(q, t) {
			out = append(out, r)
		}
	}
	return out, nil
}

// AddPlaylist seeds an existing playlist and returns its id.
func (m *MockTarget) AddPlaylist(name string, createdAt time.Time, trackIDs ...string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addLocked(name, createdAt, trackIDs).ID
}

func (m *MockTarget) addLocked(name string, createdAt time.Time, trackIDs []string) *models.TargetPlaylist {
	m.nextID++
	pl := &models.TargetPlaylist{
		ID:         fmt.Sprintf("pl-%d", m.nextID),
		Name:       name,
		TrackCount: len(trackIDs),
		TrackIDs:   append([]string(nil), trackIDs...),
		CreatedAt:  createdAt,
	}
	m.playlists = append(m.playlists, pl)
	return pl
}

func (m *MockTarget) ListPlaylists(ctx context.Context) ([]models.TargetPlaylist, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]models.TargetPlaylist, 0, len(m.playlists))
	for _, pl := range m.playlists {
		cp := *pl
		cp.TrackIDs = nil
		out = append(out, cp)
	}
	return out, nil
}

func (m *MockTarget) GetPlaylist(ctx context.Context, name string) (*models.TargetPlaylist, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, pl := range m.playlists {
		if pl.Name == name {
			cp := *pl
			cp.TrackIDs = append([]string(nil), pl.TrackIDs...)
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: playlist %q", shared.ErrNotFound, name)
}

func (m *MockTarget) CreatePlaylist(ctx context.Context, name string, trackIDs []string) (*models.TargetPlaylist, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CreateCalls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cp := *m.addLocked(name, m.Now(), trackIDs)
	return &cp, nil
}

func (m *MockTarget) UpdatePlaylist(ctx context.Context, playlistID string, trackIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpdateCalls++
	if err := ctx.Err(); err != nil {
		return err
	}
	pl, err := m.findLocked(playlistID)
	if err != nil {
		return err
	}
	pl.TrackIDs = append([]string(nil), trackIDs...)
	pl.TrackCount = len(pl.TrackIDs)
	return nil
}

func (m *MockTarget) DeletePlaylist(ctx context.Context, playlistID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeleteCalls++
	if err := ctx.Err(); err != nil {
		return err
	}
	for i, pl := range m.playlists {
		if pl.ID == playlistID {
			m.playlists = append(m.playlists[:i], m.playlists[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: playlist %s", shared.ErrNotFound, playlistID)
}

// Playlists returns the names of every playlist in creation order.
func (m *MockTarget) Playlists() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.playlists))
	for _, pl := range m.playlists {
		names = append(names, pl.Name)
	}
	return names
}

// TrackIDs returns the contents of the named playlist, or nil when absent.
func (m *MockTarget) TrackIDs(name string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pl := range m.playlists {
		if pl.Name == name {
			return append([]string(nil), pl.TrackIDs...)
		}
	}
	return nil
}

func (m *MockTarget) findLocked(id string) (*models.TargetPlaylist, error) {
	for _, pl := range m.playlists {
		if pl.ID == id {
			return pl, nil
		}
	}
	return nil, fmt.Errorf("%w: playlist %s", shared.ErrNotFound, id)
}

// MockEditableTarget adds incremental playlist edits to [MockTarget].
type MockEditableTarget struct {
	*MockTarget
	Added   []string
	Removed []string
}

func NewMockEditableTarget(name string, library ...models.TrackRecord) *MockEditableTarget {
	return &MockEditableTarget{MockTarget: NewMockTarget(name, library...)}
}

func (m *MockEditableTarget) AddTracks(ctx context.Context, playlistID string, trackIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	pl, err := m.findLocked(playlistID)
	if err != nil {
		return err
	}
	pl.TrackIDs = append(pl.TrackIDs, trackIDs...)
	pl.TrackCount = len(pl.TrackIDs)
	m.Added = append(m.Added, trackIDs...)
	return nil
}

func (m *MockEditableTarget) RemoveTracks(ctx context.Context, playlistID string, trackIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	pl, err := m.findLocked(playlistID)
	if err != nil {
		return err
	}
	drop := make(map[string]bool, len(trackIDs))
	for _, id := range trackIDs {
		drop[id] = true
	}
	kept := pl.TrackIDs[:0]
	for _, id := range pl.TrackIDs {
		if !drop[id] {
			kept = append(kept, id)
		}
	}
	pl.TrackIDs = kept
	pl.TrackCount = len(kept)
	m.Removed = append(m.Removed, trackIDs...)
	return nil
}

// MemoryExecutions is an in-memory execution store.
type MemoryExecutions struct {
	mu       sync.Mutex
	items    map[string]*models.Execution
	sequence int64
}

func NewMemoryExecutions() *MemoryExecutions {
	return &MemoryExecutions{items: make(map[string]*models.Execution)}
}

func (m *MemoryExecutions) Create(_ context.Context, exec *models.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if exec.ID == "" {
		exec.ID = shared.GenerateID()
	}
	m.sequence++
	exec.Sequence = m.sequence
	cp := *exec
	m.items[exec.ID] = &cp
	return nil
}

func (m *MemoryExecutions) Update(_ context.Context, exec *models.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[exec.ID]; !ok {
		return fmt.Errorf("%w: execution %s", shared.ErrNotFound, exec.ID)
	}
	cp := *exec
	m.items[exec.ID] = &cp
	return nil
}

func (m *MemoryExecutions) Get(_ context.Context, id string) (*models.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: execution %s", shared.ErrNotFound, id)
	}
	cp := *e
	return &cp, nil
}

func (m *MemoryExecutions) ListByStatus(_ context.Context, statuses ...models.ExecutionStatus) ([]*models.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[models.ExecutionStatus]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	var out []*models.Execution
	for _, e := range m.items {
		if want[e.Status] {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

// All returns every execution in sequence order.
func (m *MemoryExecutions) All() []*models.Execution {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Execution, 0, len(m.items))
	for _, e := range m.items {
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}

// MemoryCommands is an in-memory command definition store.
type MemoryCommands struct {
	mu   sync.Mutex
	defs map[string]*models.CommandDefinition
}

func NewMemoryCommands(defs ...*models.CommandDefinition) *MemoryCommands {
	m := &MemoryCommands{defs: make(map[string]*models.CommandDefinition)}
	for _, d := range defs {
		m.defs[d.ID] = d
	}
	return m
}

func (m *MemoryCommands) Get(_ context.Context, id string) (*models.CommandDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.defs[id]
	if !ok {
		return nil, fmt.Errorf("%w: command %s", shared.ErrNotFound, id)
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryCommands) Enabled(_ context.Context) ([]*models.CommandDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.CommandDefinition
	for _, d := range m.defs {
		if d.Enabled {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
