package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/cmdarr/internal/library"
	"github.com/desertthunder/cmdarr/internal/matcher"
	"github.com/desertthunder/cmdarr/internal/models"
	"github.com/desertthunder/cmdarr/internal/repositories"
	"github.com/desertthunder/cmdarr/internal/services"
	"github.com/desertthunder/cmdarr/internal/shared"
	tu "github.com/desertthunder/cmdarr/internal/testing"
)

type pruner struct{ keep []int }

func (p *pruner) Prune(_ context.Context, keep int) (int64, error) {
	p.keep = append(p.keep, keep)
	return 4, nil
}

type stuckCleaner struct{ calls int }

func (s *stuckCleaner) CleanupStuck(context.Context, time.Time) (int, error) {
	s.calls++
	return 0, nil
}

type runnerFixture struct {
	runner  *CommandRunner
	cache   *library.Manager
	artists *repositories.ArtistRepository
	source  *tu.MockSource
	target  *tu.MockTarget
	pruner  *pruner
}

func newRunnerFixture(t *testing.T, libOpts library.Options, opts RunnerOptions) *runnerFixture {
	t.Helper()
	db := tu.MustOpenDB(t)
	logger := shared.NewLogger(io.Discard)

	libOpts.Clock = fixedClock
	if libOpts.TTL == 0 {
		libOpts.TTL = time.Hour
	}
	cache := library.NewManager(repositories.NewSnapshotRepository(db), logger, libOpts)
	artists := repositories.NewArtistRepository(db)
	engine := NewPlaylistEngine(cache, matcher.New(0), repositories.NewPlaylistStateRepository(db), artists, logger, EngineOptions{Clock: fixedClock})

	source := tu.NewMockSource("listenbrainz")
	target := tu.NewMockTarget("plex", library3...)
	registry := services.NewRegistry()
	registry.AddSource(source)
	registry.AddTarget(target)

	p := &pruner{}
	opts.Clock = fixedClock
	runner := NewCommandRunner(registry, engine, cache, artists, p, logger, opts)
	return &runnerFixture{runner: runner, cache: cache, artists: artists, source: source, target: target, pruner: p}
}

func def(id string, kind models.CommandKind, config string) *models.CommandDefinition {
	return &models.CommandDefinition{ID: id, Kind: kind, Enabled: true, Config: json.RawMessage(config)}
}

func run(t *testing.T, r *CommandRunner, d *models.CommandDefinition) (string, error) {
	t.Helper()
	return r.Run(context.Background(), d, models.NewExecution(d.ID, models.TriggerManual, syncNow))
}

func wantSummary(t *testing.T, got string, err error, want string) {
	t.Helper()
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got != want {
		t.Errorf("summary = %q, want %q", got, want)
	}
}

func TestRunnerPlaylistSync(t *testing.T) {
	f := newRunnerFixture(t, library.Options{}, RunnerOptions{})
	f.source.Put("weekly_exploration", weeklyPlaylist(day(time.March, 10), twoTracks()...))

	summary, err := run(t, f.runner, def("weekly", models.KindPlaylistSync,
		`{"source":"listenbrainz","target":"plex","playlist":"weekly_exploration"}`))
	wantSummary(t, summary, err, `created "[LB] Weekly, Mar-10": 2/2 matched (live), +2 -0`)
	if got := f.target.TrackIDs("[LB] Weekly, Mar-10"); !slices.Equal(got, []string{"t1", "t2"}) {
		t.Errorf("playlist tracks = %v", got)
	}
}

func TestRunnerPlaylistSyncErrors(t *testing.T) {
	tests := []struct {
		name    string
		config  string
		wantErr error
	}{
		{name: "Unknown Source", config: `{"source":"deezer","target":"plex","playlist":"x"}`, wantErr: shared.ErrMissingConfig},
		{name: "Unknown Target", config: `{"source":"listenbrainz","target":"emby","playlist":"x"}`, wantErr: shared.ErrMissingConfig},
		{name: "Unknown Option", config: `{"source":"listenbrainz","target":"plex","playlist":"x","shuffle":true}`, wantErr: shared.ErrUnknownOption},
		{name: "Missing Playlist", config: `{"source":"listenbrainz","target":"plex"}`, wantErr: shared.ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRunnerFixture(t, library.Options{}, RunnerOptions{})
			if _, err := run(t, f.runner, def("bad", models.KindPlaylistSync, tt.config)); !errors.Is(err, tt.wantErr) {
				t.Errorf("Run() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRunnerCacheBuild(t *testing.T) {
	t.Run("Builds Stale Then Skips Fresh", func(t *testing.T) {
		f := newRunnerFixture(t, library.Options{KeepInMemory: true}, RunnerOptions{})
		d := def("cache", models.KindLibraryCacheBuild, `{"targets":["plex"]}`)

		summary, err := run(t, f.runner, d)
		wantSummary(t, summary, err, "built 1, fresh 0, degraded 0")

		summary, err = run(t, f.runner, d)
		wantSummary(t, summary, err, "built 0, fresh 1, degraded 0")
		if f.target.LibraryCalls != 1 {
			t.Errorf("LibraryCalls = %d, want 1", f.target.LibraryCalls)
		}

		summary, err = run(t, f.runner, def("cache", models.KindLibraryCacheBuild, `{"targets":["plex"],"force":true}`))
		wantSummary(t, summary, err, "built 1, fresh 0, degraded 0")
		if f.target.LibraryCalls != 2 {
			t.Errorf("LibraryCalls = %d, want 2", f.target.LibraryCalls)
		}
	})

	t.Run("Fresh Without Keeping Memory", func(t *testing.T) {
		f := newRunnerFixture(t, library.Options{}, RunnerOptions{})
		d := def("cache", models.KindLibraryCacheBuild, `{"targets":["plex"]}`)

		summary, err := run(t, f.runner, d)
		wantSummary(t, summary, err, "built 1, fresh 0, degraded 0")
		summary, err = run(t, f.runner, d)
		wantSummary(t, summary, err, "built 0, fresh 1, degraded 0")
	})

	t.Run("Over Ceiling Is Degraded", func(t *testing.T) {
		f := newRunnerFixture(t, library.Options{CeilingBytes: 1}, RunnerOptions{})
		summary, err := run(t, f.runner, def("cache", models.KindLibraryCacheBuild, `{"targets":["plex"]}`))
		wantSummary(t, summary, err, "built 0, fresh 0, degraded 1")
	})

	t.Run("Unknown Target Fails After The Rest", func(t *testing.T) {
		f := newRunnerFixture(t, library.Options{}, RunnerOptions{})
		summary, err := run(t, f.runner, def("cache", models.KindLibraryCacheBuild, `{"targets":["emby","plex"]}`))
		if !errors.Is(err, shared.ErrMissingConfig) {
			t.Fatalf("Run() error = %v, want ErrMissingConfig", err)
		}
		if summary != "built 1, fresh 0, degraded 0" {
			t.Errorf("summary = %q", summary)
		}
	})

	t.Run("Upstream Failure", func(t *testing.T) {
		f := newRunnerFixture(t, library.Options{}, RunnerOptions{})
		f.target.LibraryErr = shared.ErrTransientUpstream
		if _, err := run(t, f.runner, def("cache", models.KindLibraryCacheBuild, `{"targets":["plex"]}`)); !errors.Is(err, shared.ErrTransientUpstream) {
			t.Errorf("Run() error = %v, want ErrTransientUpstream", err)
		}
	})
}

func TestRunnerMaintenance(t *testing.T) {
	importList := filepath.Join(t.TempDir(), "import_list.json")
	f := newRunnerFixture(t, library.Options{}, RunnerOptions{ImportListPath: importList, KeepExecutions: 10})
	cleaner := &stuckCleaner{}
	f.runner.SetStuckCleaner(cleaner)

	_, err := f.artists.Add(context.Background(), []models.DiscoveredArtist{
		{Name: "Old Act", Source: "listenbrainz", DiscoveredAt: syncNow.AddDate(0, 0, -40)},
		{Name: "New Act", Source: "spotify", DiscoveredAt: syncNow.AddDate(0, 0, -2)},
	})
	if err != nil {
		t.Fatalf("artists.Add() error = %v", err)
	}

	summary, err := run(t, f.runner, def("maint", models.KindDiscoveryMaintenance, `{"max_age_days":30,"prune_executions":true}`))
	wantSummary(t, summary, err, "pruned 1 artists, import list has 1 artists, 0 expired snapshots removed, 0 stuck executions, 4 old executions pruned")
	if cleaner.calls != 1 {
		t.Errorf("stuck cleaner calls = %d, want 1", cleaner.calls)
	}
	if !slices.Equal(f.pruner.keep, []int{10}) {
		t.Errorf("prune keep = %v, want [10]", f.pruner.keep)
	}

	contents := tu.MustReadFile(t, importList)
	if !strings.Contains(contents, "New Act") || strings.Contains(contents, "Old Act") {
		t.Errorf("import list should hold only the recent artist:\n%s", contents)
	}
}

func TestRunnerMaintenanceDefaultAge(t *testing.T) {
	f := newRunnerFixture(t, library.Options{}, RunnerOptions{MaxAgeDays: 7})
	_, err := f.artists.Add(context.Background(), []models.DiscoveredArtist{
		{Name: "Ten Days", DiscoveredAt: syncNow.AddDate(0, 0, -10)},
		{Name: "Three Days", DiscoveredAt: syncNow.AddDate(0, 0, -3)},
	})
	if err != nil {
		t.Fatalf("artists.Add() error = %v", err)
	}

	summary, err := run(t, f.runner, def("maint", models.KindDiscoveryMaintenance, ""))
	wantSummary(t, summary, err, "pruned 1 artists, 0 expired snapshots removed")
	if len(f.pruner.keep) != 0 {
		t.Errorf("executions are only pruned when asked, got %v", f.pruner.keep)
	}
}

func TestRunnerUnknownKind(t *testing.T) {
	f := newRunnerFixture(t, library.Options{}, RunnerOptions{})
	if _, err := run(t, f.runner, def("odd", models.CommandKind("reindex"), `{}`)); !errors.Is(err, shared.ErrInvalidInput) {
		t.Errorf("Run() error = %v, want ErrInvalidInput", err)
	}
}
