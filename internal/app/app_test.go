package app

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/cmdarr/internal/models"
	"github.com/desertthunder/cmdarr/internal/services"
	"github.com/desertthunder/cmdarr/internal/shared"
	tu "github.com/desertthunder/cmdarr/internal/testing"
)

const seedYAML = `commands:
  - id: weekly
    kind: playlist_sync
    schedule: "0 6 1 1 *"
    config:
      source: listenbrainz
      target: plex
      playlist: weekly_exploration
      name_prefix: "[LB]"
  - id: cache
    kind: library_cache_build
    enabled: false
    config:
      targets: [plex]
`

func testConfig(t *testing.T) *shared.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := shared.DefaultConfig()
	cfg.Database.Path = filepath.Join(dir, "cmdarr.db")
	cfg.Discovery.ImportListPath = filepath.Join(dir, "import_list.json")
	cfg.Scheduler.MaintenanceCommand = ""
	cfg.Scheduler.CheckInterval = time.Hour
	cfg.Server.Enabled = false
	cfg.Executor.ShutdownGrace = time.Second
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	return cfg
}

func testRegistry() (*services.Registry, *tu.MockSource, *tu.MockTarget) {
	source := tu.NewMockSource("listenbrainz")
	target := tu.NewMockTarget("plex",
		models.TrackRecord{ID: "t1", Title: "Song A", Artist: "Artist X"},
		models.TrackRecord{ID: "t2", Title: "Song B", Artist: "Artist Y"},
	)
	reg := services.NewRegistry()
	reg.AddSource(source)
	reg.AddTarget(target)
	return reg, source, target
}

func mustInit(t *testing.T, a *App) {
	t.Helper()
	if err := a.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
}

func shutdown(t *testing.T, a *App) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
}

func TestInitSeedsCommands(t *testing.T) {
	cfg := testConfig(t)
	seed := filepath.Join(t.TempDir(), "commands.yaml")
	tu.MustWriteFile(t, seed, seedYAML)
	reg, _, _ := testRegistry()

	a := New(cfg, shared.NewLogger(io.Discard), Options{SeedPath: seed, Registry: reg})
	mustInit(t, a)
	defer shutdown(t, a)

	defs, err := a.Commands.List(context.Background(), nil)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(defs) != 2 {
		t.Fatalf("List() returned %d commands, want 2", len(defs))
	}
	if defs[0].ID != "cache" || defs[0].Enabled {
		t.Errorf("first command = %s (enabled %v), want disabled cache", defs[0].ID, defs[0].Enabled)
	}
	if defs[1].ID != "weekly" || defs[1].Kind != models.KindPlaylistSync {
		t.Errorf("second command = %s (%s), want weekly playlist_sync", defs[1].ID, defs[1].Kind)
	}
}

func TestInitKeepsExistingCommands(t *testing.T) {
	cfg := testConfig(t)
	seed := filepath.Join(t.TempDir(), "commands.yaml")
	tu.MustWriteFile(t, seed, seedYAML)
	reg, _, _ := testRegistry()
	ctx := context.Background()

	a := New(cfg, shared.NewLogger(io.Discard), Options{SeedPath: seed, Registry: reg})
	mustInit(t, a)
	if err := a.Commands.SetEnabled(ctx, "weekly", false); err != nil {
		t.Fatalf("SetEnabled() error = %v", err)
	}
	shutdown(t, a)

	b := New(cfg, shared.NewLogger(io.Discard), Options{SeedPath: seed, Registry: reg})
	mustInit(t, b)
	defer shutdown(t, b)

	def, err := b.Commands.Get(ctx, "weekly")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if def.Enabled {
		t.Error("seeding overwrote an operator change")
	}
}

func TestInitMissingSeedFile(t *testing.T) {
	cfg := testConfig(t)
	reg, _, _ := testRegistry()
	a := New(cfg, shared.NewLogger(io.Discard), Options{SeedPath: filepath.Join(t.TempDir(), "absent.yaml"), Registry: reg})
	mustInit(t, a)
	shutdown(t, a)
}

func TestInitHoldsInstanceLock(t *testing.T) {
	cfg := testConfig(t)
	reg, _, _ := testRegistry()

	first := New(cfg, shared.NewLogger(io.Discard), Options{Registry: reg})
	mustInit(t, first)

	second := New(cfg, shared.NewLogger(io.Discard), Options{Registry: reg})
	if err := second.Init(context.Background()); !errors.Is(err, ErrLocked) {
		t.Fatalf("second Init() error = %v, want ErrLocked", err)
	}

	shutdown(t, first)

	third := New(cfg, shared.NewLogger(io.Discard), Options{Registry: reg})
	if err := third.Init(context.Background()); err != nil {
		t.Fatalf("lock was not released on shutdown: %v", err)
	}
	shutdown(t, third)
}

func TestInitRecoversInterruptedExecutions(t *testing.T) {
	cfg := testConfig(t)
	cfg.Executor.RestartRetry = false
	seed := filepath.Join(t.TempDir(), "commands.yaml")
	tu.MustWriteFile(t, seed, seedYAML)
	reg, _, _ := testRegistry()
	ctx := context.Background()

	a := New(cfg, shared.NewLogger(io.Discard), Options{SeedPath: seed, Registry: reg})
	mustInit(t, a)
	exec := models.NewExecution("weekly", models.TriggerScheduler, time.Now())
	if err := exec.Transition(models.StatusRunning, time.Now()); err != nil {
		t.Fatalf("Transition() error = %v", err)
	}
	if err := a.Executions.Create(ctx, exec); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	shutdown(t, a)

	b := New(cfg, shared.NewLogger(io.Discard), Options{Registry: reg})
	mustInit(t, b)
	defer shutdown(t, b)

	got, err := b.Executions.Get(ctx, exec.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != models.StatusFailed {
		t.Errorf("Status = %s, want failed", got.Status)
	}
	if !strings.Contains(got.ErrorMessage, "interrupted") {
		t.Errorf("ErrorMessage = %q, want it to mention the interruption", got.ErrorMessage)
	}
}

func TestRunCommandEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	seed := filepath.Join(t.TempDir(), "commands.yaml")
	tu.MustWriteFile(t, seed, seedYAML)
	reg, source, target := testRegistry()
	source.Put("weekly_exploration", models.SourcePlaylist{
		ID:       "lb-1",
		Title:    "Weekly Exploration",
		Category: "weekly",
		Date:     time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC),
		Tracks: []models.Track{
			{Title: "Song A", Artist: "Artist X"},
			{Title: "Song B", Artist: "Artist Y"},
		},
	})
	ctx := context.Background()

	a := New(cfg, shared.NewLogger(io.Discard), Options{SeedPath: seed, Registry: reg})
	mustInit(t, a)
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer shutdown(t, a)

	exec, err := a.Coordinator.Enqueue(ctx, "weekly", models.TriggerManual)
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	done, err := a.Coordinator.Wait(waitCtx, exec.ID)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if done.Status != models.StatusCompleted {
		t.Fatalf("Status = %s, want completed: %s", done.Status, done.ErrorMessage)
	}
	if !strings.Contains(done.Summary, "2/2 matched") {
		t.Errorf("Summary = %q", done.Summary)
	}
	if got, want := target.TrackIDs("[LB] Weekly, Mar-10"), []string{"t1", "t2"}; !reflect.DeepEqual(got, want) {
		t.Errorf("playlist tracks = %v, want %v", got, want)
	}

	state, err := a.PlaylistStates.Get(ctx, "weekly")
	if err != nil {
		t.Fatalf("PlaylistStates.Get() error = %v", err)
	}
	if state.TrackCount != 2 || state.PlaylistName != "[LB] Weekly, Mar-10" {
		t.Errorf("state = %+v", state)
	}
}

func TestBuildRegistry(t *testing.T) {
	logger := shared.NewLogger(io.Discard)

	t.Run("Placeholders Skipped", func(t *testing.T) {
		reg, err := BuildRegistry(shared.DefaultConfig(), logger)
		if err != nil {
			t.Fatalf("BuildRegistry() error = %v", err)
		}
		if _, err := reg.Source("spotify"); !errors.Is(err, shared.ErrMissingConfig) {
			t.Errorf("Source(spotify) error = %v, want ErrMissingConfig", err)
		}
		if _, err := reg.Target("plex"); !errors.Is(err, shared.ErrMissingConfig) {
			t.Errorf("Target(plex) error = %v, want ErrMissingConfig", err)
		}
	})

	t.Run("Configured Services", func(t *testing.T) {
		cfg := shared.DefaultConfig()
		cfg.Credentials.Spotify.ClientID = "id"
		cfg.Credentials.Spotify.ClientSecret = "secret"
		cfg.Credentials.ListenBrainz.Username = "someone"
		cfg.Credentials.Plex.Token = "plex-token"

		reg, err := BuildRegistry(cfg, logger)
		if err != nil {
			t.Fatalf("BuildRegistry() error = %v", err)
		}
		for _, name := range []string{"spotify", "listenbrainz"} {
			if _, err := reg.Source(name); err != nil {
				t.Errorf("Source(%s) error = %v", name, err)
			}
		}
		if _, err := reg.Target("plex"); err != nil {
			t.Errorf("Target(plex) error = %v", err)
		}
		if _, err := reg.Target("jellyfin"); !errors.Is(err, shared.ErrMissingConfig) {
			t.Errorf("Target(jellyfin) error = %v, want ErrMissingConfig", err)
		}
	})
}

func TestLockPath(t *testing.T) {
	tests := []struct{ db, want string }{
		{":memory:", ""},
		{"/var/lib/cmdarr.db", "/var/lib/cmdarr.db.lock"},
	}
	for _, tt := range tests {
		if got := LockPath(tt.db); got != tt.want {
			t.Errorf("LockPath(%q) = %q, want %q", tt.db, got, tt.want)
		}
	}
}
