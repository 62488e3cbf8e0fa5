package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/desertthunder/cmdarr/internal/shared"
)

func TestExecutionLifecycle(t *testing.T) {
	statuses := []ExecutionStatus{StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusTimeout, StatusCancelled}
	allowed := map[ExecutionStatus][]ExecutionStatus{
		StatusPending: {StatusRunning, StatusCancelled},
		StatusRunning: {StatusCompleted, StatusFailed, StatusTimeout, StatusCancelled},
	}

	for _, from := range statuses {
		for _, to := range statuses {
			want := false
			for _, ok := range allowed[from] {
				if ok == to {
					want = true
				}
			}
			if got := from.CanTransition(to); got != want {
				t.Errorf("%s -> %s: got %v, want %v", from, to, got, want)
			}
		}
	}

	t.Run("timestamps", func(t *testing.T) {
		now := time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)
		e := NewExecution("cmd", TriggerManual, now)
		if e.Status != StatusPending || e.ID == "" {
			t.Fatalf("unexpected new execution %+v", e)
		}
		if err := e.Transition(StatusRunning, now.Add(time.Second)); err != nil {
			t.Fatal(err)
		}
		if err := e.Finish(StatusFailed, fmt.Errorf("%w: 401", shared.ErrAuth), now.Add(3*time.Second)); err != nil {
			t.Fatal(err)
		}
		if e.ErrorKind != shared.KindAuth {
			t.Errorf("expected auth error kind, got %q", e.ErrorKind)
		}
		if e.Duration() != 2*time.Second {
			t.Errorf("expected 2s duration, got %s", e.Duration())
		}
		if err := e.Transition(StatusRunning, now); !errors.Is(err, shared.ErrInvalidTransition) {
			t.Errorf("terminal execution must not transition, got %v", err)
		}
	})
}

func TestCommandConfig(t *testing.T) {
	tc := []struct {
		name    string
		def     CommandDefinition
		wantErr error
	}{
		{
			name: "playlist sync defaults",
			def:  CommandDefinition{ID: "lb_weekly", Kind: KindPlaylistSync, Config: json.RawMessage(`{"source":"listenbrainz","target":"plex","playlist":"weekly_jams"}`)},
		},
		{
			name:    "unknown option",
			def:     CommandDefinition{ID: "x", Kind: KindPlaylistSync, Config: json.RawMessage(`{"source":"spotify","target":"plex","playlist":"p","colour":"red"}`)},
			wantErr: shared.ErrUnknownOption,
		},
		{
			name:    "missing target",
			def:     CommandDefinition{ID: "x", Kind: KindPlaylistSync, Config: json.RawMessage(`{"source":"spotify","playlist":"p"}`)},
			wantErr: shared.ErrInvalidInput,
		},
		{
			name:    "bad sync mode",
			def:     CommandDefinition{ID: "x", Kind: KindPlaylistSync, Config: json.RawMessage(`{"source":"spotify","target":"plex","playlist":"p","sync_mode":"mirror"}`)},
			wantErr: shared.ErrInvalidInput,
		},
		{
			name:    "cache build needs targets",
			def:     CommandDefinition{ID: "cache", Kind: KindLibraryCacheBuild},
			wantErr: shared.ErrInvalidInput,
		},
		{
			name: "maintenance empty config",
			def:  CommandDefinition{ID: "discovery_maintenance", Kind: KindDiscoveryMaintenance},
		},
		{
			name:    "unknown kind",
			def:     CommandDefinition{ID: "x", Kind: "reboot"},
			wantErr: shared.ErrInvalidInput,
		},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.def.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	t.Run("typed playlist config", func(t *testing.T) {
		def := tc[0].def
		cfg, err := def.PlaylistSync()
		if err != nil {
			t.Fatal(err)
		}
		if cfg.SyncMode != SyncFull {
			t.Errorf("expected default sync mode full, got %s", cfg.SyncMode)
		}
		if cfg.NamePrefix != "[LB]" {
			t.Errorf("expected [LB] prefix, got %s", cfg.NamePrefix)
		}
	})

	t.Run("effective schedule", func(t *testing.T) {
		def := CommandDefinition{ID: "a"}
		if got := def.EffectiveCron("0 * * * *"); got != "0 * * * *" {
			t.Errorf("expected global default, got %q", got)
		}
		def.ScheduleCron = " 5 4 * * * "
		if got := def.EffectiveCron("0 * * * *"); got != "5 4 * * *" {
			t.Errorf("expected override, got %q", got)
		}
		if got := def.EffectiveTimeout(time.Minute); got != time.Minute {
			t.Errorf("expected fallback timeout, got %s", got)
		}
	})
}

func TestLibrarySnapshotExpired(t *testing.T) {
	built := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s := LibrarySnapshot{BuiltAt: built, TTL: time.Hour}
	if s.Expired(built.Add(time.Hour - time.Second)) {
		t.Error("snapshot should be fresh before the ttl elapses")
	}
	if !s.Expired(built.Add(time.Hour + time.Second)) {
		t.Error("snapshot should be expired after the ttl elapses")
	}
}
