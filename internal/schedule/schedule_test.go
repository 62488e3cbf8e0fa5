package schedule

import (
	"bytes"
	"context"
	"errors"
	"io"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/cmdarr/internal/models"
	"github.com/desertthunder/cmdarr/internal/shared"
	tu "github.com/desertthunder/cmdarr/internal/testing"
)

func TestIsDue(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("failed to load zone: %v", err)
	}

	tc := []struct {
		name string
		expr string
		tz   string
		now  time.Time
		want bool
	}{
		{name: "second before boundary", expr: "0 3 * * *", tz: "UTC", now: time.Date(2026, 3, 2, 2, 59, 59, 0, time.UTC), want: false},
		{name: "exact boundary", expr: "0 3 * * *", tz: "UTC", now: time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC), want: true},
		{name: "second after boundary", expr: "0 3 * * *", tz: "UTC", now: time.Date(2026, 3, 2, 3, 0, 1, 0, time.UTC), want: false},
		{name: "on boundary in zone", expr: "0 6 * * *", tz: "America/New_York", now: time.Date(2026, 3, 2, 6, 0, 0, 0, ny), want: true},
		{name: "inside boundary minute", expr: "0 6 * * *", tz: "America/New_York", now: time.Date(2026, 3, 2, 6, 0, 42, 0, ny), want: false},
		{name: "one minute early", expr: "0 6 * * *", tz: "America/New_York", now: time.Date(2026, 3, 2, 5, 59, 0, 0, ny), want: false},
		{name: "same instant expressed in UTC", expr: "0 6 * * *", tz: "America/New_York", now: time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC), want: true},
		{name: "utc boundary is not a new york boundary", expr: "0 6 * * *", tz: "America/New_York", now: time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC), want: false},
		{name: "every fifteen minutes", expr: "*/15 * * * *", tz: "", now: time.Date(2026, 3, 2, 10, 45, 0, 0, time.UTC), want: true},
		{name: "weekday only on a sunday", expr: "0 9 * * 1-5", tz: "UTC", now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC), want: false},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			got, err := IsDue(tt.expr, tt.tz, tt.now)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("IsDue(%q, %q, %v) = %v, want %v", tt.expr, tt.tz, tt.now, got, tt.want)
			}
		})
	}

	t.Run("invalid expression", func(t *testing.T) {
		if _, err := IsDue("not a cron", "UTC", time.Now()); !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestNextRunAndLocation(t *testing.T) {
	t.Run("next run is strictly after the given instant", func(t *testing.T) {
		after := time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)
		next, err := NextRun("0 6 * * *", "UTC", after)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !next.Equal(after.Add(24 * time.Hour)) {
			t.Errorf("next = %v, want %v", next, after.Add(24*time.Hour))
		}
	})

	t.Run("unknown zone falls back to UTC with an error", func(t *testing.T) {
		loc, err := ResolveLocation("Mars/Olympus_Mons")
		if !errors.Is(err, shared.ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
		if loc != time.UTC {
			t.Errorf("loc = %v, want UTC", loc)
		}
	})

	t.Run("empty zone is UTC", func(t *testing.T) {
		loc, err := ResolveLocation("")
		if err != nil || loc != time.UTC {
			t.Errorf("ResolveLocation(\"\") = %v, %v", loc, err)
		}
	})
}

func TestCrossed(t *testing.T) {
	since := time.Date(2026, 3, 2, 5, 59, 0, 0, time.UTC)

	due, boundary, err := Crossed("0 6 * * *", "UTC", since, since.Add(time.Minute))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !due || boundary.Hour() != 6 {
		t.Errorf("Crossed = %v at %v, want due at 06:00", due, boundary)
	}

	due, _, err = Crossed("0 6 * * *", "UTC", since.Add(time.Minute), since.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if due {
		t.Error("a boundary equal to since is not crossed again")
	}
}

type fakeDefs struct{ defs []*models.CommandDefinition }

func (f *fakeDefs) Enabled(context.Context) ([]*models.CommandDefinition, error) {
	var out []*models.CommandDefinition
	for _, d := range f.defs {
		if d.Enabled {
			out = append(out, d)
		}
	}
	return out, nil
}

type fakeHistory struct {
	completed map[string]time.Time
	active    map[string]bool
}

func (f *fakeHistory) LastCompleted(_ context.Context, id string) (*models.Execution, error) {
	at, ok := f.completed[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &models.Execution{ID: "e-" + id, CommandID: id, Status: models.StatusCompleted, CompletedAt: &at}, nil
}

func (f *fakeHistory) HasActive(_ context.Context, id string) (bool, error) {
	return f.active[id], nil
}

type fakeQueue struct {
	mu    sync.Mutex
	calls []string
	hist  *fakeHistory
}

func (f *fakeQueue) Enqueue(_ context.Context, id, trigger string) (*models.Execution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hist.active[id] {
		return nil, shared.ErrAlreadyActive
	}
	f.hist.active[id] = true
	f.calls = append(f.calls, id+":"+trigger)
	return &models.Execution{ID: "x", CommandID: id, Status: models.StatusPending}, nil
}

func (f *fakeQueue) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type memState struct{ last time.Time }

func (m *memState) LastTick(context.Context) (time.Time, error) { return m.last, nil }
func (m *memState) SetLastTick(_ context.Context, t time.Time) error {
	m.last = t
	return nil
}

func newScheduler(defs []*models.CommandDefinition, hist *fakeHistory, state *memState, out io.Writer) (*Scheduler, *fakeQueue) {
	q := &fakeQueue{hist: hist}
	s := New(&fakeDefs{defs: defs}, hist, q, state, shared.NewLogger(out), nil, Config{
		DefaultCron:        "0 * * * *",
		Timezone:           "UTC",
		CheckInterval:      time.Minute,
		MaintenanceCommand: "discovery_maintenance",
		MaintenanceWindow:  24 * time.Hour,
	})
	return s, q
}

func def(id, cron string, enabled bool) *models.CommandDefinition {
	return &models.CommandDefinition{ID: id, Kind: models.KindPlaylistSync, Enabled: enabled, ScheduleCron: cron}
}

func maintenance(enabled bool) *models.CommandDefinition {
	return &models.CommandDefinition{ID: "discovery_maintenance", Kind: models.KindDiscoveryMaintenance, Enabled: enabled, ScheduleCron: "0 3 * * *"}
}

func TestSchedulerTick(t *testing.T) {
	ctx := context.Background()
	hour := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	defs := []*models.CommandDefinition{
		def("a_sync", "", true),
		def("b_sync", "30 * * * *", true),
		def("c_sync", "", false),
		def("d_sync", "", true),
		def("e_sync", "bogus", true),
		maintenance(true),
	}
	hist := &fakeHistory{
		completed: map[string]time.Time{"discovery_maintenance": hour.Add(-30 * time.Hour)},
		active:    map[string]bool{"d_sync": true},
	}
	state := &memState{last: hour.Add(-time.Minute)}
	s, q := newScheduler(defs, hist, state, io.Discard)

	enqueued, err := s.Tick(ctx, hour)
	if err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if want := []string{"discovery_maintenance", "a_sync"}; !reflect.DeepEqual(enqueued, want) {
		t.Errorf("enqueued = %v, want %v", enqueued, want)
	}
	if want := []string{"discovery_maintenance:maintenance", "a_sync:scheduler"}; !reflect.DeepEqual(q.Calls(), want) {
		t.Errorf("calls = %v, want %v", q.Calls(), want)
	}
	if !state.last.Equal(hour) {
		t.Errorf("last tick = %v, want %v", state.last, hour)
	}

	t.Run("same boundary is not crossed twice", func(t *testing.T) {
		enqueued, err := s.Tick(ctx, hour.Add(time.Minute))
		if err != nil {
			t.Fatalf("Tick failed: %v", err)
		}
		if len(enqueued) != 0 {
			t.Errorf("enqueued = %v, want none", enqueued)
		}
	})
}

func TestSchedulerMaintenance(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	t.Run("recent completion is not repeated", func(t *testing.T) {
		hist := &fakeHistory{
			completed: map[string]time.Time{"discovery_maintenance": now.Add(-2 * time.Hour)},
			active:    map[string]bool{},
		}
		s, q := newScheduler([]*models.CommandDefinition{maintenance(true)}, hist, &memState{}, io.Discard)

		enqueued, err := s.Tick(context.Background(), now)
		if err != nil {
			t.Fatalf("Tick failed: %v", err)
		}
		if len(enqueued) != 0 || len(q.Calls()) != 0 {
			t.Errorf("enqueued = %v, calls = %v, want none", enqueued, q.Calls())
		}
	})

	t.Run("disabled command is never forced", func(t *testing.T) {
		hist := &fakeHistory{completed: map[string]time.Time{}, active: map[string]bool{}}
		s, q := newScheduler([]*models.CommandDefinition{maintenance(false)}, hist, &memState{}, io.Discard)

		for i := range 3 {
			if _, err := s.Tick(context.Background(), now.Add(time.Duration(i)*time.Hour)); err != nil {
				t.Fatalf("Tick failed: %v", err)
			}
		}
		if len(q.Calls()) != 0 {
			t.Errorf("calls = %v, want none", q.Calls())
		}
	})
}

func TestSchedulerUnknownCommandTimezone(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	hist := &fakeHistory{completed: map[string]time.Time{"discovery_maintenance": now}, active: map[string]bool{}}
	cmd := def("mars", "0 10 * * *", true)
	cmd.Timezone = "Mars/Olympus"

	var logs bytes.Buffer
	s, q := newScheduler([]*models.CommandDefinition{cmd}, hist, &memState{last: now.Add(-time.Minute)}, &logs)

	if _, err := s.Tick(context.Background(), now); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if want := []string{"mars:scheduler"}; !reflect.DeepEqual(q.Calls(), want) {
		t.Errorf("calls = %v, want %v (evaluated in UTC)", q.Calls(), want)
	}
	if !strings.Contains(logs.String(), "WARN") || !strings.Contains(logs.String(), "Mars/Olympus") {
		t.Errorf("expected a timezone warning, got:\n%s", logs.String())
	}
}

func TestSchedulerCatchesUpAfterDowntime(t *testing.T) {
	last := time.Date(2026, 3, 2, 5, 0, 30, 0, time.UTC)
	now := last.Add(3 * time.Hour)
	hist := &fakeHistory{completed: map[string]time.Time{"discovery_maintenance": now}, active: map[string]bool{}}
	s, _ := newScheduler([]*models.CommandDefinition{def("daily", "0 6 * * *", true)}, hist, &memState{last: last}, io.Discard)

	enqueued, err := s.Tick(context.Background(), now)
	if err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if want := []string{"daily"}; !reflect.DeepEqual(enqueued, want) {
		t.Errorf("enqueued = %v, want %v: a boundary crossed while down fires once on the next tick", enqueued, want)
	}
}

func TestSchedulerStartStop(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	hist := &fakeHistory{completed: map[string]time.Time{}, active: map[string]bool{}}
	s, q := newScheduler([]*models.CommandDefinition{maintenance(true)}, hist, &memState{}, io.Discard)
	s.clock = func() time.Time { return now }

	s.Start(context.Background())
	tu.WaitFor(t, time.Second, func() bool { return len(q.Calls()) == 1 }, "first tick enqueues maintenance")
	s.Stop()
	s.Stop()
}
