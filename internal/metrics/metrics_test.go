package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorCounts(t *testing.T) {
	c := NewCollector()

	c.ExecutionEnqueued("scheduler")
	c.ExecutionEnqueued("scheduler")
	c.ExecutionDropped("manual")
	c.ExecutionFinished("playlist_sync", "completed", 3*time.Second)
	c.QueueDepth(2, 1)
	c.CacheLookup("plex", "hit")
	c.TrackMatched("")

	tests := []struct {
		name string
		c    prometheus.Collector
		want float64
	}{
		{"enqueued", c.executionsEnqueued.WithLabelValues("scheduler"), 2},
		{"dropped", c.executionsDropped.WithLabelValues("manual"), 1},
		{"finished", c.executionsFinished.WithLabelValues("playlist_sync", "completed"), 1},
		{"pending", c.executionsPending, 2},
		{"running", c.executionsRunning, 1},
		{"cache lookups", c.cacheLookups.WithLabelValues("plex", "hit"), 1},
		{"unmatched tracks", c.trackMatches.WithLabelValues("unmatched"), 1},
	}
	for _, tt := range tests {
		if got := testutil.ToFloat64(tt.c); got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("nil collector panicked: %v", r)
		}
	}()

	c.ExecutionEnqueued("x")
	c.ExecutionFinished("k", "failed", time.Second)
	c.QueueDepth(1, 1)
	c.SchedulerTick()
	c.CacheLookup("t", "miss")
	c.SnapshotBuilt("t", 1, 1, time.Second)
	c.TrackMatched("exact")

	if c.Registry() != nil {
		t.Error("nil collector should have no registry")
	}
}

func TestHandler(t *testing.T) {
	c := NewCollector()
	c.SnapshotBuilt("jellyfin", 1200, 4<<20, 2*time.Second)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body := rec.Body.String(); !strings.Contains(body, `cmdarr_library_snapshot_tracks{target="jellyfin"} 1200`) {
		t.Errorf("metrics output missing snapshot gauge:\n%s", body)
	}
}
