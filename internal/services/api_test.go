package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/desertthunder/cmdarr/internal/shared"
	tu "github.com/desertthunder/cmdarr/internal/testing"
)

func testClientOptions() ClientOptions {
	return ClientOptions{
		RequestsPerSecond: 1000,
		Burst:             100,
		MaxRetries:        2,
		BaseDelay:         time.Millisecond,
	}
}

func TestAPIClient(t *testing.T) {
	t.Run("Decodes JSON Response", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-Test") != "yes" {
				t.Errorf("expected authorize hook to set header")
			}
			if r.URL.Query().Get("q") != "abc" {
				t.Errorf("expected query q=abc, got %s", r.URL.RawQuery)
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"status":"ok"}`))
		}))
		defer server.Close()

		client := NewAPIClient("test", server.URL, func(r *http.Request) { r.Header.Set("X-Test", "yes") }, testClientOptions())

		var out struct {
			Status string `json:"status"`
		}
		err := client.Do(context.Background(), http.MethodGet, "/x", map[string][]string{"q": {"abc"}}, nil, &out)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if out.Status != "ok" {
			t.Errorf("expected status ok, got %s", out.Status)
		}
	})

	t.Run("Classifies Status Codes", func(t *testing.T) {
		tests := []struct {
			name   string
			code   int
			want   error
			kind   shared.ErrorKind
			probes int32
		}{
			{"Unauthorized", http.StatusUnauthorized, shared.ErrAuth, shared.KindAuth, 1},
			{"Forbidden", http.StatusForbidden, shared.ErrAuth, shared.KindAuth, 1},
			{"Not Found", http.StatusNotFound, shared.ErrNotFound, shared.KindNotFound, 1},
			{"Bad Request", http.StatusBadRequest, shared.ErrAPIRequest, shared.KindInternal, 1},
			{"Rate Limited", http.StatusTooManyRequests, shared.ErrTransientUpstream, shared.KindTransientUpstream, 3},
			{"Server Error", http.StatusBadGateway, shared.ErrTransientUpstream, shared.KindTransientUpstream, 3},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				var calls atomic.Int32
				server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					calls.Add(1)
					http.Error(w, "nope", tt.code)
				}))
				defer server.Close()

				client := NewAPIClient("test", server.URL, nil, testClientOptions())
				err := client.Do(context.Background(), http.MethodGet, "/", nil, nil, nil)

				if !errors.Is(err, tt.want) {
					t.Fatalf("expected %v, got %v", tt.want, err)
				}
				if got := shared.KindOf(err); got != tt.kind {
					t.Errorf("expected kind %s, got %s", tt.kind, got)
				}
				if got := calls.Load(); got != tt.probes {
					t.Errorf("expected %d requests, got %d", tt.probes, got)
				}
			})
		}
	})

	t.Run("Retries Then Succeeds", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.Write([]byte(`{}`))
		}))
		defer server.Close()

		client := NewAPIClient("test", server.URL, nil, testClientOptions())
		if err := client.Do(context.Background(), http.MethodGet, "/", nil, nil, &struct{}{}); err != nil {
			t.Fatalf("expected success after retry, got %v", err)
		}
		if calls.Load() != 2 {
			t.Errorf("expected 2 requests, got %d", calls.Load())
		}
	})

	t.Run("Network Failure Is Transient", func(t *testing.T) {
		opts := testClientOptions()
		opts.MaxRetries = 0
		opts.HTTPClient = &http.Client{Transport: tu.NewMockRoundTripper(nil, errors.New("connection reset"))}

		client := NewAPIClient("test", "http://upstream.invalid", nil, opts)
		err := client.Do(context.Background(), http.MethodGet, "/", nil, nil, nil)
		if !errors.Is(err, shared.ErrTransientUpstream) {
			t.Errorf("expected transient upstream error, got %v", err)
		}
	})

	t.Run("Cancelled Context", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		client := NewAPIClient("test", server.URL, nil, testClientOptions())
		err := client.Do(ctx, http.MethodGet, "/", nil, nil, nil)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})

	t.Run("Sends JSON Body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ct := r.Header.Get("Content-Type"); ct != "application/json" {
				t.Errorf("expected JSON content type, got %s", ct)
			}
			w.WriteHeader(http.StatusNoContent)
		}))
		defer server.Close()

		client := NewAPIClient("test", server.URL, nil, testClientOptions())
		var out map[string]any
		if err := client.Do(context.Background(), http.MethodPost, "/", nil, map[string]string{"a": "b"}, &out); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
	})
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	plex, err := NewPlexService(PlexOptions{URL: "http://plex", Token: "t", Section: "1"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	reg.AddTarget(plex)

	if _, err := reg.Target("PLEX"); err != nil {
		t.Errorf("expected case-insensitive lookup, got %v", err)
	}
	if _, err := reg.Target("jellyfin"); !errors.Is(err, shared.ErrMissingConfig) {
		t.Errorf("expected ErrMissingConfig, got %v", err)
	}
	if _, err := reg.Source("spotify"); !errors.Is(err, shared.ErrMissingConfig) {
		t.Errorf("expected ErrMissingConfig, got %v", err)
	}
	if names := reg.TargetNames(); len(names) != 1 || names[0] != "plex" {
		t.Errorf("expected [plex], got %v", names)
	}
}
