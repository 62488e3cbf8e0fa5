package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/desertthunder/cmdarr/internal/shared"
)

func newSpotifyTestServer(t *testing.T, pages map[string]string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if user, _, ok := r.BasicAuth(); !ok || user != "id" {
			t.Errorf("expected basic auth client credentials")
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"app-token","token_type":"bearer","expires_in":3600}`)
	})
	mux.HandleFunc("/v1/playlists/pl1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"pl1","name":"Release Radar","snapshot_id":"s1"}`)
	})
	mux.HandleFunc("/v1/playlists/pl1/tracks", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer app-token" {
			t.Errorf("expected bearer token, got %q", r.Header.Get("Authorization"))
		}
		body, ok := pages[r.URL.Query().Get("offset")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, body)
	})
	return httptest.NewServer(mux)
}

func TestSpotifyService(t *testing.T) {
	t.Run("NewSpotifyService", func(t *testing.T) {
		tests := []struct {
			name string
			opts SpotifyOptions
		}{
			{"Missing Client ID", SpotifyOptions{ClientSecret: "s"}},
			{"Missing Client Secret", SpotifyOptions{ClientID: "id"}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if _, err := NewSpotifyService(tt.opts); !errors.Is(err, shared.ErrMissingCredentials) {
					t.Errorf("expected ErrMissingCredentials, got %v", err)
				}
			})
		}

		srv, err := NewSpotifyService(SpotifyOptions{ClientID: "id", ClientSecret: "s"})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if srv.Name() != "spotify" {
			t.Errorf("expected name spotify, got %s", srv.Name())
		}
	})

	t.Run("GetPlaylistTracks", func(t *testing.T) {
		next := `"next-page"`
		pages := map[string]string{
			"0": `{"items":[
				{"added_at":"2025-03-01T10:00:00Z","track":{"id":"t1","name":"Song A","artists":[{"name":"Artist A"}],"album":{"name":"Album A"},"external_ids":{"isrc":"ISRC1"}}},
				{"added_at":"2025-03-03T10:00:00Z","track":{"id":"","name":"Local","is_local":true}},
				{"added_at":"2025-03-02T10:00:00Z","track":null}
			],"total":101,"offset":0,"next":` + next + `}`,
			"100": `{"items":[
				{"added_at":"2025-03-04T08:00:00Z","track":{"id":"t2","name":"Song B","artists":[{"name":"Artist B"},{"name":"Feat"}],"album":{"name":"Album B"}}}
			],"total":101,"offset":100,"next":null}`,
		}
		server := newSpotifyTestServer(t, pages)
		defer server.Close()

		srv, err := NewSpotifyService(SpotifyOptions{
			ClientID:     "id",
			ClientSecret: "secret",
			BaseURL:      server.URL + "/v1",
			TokenURL:     server.URL + "/token",
			Client:       testClientOptions(),
		})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		playlist, err := srv.GetPlaylistTracks(context.Background(), "https://open.spotify.com/playlist/pl1?si=abc")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		if playlist.Category != "Release Radar" {
			t.Errorf("expected category from playlist name, got %q", playlist.Category)
		}
		if len(playlist.Tracks) != 2 {
			t.Fatalf("expected 2 tracks (local and null skipped), got %d", len(playlist.Tracks))
		}
		first := playlist.Tracks[0]
		if first.Title != "Song A" || first.Artist != "Artist A" || first.Album != "Album A" || first.ISRC != "ISRC1" {
			t.Errorf("unexpected first track %+v", first)
		}
		if playlist.Tracks[1].Artist != "Artist B" {
			t.Errorf("expected primary artist, got %q", playlist.Tracks[1].Artist)
		}
		want := time.Date(2025, 3, 4, 8, 0, 0, 0, time.UTC)
		if !playlist.Date.Equal(want) {
			t.Errorf("expected date %v, got %v", want, playlist.Date)
		}
	})
}

func TestParseSpotifyPlaylistID(t *testing.T) {
	tests := []struct {
		name    string
		ref     string
		want    string
		wantErr bool
	}{
		{"Bare ID", "37i9dQZF1DX0XUsuxWHRQd", "37i9dQZF1DX0XUsuxWHRQd", false},
		{"URI", "spotify:playlist:abc123", "abc123", false},
		{"URL", "https://open.spotify.com/playlist/abc123?si=x", "abc123", false},
		{"Embed URL", "https://open.spotify.com/embed/playlist/abc123", "abc123", false},
		{"Album URL", "https://open.spotify.com/album/abc123", "", true},
		{"Empty", "  ", "", true},
		{"Garbage", "not a/playlist", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSpotifyPlaylistID(tt.ref)
			if tt.wantErr {
				if !errors.Is(err, shared.ErrInvalidInput) {
					t.Errorf("expected ErrInvalidInput, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
