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

const testPlaylistMBID = "0b0c5a4c-1f0e-4d9c-9a55-8a0f2d1e6c11"

func newListenBrainzTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/1/user/alice/playlists/createdfor", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token tkn" {
			t.Errorf("expected token header, got %q", r.Header.Get("Authorization"))
		}
		fmt.Fprintf(w, `{"count":2,"offset":0,"playlists":[
			{"playlist":{"title":"Daily Jams for alice, 2025-03-04 Tue","identifier":"https://listenbrainz.org/playlist/ffffffff-0000-0000-0000-000000000000"}},
			{"playlist":{"title":"Weekly Jams for alice, week of 2025-03-03 Mon","identifier":"https://listenbrainz.org/playlist/%s"}}
		]}`, testPlaylistMBID)
	})
	mux.HandleFunc("/1/playlist/"+testPlaylistMBID, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"playlist":{
			"title":"Weekly Jams for alice, week of 2025-03-03 Mon",
			"identifier":"https://listenbrainz.org/playlist/`+testPlaylistMBID+`",
			"date":"2025-03-03T00:00:00.123456+00:00",
			"track":[
				{"title":"Song A","creator":"Artist A","identifier":["https://musicbrainz.org/recording/rec-a"],
				 "extension":{"https://musicbrainz.org/doc/jspf#track":{"additional_metadata":{"release_name":"Album A"}}}},
				{"title":"","creator":"Nobody"},
				{"title":"Song B","creator":"Artist B","album":"Album B","identifier":"https://musicbrainz.org/recording/rec-b"}
			]}}`)
	})
	return httptest.NewServer(mux)
}

func TestListenBrainzService(t *testing.T) {
	server := newListenBrainzTestServer(t)
	defer server.Close()

	srv, err := NewListenBrainzService(ListenBrainzOptions{
		BaseURL:  server.URL,
		Username: "alice",
		Token:    "tkn",
		Client:   testClientOptions(),
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	t.Run("Requires Username", func(t *testing.T) {
		if _, err := NewListenBrainzService(ListenBrainzOptions{}); !errors.Is(err, shared.ErrMissingCredentials) {
			t.Errorf("expected ErrMissingCredentials, got %v", err)
		}
	})

	t.Run("Curated Playlist", func(t *testing.T) {
		playlist, err := srv.GetPlaylistTracks(context.Background(), CuratedWeeklyJams)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if playlist.ID != testPlaylistMBID {
			t.Errorf("expected playlist id %s, got %s", testPlaylistMBID, playlist.ID)
		}
		if playlist.Category != "Weekly Jams" {
			t.Errorf("expected category Weekly Jams, got %q", playlist.Category)
		}
		if want := time.Date(2025, 3, 3, 0, 0, 0, 123456000, time.UTC); !playlist.Date.Equal(want) {
			t.Errorf("expected date %v, got %v", want, playlist.Date)
		}
		if len(playlist.Tracks) != 2 {
			t.Fatalf("expected 2 tracks, got %d", len(playlist.Tracks))
		}
		if a := playlist.Tracks[0]; a.Album != "Album A" || a.SourceID != "rec-a" {
			t.Errorf("expected album and recording id from extension, got %+v", a)
		}
		if b := playlist.Tracks[1]; b.SourceID != "rec-b" || b.Album != "Album B" {
			t.Errorf("expected string identifier to parse, got %+v", b)
		}
	})

	t.Run("Playlist MBID", func(t *testing.T) {
		playlist, err := srv.GetPlaylistTracks(context.Background(), testPlaylistMBID)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if playlist.Category != "Weekly Jams" {
			t.Errorf("expected category derived from title, got %q", playlist.Category)
		}
	})

	t.Run("Missing Curated Playlist", func(t *testing.T) {
		_, err := srv.GetPlaylistTracks(context.Background(), CuratedWeeklyExploration)
		if !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Unknown Reference", func(t *testing.T) {
		_, err := srv.GetPlaylistTracks(context.Background(), "top_hits")
		if !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestCategoryFromTitle(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{"Weekly Exploration for bob, week of 2025-01-06 Mon", "Weekly Exploration"},
		{"Weekly Discovery for bob", "Weekly Exploration"},
		{"Daily Jams for bob, 2025-01-07 Tue", "Daily Jams"},
		{"Road Trip", "Road Trip"},
	}
	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			if got := CategoryFromTitle(tt.title); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
