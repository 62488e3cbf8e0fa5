package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/desertthunder/cmdarr/internal/shared"
)

func TestJellyfinService(t *testing.T) {
	var (
		mu             sync.Mutex
		created        jellyfinCreatePlaylist
		removed, added []string
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Emby-Token") != "key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		mu.Lock()
		defer mu.Unlock()
		q := r.URL.Query()
		switch {
		case r.URL.Path == "/Users/u1/Items" && q.Get("IncludeItemTypes") == "Audio" && q.Get("SearchTerm") != "":
			fmt.Fprint(w, `{"Items":[{"Id":"a1","Name":"Song A","Artists":["Artist A"]}],"TotalRecordCount":1}`)
		case r.URL.Path == "/Users/u1/Items" && q.Get("IncludeItemTypes") == "Audio":
			fmt.Fprint(w, `{"Items":[
				{"Id":"a1","Name":"Song A","Artists":["Artist A"],"Album":"Album A","RunTimeTicks":2000000},
				{"Id":"a2","Name":"Song B","AlbumArtist":"Artist B","Album":"Album B"}
			],"TotalRecordCount":2}`)
		case r.URL.Path == "/Users/u1/Items" && q.Get("IncludeItemTypes") == "Playlist":
			fmt.Fprint(w, `{"Items":[{"Id":"p1","Name":"[LB] Daily Jams, Mar-04","ChildCount":2,"DateCreated":"2025-03-04T01:02:03.0000000Z"}]}`)
		case r.URL.Path == "/Playlists/p1/Items" && r.Method == http.MethodGet:
			fmt.Fprint(w, `{"Items":[{"Id":"a1","PlaylistItemId":"e1"},{"Id":"a2","PlaylistItemId":"e2"}]}`)
		case r.URL.Path == "/Playlists/p1/Items" && r.Method == http.MethodDelete:
			removed = append(removed, q.Get("EntryIds"))
		case r.URL.Path == "/Playlists/p1/Items" && r.Method == http.MethodPost:
			added = append(added, q.Get("Ids"))
		case r.URL.Path == "/Playlists" && r.Method == http.MethodPost:
			json.NewDecoder(r.Body).Decode(&created)
			fmt.Fprint(w, `{"Id":"p9"}`)
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer server.Close()

	state := func() (jellyfinCreatePlaylist, []string, []string) {
		mu.Lock()
		defer mu.Unlock()
		return created, removed, added
	}
	reset := func() {
		mu.Lock()
		defer mu.Unlock()
		removed, added = nil, nil
	}

	jf, err := NewJellyfinService(JellyfinOptions{URL: server.URL, APIKey: "key", UserID: "u1", Client: testClientOptions()})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	ctx := context.Background()

	t.Run("Constructor Validation", func(t *testing.T) {
		if _, err := NewJellyfinService(JellyfinOptions{URL: "http://x", UserID: "u"}); !errors.Is(err, shared.ErrMissingCredentials) {
			t.Errorf("expected ErrMissingCredentials, got %v", err)
		}
	})

	t.Run("GetFullLibrary", func(t *testing.T) {
		records, err := jf.GetFullLibrary(ctx)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(records) != 2 {
			t.Fatalf("expected 2 records, got %d", len(records))
		}
		if records[0].DurationMs != 200 {
			t.Errorf("expected ticks converted to ms, got %d", records[0].DurationMs)
		}
		if records[1].Artist != "Artist B" {
			t.Errorf("expected album artist fallback, got %q", records[1].Artist)
		}
	})

	t.Run("SearchLibrary", func(t *testing.T) {
		records, err := jf.SearchLibrary(ctx, "Song A")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(records) != 1 || records[0].ID != "a1" {
			t.Errorf("unexpected records %+v", records)
		}
	})

	t.Run("GetPlaylist", func(t *testing.T) {
		pl, err := jf.GetPlaylist(ctx, "[LB] Daily Jams, Mar-04")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(pl.TrackIDs) != 2 || pl.TrackIDs[0] != "a1" {
			t.Errorf("unexpected track ids %v", pl.TrackIDs)
		}
		if pl.CreatedAt.IsZero() {
			t.Error("expected created time to parse")
		}
		if _, err := jf.GetPlaylist(ctx, "other"); !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("CreatePlaylist", func(t *testing.T) {
		pl, err := jf.CreatePlaylist(ctx, "new", []string{"a1", "a2"})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if pl.ID != "p9" {
			t.Errorf("expected id p9, got %s", pl.ID)
		}
		created, _, _ := state()
		if created.Name != "new" || created.UserID != "u1" || len(created.Ids) != 2 {
			t.Errorf("unexpected create body %+v", created)
		}
	})

	t.Run("RemoveTracks Maps Entry IDs", func(t *testing.T) {
		reset()
		if err := jf.RemoveTracks(ctx, "p1", []string{"a2"}); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		_, removed, _ := state()
		if len(removed) != 1 || removed[0] != "e2" {
			t.Errorf("expected entry e2 removed, got %v", removed)
		}
	})

	t.Run("UpdatePlaylist", func(t *testing.T) {
		reset()
		if err := jf.UpdatePlaylist(ctx, "p1", []string{"a2", "a1"}); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		_, removed, added := state()
		if len(removed) != 1 || removed[0] != "e1,e2" {
			t.Errorf("expected all entries removed, got %v", removed)
		}
		if len(added) != 1 || added[0] != "a2,a1" {
			t.Errorf("expected ordered add, got %v", added)
		}
	})
}

func TestBatches(t *testing.T) {
	got := batches([]string{"a", "b", "c", "d", "e"}, 2)
	if len(got) != 3 || len(got[2]) != 1 {
		t.Errorf("unexpected batches %v", got)
	}
	if batches(nil, 2) != nil {
		t.Error("expected nil for empty input")
	}
}
