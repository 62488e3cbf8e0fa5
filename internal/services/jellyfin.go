package services

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/cmdarr/internal/models"
	"github.com/desertthunder/cmdarr/internal/shared"
)

const (
	jellyfinPageSize    = 500
	jellyfinSearchLimit = 50
	jellyfinBatchSize   = 100
)

type jellyfinItem struct {
	ID             string   `json:"Id"`
	PlaylistItemID string   `json:"PlaylistItemId"`
	Name           string   `json:"Name"`
	Album          string   `json:"Album"`
	AlbumArtist    string   `json:"AlbumArtist"`
	Artists        []string `json:"Artists"`
	RunTimeTicks   int64    `json:"RunTimeTicks"`
	ChildCount     int      `json:"ChildCount"`
	DateCreated    string   `json:"DateCreated"`
}

type jellyfinItems struct {
	Items            []jellyfinItem `json:"Items"`
	TotalRecordCount int            `json:"TotalRecordCount"`
}

type jellyfinCreatePlaylist struct {
	Name      string   `json:"Name"`
	Ids       []string `json:"Ids"`
	UserID    string   `json:"UserId"`
	MediaType string   `json:"MediaType"`
}

type jellyfinCreated struct {
	ID string `json:"Id"`
}

// JellyfinOptions configures [NewJellyfinService].
type JellyfinOptions struct {
	URL    string
	APIKey string
	UserID string
	Client ClientOptions
}

// JellyfinService is a [Target] and [PlaylistEditor] backed by a Jellyfin server.
type JellyfinService struct {
	api    *APIClient
	userID string
}

func NewJellyfinService(opts JellyfinOptions) (*JellyfinService, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("%w: jellyfin url", shared.ErrMissingConfig)
	}
	if opts.APIKey == "" {
		return nil, fmt.Errorf("%w: jellyfin api key", shared.ErrMissingCredentials)
	}
	if opts.UserID == "" {
		return nil, fmt.Errorf("%w: jellyfin user id", shared.ErrMissingConfig)
	}

	key := opts.APIKey
	authorize := func(r *http.Request) { r.Header.Set("X-Emby-Token", key) }

	return &JellyfinService{
		api:    NewAPIClient("jellyfin", opts.URL, authorize, opts.Client),
		userID: opts.UserID,
	}, nil
}

func (j *JellyfinService) Name() string { return "jellyfin" }

func (j *JellyfinService) userItems(ctx context.Context, query url.Values) (*jellyfinItems, error) {
	var resp jellyfinItems
	if err := j.api.Do(ctx, http.MethodGet, "/Users/"+url.PathEscape(j.userID)+"/Items", query, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (j *JellyfinService) GetFullLibrary(ctx context.Context) ([]models.TrackRecord, error) {
	var records []models.TrackRecord
	for start := 0; ; start += jellyfinPageSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		query := url.Values{
			"IncludeItemTypes": {"Audio"},
			"Recursive":        {"true"},
			"Fields":           {"AlbumArtist"},
			"StartIndex":       {strconv.Itoa(start)},
			"Limit":            {strconv.Itoa(jellyfinPageSize)},
		}
		page, err := j.userItems(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("failed to enumerate jellyfin library: %w", err)
		}
		for _, item := range page.Items {
			records = append(records, jellyfinToRecord(item))
		}
		if len(page.Items) < jellyfinPageSize || start+len(page.Items) >= page.TotalRecordCount {
			return records, nil
		}
	}
}

func (j *JellyfinService) SearchLibrary(ctx context.Context, query string) ([]models.TrackRecord, error) {
	params := url.Values{
		"IncludeItemTypes": {"Audio"},
		"Recursive":        {"true"},
		"SearchTerm":       {query},
		"Limit":            {strconv.Itoa(jellyfinSearchLimit)},
	}
	resp, err := j.userItems(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("jellyfin search %q: %w", query, err)
	}
	records := make([]models.TrackRecord, 0, len(resp.Items))
	for _, item := range resp.Items {
		records = append(records, jellyfinToRecord(item))
	}
	return records, nil
}

func (j *JellyfinService) ListPlaylists(ctx context.Context) ([]models.TargetPlaylist, error) {
	params := url.Values{
		"IncludeItemTypes": {"Playlist"},
		"Recursive":        {"true"},
		"Fields":           {"ChildCount,DateCreated"},
	}
	resp, err := j.userItems(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to list jellyfin playlists: %w", err)
	}

	playlists := make([]models.TargetPlaylist, 0, len(resp.Items))
	for _, item := range resp.Items {
		created, _ := time.Parse(time.RFC3339Nano, item.DateCreated)
		playlists = append(playlists, models.TargetPlaylist{
			ID:         item.ID,
			Name:       item.Name,
			TrackCount: item.ChildCount,
			CreatedAt:  created,
		})
	}
	return playlists, nil
}

func (j *JellyfinService) GetPlaylist(ctx context.Context, name string) (*models.TargetPlaylist, error) {
	playlists, err := j.ListPlaylists(ctx)
	if err != nil {
		return nil, err
	}
	for _, pl := range playlists {
		if pl.Name != name {
			continue
		}
		entries, err := j.entries(ctx, pl.ID)
		if err != nil {
			return nil, err
		}
		pl.TrackIDs = make([]string, 0, len(entries))
		for _, e := range entries {
			pl.TrackIDs = append(pl.TrackIDs, e.ID)
		}
		pl.TrackCount = len(pl.TrackIDs)
		return &pl, nil
	}
	return nil, fmt.Errorf("%w: jellyfin playlist %q", shared.ErrNotFound, name)
}

func (j *JellyfinService) CreatePlaylist(ctx context.Context, name string, trackIDs []string) (*models.TargetPlaylist, error) {
	body := jellyfinCreatePlaylist{Name: name, Ids: trackIDs, UserID: j.userID, MediaType: "Audio"}
	var created jellyfinCreated
	if err := j.api.Do(ctx, http.MethodPost, "/Playlists", nil, body, &created); err != nil {
		return nil, fmt.Errorf("failed to create jellyfin playlist %q: %w", name, err)
	}
	if created.ID == "" {
		return nil, fmt.Errorf("%w: jellyfin returned no playlist id for %q", shared.ErrAPIRequest, name)
	}
	return &models.TargetPlaylist{
		ID:         created.ID,
		Name:       name,
		TrackCount: len(trackIDs),
		TrackIDs:   append([]string(nil), trackIDs...),
	}, nil
}

// UpdatePlaylist removes every entry and re-adds trackIDs in order.
func (j *JellyfinService) UpdatePlaylist(ctx context.Context, playlistID string, trackIDs []string) error {
	entries, err := j.entries(ctx, playlistID)
	if err != nil {
		return err
	}
	entryIDs := make([]string, 0, len(entries))
	for _, e := range entries {
		entryIDs = append(entryIDs, e.PlaylistItemID)
	}
	if err := j.removeEntries(ctx, playlistID, entryIDs); err != nil {
		return err
	}
	return j.AddTracks(ctx, playlistID, trackIDs)
}

func (j *JellyfinService) AddTracks(ctx context.Context, playlistID string, trackIDs []string) error {
	for _, batch := range batches(trackIDs, jellyfinBatchSize) {
		if err := ctx.Err(); err != nil {
			return err
		}
		query := url.Values{"Ids": {strings.Join(batch, ",")}, "UserId": {j.userID}}
		if err := j.api.Do(ctx, http.MethodPost, "/Playlists/"+url.PathEscape(playlistID)+"/Items", query, nil, nil); err != nil {
			return fmt.Errorf("failed to add tracks to jellyfin playlist %s: %w", playlistID, err)
		}
	}
	return nil
}

// RemoveTracks removes every entry whose item id is in trackIDs.
func (j *JellyfinService) RemoveTracks(ctx context.Context, playlistID string, trackIDs []string) error {
	drop := make(map[string]bool, len(trackIDs))
	for _, id := range trackIDs {
		drop[id] = true
	}
	entries, err := j.entries(ctx, playlistID)
	if err != nil {
		return err
	}
	var entryIDs []string
	for _, e := range entries {
		if drop[e.ID] {
			entryIDs = append(entryIDs, e.PlaylistItemID)
		}
	}
	return j.removeEntries(ctx, playlistID, entryIDs)
}

func (j *JellyfinService) DeletePlaylist(ctx context.Context, playlistID string) error {
	if err := j.api.Do(ctx, http.MethodDelete, "/Items/"+url.PathEscape(playlistID), nil, nil, nil); err != nil {
		return fmt.Errorf("failed to delete jellyfin playlist %s: %w", playlistID, err)
	}
	return nil
}

func (j *JellyfinService) entries(ctx context.Context, playlistID string) ([]jellyfinItem, error) {
	var resp jellyfinItems
	query := url.Values{"UserId": {j.userID}}
	if err := j.api.Do(ctx, http.MethodGet, "/Playlists/"+url.PathEscape(playlistID)+"/Items", query, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch jellyfin playlist %s items: %w", playlistID, err)
	}
	return resp.Items, nil
}

func (j *JellyfinService) removeEntries(ctx context.Context, playlistID string, entryIDs []string) error {
	for _, batch := range batches(entryIDs, jellyfinBatchSize) {
		if err := ctx.Err(); err != nil {
			return err
		}
		query := url.Values{"EntryIds": {strings.Join(batch, ",")}}
		if err := j.api.Do(ctx, http.MethodDelete, "/Playlists/"+url.PathEscape(playlistID)+"/Items", query, nil, nil); err != nil {
			return fmt.Errorf("failed to remove entries from jellyfin playlist %s: %w", playlistID, err)
		}
	}
	return nil
}

func jellyfinToRecord(item jellyfinItem) models.TrackRecord {
	artist := item.AlbumArtist
	if len(item.Artists) > 0 {
		artist = item.Artists[0]
	}
	return models.TrackRecord{
		ID:         item.ID,
		Title:      item.Name,
		Artist:     artist,
		Album:      item.Album,
		DurationMs: item.RunTimeTicks / 10_000,
	}
}

func batches(ids []string, size int) [][]string {
	var out [][]string
	for len(ids) > 0 {
		n := min(size, len(ids))
		out = append(out, ids[:n])
		ids = ids[n:]
	}
	return out
}
