package services

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/desertthunder/cmdarr/internal/models"
	"github.com/desertthunder/cmdarr/internal/shared"
)

const (
	plexPageSize  = 500
	plexTypeTrack = "10"
)

type plexMetadata struct {
	RatingKey        string `json:"ratingKey"`
	PlaylistItemID   int64  `json:"playlistItemID"`
	Title            string `json:"title"`
	GrandparentTitle string `json:"grandparentTitle"`
	OriginalTitle    string `json:"originalTitle"`
	ParentTitle      string `json:"parentTitle"`
	Duration         int64  `json:"duration"`
	LeafCount        int    `json:"leafCount"`
	PlaylistType     string `json:"playlistType"`
	Smart            bool   `json:"smart"`
	AddedAt          int64  `json:"addedAt"`
}

type plexContainer struct {
	MediaContainer struct {
		Size              int            `json:"size"`
		TotalSize         int            `json:"totalSize"`
		MachineIdentifier string         `json:"machineIdentifier"`
		Metadata          []plexMetadata `json:"Metadata"`
	} `json:"MediaContainer"`
}

// PlexOptions configures [NewPlexService].
type PlexOptions struct {
	URL     string
	Token   string
	Section string
	Client  ClientOptions
}

// PlexService is a [Target] and [PlaylistEditor] backed by a Plex Media Server.
// Track ids are ratingKeys.
type PlexService struct {
	api     *APIClient
	section string

	mu        sync.Mutex
	machineID string
}

func NewPlexService(opts PlexOptions) (*PlexService, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("%w: plex url", shared.ErrMissingConfig)
	}
	if opts.Token == "" {
		return nil, fmt.Errorf("%w: plex token", shared.ErrMissingCredentials)
	}
	if opts.Section == "" {
		return nil, fmt.Errorf("%w: plex library section", shared.ErrMissingConfig)
	}

	token := opts.Token
	authorize := func(r *http.Request) { r.Header.Set("X-Plex-Token", token) }

	return &PlexService{
		api:     NewAPIClient("plex", opts.URL, authorize, opts.Client),
		section: opts.Section,
	}, nil
}

func (p *PlexService) Name() string { return "plex" }

// GetFullLibrary pages through every track in the configured section.
func (p *PlexService) GetFullLibrary(ctx context.Context) ([]models.TrackRecord, error) {
	var records []models.TrackRecord
	endpoint := "/library/sections/" + url.PathEscape(p.section) + "/all"

	for start := 0; ; start += plexPageSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		query := url.Values{
			"type":                   {plexTypeTrack},
			"X-Plex-Container-Start": {strconv.Itoa(start)},
			"X-Plex-Container-Size":  {strconv.Itoa(plexPageSize)},
		}

		var page plexContainer
		if err := p.api.Do(ctx, http.MethodGet, endpoint, query, nil, &page); err != nil {
			return nil, fmt.Errorf("failed to enumerate plex library: %w", err)
		}
		for _, m := range page.MediaContainer.Metadata {
			records = append(records, plexToRecord(m))
		}

		fetched := start + len(page.MediaContainer.Metadata)
		if len(page.MediaContainer.Metadata) < plexPageSize || fetched >= page.MediaContainer.TotalSize {
			return records, nil
		}
	}
}

func (p *PlexService) SearchLibrary(ctx context.Context, query string) ([]models.TrackRecord, error) {
	params := url.Values{"type": {plexTypeTrack}, "query": {query}}
	endpoint := "/library/sections/" + url.PathEscape(p.section) + "/search"

	var resp plexContainer
	if err := p.api.Do(ctx, http.MethodGet, endpoint, params, nil, &resp); err != nil {
		return nil, fmt.Errorf("plex search %q: %w", query, err)
	}

	records := make([]models.TrackRecord, 0, len(resp.MediaContainer.Metadata))
	for _, m := range resp.MediaContainer.Metadata {
		records = append(records, plexToRecord(m))
	}
	return records, nil
}

func (p *PlexService) ListPlaylists(ctx context.Context) ([]models.TargetPlaylist, error) {
	var resp plexContainer
	if err := p.api.Do(ctx, http.MethodGet, "/playlists", url.Values{"playlistType": {"audio"}}, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list plex playlists: %w", err)
	}

	playlists := make([]models.TargetPlaylist, 0, len(resp.MediaContainer.Metadata))
	for _, m := range resp.MediaContainer.Metadata {
		if m.Smart {
			continue
		}
		playlists = append(playlists, models.TargetPlaylist{
			ID:         m.RatingKey,
			Name:       m.Title,
			TrackCount: m.LeafCount,
			CreatedAt:  time.Unix(m.AddedAt, 0).UTC(),
		})
	}
	return playlists, nil
}

func (p *PlexService) GetPlaylist(ctx context.Context, name string) (*models.TargetPlaylist, error) {
	playlists, err := p.ListPlaylists(ctx)
	if err != nil {
		return nil, err
	}
	for _, pl := range playlists {
		if pl.Name != name {
			continue
		}
		items, err := p.items(ctx, pl.ID)
		if err != nil {
			return nil, err
		}
		pl.TrackIDs = make([]string, 0, len(items))
		for _, item := range items {
			pl.TrackIDs = append(pl.TrackIDs, item.RatingKey)
		}
		pl.TrackCount = len(pl.TrackIDs)
		return &pl, nil
	}
	return nil, fmt.Errorf("%w: plex playlist %q", shared.ErrNotFound, name)
}

func (p *PlexService) CreatePlaylist(ctx context.Context, name string, trackIDs []string) (*models.TargetPlaylist, error) {
	if len(trackIDs) == 0 {
		return nil, fmt.Errorf("%w: plex cannot create an empty playlist", shared.ErrInvalidInput)
	}
	uri, err := p.itemsURI(ctx, trackIDs)
	if err != nil {
		return nil, err
	}

	query := url.Values{"type": {"audio"}, "title": {name}, "smart": {"0"}, "uri": {uri}}
	var resp plexContainer
	if err := p.api.Do(ctx, http.MethodPost, "/playlists", query, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to create plex playlist %q: %w", name, err)
	}
	if len(resp.MediaContainer.Metadata) == 0 {
		return nil, fmt.Errorf("%w: plex returned no playlist for %q", shared.ErrAPIRequest, name)
	}

	created := resp.MediaContainer.Metadata[0]
	return &models.TargetPlaylist{
		ID:         created.RatingKey,
		Name:       name,
		TrackCount: len(trackIDs),
		TrackIDs:   append([]string(nil), trackIDs...),
		CreatedAt:  time.Unix(created.AddedAt, 0).UTC(),
	}, nil
}

// UpdatePlaylist clears the playlist and adds trackIDs in order.
func (p *PlexService) UpdatePlaylist(ctx context.Context, playlistID string, trackIDs []string) error {
	if err := p.api.Do(ctx, http.MethodDelete, "/playlists/"+url.PathEscape(playlistID)+"/items", nil, nil, nil); err != nil {
		return fmt.Errorf("failed to clear plex playlist %s: %w", playlistID, err)
	}
	if len(trackIDs) == 0 {
		return nil
	}
	return p.AddTracks(ctx, playlistID, trackIDs)
}

func (p *PlexService) AddTracks(ctx context.Context, playlistID string, trackIDs []string) error {
	if len(trackIDs) == 0 {
		return nil
	}
	uri, err := p.itemsURI(ctx, trackIDs)
	if err != nil {
		return err
	}
	if err := p.api.Do(ctx, http.MethodPut, "/playlists/"+url.PathEscape(playlistID)+"/items", url.Values{"uri": {uri}}, nil, nil); err != nil {
		return fmt.Errorf("failed to add tracks to plex playlist %s: %w", playlistID, err)
	}
	return nil
}

// RemoveTracks removes every entry whose ratingKey is in trackIDs.
func (p *PlexService) RemoveTracks(ctx context.Context, playlistID string, trackIDs []string) error {
	if len(trackIDs) == 0 {
		return nil
	}
	drop := make(map[string]bool, len(trackIDs))
	for _, id := range trackIDs {
		drop[id] = true
	}

	items, err := p.items(ctx, playlistID)
	if err != nil {
		return err
	}
	for _, item := range items {
		if !drop[item.RatingKey] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		endpoint := fmt.Sprintf("/playlists/%s/items/%d", url.PathEscape(playlistID), item.PlaylistItemID)
		if err := p.api.Do(ctx, http.MethodDelete, endpoint, nil, nil, nil); err != nil {
			return fmt.Errorf("failed to remove track %s from plex playlist %s: %w", item.RatingKey, playlistID, err)
		}
	}
	return nil
}

func (p *PlexService) DeletePlaylist(ctx context.Context, playlistID string) error {
	if err := p.api.Do(ctx, http.MethodDelete, "/playlists/"+url.PathEscape(playlistID), nil, nil, nil); err != nil {
		return fmt.Errorf("failed to delete plex playlist %s: %w", playlistID, err)
	}
	return nil
}

func (p *PlexService) items(ctx context.Context, playlistID string) ([]plexMetadata, error) {
	var resp plexContainer
	if err := p.api.Do(ctx, http.MethodGet, "/playlists/"+url.PathEscape(playlistID)+"/items", nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch plex playlist %s items: %w", playlistID, err)
	}
	return resp.MediaContainer.Metadata, nil
}

// itemsURI builds the server:// uri Plex expects when adding library items.
func (p *PlexService) itemsURI(ctx context.Context, trackIDs []string) (string, error) {
	machineID, err := p.machineIdentifier(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("server://%s/com.plexapp.plugins.library/library/metadata/%s", machineID, strings.Join(trackIDs, ",")), nil
}

func (p *PlexService) machineIdentifier(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.machineID != "" {
		return p.machineID, nil
	}

	var resp plexContainer
	if err := p.api.Do(ctx, http.MethodGet, "/identity", nil, nil, &resp); err != nil {
		return "", fmt.Errorf("failed to read plex identity: %w", err)
	}
	if resp.MediaContainer.MachineIdentifier == "" {
		return "", fmt.Errorf("%w: plex identity has no machine identifier", shared.ErrAPIRequest)
	}
	p.machineID = resp.MediaContainer.MachineIdentifier
	return p.machineID, nil
}

func plexToRecord(m plexMetadata) models.TrackRecord {
	artist := m.OriginalTitle
	if artist == "" {
		artist = m.GrandparentTitle
	}
	return models.TrackRecord{
		ID:         m.RatingKey,
		Title:      m.Title,
		Artist:     artist,
		Album:      m.ParentTitle,
		DurationMs: m.Duration,
	}
}
