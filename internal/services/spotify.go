// Spotify Web API implementation of [Source]
//
// Response types based on https://developer.spotify.com/documentation/web-api/reference/
package services

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/desertthunder/cmdarr/internal/models"
	"github.com/desertthunder/cmdarr/internal/shared"
)

const (
	spotifyTokenURL = "https://accounts.spotify.com/api/token"
	spotifyBaseURL  = "https://api.spotify.com/v1"
	spotifyPageSize = 100
)

type externalIDs struct {
	ISRC string `json:"isrc"`
}

// SpotifyTrack represents a Spotify track.
type SpotifyTrack struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Artists     []SpotifyArtist `json:"artists"`
	Album       SpotifyAlbum    `json:"album"`
	DurationMS  int             `json:"duration_ms"`
	ExternalIDs externalIDs     `json:"external_ids"`
	IsLocal     bool            `json:"is_local"`
}

// SpotifyArtist represents a Spotify artist.
type SpotifyArtist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SpotifyAlbum represents a Spotify album.
type SpotifyAlbum struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ReleaseDate string `json:"release_date"`
}

// SpotifyPlaylist represents the playlist fields cmdarr reads.
type SpotifyPlaylist struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	SnapshotID  string `json:"snapshot_id"`
}

// SpotifyPlaylistTrack represents a track within a playlist context.
type SpotifyPlaylistTrack struct {
	AddedAt string        `json:"added_at"`
	Track   *SpotifyTrack `json:"track"`
}

// SpotifyPaginatedItems is one page of playlist items.
type SpotifyPaginatedItems struct {
	Items  []SpotifyPlaylistTrack `json:"items"`
	Total  int                    `json:"total"`
	Limit  int                    `json:"limit"`
	Offset int                    `json:"offset"`
	Next   *string                `json:"next"`
}

// SpotifyOptions configures [NewSpotifyService]. BaseURL and TokenURL default
// to the public endpoints.
type SpotifyOptions struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	TokenURL     string
	Client       ClientOptions
}

// SpotifyService reads public playlists with an app-only token from the
// client credentials grant.
type SpotifyService struct {
	api   *APIClient
	clock models.Clock
}

// NewSpotifyService creates a Spotify source.
func NewSpotifyService(opts SpotifyOptions) (*SpotifyService, error) {
	if opts.ClientID == "" {
		return nil, fmt.Errorf("%w: spotify client_id", shared.ErrMissingCredentials)
	}
	if opts.ClientSecret == "" {
		return nil, fmt.Errorf("%w: spotify client_secret", shared.ErrMissingCredentials)
	}
	if opts.BaseURL == "" {
		opts.BaseURL = spotifyBaseURL
	}
	if opts.TokenURL == "" {
		opts.TokenURL = spotifyTokenURL
	}

	cc := clientcredentials.Config{
		ClientID:     opts.ClientID,
		ClientSecret: opts.ClientSecret,
		TokenURL:     opts.TokenURL,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}

	base := opts.Client.HTTPClient
	if base == nil {
		timeout := opts.Client.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		base = &http.Client{Timeout: timeout}
	}
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	httpClient := cc.Client(tokenCtx)
	httpClient.Timeout = base.Timeout

	clientOpts := opts.Client
	clientOpts.HTTPClient = httpClient

	return &SpotifyService{
		api:   NewAPIClient("spotify", opts.BaseURL, nil, clientOpts),
		clock: time.Now,
	}, nil
}

func (s *SpotifyService) Name() string { return "spotify" }

// Playlist retrieves playlist metadata by id.
func (s *SpotifyService) Playlist(ctx context.Context, playlistID string) (*SpotifyPlaylist, error) {
	var playlist SpotifyPlaylist
	query := url.Values{"fields": {"id,name,description,snapshot_id"}}
	if err := s.api.Do(ctx, http.MethodGet, "/playlists/"+url.PathEscape(playlistID), query, nil, &playlist); err != nil {
		return nil, fmt.Errorf("failed to fetch spotify playlist %s: %w", playlistID, err)
	}
	return &playlist, nil
}

// PlaylistItems retrieves one page of playlist items.
func (s *SpotifyService) PlaylistItems(ctx context.Context, playlistID string, limit, offset int) (*SpotifyPaginatedItems, error) {
	if limit <= 0 || limit > spotifyPageSize {
		limit = spotifyPageSize
	}
	query := url.Values{
		"limit":  {fmt.Sprint(limit)},
		"offset": {fmt.Sprint(offset)},
	}

	var page SpotifyPaginatedItems
	path := "/playlists/" + url.PathEscape(playlistID) + "/tracks"
	if err := s.api.Do(ctx, http.MethodGet, path, query, nil, &page); err != nil {
		return nil, fmt.Errorf("failed to fetch spotify playlist items: %w", err)
	}
	return &page, nil
}

// GetPlaylistTracks implements [Source]. ref is a playlist id, URI or open.spotify.com URL.
//
// The category is the playlist name and the date is the newest added_at
// among its items, which moves when the curator refreshes the playlist.
func (s *SpotifyService) GetPlaylistTracks(ctx context.Context, ref string) (*models.SourcePlaylist, error) {
	id, err := ParseSpotifyPlaylistID(ref)
	if err != nil {
		return nil, err
	}

	meta, err := s.Playlist(ctx, id)
	if err != nil {
		return nil, err
	}

	out := &models.SourcePlaylist{ID: meta.ID, Title: meta.Name, Category: meta.Name}
	var newest time.Time

	for offset := 0; ; offset += spotifyPageSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := s.PlaylistItems(ctx, id, spotifyPageSize, offset)
		if err != nil {
			return nil, err
		}

		for _, item := range page.Items {
			if item.Track == nil || item.Track.IsLocal || item.Track.Name == "" {
				continue
			}
			if added, err := time.Parse(time.RFC3339, item.AddedAt); err == nil && added.After(newest) {
				newest = added
			}
			out.Tracks = append(out.Tracks, spotifyToTrack(*item.Track))
		}

		if page.Next == nil || len(page.Items) == 0 {
			break
		}
	}

	if newest.IsZero() {
		newest = s.clock()
	}
	out.Date = newest
	return out, nil
}

func spotifyToTrack(t SpotifyTrack) models.Track {
	artists := make([]string, 0, len(t.Artists))
	for _, a := range t.Artists {
		artists = append(artists, a.Name)
	}
	artist := ""
	if len(artists) > 0 {
		artist = artists[0]
	}
	return models.Track{
		SourceID: t.ID,
		Title:    t.Name,
		Artist:   artist,
		Album:    t.Album.Name,
		ISRC:     t.ExternalIDs.ISRC,
	}
}

// ParseSpotifyPlaylistID extracts a playlist id from a bare id,
// a spotify:playlist: URI, or an open.spotify.com URL.
func ParseSpotifyPlaylistID(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	switch {
	case ref == "":
		return "", fmt.Errorf("%w: empty spotify playlist reference", shared.ErrInvalidInput)
	case strings.HasPrefix(ref, "spotify:playlist:"):
		return strings.TrimPrefix(ref, "spotify:playlist:"), nil
	case strings.Contains(ref, "://"):
		u, err := url.Parse(ref)
		if err != nil {
			return "", fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
		}
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		for i := 0; i+1 < len(parts); i++ {
			if parts[i] == "playlist" && parts[i+1] != "" {
				return parts[i+1], nil
			}
		}
		return "", fmt.Errorf("%w: %q is not a spotify playlist url", shared.ErrInvalidInput, ref)
	case strings.ContainsAny(ref, "/:? "):
		return "", fmt.Errorf("%w: %q is not a spotify playlist id", shared.ErrInvalidInput, ref)
	}
	return ref, nil
}
