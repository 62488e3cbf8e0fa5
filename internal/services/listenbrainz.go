package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/desertthunder/cmdarr/internal/models"
	"github.com/desertthunder/cmdarr/internal/shared"
)

const (
	listenBrainzBaseURL  = "https://api.listenbrainz.org"
	listenBrainzPageSize = 50
	jspfTrackExtension   = "https://musicbrainz.org/doc/jspf#track"
)

// Curated playlist keys accepted as a ListenBrainz playlist reference.
const (
	CuratedWeeklyExploration = "weekly_exploration"
	CuratedWeeklyJams        = "weekly_jams"
	CuratedDailyJams         = "daily_jams"
)

// curatedPlaylists maps a curated key to its category and the title fragments
// that identify it in the created-for listing.
var curatedPlaylists = map[string]struct {
	category string
	titles   []string
}{
	CuratedWeeklyExploration: {"Weekly Exploration", []string{"weekly exploration", "weekly discovery"}},
	CuratedWeeklyJams:        {"Weekly Jams", []string{"weekly jams"}},
	CuratedDailyJams:         {"Daily Jams", []string{"daily jams"}},
}

type jspfTrack struct {
	Title      string                     `json:"title"`
	Creator    string                     `json:"creator"`
	Album      string                     `json:"album"`
	Identifier json.RawMessage            `json:"identifier"`
	Extension  map[string]json.RawMessage `json:"extension"`
}

type jspfTrackMeta struct {
	AdditionalMetadata struct {
		ReleaseName string `json:"release_name"`
		TrackMBID   string `json:"track_mbid"`
	} `json:"additional_metadata"`
}

// JSPFPlaylist is the JSPF playlist body returned by the ListenBrainz API.
type JSPFPlaylist struct {
	Title      string      `json:"title"`
	Identifier string      `json:"identifier"`
	Creator    string      `json:"creator"`
	Date       string      `json:"date"`
	Track      []jspfTrack `json:"track"`
}

type jspfEnvelope struct {
	Playlist JSPFPlaylist `json:"playlist"`
}

type createdForResponse struct {
	Count     int            `json:"count"`
	Offset    int            `json:"offset"`
	Playlists []jspfEnvelope `json:"playlists"`
}

// ListenBrainzOptions configures [NewListenBrainzService].
type ListenBrainzOptions struct {
	BaseURL  string
	Username string
	Token    string
	Client   ClientOptions
}

// ListenBrainzService reads JSPF playlists, including the curated playlists
// ListenBrainz generates for a user.
type ListenBrainzService struct {
	api      *APIClient
	username string
	clock    models.Clock
}

func NewListenBrainzService(opts ListenBrainzOptions) (*ListenBrainzService, error) {
	if opts.Username == "" {
		return nil, fmt.Errorf("%w: listenbrainz username", shared.ErrMissingCredentials)
	}
	if opts.BaseURL == "" {
		opts.BaseURL = listenBrainzBaseURL
	}

	var authorize func(*http.Request)
	if opts.Token != "" {
		token := opts.Token
		authorize = func(r *http.Request) { r.Header.Set("Authorization", "Token "+token) }
	}

	base := strings.TrimRight(opts.BaseURL, "/") + "/1"
	return &ListenBrainzService{
		api:      NewAPIClient("listenbrainz", base, authorize, opts.Client),
		username: opts.Username,
		clock:    time.Now,
	}, nil
}

func (s *ListenBrainzService) Name() string { return "listenbrainz" }

// Playlist fetches a playlist by MBID.
func (s *ListenBrainzService) Playlist(ctx context.Context, mbid string) (*JSPFPlaylist, error) {
	var env jspfEnvelope
	if err := s.api.Do(ctx, http.MethodGet, "/playlist/"+url.PathEscape(mbid), nil, nil, &env); err != nil {
		return nil, fmt.Errorf("failed to fetch listenbrainz playlist %s: %w", mbid, err)
	}
	return &env.Playlist, nil
}

// CreatedFor lists the playlists generated for the configured user, newest first.
func (s *ListenBrainzService) CreatedFor(ctx context.Context) ([]JSPFPlaylist, error) {
	var all []JSPFPlaylist
	for offset := 0; ; offset += listenBrainzPageSize {
		query := url.Values{
			"count":  {fmt.Sprint(listenBrainzPageSize)},
			"offset": {fmt.Sprint(offset)},
		}
		var resp createdForResponse
		endpoint := "/user/" + url.PathEscape(s.username) + "/playlists/createdfor"
		if err := s.api.Do(ctx, http.MethodGet, endpoint, query, nil, &resp); err != nil {
			return nil, fmt.Errorf("failed to list listenbrainz playlists for %s: %w", s.username, err)
		}
		for _, p := range resp.Playlists {
			all = append(all, p.Playlist)
		}
		if len(resp.Playlists) < listenBrainzPageSize {
			return all, nil
		}
	}
}

// GetPlaylistTracks implements [Source]. ref is a playlist MBID or one of the
// curated keys (weekly_exploration, weekly_jams, daily_jams).
func (s *ListenBrainzService) GetPlaylistTracks(ctx context.Context, ref string) (*models.SourcePlaylist, error) {
	ref = strings.TrimSpace(ref)

	mbid, category := "", ""
	if id, err := uuid.Parse(ref); err == nil {
		mbid = id.String()
	} else {
		curated, ok := curatedPlaylists[strings.ToLower(ref)]
		if !ok {
			return nil, fmt.Errorf("%w: %q is neither a playlist MBID nor a curated playlist", shared.ErrInvalidInput, ref)
		}
		category = curated.category

		listing, err := s.CreatedFor(ctx)
		if err != nil {
			return nil, err
		}
		for _, p := range listing {
			if matchesAny(strings.ToLower(p.Title), curated.titles) {
				mbid = identifierMBID(p.Identifier)
				break
			}
		}
		if mbid == "" {
			return nil, fmt.Errorf("%w: no %s playlist for %s", shared.ErrNotFound, category, s.username)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	playlist, err := s.Playlist(ctx, mbid)
	if err != nil {
		return nil, err
	}
	if category == "" {
		category = CategoryFromTitle(playlist.Title)
	}

	out := &models.SourcePlaylist{
		ID:       mbid,
		Title:    playlist.Title,
		Category: category,
		Date:     parseJSPFDate(playlist.Date, s.clock),
		Tracks:   make([]models.Track, 0, len(playlist.Track)),
	}
	for _, t := range playlist.Track {
		if t.Title == "" || t.Creator == "" {
			continue
		}
		out.Tracks = append(out.Tracks, jspfToTrack(t))
	}
	return out, nil
}

// CategoryFromTitle maps a generated playlist title onto its curated category,
// or returns the title unchanged.
func CategoryFromTitle(title string) string {
	lower := strings.ToLower(title)
	for _, key := range []string{CuratedWeeklyExploration, CuratedWeeklyJams, CuratedDailyJams} {
		if c := curatedPlaylists[key]; matchesAny(lower, c.titles) {
			return c.category
		}
	}
	return title
}

func matchesAny(s string, fragments []string) bool {
	for _, f := range fragments {
		if strings.Contains(s, f) {
			return true
		}
	}
	return false
}

func identifierMBID(identifier string) string {
	return path.Base(strings.TrimRight(identifier, "/"))
}

func parseJSPFDate(s string, clock models.Clock) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999-07:00", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return clock()
}

func jspfToTrack(t jspfTrack) models.Track {
	track := models.Track{Title: t.Title, Artist: t.Creator, Album: t.Album}

	var ids []string
	if err := json.Unmarshal(t.Identifier, &ids); err != nil {
		var single string
		if json.Unmarshal(t.Identifier, &single) == nil && single != "" {
			ids = []string{single}
		}
	}
	if len(ids) > 0 {
		track.SourceID = identifierMBID(ids[0])
	}

	if raw, ok := t.Extension[jspfTrackExtension]; ok {
		var meta jspfTrackMeta
		if json.Unmarshal(raw, &meta) == nil {
			if track.Album == "" {
				track.Album = meta.AdditionalMetadata.ReleaseName
			}
			if track.SourceID == "" {
				track.SourceID = meta.AdditionalMetadata.TrackMBID
			}
		}
	}
	return track
}
