// Package services implements the upstream clients used by playlist sync.
//
// # Interfaces
//
// A [Source] yields playlists (Spotify, ListenBrainz). A [Target] is a media
// server (Plex, Jellyfin) that owns the library and receives playlists.
// Targets that can edit playlist items in place also implement
// [PlaylistEditor].
//
// # HTTP
//
// Every client goes through [APIClient], which waits on a [rate.Limiter] before
// each request and maps response codes onto the shared error taxonomy:
//   - 401, 403: [shared.ErrAuth], never retried
//   - 404: [shared.ErrNotFound]
//   - 429, 5xx and network failures: [shared.ErrTransientUpstream], retried
//     with exponential backoff up to the configured attempt limit
//   - anything else outside 2xx: [shared.ErrAPIRequest]
//
// # Spotify
//
// [SpotifyService] authenticates with the client credentials grant through
// [clientcredentials.Config], which refreshes the token on expiry.
//
// # Track identity
//
// Target track ids are the server's own keys (Plex ratingKey, Jellyfin item id).
// Source tracks carry their service id and ISRC when the API provides it.
package services
