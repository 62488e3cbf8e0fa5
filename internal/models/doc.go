// Package models defines the entities shared by the scheduler, the execution coordinator,
// the library cache, and the playlist sync engine.
//
// Persistent entities:
//   - [CommandDefinition] : a named, schedulable unit of work with a typed per-kind config
//   - [Execution] : one run of a command, with its status lifecycle
//   - [LibrarySnapshot] : a point-in-time copy of a target media server's track catalogue
//   - [PlaylistSyncState] : what the last sync of a command produced on the target
//   - [DiscoveredArtist] : an artist seen in a source playlist but missing from the target library
//
// Transfer objects:
//   - [Track] : a source-side track (title, artist, album)
//   - [TrackRecord] : a target-side library item
//   - [MatchResult] : the scored outcome of resolving one Track
//   - [SourcePlaylist], [TargetPlaylist] : playlists as reported by upstream services
package models
