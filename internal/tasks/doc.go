// Package tasks reconciles target playlists with source playlists and runs the
// work behind each command kind, with real-time progress reporting.
//
// # Playlist Sync
//
// [PlaylistEngine.Sync] performs one reconciliation:
//
//  1. Fetches the ordered source tracks
//  2. Acquires the target's library snapshot, or falls back to live search
//     when it is stale, absent, or over the memory ceiling
//  3. Matches every track, searching the live library when the snapshot
//     gives no accepted match
//  4. Builds the desired id list in source order with repeats collapsed
//  5. Names the playlist "<prefix> <Category>, <Mon-02>" ([DisplayName])
//  6. Leaves a same-named playlist with the exact same id set untouched
//  7. Creates the playlist or applies only the additions and removals it
//     needs (additive mode never removes)
//  8. Keeps the newest N playlists of the category and optionally deletes
//     empty ones
//  9. Records artists of unmatched tracks that the library lacks entirely
//  10. Persists a [models.PlaylistSyncState] with a fingerprint of the id set
//
// # Progress Reporting
//
// Operations send [ProgressUpdate] values on an optional channel. Sends use
// select with default so progress reporting never blocks a sync.
//
// # Commands
//
// [CommandRunner] is the executor's runner. It dispatches playlist_sync,
// library_cache_build and discovery_maintenance commands.
package tasks
