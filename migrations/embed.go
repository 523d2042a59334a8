// Package migrations embeds the versioned schema scripts applied by the
// migration runner: sqlite/ for the local store, postgres/ for the remote
// backend.
package migrations

import "embed"

//go:embed sqlite/*.sql postgres/*.sql
var FS embed.FS
