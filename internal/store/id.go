package store

import "github.com/google/uuid"

// GenNewID returns a new time-sortable UUIDv7, the id scheme already used by
// every store.*ID assignment site (store/pg/teams.go, mcp_servers.go, etc).
func GenNewID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}
