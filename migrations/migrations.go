// Package migrations embeds the goose SQL migrations for the reputation
// schema so the server, cmd/migrate and tests all apply the same files.
package migrations

import "embed"

// FS holds every *.sql migration, named NNNNN_description.sql.
//
//go:embed *.sql
var FS embed.FS

// Tables lists the application tables the migrations create, in creation order.
var Tables = []string{
	"reputation_profiles",
	"reputation_activities",
	"reputation_snapshots",
	"reputation_counters",
}
