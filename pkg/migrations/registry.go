package migrations

import "github.com/peerdaemon/peerd/pkg/database"

// Registry returns the migrations to run, in order. The seed migration is
// a development utility and is excluded from release builds.
func Registry(db *database.Config, development bool) []Migration {
	migrations := []Migration{
		NewTransferStateToFlags(db),
		NewSearchEndedAt(db),
	}
	if development {
		migrations = append(migrations, NewSeedTransfers(db))
	}
	return migrations
}
