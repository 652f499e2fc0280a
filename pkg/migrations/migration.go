// Package migrations transforms the on-disk databases between releases.
//
// The migrator runs before any store opens a database: it computes the
// pending migrations, backs up every existing database file, applies the
// pending migrations in order, and restores all backups when any of them
// fails. Applied migrations are recorded in a JSON history file so they
// run exactly once.
package migrations

import "context"

// Migration is one schema or data transformation.
type Migration interface {
	// Name identifies the migration in the history file. Names are stable
	// across releases.
	Name() string

	// NeedsToBeApplied inspects the current databases and reports whether
	// the transformation is still required. A migration recorded in the
	// history file is not asked.
	NeedsToBeApplied(ctx context.Context) (bool, error)

	// Apply performs the transformation. It must be atomic per database:
	// either the transformation lands completely or the database is left
	// untouched (the migrator's file-level restore covers the rest).
	Apply(ctx context.Context) error
}
