// Package ledgerdb holds all the migrations for the pool ledger database
package ledgerdb

import (
	"github.com/uptrace/bun/migrate"
)

// Migrations collects the registered ledger database migrations.
// Each migration file registers itself in init().
var Migrations = migrate.NewMigrations()
