// Package migrations exposes the embedded SQL schema migrations.
package migrations

import "embed"

// Files contains the SQL migrations applied by golang-migrate.
//
//go:embed *.sql
var Files embed.FS
