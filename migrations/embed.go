// Package migrations holds the postgres schema as numbered golang-migrate
// file pairs. The files are embedded so cmd/migrate runs without a checkout.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
