package storage

import "embed"

// Migrations holds the goose SQL migrations under "migrations".
//
//go:embed migrations/*.sql
var Migrations embed.FS
