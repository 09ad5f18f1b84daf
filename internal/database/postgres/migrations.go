package postgres

import (
	"embed"
	"io/fs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrations returns the embedded SQL files rooted at the migrations directory.
func migrations() fs.FS {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		panic("embedded postgres migrations: " + err.Error())
	}
	return sub
}
