// Package migrations embeds the SQLite schema so the binary can migrate
// without SQL files on disk. Import it for side effects from main.
package migrations

import (
	"embed"

	"github.com/nerrad567/smartlock-core/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
