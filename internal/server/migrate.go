package server

import (
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// Migrate applies database migrations from the given source directory to the
// database at dsn. Callers derive the DSN from the loaded configuration.
// dir example: file://migrations
func Migrate(dir string, dsn string, direction string, steps int) error {
	if dir == "" {
		dir = "file://migrations"
	}
	if dsn == "" {
		return fmt.Errorf("migrate: database dsn is required")
	}
	if direction != "up" && direction != "down" {
		return fmt.Errorf("unknown direction: %s", direction)
	}

	m, err := migrate.New(dir, dsn)
	if err != nil {
		return err
	}
	switch direction {
	case "up":
		if steps > 0 {
			return m.Steps(steps)
		}
		return m.Up()
	default:
		if steps > 0 {
			return m.Steps(-steps)
		}
		return m.Down()
	}
}
