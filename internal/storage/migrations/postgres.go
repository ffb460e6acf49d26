package migrations

import (
	"context"
	"fmt"

	"signal-board/internal/storage/postgres"
)

// ApplyPostgres creates the object store tables. A file may hold several
// statements; pgx runs an argument-free Exec as one simple query.
func ApplyPostgres(ctx context.Context, pool *postgres.Pool) error {
	files, err := load(postgresFS, "postgres")
	if err != nil {
		return err
	}
	for _, m := range files {
		if _, err := pool.Exec(ctx, m.sql); err != nil {
			return fmt.Errorf("apply migration %s: %w", m.name, err)
		}
	}
	return nil
}
