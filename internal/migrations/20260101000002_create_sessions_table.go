package migrations

import (
	"context"
	"fmt"

	"github.com/terraconstructs/gridauth/internal/db/models"
	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(up_20260101000002, down_20260101000002)
}

// up_20260101000002 creates the server-side session table
func up_20260101000002(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [up] creating sessions table...")
	_, err := db.NewCreateTable().
		Model((*models.Session)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create sessions table: %w", err)
	}

	_, err = db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at)`)
	if err != nil {
		return fmt.Errorf("failed to create sessions expires_at index: %w", err)
	}
	fmt.Println(" OK")
	return nil
}

// down_20260101000002 drops the session table
func down_20260101000002(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [down] dropping sessions table...")
	if _, err := db.NewDropTable().Model((*models.Session)(nil)).IfExists().Exec(ctx); err != nil {
		return fmt.Errorf("failed to drop sessions table: %w", err)
	}
	fmt.Println(" OK")
	return nil
}
