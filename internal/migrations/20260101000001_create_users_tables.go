package migrations

import (
	"context"
	"fmt"

	"github.com/terraconstructs/gridauth/internal/db/models"
	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(up_20260101000001, down_20260101000001)
}

// up_20260101000001 creates local accounts and their role grants
func up_20260101000001(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [up] creating users table...")
	_, err := db.NewCreateTable().
		Model((*models.User)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create users table: %w", err)
	}
	fmt.Println(" OK")

	fmt.Print(" [up] creating user_roles table...")
	q := db.NewCreateTable().
		Model((*models.UserRole)(nil)).
		IfNotExists()
	if IsSQLite(db) {
		// SQLite cannot add constraints after the fact.
		q = q.ForeignKey(`("user_id") REFERENCES "users" ("id") ON DELETE CASCADE`)
	}
	if _, err := q.Exec(ctx); err != nil {
		return fmt.Errorf("failed to create user_roles table: %w", err)
	}
	if IsPostgreSQL(db) {
		_, err = db.ExecContext(ctx, `
			ALTER TABLE user_roles
			ADD CONSTRAINT fk_user_roles_user_id
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		`)
		if err != nil {
			return fmt.Errorf("failed to add user_roles user_id FK: %w", err)
		}
	}
	_, err = db.ExecContext(ctx, `CREATE UNIQUE INDEX IF NOT EXISTS idx_user_roles_user_role ON user_roles(user_id, role)`)
	if err != nil {
		return fmt.Errorf("failed to create user_roles index: %w", err)
	}
	fmt.Println(" OK")

	return nil
}

// down_20260101000001 drops the tables in reverse dependency order
func down_20260101000001(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [down] dropping user_roles table...")
	if _, err := db.NewDropTable().Model((*models.UserRole)(nil)).IfExists().Exec(ctx); err != nil {
		return fmt.Errorf("failed to drop user_roles table: %w", err)
	}
	fmt.Println(" OK")

	fmt.Print(" [down] dropping users table...")
	if _, err := db.NewDropTable().Model((*models.User)(nil)).IfExists().Exec(ctx); err != nil {
		return fmt.Errorf("failed to drop users table: %w", err)
	}
	fmt.Println(" OK")
	return nil
}
