package migrations

import (
	"gorm.io/gorm"

	"github.com/AlexKimmel/tgbot/internal/database"
)

func init() {
	database.RegisterMigration(database.Migration{
		ID:   "20250101_create_users",
		Name: "Create users table",

		Up: func(db *gorm.DB) error {
			return db.Exec(`
				CREATE TABLE IF NOT EXISTS users (
					user_id    BIGINT PRIMARY KEY,
					username   VARCHAR(128),
					full_name  VARCHAR(128) NOT NULL,
					active     BOOLEAN NOT NULL DEFAULT TRUE,
					language   VARCHAR(10) NOT NULL DEFAULT 'en',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
			`).Error
		},
	})
}
