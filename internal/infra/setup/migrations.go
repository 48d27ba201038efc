package setup

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"collabcode/internal/domain"
)

// MigrateDB 执行全部数据库迁移。
// users 表用自定义 SQL 创建：TEXT 列配合唯一索引需要显式指定
// varchar 长度，AutoMigrate 在 utf8mb4 下会触碰 MySQL 的索引长度上限。
// 其余模型交给 AutoMigrate。
func MigrateDB(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("cannot migrate database with nil DB connection")
	}

	if err := migrateUsersTable(db); err != nil {
		return fmt.Errorf("migrate users table: %w", err)
	}

	err := db.AutoMigrate(
		&domain.Session{},
		&domain.SessionParticipant{},
		&domain.ChatMessage{},
	)
	if err != nil {
		return fmt.Errorf("auto-migrate tables: %w", err)
	}

	logrus.Info("Database migration completed successfully")
	return nil
}

// migrateUsersTable 不存在时建表，存在时交给 AutoMigrate 补列补索引。
func migrateUsersTable(db *gorm.DB) error {
	var count int64
	db.Raw("SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = 'users'").Count(&count)

	if count == 0 {
		sql := `
		CREATE TABLE users (
			id BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
			name VARCHAR(191) NOT NULL,
			image VARCHAR(512),
			role VARCHAR(32) NOT NULL DEFAULT 'student',
			email VARCHAR(191),
			password TEXT NOT NULL,
			created_at DATETIME(3),
			updated_at DATETIME(3),
			UNIQUE INDEX idx_users_name (name),
			UNIQUE INDEX idx_users_email (email)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_general_ci;
		`
		if err := db.Exec(sql).Error; err != nil {
			return fmt.Errorf("create users table: %w", err)
		}
		logrus.Info("Users table created")
		return nil
	}

	if err := db.AutoMigrate(&domain.User{}); err != nil {
		return fmt.Errorf("auto-migrate users table: %w", err)
	}
	return nil
}
