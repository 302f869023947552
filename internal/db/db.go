package db

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB 是一个全局的数据库连接实例
var DB *gorm.DB

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// Models 列出需要自动迁移的全部模型，测试也复用该列表。
func Models() []interface{} {
	return []interface{}{
		&User{},
		&Admin{},
		&Profile{},
		&Schedule{},
		&Stake{},
		&Checkin{},
		&Evaluation{},
		&Streak{},
		&Billing{},
		&Charge{},
		&AuditLog{},
		&SystemSetting{},
	}
}

// Init 根据驱动打开数据库连接并执行自动迁移。
// sqlite 使用 path（为空时回退到 wakestake.db），postgres/mysql 使用 dsn。
func Init(driver, path, dsn string) error {
	dialector, err := dialectorFor(driver, path, dsn)
	if err != nil {
		return err
	}

	DB, err = gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	if err := DB.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

func dialectorFor(driver, path, dsn string) (gorm.Dialector, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverSQLite:
		p := strings.TrimSpace(path)
		if p == "" {
			p = "wakestake.db"
		}
		if err := ensureParentDir(p); err != nil {
			return nil, err
		}
		return sqlite.Open(p), nil
	case DriverPostgres:
		if strings.TrimSpace(dsn) == "" {
			return nil, errors.New("DATABASE_URL is required for postgres")
		}
		return postgres.Open(dsn), nil
	case DriverMySQL:
		if strings.TrimSpace(dsn) == "" {
			return nil, errors.New("DATABASE_URL is required for mysql")
		}
		return mysql.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

func ensureParentDir(path string) error {
	if strings.HasPrefix(path, "file:") {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}

	info, err := os.Stat(dir)
	if err == nil {
		if !info.IsDir() {
			return errors.New("database path parent is not a directory")
		}
		return nil
	}

	if os.IsNotExist(err) {
		return os.MkdirAll(dir, 0o755)
	}

	return err
}
