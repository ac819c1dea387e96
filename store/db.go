package store

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Config carries the database connection settings. Driver may be left empty
// when the DSN carries a recognizable scheme or suffix.
type Config struct {
	Driver string
	DSN    string
}

// ConfigFromEnv reads DATABASE_DRIVER and DATABASE_DSN.
func ConfigFromEnv() (Config, error) {
	dsn := strings.TrimSpace(os.Getenv("DATABASE_DSN"))
	if dsn == "" {
		return Config{}, errors.New("store: DATABASE_DSN environment variable is required")
	}
	return Config{
		Driver: strings.TrimSpace(os.Getenv("DATABASE_DRIVER")),
		DSN:    dsn,
	}, nil
}

// Open creates the gorm connection for the configured driver.
func Open(cfg Config) (*gorm.DB, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = inferDriverFromDSN(cfg.DSN)
		if driver == "" {
			return nil, errors.New("store: driver is required when DSN does not contain a scheme")
		}
	}

	gormCfg := &gorm.Config{NowFunc: func() time.Time { return time.Now().UTC() }}

	switch strings.ToLower(driver) {
	case "postgres", "postgresql", "pg":
		return gorm.Open(postgres.Open(cfg.DSN), gormCfg)
	case "mysql":
		return gorm.Open(mysql.Open(cfg.DSN), gormCfg)
	case "sqlite", "sqlite3":
		return gorm.Open(sqlite.Open(cfg.DSN), gormCfg)
	default:
		return nil, fmt.Errorf("store: unsupported database driver %q", driver)
	}
}

// OpenFromEnv combines ConfigFromEnv and Open.
func OpenFromEnv() (*gorm.DB, error) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	return Open(cfg)
}

func inferDriverFromDSN(dsn string) string {
	lower := strings.ToLower(dsn)
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return "postgres"
	case strings.HasPrefix(lower, "mysql://"), strings.Contains(lower, "://mysql"):
		return "mysql"
	case strings.HasPrefix(lower, "sqlite://"), strings.HasSuffix(lower, ".db"),
		strings.HasSuffix(lower, ".sqlite"), strings.Contains(lower, ":memory:"):
		return "sqlite"
	default:
		return ""
	}
}
