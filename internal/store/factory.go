package store

import (
	"fmt"
	"os"
	"strings"
)

const (
	HotModeRedis  = "redis"
	HotModeMemory = "memory"

	ColdModePostgres = "postgres"
	ColdModeSQLite   = "sqlite"
)

func hotModeFromEnv() string {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("HOT_STORE_MODE")))
	switch raw {
	case "", HotModeRedis:
		return HotModeRedis
	case HotModeMemory, "mem":
		return HotModeMemory
	default:
		return raw
	}
}

func coldModeFromEnv() string {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("COLD_STORE_MODE")))
	switch raw {
	case "", ColdModePostgres, "postgresql", "pg":
		return ColdModePostgres
	case ColdModeSQLite, "local":
		return ColdModeSQLite
	default:
		return raw
	}
}

func NewHotFromEnv() (Hot, string, error) {
	mode := hotModeFromEnv()
	switch mode {
	case HotModeRedis:
		hot, err := NewRedisHotFromEnv()
		if err != nil {
			return nil, mode, err
		}
		return hot, mode, nil
	case HotModeMemory:
		return NewMemoryHot(), mode, nil
	default:
		return nil, mode, fmt.Errorf("invalid HOT_STORE_MODE %q (supported: %s, %s)", mode, HotModeRedis, HotModeMemory)
	}
}

func NewColdFromEnv() (Cold, string, error) {
	mode := coldModeFromEnv()
	switch mode {
	case ColdModePostgres:
		dsn := strings.TrimSpace(os.Getenv("COLD_DATABASE_DSN"))
		if dsn == "" {
			dsn = defaultColdDSN
		}
		cold, err := NewPostgresCold(dsn)
		if err != nil {
			return nil, mode, err
		}
		return cold, mode, nil
	case ColdModeSQLite:
		path := strings.TrimSpace(os.Getenv("COLD_SQLITE_PATH"))
		if path == "" {
			path = defaultColdDBName
		}
		cold, err := NewSQLiteCold(path)
		if err != nil {
			return nil, mode, err
		}
		return cold, mode, nil
	default:
		return nil, mode, fmt.Errorf("invalid COLD_STORE_MODE %q (supported: %s, %s)", mode, ColdModePostgres, ColdModeSQLite)
	}
}
