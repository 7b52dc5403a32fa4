package db

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/kipmyk/broadcast-service/internal/config"
)

// Connect opens and pings a postgres connection using the loaded config.
func Connect(cfg *config.Config) (*sql.DB, error) {
	conn, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return conn, nil
}
