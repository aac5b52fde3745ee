package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	_ "modernc.org/sqlite"             // driver: sqlite
)

// Open открывает пул соединений и проверяет его пингом.
func Open(ctx context.Context, d Dialect, url string) (*sql.DB, error) {
	driver := "pgx"
	if d == SQLite {
		driver = "sqlite"
		url = sqliteDSN(url)
	}
	db, err := sql.Open(driver, url)
	if err != nil {
		return nil, err
	}
	db.SetConnMaxLifetime(30 * time.Minute)
	if d == SQLite {
		// одна база на соединение у :memory:, писатель у sqlite всё равно один
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// sqliteDSN включает проверку внешних ключей.
func sqliteDSN(url string) string {
	if url == "" {
		url = ":memory:"
	}
	if strings.Contains(url, "foreign_keys") {
		return url
	}
	sep := "?"
	if strings.Contains(url, "?") {
		sep = "&"
	}
	return url + sep + "_pragma=foreign_keys(1)"
}
