package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// ApplyDDL выполняет операторы по порядку. Ожидается идемпотентный DDL
// (create ... if not exists); повторное добавление FK в postgres пропускается.
func ApplyDDL(ctx context.Context, db *sql.DB, stmts []string, log *zap.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	for _, stmt := range stmts {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			// pgx/stdlib возвращает *pgconn.PgError; 42710 — duplicate_object
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "42710" {
				log.Debug("DDL skipped (already exists)",
					zap.String("constraint", pgErr.ConstraintName), zap.String("message", pgErr.Message))
				continue
			}
			return fmt.Errorf("DDL apply failed: %w", err)
		}
	}
	return nil
}
