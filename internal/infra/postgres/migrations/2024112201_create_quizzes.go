package migrations

import (
	"context"
	_ "embed"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

// Migrations is the ordered set applied by the migrate command and at startup.
var Migrations = migrate.NewMigrations()

//go:embed 0001_create_quizzes.sql
var quizzesUp string

const quizzesDown = `DROP INDEX IF EXISTS quizzes_owner_idx; DROP TABLE IF EXISTS quizzes`

func init() {
	Migrations.MustRegister(
		func(ctx context.Context, db *bun.DB) error { return execStatements(ctx, db, quizzesUp) },
		func(ctx context.Context, db *bun.DB) error { return execStatements(ctx, db, quizzesDown) },
	)
}
