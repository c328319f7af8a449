package migrations

import (
	"context"
	_ "embed"

	"github.com/uptrace/bun"
)

//go:embed 0002_create_room_results.sql
var createRoomResultsSQL string

func init() {
	Migrations.MustRegister(
		func(ctx context.Context, db *bun.DB) error {
			return execStatements(ctx, db, createRoomResultsSQL)
		},
		func(ctx context.Context, db *bun.DB) error {
			return execStatements(ctx, db, `DROP TABLE IF EXISTS participant_results; DROP TABLE IF EXISTS room_results`)
		},
	)
}
