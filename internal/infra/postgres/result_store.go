package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"quiz-coordinator/internal/domain"
)

type roomResultRow struct {
	bun.BaseModel `bun:"table:room_results,alias:rr"`

	RoomID      string    `bun:"room_id,pk"`
	QuizID      string    `bun:"quiz_id,notnull"`
	Code        string    `bun:"room_code,notnull"`
	Mode        string    `bun:"mode,notnull"`
	LeaderID    string    `bun:"leader_id,notnull"`
	WinnerID    string    `bun:"winner_id,nullzero"`
	StartedAt   time.Time `bun:"started_at,notnull"`
	CompletedAt time.Time `bun:"completed_at,notnull"`
}

type participantResultRow struct {
	bun.BaseModel `bun:"table:participant_results,alias:pr"`

	RoomID           string     `bun:"room_id,pk"`
	UserID           string     `bun:"user_id,pk"`
	Username         string     `bun:"username,notnull"`
	Score            int        `bun:"score,notnull"`
	TotalTimeSeconds float64    `bun:"total_time_seconds,notnull"`
	Rank             int        `bun:"rank,notnull"`
	Completed        bool       `bun:"completed,notnull"`
	Forfeited        bool       `bun:"forfeited,notnull"`
	JoinedAt         time.Time  `bun:"joined_at,notnull"`
	CompletedAt      *time.Time `bun:"completed_at,nullzero"`
}

// ResultStore writes completed rooms with bun.
type ResultStore struct {
	db *bun.DB
}

func NewResultStore(db *bun.DB) *ResultStore {
	return &ResultStore{db: db}
}

// SaveResult inserts the room and its participants in one transaction.
// Re-saving a room is a no-op.
func (s *ResultStore) SaveResult(ctx context.Context, result domain.RoomResult) error {
	room := &roomResultRow{
		RoomID:      result.RoomID,
		QuizID:      result.QuizID,
		Code:        result.Code,
		Mode:        string(result.Mode),
		LeaderID:    result.LeaderID,
		WinnerID:    result.WinnerID,
		StartedAt:   result.StartedAt,
		CompletedAt: result.CompletedAt,
	}
	rows := make([]participantResultRow, 0, len(result.Participants))
	for _, p := range result.Participants {
		rows = append(rows, participantResultRow{
			RoomID:           result.RoomID,
			UserID:           p.UserID,
			Username:         p.Username,
			Score:            p.Score,
			TotalTimeSeconds: p.TotalTimeSeconds,
			Rank:             p.Rank,
			Completed:        p.Completed,
			Forfeited:        p.Left,
			JoinedAt:         p.JoinedAt,
			CompletedAt:      p.CompletedAt,
		})
	}

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		// Returning NULL keeps nullzero columns out of a RETURNING clause, which
		// would fail with no rows when the conflict clause skips the insert.
		if _, err := tx.NewInsert().Model(room).On("CONFLICT (room_id) DO NOTHING").Returning("NULL").Exec(ctx); err != nil {
			return fmt.Errorf("insert room result: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		if _, err := tx.NewInsert().Model(&rows).On("CONFLICT (room_id, user_id) DO NOTHING").Returning("NULL").Exec(ctx); err != nil {
			return fmt.Errorf("insert participant results: %w", err)
		}
		return nil
	})
}

func (s *ResultStore) GetResult(ctx context.Context, roomID string) (domain.RoomResult, error) {
	room := new(roomResultRow)
	err := s.db.NewSelect().Model(room).Where("room_id = ?", roomID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RoomResult{}, domain.ErrRoomNotFound
	}
	if err != nil {
		return domain.RoomResult{}, fmt.Errorf("load room result: %w", err)
	}

	var rows []participantResultRow
	if err := s.db.NewSelect().Model(&rows).Where("room_id = ?", roomID).Order("rank ASC").Scan(ctx); err != nil {
		return domain.RoomResult{}, fmt.Errorf("load participant results: %w", err)
	}

	result := domain.RoomResult{
		RoomID:       room.RoomID,
		QuizID:       room.QuizID,
		Code:         room.Code,
		Mode:         domain.RoomMode(room.Mode),
		LeaderID:     room.LeaderID,
		WinnerID:     room.WinnerID,
		StartedAt:    room.StartedAt,
		CompletedAt:  room.CompletedAt,
		Participants: make([]domain.Participant, 0, len(rows)),
	}
	for _, r := range rows {
		result.Participants = append(result.Participants, domain.Participant{
			RoomID:           r.RoomID,
			UserID:           r.UserID,
			Username:         r.Username,
			Score:            r.Score,
			TotalTimeSeconds: r.TotalTimeSeconds,
			Rank:             r.Rank,
			Completed:        r.Completed,
			CompletedAt:      r.CompletedAt,
			Left:             r.Forfeited,
			JoinedAt:         r.JoinedAt,
		})
	}
	return result, nil
}
