package app

import (
	"sort"
	"time"

	"quiz-coordinator/internal/domain"
)

// rankParticipants orders by score desc, total time asc, then join time so exact
// ties do not flap between recomputes. Ranks are 1-based and dense by position.
func rankParticipants(participants []domain.Participant) []domain.Participant {
	ranked := append([]domain.Participant(nil), participants...)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.TotalTimeSeconds != b.TotalTimeSeconds {
			return a.TotalTimeSeconds < b.TotalTimeSeconds
		}
		if !a.JoinedAt.Equal(b.JoinedAt) {
			return a.JoinedAt.Before(b.JoinedAt)
		}
		return a.UserID < b.UserID
	})
	for i := range ranked {
		ranked[i].Rank = i + 1
	}
	return ranked
}

func buildLeaderboard(roomID string, participants []domain.Participant, final bool, now time.Time) domain.Leaderboard {
	ranked := rankParticipants(participants)
	entries := make([]domain.LeaderboardEntry, len(ranked))
	for i, p := range ranked {
		entries[i] = domain.LeaderboardEntry{
			Rank:             p.Rank,
			UserID:           p.UserID,
			Username:         p.Username,
			Score:            p.Score,
			TotalTimeSeconds: p.TotalTimeSeconds,
			Completed:        p.Completed,
			QuestionIndex:    p.QuestionIndex,
		}
	}
	return domain.Leaderboard{RoomID: roomID, Final: final, Entries: entries, UpdatedAt: now}
}

// winnerOf returns the first-ranked participant, or nil when the top two tie on score and time.
func winnerOf(ranked []domain.Participant) *domain.Participant {
	if len(ranked) == 0 {
		return nil
	}
	if len(ranked) > 1 && ranked[0].Score == ranked[1].Score && ranked[0].TotalTimeSeconds == ranked[1].TotalTimeSeconds {
		return nil
	}
	w := ranked[0]
	return &w
}
