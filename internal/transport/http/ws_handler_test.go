package http

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quiz-coordinator/internal/app"
	"quiz-coordinator/internal/domain"
)

func allReady(n int) func(json.RawMessage) bool {
	return func(raw json.RawMessage) bool {
		// Clients render the top-level roster, not the nested room.
		var upd struct {
			Participants []domain.Participant `json:"participants"`
		}
		if json.Unmarshal(raw, &upd) != nil || len(upd.Participants) != n {
			return false
		}
		for _, p := range upd.Participants {
			if !p.IsReady {
				return false
			}
		}
		return true
	}
}

func TestWebSocketRoomFlow(t *testing.T) {
	ts := newTestServer(t)

	var room domain.Room
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/rooms", "u1", map[string]any{"quizId": "quiz-1"}, &room))

	c1 := ts.dial(t, "u1", room.ID)
	readUntil(t, c1, domain.EventRoomUpdated, nil)

	c2 := ts.dial(t, "u2", "")
	send(t, c2, msgJoinRoom, map[string]any{"roomId": room.ID, "userId": "u2"})
	readUntil(t, c2, domain.EventRoomUpdated, nil)

	var joined struct {
		Participant *domain.Participant `json:"participant"`
	}
	require.NoError(t, json.Unmarshal(readUntil(t, c1, domain.EventParticipantJoined, nil), &joined))
	require.NotNil(t, joined.Participant, "participant_joined wraps the participant")
	assert.Equal(t, "u2", joined.Participant.UserID)

	send(t, c1, msgSetReady, map[string]any{"ready": true})
	send(t, c2, msgSetReady, map[string]any{"roomId": room.ID, "ready": true})
	readUntil(t, c1, domain.EventRoomUpdated, allReady(2))

	send(t, c1, msgStartRoom, map[string]any{"roomId": room.ID})
	for _, c := range []*websocket.Conn{c1, c2} {
		raw := readUntil(t, c, domain.EventQuestion, nil)
		var q domain.QuestionServed
		require.NoError(t, json.Unmarshal(raw, &q))
		assert.Equal(t, 0, q.Index)
		assert.Equal(t, 1, q.Total)
		for _, opt := range q.Question.Options {
			assert.False(t, opt.Correct)
		}
	}

	send(t, c2, msgSubmitAnswer, map[string]any{"roomId": room.ID, "questionIndex": 0, "answer": "o2", "timeTakenSeconds": 2})
	var res domain.AnswerResult
	require.NoError(t, json.Unmarshal(readUntil(t, c2, domain.EventAnswerResult, nil), &res))
	assert.True(t, res.IsCorrect)
	assert.Equal(t, 97, res.PointsAwarded)

	send(t, c1, msgSubmitAnswer, map[string]any{"roomId": room.ID, "questionIndex": 0, "answer": "o1", "timeTakenSeconds": 5})
	require.NoError(t, json.Unmarshal(readUntil(t, c1, domain.EventAnswerResult, nil), &res))
	assert.False(t, res.IsCorrect)
	assert.Equal(t, "o2", res.CorrectAnswer)

	var done domain.RoomCompletedEvent
	require.NoError(t, json.Unmarshal(readUntil(t, c2, domain.EventRoomCompleted, nil), &done))
	require.NotNil(t, done.Winner)
	assert.Equal(t, "u2", done.Winner.UserID)
	readUntil(t, c2, domain.EventLeaderboard, func(raw json.RawMessage) bool {
		var lb domain.Leaderboard
		return json.Unmarshal(raw, &lb) == nil && lb.Final
	})

	// A duplicate submission gets no reply, so the snapshot is the next message.
	send(t, c2, msgSubmitAnswer, map[string]any{"roomId": room.ID, "questionIndex": 0, "answer": "o1", "timeTakenSeconds": 1})
	send(t, c2, msgGetRoom, map[string]any{"roomId": room.ID})
	var next wsMessage
	require.NoError(t, c2.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, c2.ReadJSON(&next))
	assert.Equal(t, domain.EventRoomUpdated, next.Type)

	require.Eventually(t, func() bool {
		_, err := ts.rooms.Result(context.Background(), room.ID)
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
}

func TestWebSocketRejectsBadRequests(t *testing.T) {
	ts := newTestServer(t)

	var room domain.Room
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/rooms", "u1", map[string]any{"quizId": "quiz-1"}, &room))
	c1 := ts.dial(t, "u1", room.ID)

	send(t, c1, msgSetReady, map[string]any{"roomId": room.ID, "userId": "u2", "ready": true})
	var failure wsError
	require.NoError(t, json.Unmarshal(readUntil(t, c1, eventError, nil), &failure))
	assert.Equal(t, codeForbidden, failure.Code)
	assert.Equal(t, msgSetReady, failure.Request)

	send(t, c1, "dance", nil)
	require.NoError(t, json.Unmarshal(readUntil(t, c1, eventError, nil), &failure))
	assert.Equal(t, codeBadRequest, failure.Code)

	send(t, c1, msgStartRoom, map[string]any{"roomId": room.ID})
	require.NoError(t, json.Unmarshal(readUntil(t, c1, eventError, nil), &failure))
	assert.Equal(t, codeInvalidTransition, failure.Code)

	c3 := ts.dial(t, "u3", "")
	send(t, c3, msgSubmitAnswer, map[string]any{"roomId": room.ID, "questionIndex": 0, "answer": "o2"})
	require.NoError(t, json.Unmarshal(readUntil(t, c3, eventError, nil), &failure))
	assert.Equal(t, codeNotFound, failure.Code, "non-members cannot act in a room")
}

func TestWebSocketHeartbeat(t *testing.T) {
	ts := newTestServer(t)

	var grant app.SessionGrant
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/sessions/start", "u1", map[string]string{"challengeId": "c9"}, &grant))
	require.True(t, grant.CanStart)

	c := ts.dial(t, "u1", "")
	send(t, c, msgHeartbeat, map[string]any{"sessionToken": grant.SessionToken, "challengeId": "c9"})
	var ack map[string]bool
	require.NoError(t, json.Unmarshal(readUntil(t, c, eventHeartbeatAck, nil), &ack))
	assert.True(t, ack["active"])

	send(t, c, msgHeartbeat, map[string]any{"sessionToken": "stale", "challengeId": "c9"})
	require.NoError(t, json.Unmarshal(readUntil(t, c, eventHeartbeatAck, nil), &ack))
	assert.False(t, ack["active"])
}

func TestWebSocketDisconnectLeavesWaitingRoom(t *testing.T) {
	ts := newTestServer(t)

	var room domain.Room
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/rooms", "u1", map[string]any{"quizId": "quiz-1"}, &room))

	c2 := ts.dial(t, "u2", "")
	send(t, c2, msgJoinRoom, map[string]any{"roomId": room.ID})
	readUntil(t, c2, domain.EventRoomUpdated, nil)

	snapshot, err := ts.rooms.Room(context.Background(), room.ID)
	require.NoError(t, err)
	require.Len(t, snapshot.Participants, 2)

	require.NoError(t, c2.Close())
	require.Eventually(t, func() bool {
		snapshot, err := ts.rooms.Room(context.Background(), room.ID)
		return err == nil && len(snapshot.Participants) == 1
	}, 5*time.Second, 20*time.Millisecond)
}
