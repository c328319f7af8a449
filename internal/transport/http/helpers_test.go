package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"quiz-coordinator/internal/app"
	"quiz-coordinator/internal/domain"
	"quiz-coordinator/internal/infra/memory"
	"quiz-coordinator/internal/logger"
	"quiz-coordinator/internal/metrics"
)

type testServer struct {
	srv   *httptest.Server
	rooms *app.RoomService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	log := logger.Discard()

	quizzes := memory.NewQuizStore(map[string]domain.Quiz{"quiz-1": sampleQuiz()})
	cache := memory.NewQuizRepository(quizzes, time.Minute)
	rooms := app.NewRoomService(memory.NewRoomStore(), cache,
		app.WithResultStore(memory.NewResultStore()),
		app.WithLogger(log),
		app.WithMetrics(m),
	)
	sessions := app.NewSessionService(memory.NewLockStore(), app.DefaultHeartbeatTimeout, log, m)
	quizSvc := app.NewQuizService(cache, quizzes, app.NewVersionGuard(memory.NewVersionStore(), m), sessions, rooms, log)

	h := NewHandler(rooms, sessions, quizSvc, nil, log)
	srv := httptest.NewServer(NewRouter(h, NewWSHandler(rooms, sessions, log, m), reg))
	t.Cleanup(func() { rooms.Close(context.Background()) })
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, rooms: rooms}
}

// do sends a JSON request as user and decodes the response into out when non-nil.
func (ts *testServer) do(t *testing.T, method, path, user string, body any, out any) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-User-ID", user)
		req.Header.Set("X-User-Name", strings.ToUpper(user))
	}
	resp, err := ts.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (ts *testServer) dial(t *testing.T, user, roomID string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/ws?userId=" + user + "&name=" + strings.ToUpper(user)
	if roomID != "" {
		u += "&roomId=" + roomID
	}
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

type wsMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func send(t *testing.T, conn *websocket.Conn, msgType string, payload any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{"type": msgType, "payload": payload}))
}

// readUntil skips messages until one of msgType satisfies match.
func readUntil(t *testing.T, conn *websocket.Conn, msgType string, match func(json.RawMessage) bool) json.RawMessage {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var msg wsMessage
		require.NoError(t, conn.ReadJSON(&msg), "waiting for %s", msgType)
		if msg.Type == msgType && (match == nil || match(msg.Payload)) {
			return msg.Payload
		}
	}
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID:    "quiz-1",
		Title: "Arithmetic",
		Questions: []domain.Question{
			{
				ID:               "q1",
				Prompt:           "What is 2 + 2?",
				Type:             domain.QuestionMultipleChoice,
				TimeLimitSeconds: 30,
				Options: []domain.Option{
					{ID: "o1", Text: "3"},
					{ID: "o2", Text: "4", Correct: true},
					{ID: "o3", Text: "5"},
				},
			},
		},
	}
}
