package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"quiz-coordinator/internal/app"
	"quiz-coordinator/internal/auth"
	"quiz-coordinator/internal/domain"
	"quiz-coordinator/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
	sendBuffer     = 32
)

// Outbound types that only exist on the websocket connection.
const (
	eventError        = "error"
	eventHeartbeatAck = "heartbeat_ack"
)

// Inbound message types.
const (
	msgJoinRoom       = "join_room"
	msgSetReady       = "set_ready"
	msgStartRoom      = "start_room"
	msgSubmitAnswer   = "submit_answer"
	msgLeaveRoom      = "leave_room"
	msgHeartbeat      = "heartbeat"
	msgGetLeaderboard = "get_leaderboard"
	msgGetRoom        = "get_room"
)

type WSHandler struct {
	rooms    *app.RoomService
	sessions *app.SessionService
	upgrader websocket.Upgrader
	log      logrus.FieldLogger
	metrics  *metrics.Metrics
}

func NewWSHandler(rooms *app.RoomService, sessions *app.SessionService, log logrus.FieldLogger, m *metrics.Metrics) *WSHandler {
	return &WSHandler{
		rooms:    rooms,
		sessions: sessions,
		log:      log,
		metrics:  m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type roomPayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

type readyPayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
	Ready  bool   `json:"ready"`
}

type submitPayload struct {
	RoomID           string  `json:"roomId"`
	UserID           string  `json:"userId"`
	QuestionIndex    int     `json:"questionIndex"`
	Answer           *string `json:"answer"`
	TimeTakenSeconds float64 `json:"timeTakenSeconds"`
}

type heartbeatPayload struct {
	SessionToken string `json:"sessionToken"`
	QuizID       string `json:"quizId"`
	ChallengeID  string `json:"challengeId"`
}

type wsError struct {
	apiError
	Request string `json:"request,omitempty"`
}

// ServeWS upgrades the request and runs the event protocol for one connection.
// A roomId query parameter resubscribes a returning participant straight away.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.FromContext(r.Context())
	if !ok {
		http.Error(w, auth.ErrUnauthenticated.Error(), http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("ws upgrade failed")
		return
	}
	if h.metrics != nil {
		h.metrics.WSConnections.Inc()
		defer h.metrics.WSConnections.Dec()
	}

	c := &wsConn{
		h:          h,
		conn:       conn,
		caller:     caller,
		log:        h.log.WithField("user_id", caller.UserID),
		send:       make(chan domain.Envelope, sendBuffer),
		quit:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}
	c.run(r.Context(), r.URL.Query().Get("roomId"))
}

// wsConn is one websocket client. Only the read loop touches roomID and cancel.
type wsConn struct {
	h      *WSHandler
	conn   *websocket.Conn
	caller auth.Identity
	log    logrus.FieldLogger

	send       chan domain.Envelope
	quit       chan struct{}
	writerDone chan struct{}
	forwarders sync.WaitGroup

	roomID string
	cancel func()
}

func (c *wsConn) run(ctx context.Context, roomID string) {
	defer c.conn.Close()
	go c.writeLoop()

	if roomID != "" {
		if err := c.subscribe(ctx, roomID); err != nil {
			c.fail("subscribe", err)
		}
	}

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var in inboundMessage
		if err := c.conn.ReadJSON(&in); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.WithError(err).Debug("ws read failed")
			}
			break
		}
		if err := c.dispatch(ctx, in); err != nil {
			c.fail(in.Type, err)
		}
	}

	close(c.quit)
	c.unsubscribe(ctx)
	c.forwarders.Wait()
	close(c.send)
	<-c.writerDone
}

func (c *wsConn) writeLoop() {
	defer close(c.writerDone)
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case env, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(env); err != nil {
				c.log.WithError(err).Debug("ws write failed")
				_ = c.conn.Close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				_ = c.conn.Close()
				return
			}
		}
	}
}

// push queues env for the writer; it gives up once the writer has stopped.
func (c *wsConn) push(env domain.Envelope) {
	select {
	case c.send <- env:
	case <-c.writerDone:
	}
}

func (c *wsConn) fail(request string, err error) {
	_, body := classify(err)
	if body.Code == codeInternal {
		c.log.WithError(err).WithField("request", request).Error("ws request failed")
	}
	c.push(domain.Envelope{Type: eventError, Payload: wsError{apiError: body, Request: request}})
}

func (c *wsConn) dispatch(ctx context.Context, in inboundMessage) error {
	switch in.Type {
	case msgJoinRoom:
		var p roomPayload
		if err := c.decode(in, &p, &p.UserID); err != nil {
			return err
		}
		roomID, err := c.target(p.RoomID)
		if err != nil {
			return err
		}
		if _, err := c.h.rooms.Join(ctx, roomID, c.caller.UserID, c.caller.Username); err != nil {
			return err
		}
		return c.subscribe(ctx, roomID)

	case msgSetReady:
		var p readyPayload
		if err := c.decode(in, &p, &p.UserID); err != nil {
			return err
		}
		roomID, err := c.member(ctx, p.RoomID)
		if err != nil {
			return err
		}
		_, err = c.h.rooms.SetReady(ctx, roomID, c.caller.UserID, p.Ready)
		return err

	case msgStartRoom:
		var p roomPayload
		if err := c.decode(in, &p, &p.UserID); err != nil {
			return err
		}
		roomID, err := c.member(ctx, p.RoomID)
		if err != nil {
			return err
		}
		_, err = c.h.rooms.Start(ctx, roomID, c.caller.UserID)
		return err

	case msgSubmitAnswer:
		var p submitPayload
		if err := c.decode(in, &p, &p.UserID); err != nil {
			return err
		}
		roomID, err := c.member(ctx, p.RoomID)
		if err != nil {
			return err
		}
		// The room sends answer_result to the submitter; duplicates get no reply.
		_, err = c.h.rooms.SubmitAnswer(ctx, roomID, c.caller.UserID, domain.AnswerSubmission{
			QuestionIndex:    p.QuestionIndex,
			Answer:           p.Answer,
			TimeTakenSeconds: p.TimeTakenSeconds,
		})
		return err

	case msgLeaveRoom:
		var p roomPayload
		if err := c.decode(in, &p, &p.UserID); err != nil {
			return err
		}
		roomID, err := c.target(p.RoomID)
		if err != nil {
			return err
		}
		if err := c.h.rooms.Leave(ctx, roomID, c.caller.UserID); err != nil {
			return err
		}
		if roomID == c.roomID {
			c.unsubscribe(ctx)
		}
		return nil

	case msgHeartbeat:
		var p heartbeatPayload
		if err := c.decode(in, &p, nil); err != nil {
			return err
		}
		if p.SessionToken == "" || (p.QuizID == "" && p.ChallengeID == "") {
			return fmt.Errorf("%w: sessionToken and quizId or challengeId are required", domain.ErrInvalidArgument)
		}
		active, err := c.h.sessions.Heartbeat(ctx, lockKey(c.caller.UserID, p.QuizID, p.ChallengeID), p.SessionToken)
		if err != nil {
			return err
		}
		c.push(domain.Envelope{Type: eventHeartbeatAck, Payload: map[string]bool{"active": active}})
		return nil

	case msgGetLeaderboard:
		var p roomPayload
		if err := c.decode(in, &p, nil); err != nil {
			return err
		}
		roomID, err := c.target(p.RoomID)
		if err != nil {
			return err
		}
		lb, err := c.h.rooms.Leaderboard(ctx, roomID)
		if err != nil {
			return err
		}
		c.push(domain.Envelope{Type: domain.EventLeaderboard, Payload: lb})
		return nil

	case msgGetRoom:
		var p roomPayload
		if err := c.decode(in, &p, nil); err != nil {
			return err
		}
		roomID, err := c.target(p.RoomID)
		if err != nil {
			return err
		}
		room, err := c.h.rooms.Room(ctx, roomID)
		if err != nil {
			return err
		}
		c.push(domain.Envelope{Type: domain.EventRoomUpdated, Payload: domain.NewRoomUpdated(room)})
		return nil

	default:
		return fmt.Errorf("%w: unsupported message type %q", domain.ErrInvalidArgument, in.Type)
	}
}

// decode unmarshals the payload and rejects a userId that is not the caller's.
func (c *wsConn) decode(in inboundMessage, dst any, userID *string) error {
	if len(in.Payload) > 0 {
		if err := json.Unmarshal(in.Payload, dst); err != nil {
			return fmt.Errorf("%w: invalid %s payload", domain.ErrInvalidArgument, in.Type)
		}
	}
	if userID != nil && *userID != "" && *userID != c.caller.UserID {
		return domain.ErrForbidden
	}
	return nil
}

// target falls back to the subscribed room when the payload names none.
func (c *wsConn) target(roomID string) (string, error) {
	if roomID != "" {
		return roomID, nil
	}
	if c.roomID != "" {
		return c.roomID, nil
	}
	return "", fmt.Errorf("%w: roomId is required", domain.ErrInvalidArgument)
}

// member resolves the room and makes sure this connection receives its events.
func (c *wsConn) member(ctx context.Context, roomID string) (string, error) {
	roomID, err := c.target(roomID)
	if err != nil {
		return "", err
	}
	if err := c.subscribe(ctx, roomID); err != nil {
		return "", err
	}
	return roomID, nil
}

func (c *wsConn) subscribe(ctx context.Context, roomID string) error {
	if c.cancel != nil && c.roomID == roomID {
		return nil
	}
	updates, cancel, err := c.h.rooms.Subscribe(ctx, roomID, c.caller.UserID)
	if err != nil {
		return err
	}
	c.unsubscribe(ctx)
	c.roomID, c.cancel = roomID, cancel

	c.forwarders.Add(1)
	go func() {
		defer c.forwarders.Done()
		for {
			select {
			case env, ok := <-updates:
				if !ok {
					return
				}
				select {
				case c.send <- env:
				case <-c.quit:
					return
				case <-c.writerDone:
					return
				}
			case <-c.quit:
				return
			}
		}
	}()
	return nil
}

// unsubscribe drops the current room subscription. Waiting rooms treat the
// participant's last connection going away as a leave.
func (c *wsConn) unsubscribe(ctx context.Context) {
	if c.cancel == nil {
		return
	}
	c.cancel()
	roomID := c.roomID
	c.roomID, c.cancel = "", nil

	if err := c.h.rooms.Disconnect(ctx, roomID, c.caller.UserID); err != nil && !errors.Is(err, domain.ErrRoomNotFound) {
		c.log.WithError(err).WithField("room_id", roomID).Debug("disconnect failed")
	}
}
