package http

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"quiz-coordinator/internal/app"
	"quiz-coordinator/internal/auth"
	"quiz-coordinator/internal/domain"
)

// Handler serves the REST surface over the room, session and quiz services.
type Handler struct {
	rooms    *app.RoomService
	sessions *app.SessionService
	quizzes  *app.QuizService
	parser   *auth.Parser
	validate *validator.Validate
	log      logrus.FieldLogger
}

// NewHandler builds the REST handler. A nil parser trusts the X-User-ID header.
func NewHandler(rooms *app.RoomService, sessions *app.SessionService, quizzes *app.QuizService, parser *auth.Parser, log logrus.FieldLogger) *Handler {
	return &Handler{
		rooms:    rooms,
		sessions: sessions,
		quizzes:  quizzes,
		parser:   parser,
		validate: validator.New(),
		log:      log,
	}
}

type sessionRequest struct {
	SessionToken string `json:"sessionToken"`
	QuizID       string `json:"quizId" validate:"required_without=ChallengeID"`
	ChallengeID  string `json:"challengeId" validate:"required_without=QuizID"`
}

// lockKey scopes a session to the caller; a quiz id wins when both are set.
func lockKey(userID, quizID, challengeID string) domain.LockKey {
	if quizID != "" {
		return domain.LockKey{UserID: userID, Subject: domain.SubjectQuiz, SubjectID: quizID}
	}
	return domain.LockKey{UserID: userID, Subject: domain.SubjectChallenge, SubjectID: challengeID}
}

func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	grant, err := h.sessions.Start(r.Context(), lockKey(identity(r).UserID, req.QuizID, req.ChallengeID))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, grant)
}

func (h *Handler) HeartbeatSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.SessionToken == "" {
		h.writeError(w, r, fmt.Errorf("%w: sessionToken is required", domain.ErrInvalidArgument))
		return
	}
	active, err := h.sessions.Heartbeat(r.Context(), lockKey(identity(r).UserID, req.QuizID, req.ChallengeID), req.SessionToken)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"active": active})
}

func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.sessions.End(r.Context(), lockKey(identity(r).UserID, req.QuizID, req.ChallengeID), req.SessionToken); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type createRoomRequest struct {
	QuizID          string `json:"quizId" validate:"required"`
	MaxParticipants int    `json:"maxParticipants" validate:"omitempty,min=2,max=50"`
	Mode            string `json:"mode" validate:"omitempty,oneof=group duel"`
}

func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	caller := identity(r)
	room, err := h.rooms.CreateRoom(r.Context(), app.CreateRoomParams{
		QuizID:          req.QuizID,
		LeaderID:        caller.UserID,
		LeaderName:      caller.Username,
		Mode:            domain.RoomMode(req.Mode),
		MaxParticipants: req.MaxParticipants,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, room)
}

func (h *Handler) GetRoom(w http.ResponseWriter, r *http.Request) {
	room, err := h.rooms.Room(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (h *Handler) GetRoomByCode(w http.ResponseWriter, r *http.Request) {
	room, err := h.rooms.RoomByCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	lb, err := h.rooms.Leaderboard(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lb)
}

type updateRoomRequest struct {
	Version         *int64 `json:"version" validate:"required,gte=0"`
	MaxParticipants int    `json:"maxParticipants" validate:"required"`
}

func (h *Handler) UpdateRoom(w http.ResponseWriter, r *http.Request) {
	var req updateRoomRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	room, err := h.rooms.UpdateSettings(r.Context(), chi.URLParam(r, "id"), identity(r).UserID, *req.Version, req.MaxParticipants)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (h *Handler) DeleteRoom(w http.ResponseWriter, r *http.Request) {
	version, err := strconv.ParseInt(r.URL.Query().Get("version"), 10, 64)
	if err != nil {
		h.writeError(w, r, fmt.Errorf("%w: version query parameter is required", domain.ErrInvalidVersion))
		return
	}
	if err := h.rooms.Delete(r.Context(), chi.URLParam(r, "id"), identity(r).UserID, version); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetQuiz(w http.ResponseWriter, r *http.Request) {
	quiz, err := h.quizzes.GetQuiz(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quiz)
}

type updateQuizRequest struct {
	Version   *int64            `json:"version" validate:"required,gte=0"`
	Title     string            `json:"title"`
	Questions []domain.Question `json:"questions" validate:"required,min=1"`
}

func (h *Handler) UpdateQuiz(w http.ResponseWriter, r *http.Request) {
	var req updateQuizRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	quiz := domain.Quiz{ID: chi.URLParam(r, "id"), Title: req.Title, Questions: req.Questions}
	version, err := h.quizzes.UpdateQuiz(r.Context(), identity(r).UserID, quiz, *req.Version)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"version": version})
}

func (h *Handler) GetResult(w http.ResponseWriter, r *http.Request) {
	result, err := h.rooms.Result(r.Context(), chi.URLParam(r, "roomId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
