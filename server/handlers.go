package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/wfunc/bingoserver/logger"
	"github.com/wfunc/bingoserver/persistence"
	"github.com/wfunc/bingoserver/services"
)

const userCookie = "user_id"

var (
	errUnauthorized = errors.New("unauthorized")
	errBadRequest   = errors.New("bad request")
)

type contextKey struct{}

func userFromContext(ctx context.Context) uuid.UUID {
	userID, _ := ctx.Value(contextKey{}).(uuid.UUID)
	return userID
}

// identity resolves the user_id cookie to a known user or answers 401.
func (s *GameServer) identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := s.cookieUser(r)
		if err != nil {
			writeError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKey{}, userID)))
	})
}

func (s *GameServer) cookieUser(r *http.Request) (uuid.UUID, error) {
	cookie, err := r.Cookie(userCookie)
	if err != nil {
		return uuid.Nil, errUnauthorized
	}
	userID, err := uuid.Parse(cookie.Value)
	if err != nil {
		return uuid.Nil, errUnauthorized
	}
	exists, err := s.users.UserExists(r.Context(), userID)
	if err != nil {
		return uuid.Nil, err
	}
	if !exists {
		return uuid.Nil, errUnauthorized
	}
	return userID, nil
}

// handleAuth keeps a valid identity or issues a new one.
func (s *GameServer) handleAuth(w http.ResponseWriter, r *http.Request) {
	userID, err := s.cookieUser(r)
	if errors.Is(err, errUnauthorized) {
		userID, err = s.users.CreateUser(r.Context())
	}
	if err != nil {
		writeError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     userCookie,
		Value:    userID.String(),
		Path:     "/",
		Expires:  time.Now().AddDate(1, 0, 0),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"userId": userID.String()})
}

func (s *GameServer) handleStartGame(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	templateID, err := uuid.Parse(vars["templateId"])
	if err != nil {
		writeError(w, errBadRequest)
		return
	}
	gridSize, err := strconv.Atoi(vars["gridSize"])
	if err != nil {
		writeError(w, services.ErrInvalidGridSize)
		return
	}

	state, err := s.games.StartGame(r.Context(), userFromContext(r.Context()), templateID, gridSize)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *GameServer) handleJoinGame(w http.ResponseWriter, r *http.Request) {
	state, err := s.games.JoinGame(r.Context(), userFromContext(r.Context()), mux.Vars(r)["accessCode"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *GameServer) handleLeaveGame(w http.ResponseWriter, r *http.Request) {
	templateID, err := uuid.Parse(mux.Vars(r)["templateId"])
	if err != nil {
		writeError(w, errBadRequest)
		return
	}
	userID := userFromContext(r.Context())
	left, err := s.games.LeaveGame(r.Context(), userID, templateID)
	if err != nil {
		writeError(w, err)
		return
	}
	s.endSessions(userID, left)
	w.WriteHeader(http.StatusNoContent)
}

// endSessions closes the user's live sessions of the given games. Their
// loops end on the closed transport.
func (s *GameServer) endSessions(userID uuid.UUID, gameIDs []uuid.UUID) {
	for _, sess := range s.sessionManager.GetByUserID(userID) {
		for _, gameID := range gameIDs {
			if sess.GameID == gameID {
				logger.Log.Infof("Ending session %s, user %s left game %s", sess.GetID(), userID, gameID)
				sess.Close()
				break
			}
		}
	}
}

type usernameRequest struct {
	Username string `json:"username"`
}

func (s *GameServer) handleUpdateUsername(w http.ResponseWriter, r *http.Request) {
	gameID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, errBadRequest)
		return
	}
	var req usernameRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		writeError(w, errBadRequest)
		return
	}
	if err := s.games.UpdateUsername(r.Context(), userFromContext(r.Context()), gameID, req.Username); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *GameServer) handleToggleField(w http.ResponseWriter, r *http.Request) {
	fieldID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, errBadRequest)
		return
	}
	if err := s.games.ToggleField(r.Context(), userFromContext(r.Context()), fieldID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.Warnf("Failed to write response: %v", err)
	}
}

// statusOf maps domain errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, errUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, services.ErrNotFound), errors.Is(err, persistence.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, errBadRequest),
		errors.Is(err, services.ErrInvalidGridSize),
		errors.Is(err, services.ErrNotEnoughFields),
		errors.Is(err, services.ErrInvalidUsername),
		errors.Is(err, services.ErrGameClosed):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.Log.Errorf("Request failed: %v", err)
		msg = http.StatusText(status)
	}
	writeJSON(w, status, map[string]string{"error": msg})
}
