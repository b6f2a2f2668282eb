package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/wfunc/bingoserver/logger"
	"github.com/wfunc/bingoserver/models"
	"github.com/wfunc/bingoserver/monitor"
	"github.com/wfunc/bingoserver/registry"
	"github.com/wfunc/bingoserver/session"
)

// Users resolves and issues the identities carried by the user_id cookie.
type Users interface {
	UserExists(ctx context.Context, userID uuid.UUID) (bool, error)
	CreateUser(ctx context.Context) (uuid.UUID, error)
}

// Games is the game access service behind the REST routes.
type Games interface {
	StartGame(ctx context.Context, userID, templateID uuid.UUID, gridSize int) (*models.GameState, error)
	JoinGame(ctx context.Context, userID uuid.UUID, accessCode string) (*models.GameState, error)
	LeaveGame(ctx context.Context, userID, templateID uuid.UUID) ([]uuid.UUID, error)
	UpdateUsername(ctx context.Context, userID, gameID uuid.UUID, username string) error
	ToggleField(ctx context.Context, userID, fieldID uuid.UUID) error
}

type Options struct {
	Addr          string
	AllowedOrigin string
	Heartbeat     time.Duration
	Users         Users
	Games         Games
	Store         session.Store
	Registry      *registry.Registry
	Monitor       *monitor.Monitor
}

type GameServer struct {
	addr           string
	allowedOrigin  string
	heartbeat      time.Duration
	upgrader       websocket.Upgrader
	users          Users
	games          Games
	store          session.Store
	registry       *registry.Registry
	monitor        *monitor.Monitor
	sessionManager *session.Manager
	httpServer     *http.Server

	// baseCtx parents every session; cancel ends them all on shutdown.
	baseCtx context.Context
	cancel  context.CancelFunc
}

func NewGameServer(opts Options) *GameServer {
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &GameServer{
		addr:           opts.Addr,
		allowedOrigin:  opts.AllowedOrigin,
		heartbeat:      opts.Heartbeat,
		users:          opts.Users,
		games:          opts.Games,
		store:          opts.Store,
		registry:       opts.Registry,
		monitor:        opts.Monitor,
		sessionManager: session.NewManager(),
		baseCtx:        ctx,
		cancel:         cancel,
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the full route tree including CORS handling.
func (s *GameServer) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/auth", s.handleAuth).Methods(http.MethodGet)

	api := r.NewRoute().Subrouter()
	api.Use(s.identity)
	api.HandleFunc("/game/start/{templateId}/{gridSize}", s.handleStartGame).Methods(http.MethodGet)
	api.HandleFunc("/game/join/{accessCode}", s.handleJoinGame).Methods(http.MethodGet)
	api.HandleFunc("/game/leave/{templateId}", s.handleLeaveGame).Methods(http.MethodGet)
	api.HandleFunc("/game/{id}/username", s.handleUpdateUsername).Methods(http.MethodPatch)
	api.HandleFunc("/game/{id}", s.handleGameSocket).Methods(http.MethodGet)
	api.HandleFunc("/field/{id}", s.handleToggleField).Methods(http.MethodPatch)

	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{s.allowedOrigin}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPatch, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
		handlers.AllowCredentials(),
	)
	return cors(r)
}

func (s *GameServer) Start() error {
	logger.Log.Infof("Game server listening on %s", s.addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown ends every session, then stops accepting requests.
func (s *GameServer) Shutdown(ctx context.Context) error {
	s.cancel()
	s.sessionManager.CloseAll()
	return s.httpServer.Shutdown(ctx)
}

// Sessions is the number of connected sync sessions.
func (s *GameServer) Sessions() int {
	return s.sessionManager.Count()
}

func (s *GameServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || s.allowedOrigin == "*" || origin == s.allowedOrigin
}

func (s *GameServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
