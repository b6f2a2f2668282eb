package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/bingoserver/models"
	"github.com/wfunc/bingoserver/registry"
	"github.com/wfunc/bingoserver/services"
)

type fakeUsers struct {
	mutex sync.Mutex
	known map[uuid.UUID]bool
}

func newFakeUsers(ids ...uuid.UUID) *fakeUsers {
	u := &fakeUsers{known: make(map[uuid.UUID]bool)}
	for _, id := range ids {
		u.known[id] = true
	}
	return u
}

func (f *fakeUsers) UserExists(ctx context.Context, userID uuid.UUID) (bool, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.known[userID], nil
}

func (f *fakeUsers) CreateUser(ctx context.Context) (uuid.UUID, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	id := uuid.New()
	f.known[id] = true
	return id, nil
}

type fakeGames struct {
	mutex   sync.Mutex
	err     error
	left    []uuid.UUID
	toggled []uuid.UUID
	renamed string
}

func (f *fakeGames) StartGame(ctx context.Context, userID, templateID uuid.UUID, gridSize int) (*models.GameState, error) {
	if err := services.ValidateGridSize(gridSize); err != nil {
		return nil, err
	}
	if err := f.failure(); err != nil {
		return nil, err
	}
	return &models.GameState{ID: uuid.New(), Open: true, AccessCode: "code", Username: models.DefaultUsername}, nil
}

func (f *fakeGames) JoinGame(ctx context.Context, userID uuid.UUID, accessCode string) (*models.GameState, error) {
	if err := f.failure(); err != nil {
		return nil, err
	}
	return &models.GameState{ID: uuid.New(), Open: true, AccessCode: accessCode, Continued: true}, nil
}

func (f *fakeGames) LeaveGame(ctx context.Context, userID, templateID uuid.UUID) ([]uuid.UUID, error) {
	if err := f.failure(); err != nil {
		return nil, err
	}
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.left, nil
}

func (f *fakeGames) failure() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.err
}

func (f *fakeGames) UpdateUsername(ctx context.Context, userID, gameID uuid.UUID, username string) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.renamed = username
	return f.err
}

func (f *fakeGames) ToggleField(ctx context.Context, userID, fieldID uuid.UUID) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.toggled = append(f.toggled, fieldID)
	return f.err
}

type fakeStore struct {
	active bool
	gameID uuid.UUID
}

func (f *fakeStore) IsActivePlayer(ctx context.Context, userID, gameID uuid.UUID) (bool, error) {
	return f.active && gameID == f.gameID, nil
}

func (f *fakeStore) GetGame(ctx context.Context, gameID uuid.UUID) (*models.Game, error) {
	return &models.Game{ID: gameID, AccessCode: "AbCdEfGh12345678", GridSize: 2}, nil
}

func (f *fakeStore) FetchFields(ctx context.Context, gameID, userID uuid.UUID) ([]models.FieldRow, error) {
	rows := make([]models.FieldRow, 4)
	for i := range rows {
		rows[i] = models.FieldRow{ID: uuid.New(), Position: i, Caption: "field"}
	}
	return rows, nil
}

func (f *fakeStore) FetchPlayers(ctx context.Context, gameID uuid.UUID) ([]models.PlayerRow, error) {
	return nil, nil
}

type fixture struct {
	server *GameServer
	http   *httptest.Server
	userID uuid.UUID
	gameID uuid.UUID
	games  *fakeGames
	reg    *registry.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		userID: uuid.New(),
		gameID: uuid.New(),
		games:  &fakeGames{},
		reg:    registry.New(),
	}
	f.server = NewGameServer(Options{
		AllowedOrigin: "http://localhost:5173",
		Heartbeat:     time.Second,
		Users:         newFakeUsers(f.userID),
		Games:         f.games,
		Store:         &fakeStore{active: true, gameID: f.gameID},
		Registry:      f.reg,
	})
	f.http = httptest.NewServer(f.server.Handler())
	t.Cleanup(func() {
		f.server.Shutdown(context.Background())
		f.http.Close()
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body string, withCookie bool) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.http.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if withCookie {
		req.AddCookie(&http.Cookie{Name: userCookie, Value: f.userID.String()})
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeError(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body["error"]
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodGet, "/health", "", false)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuth_IssuesCookie(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodGet, "/auth", "", false)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == userCookie {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	_, err := uuid.Parse(cookie.Value)
	assert.NoError(t, err)
	assert.NotEqual(t, f.userID.String(), cookie.Value)
}

func TestAuth_KeepsKnownUser(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodGet, "/auth", "", true)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, f.userID.String(), body["userId"])
}

func TestRoutesRequireIdentity(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodGet, "/game/join/abc", "", false)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "unauthorized", decodeError(t, resp))
}

func TestStartGame(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/game/start/"+uuid.NewString()+"/5", "", true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var state models.GameState
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&state))
	assert.True(t, state.Open)
	assert.Equal(t, models.DefaultUsername, state.Username)
}

func TestStartGame_InvalidGridSize(t *testing.T) {
	f := newFixture(t)
	for _, size := range []string{"1", "9", "abc"} {
		resp := f.do(t, http.MethodGet, "/game/start/"+uuid.NewString()+"/"+size, "", true)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "grid size %s", size)
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{services.ErrNotFound, http.StatusNotFound},
		{services.ErrNotEnoughFields, http.StatusBadRequest},
		{services.ErrGameClosed, http.StatusBadRequest},
		{errors.New("connection refused"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		f := newFixture(t)
		f.games.mutex.Lock()
		f.games.err = tt.err
		f.games.mutex.Unlock()
		resp := f.do(t, http.MethodGet, "/game/join/abc", "", true)
		assert.Equal(t, tt.status, resp.StatusCode, "error %v", tt.err)
		if tt.status == http.StatusInternalServerError {
			assert.Equal(t, "Internal Server Error", decodeError(t, resp))
		}
	}
}

func TestToggleField(t *testing.T) {
	f := newFixture(t)
	fieldID := uuid.New()

	resp := f.do(t, http.MethodPatch, "/field/"+fieldID.String(), "", true)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	f.games.mutex.Lock()
	assert.Equal(t, []uuid.UUID{fieldID}, f.games.toggled)
	f.games.mutex.Unlock()

	resp = f.do(t, http.MethodPatch, "/field/not-a-uuid", "", true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUpdateUsername(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPatch, "/game/"+f.gameID.String()+"/username", `{"username":"alice"}`, true)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	f.games.mutex.Lock()
	assert.Equal(t, "alice", f.games.renamed)
	f.games.mutex.Unlock()

	resp = f.do(t, http.MethodPatch, "/game/"+f.gameID.String()+"/username", `not json`, true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func dialGame(t *testing.T, f *fixture, gameID uuid.UUID) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/game/" + gameID.String()
	header := http.Header{}
	header.Set("Cookie", userCookie+"="+f.userID.String())
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]json.RawMessage {
	t.Helper()
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestGameSocket_PushesOnChange(t *testing.T) {
	f := newFixture(t)
	conn := dialGame(t, f, f.gameID)

	assert.Contains(t, readMessage(t, conn), "Game")
	require.Eventually(t, func() bool { return f.server.Sessions() == 1 }, time.Second, time.Millisecond)

	f.reg.RecordChange(f.gameID)

	assert.Contains(t, readMessage(t, conn), "Fields")
	assert.Contains(t, readMessage(t, conn), "Players")
}

func TestGameSocket_RejectsNonPlayer(t *testing.T) {
	f := newFixture(t)
	conn := dialGame(t, f, uuid.New())

	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	require.Eventually(t, func() bool { return f.server.Sessions() == 0 }, time.Second, time.Millisecond)
}

func TestShutdownClosesSessions(t *testing.T) {
	f := newFixture(t)
	conn := dialGame(t, f, f.gameID)
	readMessage(t, conn)

	require.NoError(t, f.server.Shutdown(context.Background()))

	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestGameSocket_ClientCloseEndsSession(t *testing.T) {
	f := newFixture(t)
	conn := dialGame(t, f, f.gameID)
	readMessage(t, conn)
	require.Eventually(t, func() bool { return f.server.Sessions() == 1 }, time.Second, time.Millisecond)

	conn.Close()

	require.Eventually(t, func() bool { return f.server.Sessions() == 0 }, 2*time.Second, time.Millisecond)
}

func TestLeaveGame_EndsSessionsOfLeftGames(t *testing.T) {
	f := newFixture(t)
	f.games.mutex.Lock()
	f.games.left = []uuid.UUID{f.gameID}
	f.games.mutex.Unlock()

	conn := dialGame(t, f, f.gameID)
	readMessage(t, conn)
	require.Eventually(t, func() bool { return f.server.Sessions() == 1 }, time.Second, time.Millisecond)

	resp := f.do(t, http.MethodGet, "/game/leave/"+uuid.NewString(), "", true)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	require.Eventually(t, func() bool { return f.server.Sessions() == 0 }, 2*time.Second, time.Millisecond)
}

func TestLeaveGame_KeepsSessionsOfOtherGames(t *testing.T) {
	f := newFixture(t)
	f.games.mutex.Lock()
	f.games.left = []uuid.UUID{uuid.New()}
	f.games.mutex.Unlock()

	conn := dialGame(t, f, f.gameID)
	readMessage(t, conn)
	require.Eventually(t, func() bool { return f.server.Sessions() == 1 }, time.Second, time.Millisecond)

	resp := f.do(t, http.MethodGet, "/game/leave/"+uuid.NewString(), "", true)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	f.reg.RecordChange(f.gameID)
	assert.Contains(t, readMessage(t, conn), "Fields")
	assert.Equal(t, 1, f.server.Sessions())
}
