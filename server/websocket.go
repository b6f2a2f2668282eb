package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/wfunc/bingoserver/broadcast"
	"github.com/wfunc/bingoserver/logger"
	"github.com/wfunc/bingoserver/network"
	"github.com/wfunc/bingoserver/session"
)

// handleGameSocket upgrades to a websocket and runs one sync session until
// the client leaves, the session fails or the server shuts down.
func (s *GameServer) handleGameSocket(w http.ResponseWriter, r *http.Request) {
	gameID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, errBadRequest)
		return
	}
	userID := userFromContext(r.Context())

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Infof("Failed to upgrade connection: %v", err)
		return
	}
	wsConn := network.NewWSConnection(conn)
	wsConn.SetHeartbeat(s.heartbeat)

	ctx, cancel := context.WithCancel(s.baseCtx)
	defer cancel()

	sess := session.NewSession(uuid.New().String(), userID, gameID, wsConn, s.store, s.registry.Subscribe(), s.monitor)
	s.sessionManager.Add(sess)
	s.monitor.IncLiveSessions()
	logger.Log.Infof("New connection from %s, session ID: %s, game: %s", wsConn.RemoteAddr(), sess.GetID(), gameID)

	defer func() {
		logger.Log.Infof("Connection closed from %s, session ID: %s", wsConn.RemoteAddr(), sess.GetID())
		s.sessionManager.Remove(sess.GetID())
		s.monitor.DecLiveSessions()
		sess.Close()
	}()

	go s.readPump(sess, cancel)
	go s.keepAlive(ctx, wsConn)

	logSessionEnd(sess, sess.Run(ctx))
}

// readPump drains client frames so pongs and close frames are processed.
// Any read error means the client is gone.
func (s *GameServer) readPump(sess *session.Session, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, err := sess.Conn.ReadMessage(); err != nil {
			if !network.IsClientGone(err) {
				logger.Log.Warnf("Session %s read error: %v", sess.GetID(), err)
			}
			return
		}
	}
}

func (s *GameServer) keepAlive(ctx context.Context, conn network.Connection) {
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.Ping(); err != nil {
				return
			}
		}
	}
}

func logSessionEnd(sess *session.Session, err error) {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		logger.Log.Debugf("Session %s ended", sess.GetID())
	case errors.Is(err, session.ErrNotActivePlayer):
		logger.Log.Infof("Session %s rejected: user %s does not play game %s", sess.GetID(), sess.UserID, sess.GameID)
	case errors.Is(err, session.ErrSendFailed):
		logger.Log.Infof("Session %s lost its client: %v", sess.GetID(), err)
	case errors.Is(err, broadcast.ErrClosed):
		logger.Log.Warnf("Session %s stopped, change feed closed: %v", sess.GetID(), err)
	default:
		logger.Log.Errorf("Session %s failed: %v", sess.GetID(), err)
	}
}
