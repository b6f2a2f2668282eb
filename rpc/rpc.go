package rpc

import (
	"errors"
	"net"
	"net/rpc"
	"time"

	"github.com/google/uuid"
	"github.com/wfunc/bingoserver/logger"
	"github.com/wfunc/bingoserver/monitor"
)

// Server manages the RPC listener.
type Server struct {
	listener net.Listener
	address  string
	rpc      *rpc.Server
}

// NewServer listens on addr and registers the sync service.
func NewServer(addr string, sync *SyncService) (*Server, error) {
	server := rpc.NewServer()
	if err := server.Register(sync); err != nil {
		return nil, err
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{
		listener: listener,
		address:  listener.Addr().String(),
		rpc:      server,
	}, nil
}

// Addr is the address actually bound, useful with port 0.
func (s *Server) Addr() string {
	return s.address
}

// Start begins listening for RPC requests.
func (s *Server) Start() {
	logger.Log.Infof("RPC server listening on %s", s.address)
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				logger.Log.Info("RPC server listener closed.")
				return
			}
			logger.Log.Errorf("RPC server accept error: %v", err)
			continue
		}
		go s.rpc.ServeConn(conn)
	}
}

// Stop closes the RPC listener.
func (s *Server) Stop() {
	if s.listener != nil {
		logger.Log.Info("Stopping RPC server.")
		s.listener.Close()
	}
}

// Tracker is the part of the update registry exposed over RPC.
type Tracker interface {
	RecordChange(gameID uuid.UUID) time.Time
	Len() int
}

// SyncService lets other processes report game changes directly, next to
// the database notification feed.
type SyncService struct {
	tracker Tracker
	monitor *monitor.Monitor
}

func NewSyncService(tracker Tracker, m *monitor.Monitor) *SyncService {
	return &SyncService{tracker: tracker, monitor: m}
}

// rpcChannel labels changes reported over RPC in the changes metric.
const rpcChannel = "rpc"

type RecordChangeArgs struct {
	GameID string
}

type RecordChangeReply struct {
	ChangedAt time.Time
}

// RecordChange must follow the net/rpc signature: exported method, exported
// arguments, second argument is a pointer, return type is error.
func (s *SyncService) RecordChange(args *RecordChangeArgs, reply *RecordChangeReply) error {
	gameID, err := uuid.Parse(args.GameID)
	if err != nil {
		return err
	}
	reply.ChangedAt = s.tracker.RecordChange(gameID)
	s.monitor.IncChangesRecorded(rpcChannel)
	s.monitor.SetTrackedGames(s.tracker.Len())
	logger.Log.Debugf("RPC recorded change of game %s", gameID)
	return nil
}

type TrackedGamesArgs struct{}

type TrackedGamesReply struct {
	Count int
}

func (s *SyncService) TrackedGames(args *TrackedGamesArgs, reply *TrackedGamesReply) error {
	reply.Count = s.tracker.Len()
	return nil
}
