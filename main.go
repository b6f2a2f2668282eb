package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wfunc/bingoserver/config"
	"github.com/wfunc/bingoserver/feed"
	"github.com/wfunc/bingoserver/logger"
	"github.com/wfunc/bingoserver/monitor"
	"github.com/wfunc/bingoserver/persistence"
	"github.com/wfunc/bingoserver/registry"
	"github.com/wfunc/bingoserver/rpc"
	"github.com/wfunc/bingoserver/server"
	"github.com/wfunc/bingoserver/services"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Initialize logger
	logger.Init()
	defer logger.Sync()

	// Load configuration
	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := logger.SetLevel(cfg.Log.Level); err != nil {
		logger.Log.Warnf("Ignoring log level: %v", err)
	}

	// Initialize Database
	pg := cfg.Database.Postgres
	dsn := persistence.DSN(pg.Host, pg.Port, pg.User, pg.Password, pg.DBName, pg.SSLMode)
	db, err := persistence.NewGormPostgreSQL(dsn)
	if err != nil {
		logger.Log.Fatalf("Failed to connect to database: %v", err)
	}
	logger.Log.Info("Database connection successful.")

	mon := monitor.NewMonitor("bingo")
	reg := registry.New(
		registry.WithCapacity(cfg.Sync.RegistryCapacity),
		registry.WithResetHook(func(dropped int) {
			logger.Log.Warnf("Update registry full, dropped %d tracked games", dropped)
			mon.IncRegistryResets()
		}),
	)

	listener, err := persistence.NewListener(dsn, persistence.ListenerOptions{
		MinReconnect: cfg.Sync.ListenerMinReconnect,
		MaxReconnect: cfg.Sync.ListenerMaxReconnect,
		MaxFailures:  cfg.Sync.ListenerMaxFailures,
		PingInterval: cfg.Sync.ListenerPingInterval,
	}, feed.Channels...)
	if err != nil {
		db.Close()
		logger.Log.Fatalf("Failed to start change feed listener: %v", err)
	}

	rpcServer, err := rpc.NewServer(cfg.Server.RPCAddress, rpc.NewSyncService(reg, mon))
	if err != nil {
		logger.Log.Fatalf("Failed to create RPC server: %v", err)
	}
	healthServer, err := rpc.NewHealthServer(cfg.Server.HealthAddress)
	if err != nil {
		logger.Log.Fatalf("Failed to create health server: %v", err)
	}

	gameServer := server.NewGameServer(server.Options{
		Addr:          cfg.Server.HTTPAddress,
		AllowedOrigin: cfg.Server.CORSAllowedOrigin,
		Heartbeat:     cfg.Server.HeartbeatInterval,
		Users:         db,
		Games:         services.NewGameService(db),
		Store:         db,
		Registry:      reg,
		Monitor:       mon,
	})

	go rpcServer.Start()
	go healthServer.Start()
	mon.StartServer(cfg.Server.MetricsAddress)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	feedErr := make(chan error, 1)
	go func() {
		feedErr <- feed.NewIngestor(listener, reg, mon).Run(ctx)
	}()

	serverErr := make(chan error, 1)
	go func() {
		logger.Log.Infof("Starting game server on %s", cfg.Server.HTTPAddress)
		serverErr <- gameServer.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-quit:
		logger.Log.Infof("Received %s, shutting down.", sig)
	case err := <-feedErr:
		// the sync core cannot work without the feed
		logger.Log.Errorf("Change feed failed: %v", err)
		reg.Close(err)
		exitCode = 1
	case err := <-serverErr:
		logger.Log.Errorf("Game server failed: %v", err)
		exitCode = 1
	}

	healthServer.SetServing(false)
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := gameServer.Shutdown(shutdownCtx); err != nil {
		logger.Log.Errorf("Game server shutdown: %v", err)
	}
	rpcServer.Stop()
	healthServer.Stop()
	mon.Stop()
	// os.Exit below skips defers
	closeAll(listener, db)

	if exitCode != 0 {
		logger.Sync()
		os.Exit(exitCode)
	}
}

// closeAll closes every closer in order and logs failures.
func closeAll(closers ...io.Closer) {
	for _, c := range closers {
		if err := c.Close(); err != nil {
			logger.Log.Warnf("Close failed: %v", err)
		}
	}
}
