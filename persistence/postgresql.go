// persistence/postgresql.go
package persistence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/wfunc/bingoserver/feed"
	"github.com/wfunc/bingoserver/logger"
	"gorm.io/gorm"
)

// notifyStatements make every write to fields and players announce its game
// on the channel named after the table.
var notifyStatements = []string{
	`CREATE OR REPLACE FUNCTION notify_game_update() RETURNS trigger AS $$
    DECLARE
        changed_game uuid;
    BEGIN
        IF TG_OP = 'DELETE' THEN
            changed_game := OLD.game_id;
        ELSE
            changed_game := NEW.game_id;
        END IF;
        PERFORM pg_notify(TG_ARGV[0], json_build_object('game_id', changed_game)::text);
        RETURN NULL;
    END;
    $$ LANGUAGE plpgsql`,
	`DROP TRIGGER IF EXISTS fields_update ON fields`,
	`CREATE TRIGGER fields_update AFTER INSERT OR UPDATE OR DELETE ON fields
        FOR EACH ROW EXECUTE FUNCTION notify_game_update('` + feed.FieldsChannel + `')`,
	`DROP TRIGGER IF EXISTS players_update ON players`,
	`CREATE TRIGGER players_update AFTER INSERT OR UPDATE OR DELETE ON players
        FOR EACH ROW EXECUTE FUNCTION notify_game_update('` + feed.PlayersChannel + `')`,
}

func InstallNotifyTriggers(db *gorm.DB) error {
	return db.Transaction(func(tx *gorm.DB) error {
		for _, stmt := range notifyStatements {
			if err := tx.Exec(stmt).Error; err != nil {
				return fmt.Errorf("failed to install notify trigger: %w", err)
			}
		}
		return nil
	})
}

type ListenerOptions struct {
	MinReconnect time.Duration
	MaxReconnect time.Duration
	// MaxFailures consecutive failed reconnects mean the feed is lost; 0 retries forever.
	MaxFailures  int
	PingInterval time.Duration
}

// Listener is a feed.Source backed by PostgreSQL LISTEN/NOTIFY.
type Listener struct {
	listener     *pq.Listener
	pingInterval time.Duration
	maxFailures  int

	mutex    sync.Mutex
	failures int
	lost     chan error
}

func NewListener(dsn string, opts ListenerOptions, channels ...string) (*Listener, error) {
	if opts.MinReconnect <= 0 {
		opts.MinReconnect = 10 * time.Second
	}
	if opts.MaxReconnect < opts.MinReconnect {
		opts.MaxReconnect = opts.MinReconnect
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 90 * time.Second
	}

	l := &Listener{
		pingInterval: opts.PingInterval,
		maxFailures:  opts.MaxFailures,
		lost:         make(chan error, 1),
	}
	l.listener = pq.NewListener(dsn, opts.MinReconnect, opts.MaxReconnect, l.handleEvent)

	for _, channel := range channels {
		if err := l.listener.Listen(channel); err != nil {
			l.listener.Close()
			return nil, fmt.Errorf("failed to listen on %s: %w", channel, err)
		}
	}
	return l, nil
}

func (l *Listener) handleEvent(event pq.ListenerEventType, err error) {
	switch event {
	case pq.ListenerEventConnected:
		logger.Log.Info("Change feed listener connected.")
		l.resetFailures()
	case pq.ListenerEventReconnected:
		logger.Log.Info("Change feed listener reconnected.")
		l.resetFailures()
	case pq.ListenerEventDisconnected:
		logger.Log.Warnf("Change feed listener disconnected: %v", err)
	case pq.ListenerEventConnectionAttemptFailed:
		l.mutex.Lock()
		l.failures++
		failures := l.failures
		l.mutex.Unlock()

		logger.Log.Warnf("Change feed reconnect attempt %d failed: %v", failures, err)
		if l.maxFailures > 0 && failures >= l.maxFailures {
			select {
			case l.lost <- fmt.Errorf("%d reconnect attempts failed, last error: %v", failures, err):
			default:
			}
		}
	}
}

func (l *Listener) resetFailures() {
	l.mutex.Lock()
	l.failures = 0
	l.mutex.Unlock()
}

// Receive implements feed.Source.
func (l *Listener) Receive(ctx context.Context) (*feed.Notification, error) {
	ticker := time.NewTicker(l.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case err := <-l.lost:
			return nil, fmt.Errorf("%w: %v", feed.ErrFeedLost, err)
		case n, ok := <-l.listener.Notify:
			if !ok {
				return nil, fmt.Errorf("%w: listener closed", feed.ErrFeedLost)
			}
			if n == nil {
				return nil, feed.ErrResync
			}
			return &feed.Notification{Channel: n.Channel, Payload: n.Extra}, nil
		case <-ticker.C:
			// a failed ping makes pq reconnect and report through handleEvent
			go func() {
				if err := l.listener.Ping(); err != nil {
					logger.Log.Warnf("Change feed ping failed: %v", err)
				}
			}()
		}
	}
}

func (l *Listener) Close() error {
	return l.listener.Close()
}
