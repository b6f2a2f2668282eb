package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wfunc/bingoserver/logger"
	"github.com/wfunc/bingoserver/monitor"
)

const (
	FieldsChannel  = "fields_update"
	PlayersChannel = "players_update"
)

var Channels = []string{FieldsChannel, PlayersChannel}

var (
	// ErrFeedLost means the change feed will not deliver again.
	ErrFeedLost = errors.New("feed: change feed lost")
	// ErrResync means the feed reconnected and notifications may be missing.
	ErrResync = errors.New("feed: reconnected, notifications may have been missed")
	// ErrMalformed marks a notification payload that could not be parsed.
	ErrMalformed = errors.New("feed: malformed notification")
)

type Notification struct {
	Channel string
	Payload string
}

// Source delivers change notifications. Receive returns ErrResync after a
// reconnect and an error wrapping ErrFeedLost once it is done for good.
type Source interface {
	Receive(ctx context.Context) (*Notification, error)
}

// Recorder is the write side of the update registry.
type Recorder interface {
	RecordChange(gameID uuid.UUID) time.Time
	TouchAll() int
	Len() int
}

type Ingestor struct {
	source   Source
	recorder Recorder
	monitor  *monitor.Monitor
}

func NewIngestor(source Source, recorder Recorder, m *monitor.Monitor) *Ingestor {
	return &Ingestor{
		source:   source,
		recorder: recorder,
		monitor:  m,
	}
}

// Run records every notification until ctx is done (returns nil) or the
// source fails permanently (returns the error). Malformed payloads are
// logged and skipped.
func (i *Ingestor) Run(ctx context.Context) error {
	logger.Log.Infof("Change feed ingestor listening on %v", Channels)
	for {
		n, err := i.source.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Log.Info("Change feed ingestor stopped.")
				return nil
			}
			if errors.Is(err, ErrResync) {
				touched := i.recorder.TouchAll()
				logger.Log.Warnf("Change feed reconnected, re-announced %d tracked games", touched)
				continue
			}
			return err
		}

		gameID, err := ParsePayload(n.Payload)
		if err != nil {
			logger.Log.Warnf("Skipping notification on %s: %v", n.Channel, err)
			i.monitor.IncMalformedNotifications()
			continue
		}

		i.recorder.RecordChange(gameID)
		i.monitor.IncChangesRecorded(n.Channel)
		i.monitor.SetTrackedGames(i.recorder.Len())
	}
}

type payload struct {
	GameID uuid.UUID `json:"game_id"`
}

// ParsePayload extracts the game id from {"game_id": "<uuid>"}.
func ParsePayload(raw string) (uuid.UUID, error) {
	var p payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if p.GameID == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%w: missing game_id", ErrMalformed)
	}
	return p.GameID, nil
}
