package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wfunc/bingoserver/board"
	"github.com/wfunc/bingoserver/logger"
	"github.com/wfunc/bingoserver/models"
	"github.com/wfunc/bingoserver/network"
)

type State int

const (
	StateValidating State = iota
	StateWaiting
	StateRelevant
	StateIrrelevant
	StateFetching
	StatePushing
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateValidating:
		return "validating"
	case StateWaiting:
		return "waiting"
	case StateRelevant:
		return "relevant"
	case StateIrrelevant:
		return "irrelevant"
	case StateFetching:
		return "fetching"
	case StatePushing:
		return "pushing"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

var (
	ErrNotActivePlayer = errors.New("session: user is not a player of an open game")
	ErrSendFailed      = errors.New("session: send to client failed")
)

// Run validates the user, announces the game and then pushes fields and
// players every time the game changes. It returns when ctx is done, the
// change signal closes, a fetch fails or a send fails. A session is not
// restarted; the client reconnects.
func (s *Session) Run(ctx context.Context) error {
	defer s.setState(StateClosing)

	if err := s.validate(ctx); err != nil {
		return err
	}
	if err := s.announce(); err != nil {
		return err
	}

	for {
		relevant, err := s.awaitChange(ctx)
		if err != nil {
			return err
		}
		if !relevant {
			continue
		}
		if err := s.push(ctx); err != nil {
			s.monitor.IncPushFailures()
			return err
		}
	}
}

func (s *Session) validate(ctx context.Context) error {
	s.setState(StateValidating)

	active, err := s.store.IsActivePlayer(ctx, s.UserID, s.GameID)
	if err != nil {
		return fmt.Errorf("failed to check player %s of game %s: %w", s.UserID, s.GameID, err)
	}
	if !active {
		return ErrNotActivePlayer
	}

	game, err := s.store.GetGame(ctx, s.GameID)
	if err != nil {
		return fmt.Errorf("failed to load game %s: %w", s.GameID, err)
	}
	s.game = game
	return nil
}

func (s *Session) announce() error {
	msg, err := network.EncodeGame(models.GameView{
		ID:         s.game.ID,
		Open:       !s.game.Closed,
		AccessCode: s.game.AccessCode,
	})
	if err != nil {
		return err
	}
	if err := s.send(msg); err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	return nil
}

// awaitChange blocks for the next wake-up and reports whether this game
// changed after the watermark. A relevant change moves the watermark to the
// game's latest timestamp, so a push never repeats an older state.
func (s *Session) awaitChange(ctx context.Context) (bool, error) {
	s.setState(StateWaiting)
	if err := s.changes.Next(ctx); err != nil {
		return false, err
	}

	changedAt, ok := s.changes.LastChanged(s.GameID)

	s.mutex.Lock()
	defer s.mutex.Unlock()
	if !ok || !changedAt.After(s.watermark) {
		s.state = StateIrrelevant
		return false, nil
	}
	s.state = StateRelevant
	s.watermark = changedAt
	return true, nil
}

func (s *Session) push(ctx context.Context) error {
	start := time.Now()
	s.setState(StateFetching)

	fields, err := s.store.FetchFields(ctx, s.GameID, s.UserID)
	if err != nil {
		return fmt.Errorf("failed to fetch fields: %w", err)
	}
	grid, err := board.Build(fields, s.game.GridSize)
	if err != nil {
		return err
	}
	fieldsMsg, err := network.EncodeFields(grid)
	if err != nil {
		return err
	}

	rows, err := s.store.FetchPlayers(ctx, s.GameID)
	if err != nil {
		return fmt.Errorf("failed to fetch players: %w", err)
	}
	playersMsg, err := network.EncodePlayers(board.Players(rows, s.UserID))
	if err != nil {
		return err
	}

	s.setState(StatePushing)
	for _, msg := range [][]byte{fieldsMsg, playersMsg} {
		if err := s.send(msg); err != nil {
			return fmt.Errorf("%w: %v", ErrSendFailed, err)
		}
	}

	s.monitor.ObservePush(time.Since(start))
	logger.Log.Debugf("Session %s pushed game %s as of %s", s.ID, s.GameID, s.Watermark().Format(time.RFC3339Nano))
	return nil
}

// Watermark is the change time of the last pushed state.
func (s *Session) Watermark() time.Time {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.watermark
}
