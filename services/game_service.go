// services/game_service.go
package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	mrand "math/rand"
	"strings"

	"github.com/google/uuid"
	"github.com/wfunc/bingoserver/board"
	"github.com/wfunc/bingoserver/models"
	"github.com/wfunc/bingoserver/persistence"
	"gorm.io/gorm"
)

const accessCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// MaxUsernameLength bounds a player's display name.
const MaxUsernameLength = 64

var (
	ErrNotFound        = errors.New("not found")
	ErrGameClosed      = errors.New("game is closed")
	ErrInvalidGridSize = fmt.Errorf("grid size must be between %d and %d", models.MinGridSize, models.MaxGridSize)
	ErrNotEnoughFields = errors.New("template has not enough fields for this grid size")
	ErrInvalidUsername = errors.New("invalid username")
)

// GameService implements the game access operations. Every write ends up in
// the fields or players table, whose triggers feed the change registry.
type GameService struct {
	db persistence.Database
}

func NewGameService(db persistence.Database) *GameService {
	return &GameService{db: db}
}

// StartGame resumes the user's game of a template or creates a new one.
func (s *GameService) StartGame(ctx context.Context, userID, templateID uuid.UUID, gridSize int) (*models.GameState, error) {
	if err := ValidateGridSize(gridSize); err != nil {
		return nil, err
	}

	var state *models.GameState
	err := s.db.Transaction(ctx, func(tx *gorm.DB) error {
		var game models.Game
		err := tx.Table("games AS g").
			Select("g.*").
			Joins("JOIN players AS p ON p.game_id = g.id").
			Where("g.game_template_id = ? AND p.user_id = ?", templateID, userID).
			Take(&game).Error
		continued := err == nil
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		if continued && game.GridSize != gridSize && game.CreatedBy == userID {
			// cards of the old size are regenerated as their owners come back
			if err := tx.Model(&game).Update("grid_size", gridSize).Error; err != nil {
				return err
			}
			game.GridSize = gridSize
		}

		if !continued {
			var template models.GameTemplate
			err := tx.Where("id = ? AND (created_by = ? OR approved = ?)", templateID, userID, true).
				Take(&template).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("game template %s: %w", templateID, ErrNotFound)
			}
			if err != nil {
				return err
			}

			code, err := GenerateAccessCode()
			if err != nil {
				return err
			}
			game = models.Game{
				GameTemplateID: templateID,
				AccessCode:     code,
				GridSize:       gridSize,
				CreatedBy:      userID,
			}
			if err := tx.Create(&game).Error; err != nil {
				return err
			}
		}

		if err := prepareFields(tx, &game, userID); err != nil {
			return err
		}
		state, err = buildState(tx, &game, userID, continued)
		return err
	})
	return state, err
}

// JoinGame adds the user to the game behind accessCode.
func (s *GameService) JoinGame(ctx context.Context, userID uuid.UUID, accessCode string) (*models.GameState, error) {
	var state *models.GameState
	err := s.db.Transaction(ctx, func(tx *gorm.DB) error {
		var game models.Game
		err := tx.Where("access_code = ?", accessCode).Take(&game).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("access code %q: %w", accessCode, ErrNotFound)
		}
		if err != nil {
			return err
		}

		var players int64
		if err := tx.Model(&models.Player{}).
			Where("game_id = ? AND user_id = ?", game.ID, userID).
			Count(&players).Error; err != nil {
			return err
		}
		if game.Closed && players == 0 {
			return ErrGameClosed
		}
		if !game.Closed {
			if err := prepareFields(tx, &game, userID); err != nil {
				return err
			}
		}

		state, err = buildState(tx, &game, userID, players > 0)
		return err
	})
	return state, err
}

// LeaveGame removes the user from every game of a template and returns the
// ids of those games.
func (s *GameService) LeaveGame(ctx context.Context, userID, templateID uuid.UUID) ([]uuid.UUID, error) {
	var left []uuid.UUID
	err := s.db.Transaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Model(&models.Player{}).
			Where("user_id = ? AND game_id IN (?)", userID,
				tx.Model(&models.Game{}).Select("id").Where("game_template_id = ?", templateID)).
			Pluck("game_id", &left).Error; err != nil {
			return err
		}
		if len(left) == 0 {
			return nil
		}
		if err := tx.Where("game_id IN ? AND user_id = ?", left, userID).Delete(&models.Player{}).Error; err != nil {
			return err
		}
		return tx.Where("game_id IN ? AND user_id = ?", left, userID).Delete(&models.Field{}).Error
	})
	return left, err
}

func (s *GameService) UpdateUsername(ctx context.Context, userID, gameID uuid.UUID, username string) error {
	username = strings.TrimSpace(username)
	if username == "" || len([]rune(username)) > MaxUsernameLength {
		return ErrInvalidUsername
	}

	return s.db.Transaction(ctx, func(tx *gorm.DB) error {
		result := tx.Model(&models.Player{}).
			Where("user_id = ? AND game_id = ?", userID, gameID).
			Update("username", username)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("player of game %s: %w", gameID, ErrNotFound)
		}
		return nil
	})
}

// ToggleField flips a field the user owns in an open game.
func (s *GameService) ToggleField(ctx context.Context, userID, fieldID uuid.UUID) error {
	return s.db.Transaction(ctx, func(tx *gorm.DB) error {
		open := tx.Model(&models.Game{}).Select("id").Where("closed = ?", false)
		result := tx.Model(&models.Field{}).
			Where("id = ? AND user_id = ? AND game_id IN (?)", fieldID, userID, open).
			Update("checked", gorm.Expr("NOT checked"))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("field %s: %w", fieldID, ErrNotFound)
		}
		return nil
	})
}

func ValidateGridSize(n int) error {
	if n < models.MinGridSize || n > models.MaxGridSize {
		return ErrInvalidGridSize
	}
	return nil
}

// GenerateAccessCode returns a random alphanumeric code.
func GenerateAccessCode() (string, error) {
	limit := big.NewInt(int64(len(accessCodeAlphabet)))
	var sb strings.Builder
	sb.Grow(models.AccessCodeLength)
	for i := 0; i < models.AccessCodeLength; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("failed to generate access code: %w", err)
		}
		sb.WriteByte(accessCodeAlphabet[n.Int64()])
	}
	return sb.String(), nil
}

// pickTemplates returns n distinct ids in random order.
func pickTemplates(ids []uuid.UUID, n int) ([]uuid.UUID, error) {
	if len(ids) < n {
		return nil, fmt.Errorf("%w: need %d, have %d", ErrNotEnoughFields, n, len(ids))
	}
	picked := make([]uuid.UUID, len(ids))
	copy(picked, ids)
	mrand.Shuffle(len(picked), func(i, j int) { picked[i], picked[j] = picked[j], picked[i] })
	return picked[:n], nil
}

// prepareFields makes sure the user has a full card for the game. A card of
// the wrong size is thrown away together with the player row, so the player
// starts over under the default name.
func prepareFields(tx *gorm.DB, game *models.Game, userID uuid.UUID) error {
	cells := game.GridSize * game.GridSize

	var count int64
	if err := tx.Model(&models.Field{}).
		Where("game_id = ? AND user_id = ?", game.ID, userID).
		Count(&count).Error; err != nil {
		return err
	}
	if count == int64(cells) {
		return nil
	}

	var ids []uuid.UUID
	if err := tx.Model(&models.FieldTemplate{}).
		Where("game_template_id = ?", game.GameTemplateID).
		Pluck("id", &ids).Error; err != nil {
		return err
	}
	picked, err := pickTemplates(ids, cells)
	if err != nil {
		return err
	}

	if err := tx.Where("game_id = ? AND user_id = ?", game.ID, userID).Delete(&models.Field{}).Error; err != nil {
		return err
	}
	if err := tx.Where("game_id = ? AND user_id = ?", game.ID, userID).Delete(&models.Player{}).Error; err != nil {
		return err
	}
	player := models.Player{UserID: userID, GameID: game.ID, Username: models.DefaultUsername}
	if err := tx.Create(&player).Error; err != nil {
		return err
	}

	fields := make([]models.Field, cells)
	for i, templateID := range picked {
		fields[i] = models.Field{
			GameID:          game.ID,
			UserID:          userID,
			Position:        i,
			FieldTemplateID: templateID,
		}
	}
	return tx.Create(&fields).Error
}

func buildState(tx *gorm.DB, game *models.Game, userID uuid.UUID, continued bool) (*models.GameState, error) {
	rows, err := persistence.QueryFields(tx, game.ID, userID)
	if err != nil {
		return nil, err
	}
	grid, err := board.Build(rows, game.GridSize)
	if err != nil {
		return nil, err
	}

	playerRows, err := persistence.QueryPlayers(tx, game.ID)
	if err != nil {
		return nil, err
	}
	players := board.Players(playerRows, userID)

	username := models.DefaultUsername
	for _, p := range players {
		if p.IsMe {
			username = p.Username
			break
		}
	}

	return &models.GameState{
		ID:         game.ID,
		Open:       !game.Closed,
		Continued:  continued,
		AccessCode: game.AccessCode,
		Fields:     grid,
		Players:    players,
		Username:   username,
	}, nil
}
