// persistence/interface.go
package persistence

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/wfunc/bingoserver/models"
	"gorm.io/gorm"
)

// Database is the store behind the sync sessions and the game service.
type Database interface {
	UserExists(ctx context.Context, userID uuid.UUID) (bool, error)
	CreateUser(ctx context.Context) (uuid.UUID, error)
	IsActivePlayer(ctx context.Context, userID, gameID uuid.UUID) (bool, error)
	GetGame(ctx context.Context, gameID uuid.UUID) (*models.Game, error)
	FetchFields(ctx context.Context, gameID, userID uuid.UUID) ([]models.FieldRow, error)
	FetchPlayers(ctx context.Context, gameID uuid.UUID) ([]models.PlayerRow, error)
	Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error
	Close() error
}

// 错误定义
var (
	ErrRecordNotFound = fmt.Errorf("record not found")
)
