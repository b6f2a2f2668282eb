// models/models.go
package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	MinGridSize = 2
	MaxGridSize = 8

	DefaultUsername  = "Anonymous player"
	AccessCodeLength = 16
)

// User is the identity row referenced by the user_id cookie.
type User struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time
}

// GameTemplate holds the pool of captions a game draws its fields from.
type GameTemplate struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Title     string    `gorm:"not null"`
	CreatedBy uuid.UUID `gorm:"type:uuid;index;not null"`
	Public    bool      `gorm:"default:false"`
	Approved  bool      `gorm:"default:false"`
	CreatedAt time.Time
}

type FieldTemplate struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	GameTemplateID uuid.UUID `gorm:"type:uuid;index;not null"`
	Caption        string    `gorm:"not null"`
}

// Game is one running bingo round. GridSize is fixed once fields exist.
type Game struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	GameTemplateID uuid.UUID `gorm:"type:uuid;index;not null"`
	AccessCode     string    `gorm:"uniqueIndex;not null"`
	GridSize       int       `gorm:"not null"`
	Closed         bool      `gorm:"default:false"`
	CreatedBy      uuid.UUID `gorm:"type:uuid;not null"`
	CreatedAt      time.Time
}

type Player struct {
	UserID    uuid.UUID `gorm:"type:uuid;primaryKey"`
	GameID    uuid.UUID `gorm:"type:uuid;primaryKey;index"`
	Username  string    `gorm:"not null"`
	CreatedAt time.Time
}

// Field is one cell of a player's card. Position is unique per (game, user)
// and always below GridSize².
type Field struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	GameID          uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_fields_game_user_position;not null"`
	UserID          uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_fields_game_user_position;not null"`
	Position        int       `gorm:"uniqueIndex:idx_fields_game_user_position;not null"`
	FieldTemplateID uuid.UUID `gorm:"type:uuid;not null"`
	Checked         bool      `gorm:"default:false"`
}

func (g *GameTemplate) BeforeCreate(tx *gorm.DB) error {
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	return nil
}

func (f *FieldTemplate) BeforeCreate(tx *gorm.DB) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	return nil
}

func (g *Game) BeforeCreate(tx *gorm.DB) error {
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	return nil
}

func (f *Field) BeforeCreate(tx *gorm.DB) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	return nil
}
