// models/views.go
package models

import (
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// FieldRow is one field of a card joined with its caption, as read for display.
type FieldRow struct {
	ID       uuid.UUID
	Position int
	Checked  bool
	Caption  string
}

// PlayerRow is a player with its checked flags aggregated in position order.
type PlayerRow struct {
	UserID   uuid.UUID
	Username string
	Hits     pq.BoolArray
}

type FieldView struct {
	ID       uuid.UUID `json:"id"`
	Text     string    `json:"text"`
	Position int       `json:"position"`
	Checked  bool      `json:"checked"`
	Bingo    bool      `json:"bingo"`
}

type PlayerView struct {
	UserID   uuid.UUID `json:"userId"`
	Username string    `json:"username"`
	Bingos   int       `json:"bingos"`
	Hits     []bool    `json:"hits"`
	IsMe     bool      `json:"isMe"`
}

type GameView struct {
	ID         uuid.UUID `json:"id"`
	Open       bool      `json:"open"`
	AccessCode string    `json:"accessCode"`
}

// GameState is the full answer to a start or join request.
type GameState struct {
	ID         uuid.UUID     `json:"id"`
	Open       bool          `json:"open"`
	Continued  bool          `json:"continued"`
	AccessCode string        `json:"accessCode"`
	Fields     [][]FieldView `json:"fields"`
	Players    []PlayerView  `json:"players"`
	Username   string        `json:"username"`
}
