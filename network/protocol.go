package network

import (
	"encoding/json"

	"github.com/wfunc/bingoserver/models"
)

// Push messages are externally tagged: {"Game": {...}}, {"Fields": [[...]]},
// {"Players": [...]}.

type GameMessage struct {
	Game models.GameView `json:"Game"`
}

type FieldsMessage struct {
	Fields [][]models.FieldView `json:"Fields"`
}

type PlayersMessage struct {
	Players []models.PlayerView `json:"Players"`
}

func EncodeGame(game models.GameView) ([]byte, error) {
	return json.Marshal(GameMessage{Game: game})
}

func EncodeFields(grid [][]models.FieldView) ([]byte, error) {
	if grid == nil {
		grid = [][]models.FieldView{}
	}
	return json.Marshal(FieldsMessage{Fields: grid})
}

func EncodePlayers(players []models.PlayerView) ([]byte, error) {
	if players == nil {
		players = []models.PlayerView{}
	}
	return json.Marshal(PlayersMessage{Players: players})
}
