package board

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/wfunc/bingoserver/models"
)

var ErrGridMismatch = errors.New("board: fields do not match grid size")

// Build reshapes fields ordered by position into gridSize rows. The stored
// grid size is checked against the field count, never derived from it.
// An empty field list yields an empty grid.
func Build(fields []models.FieldRow, gridSize int) ([][]models.FieldView, error) {
	if len(fields) == 0 {
		return [][]models.FieldView{}, nil
	}
	if gridSize < 1 || gridSize*gridSize != len(fields) {
		return nil, fmt.Errorf("%w: %d fields for grid size %d", ErrGridMismatch, len(fields), gridSize)
	}

	hits := make([]bool, len(fields))
	for i, f := range fields {
		if f.Position != i {
			return nil, fmt.Errorf("%w: field %s at index %d has position %d", ErrGridMismatch, f.ID, i, f.Position)
		}
		hits[i] = f.Checked
	}

	onLine := make(map[int]bool)
	if lines, err := Lines(hits); err == nil {
		for _, line := range lines {
			for _, idx := range line {
				onLine[idx] = true
			}
		}
	}

	grid := make([][]models.FieldView, gridSize)
	for row := range grid {
		grid[row] = make([]models.FieldView, 0, gridSize)
		for col := 0; col < gridSize; col++ {
			i := row*gridSize + col
			f := fields[i]
			grid[row] = append(grid[row], models.FieldView{
				ID:       f.ID,
				Text:     f.Caption,
				Position: f.Position,
				Checked:  f.Checked,
				Bingo:    onLine[i],
			})
		}
	}
	return grid, nil
}

// Players turns player rows into views ranked by bingos, then by hits.
// Ties keep the order of rows.
func Players(rows []models.PlayerRow, me uuid.UUID) []models.PlayerView {
	players := make([]models.PlayerView, 0, len(rows))
	for _, row := range rows {
		hits := []bool(row.Hits)
		if hits == nil {
			hits = []bool{}
		}
		players = append(players, models.PlayerView{
			UserID:   row.UserID,
			Username: row.Username,
			Bingos:   Bingos(hits),
			Hits:     hits,
			IsMe:     row.UserID == me,
		})
	}

	sort.SliceStable(players, func(i, j int) bool {
		if players[i].Bingos != players[j].Bingos {
			return players[i].Bingos > players[j].Bingos
		}
		return countHits(players[i].Hits) > countHits(players[j].Hits)
	})
	return players
}

func countHits(hits []bool) int {
	n := 0
	for _, h := range hits {
		if h {
			n++
		}
	}
	return n
}
