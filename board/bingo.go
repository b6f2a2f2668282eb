package board

import (
	"errors"
	"fmt"
	"math"

	"github.com/wfunc/bingoserver/logger"
)

const (
	minLineGridSize = 2
	maxLineGridSize = 9

	// walks never exceed N steps; this only guards against a broken stride
	maxWalkSteps = 1000
)

var ErrInvalidLength = errors.New("board: hit vector is not a square grid of size 2..9")

type direction int

const (
	right direction = iota
	down
	downRight
	upRight
)

var directions = []direction{right, down, downRight, upRight}

func (d direction) stride(n int) int {
	switch d {
	case right:
		return 1
	case down:
		return n
	case downRight:
		return n + 1
	default:
		return -(n - 1)
	}
}

// GridSize returns N for a vector of N² cells with 2 <= N <= 9.
func GridSize(cells int) (int, error) {
	n := int(math.Sqrt(float64(cells)))
	for n*n > cells {
		n--
	}
	for (n+1)*(n+1) <= cells {
		n++
	}
	if n*n != cells || n < minLineGridSize || n > maxLineGridSize {
		return 0, fmt.Errorf("%w: %d cells", ErrInvalidLength, cells)
	}
	return n, nil
}

// Lines returns every completed line of a row-major hit vector as the flat
// indices it covers. Walks start from each border cell (first row or first
// column) in all four directions.
func Lines(hits []bool) ([][]int, error) {
	n, err := GridSize(len(hits))
	if err != nil {
		return nil, err
	}

	var lines [][]int
	for _, d := range directions {
		for start := 0; start < len(hits)-1; start++ {
			if start >= n && start%n != 0 {
				continue
			}
			if line := walk(hits, n, start, d); line != nil {
				lines = append(lines, line)
			}
		}
	}
	return lines, nil
}

// walk returns the N cells visited from start, or nil as soon as the walk
// leaves the grid, wraps a row going right, or hits an unchecked cell.
func walk(hits []bool, n, start int, d direction) []int {
	cells := make([]int, 0, n)
	idx := start
	for step := 0; step < n && step < maxWalkSteps; step++ {
		if idx < 0 || idx >= len(hits) {
			return nil
		}
		if d == right && idx != start && idx%n == 0 {
			return nil
		}
		if !hits[idx] {
			return nil
		}
		cells = append(cells, idx)

		idx += d.stride(n)
		// going up-right from the last cell of the first row lands on 0
		if d == upRight && idx == 0 {
			idx = -1
		}
	}
	if len(cells) != n {
		return nil
	}
	return cells
}

// Bingos counts completed lines. An invalid vector length is logged and
// counts as zero.
func Bingos(hits []bool) int {
	lines, err := Lines(hits)
	if err != nil {
		logger.Log.Errorf("Invalid field amount %d: %v", len(hits), err)
		return 0
	}
	return len(lines)
}
