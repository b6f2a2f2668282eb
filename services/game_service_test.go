package services

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/bingoserver/models"
)

func TestValidateGridSize(t *testing.T) {
	for n := models.MinGridSize; n <= models.MaxGridSize; n++ {
		assert.NoError(t, ValidateGridSize(n), "grid size %d", n)
	}
	for _, n := range []int{-1, 0, 1, models.MaxGridSize + 1, 100} {
		assert.ErrorIs(t, ValidateGridSize(n), ErrInvalidGridSize, "grid size %d", n)
	}
}

func TestGenerateAccessCode(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		code, err := GenerateAccessCode()
		require.NoError(t, err)
		assert.Len(t, code, models.AccessCodeLength)
		for _, r := range code {
			assert.True(t, strings.ContainsRune(accessCodeAlphabet, r), "unexpected rune %q", r)
		}
		assert.False(t, seen[code], "duplicate access code %s", code)
		seen[code] = true
	}
}

func TestPickTemplates(t *testing.T) {
	ids := make([]uuid.UUID, 30)
	for i := range ids {
		ids[i] = uuid.New()
	}

	picked, err := pickTemplates(ids, 25)
	require.NoError(t, err)
	assert.Len(t, picked, 25)

	distinct := make(map[uuid.UUID]bool)
	for _, id := range picked {
		assert.Contains(t, ids, id)
		distinct[id] = true
	}
	assert.Len(t, distinct, 25)
}

func TestPickTemplates_DoesNotModifyInput(t *testing.T) {
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New(), uuid.New()}
	original := append([]uuid.UUID(nil), ids...)

	_, err := pickTemplates(ids, 4)
	require.NoError(t, err)
	assert.Equal(t, original, ids)
}

func TestPickTemplates_NotEnough(t *testing.T) {
	_, err := pickTemplates([]uuid.UUID{uuid.New(), uuid.New(), uuid.New()}, 4)
	assert.ErrorIs(t, err, ErrNotEnoughFields)
}
