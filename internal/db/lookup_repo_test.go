package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"batchexports/internal/types"
)

func TestTeamRepository_GetByID(t *testing.T) {
	db := new(mockDBTX)
	repo := NewTeamRepository(db)

	db.On("QueryRow", mock.Anything, mock.Anything, []any{int64(7)}).
		Return(valuesRow(int64(7), "org-1", "Analytics", "America/New_York"))
	db.On("QueryRow", mock.Anything, mock.Anything, []any{int64(8)}).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	team, err := repo.GetByID(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "org-1", team.OrganizationID)

	_, err = repo.GetByID(context.Background(), 8)
	assert.True(t, types.IsCode(err, types.ErrCodeNotFoundTeam))
}

func TestAPIKeyRepository_GetByHash(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAPIKeyRepository(db)
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	db.On("QueryRow", mock.Anything, sqlContains("revoked_at IS NULL"), []any{"hash-ok"}).
		Return(valuesRow("key-1", "org-1", "hash-ok", []int64{7}, created, nil, nil))
	db.On("QueryRow", mock.Anything, mock.Anything, []any{"hash-revoked"}).
		Return(&mockRow{scanErr: pgx.ErrNoRows})
	db.On("QueryRow", mock.Anything, mock.Anything, []any{"hash-broken"}).
		Return(&mockRow{scanErr: errors.New("timeout")})

	key, err := repo.GetByHash(context.Background(), "hash-ok")
	require.NoError(t, err)
	assert.Equal(t, []int64{7}, key.TeamIDs)
	assert.Nil(t, key.RevokedAt)

	_, err = repo.GetByHash(context.Background(), "hash-revoked")
	assert.True(t, types.IsCode(err, types.ErrCodeAuthTokenInvalid))

	_, err = repo.GetByHash(context.Background(), "hash-broken")
	assert.True(t, types.IsCode(err, types.ErrCodeInternalDB))
}

func TestAvailabilityRepository_EarliestTimestamp(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	local := time.Date(2024, 2, 1, 10, 30, 0, 0, berlin)

	t.Run("events", func(t *testing.T) {
		db := new(mockDBTX)
		db.On("QueryRow", mock.Anything, sqlContains("MIN(timestamp) FROM events"), []any{int64(7)}).
			Return(valuesRow(&local))

		got, err := NewAvailabilityRepository(db).EarliestTimestamp(context.Background(), 7, types.ModelEvents)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, time.UTC, got.Location())
		assert.True(t, got.Equal(local))
	})

	t.Run("persons without data", func(t *testing.T) {
		db := new(mockDBTX)
		db.On("QueryRow", mock.Anything, sqlContains("FROM persons"), mock.Anything).
			Return(valuesRow(nil))

		got, err := NewAvailabilityRepository(db).EarliestTimestamp(context.Background(), 7, types.ModelPersons)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("unknown model", func(t *testing.T) {
		_, err := NewAvailabilityRepository(new(mockDBTX)).EarliestTimestamp(context.Background(), 7, types.Model("groups"))
		assert.True(t, types.IsCode(err, types.ErrCodeValidationInvalidInput))
	})
}
