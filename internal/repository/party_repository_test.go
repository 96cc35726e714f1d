package repository

import (
	"context"
	"testing"

	"github.com/nimasrn/courier-dispatch/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeliverymanRepository_Create(t *testing.T) {
	db := setupTestDB(t)
	repo := NewDeliverymanRepository(db)
	ctx := context.Background()

	dm, err := repo.Create(ctx, model.CreateDeliverymanRequest{Name: "Ana", Email: "ana@courier.test"})
	require.NoError(t, err)
	assert.NotZero(t, dm.ID)

	_, err = repo.Create(ctx, model.CreateDeliverymanRequest{Name: "Ana 2", Email: "ana@courier.test"})
	assert.ErrorIs(t, err, ErrDuplicateEmail)

	found, err := repo.FindByID(ctx, dm.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ana", found.Name)

	ok, err := repo.Exists(ctx, dm.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Exists(ctx, 999)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = repo.FindByID(ctx, 999)
	assert.ErrorIs(t, err, ErrDeliverymanNotFound)
}

func TestRecipientRepository_Create(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRecipientRepository(db)
	ctx := context.Background()

	rc, err := repo.Create(ctx, model.CreateRecipientRequest{
		Name: "Bruno", Street: "Rua A", Number: "1", State: "SP", City: "Campinas", ZipCode: "13000-000",
	})
	require.NoError(t, err)

	found, err := repo.FindByID(ctx, rc.ID)
	require.NoError(t, err)
	assert.Equal(t, "Campinas", found.City)

	ok, err := repo.Exists(ctx, rc.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = repo.FindByID(ctx, 999)
	assert.ErrorIs(t, err, ErrRecipientNotFound)
}
