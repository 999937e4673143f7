package db

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-presence/internal/models"
)

func newVehicle(id string, vt models.TypeID) models.Vehicle {
	return models.Vehicle{
		ID:           id,
		Name:         "Driver " + id,
		Email:        id + "@example.com",
		VehicleType:  vt,
		PasswordHash: "hash-" + id,
		RegisteredAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestVehicleRepository_EmptyStore(t *testing.T) {
	repo := NewVehicleRepository(NewMemoryDocuments())
	all, err := repo.All(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)

	_, err = repo.Get(context.Background(), "missing")
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestVehicleRepository_UpsertKeepsOrder(t *testing.T) {
	ctx := context.Background()
	repo := NewVehicleRepository(NewMemoryDocuments())

	require.NoError(t, repo.Upsert(ctx, newVehicle("a", models.TypeTaxi)))
	require.NoError(t, repo.Upsert(ctx, newVehicle("b", models.TypeVan)))
	require.NoError(t, repo.Upsert(ctx, newVehicle("c", models.TypeBus)))

	updated := newVehicle("b", models.TypeVan)
	updated.Name = "Renamed"
	require.NoError(t, repo.Upsert(ctx, updated))

	all, err := repo.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{all[0].ID, all[1].ID, all[2].ID})
	assert.Equal(t, "Renamed", all[1].Name)
	assert.Equal(t, "hash-b", all[1].PasswordHash, "password hash survives encoding")
}

func TestVehicleRepository_UpsertRequiresID(t *testing.T) {
	repo := NewVehicleRepository(NewMemoryDocuments())
	err := repo.Upsert(context.Background(), models.Vehicle{})
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestVehicleRepository_Delete(t *testing.T) {
	ctx := context.Background()
	repo := NewVehicleRepository(NewMemoryDocuments())
	require.NoError(t, repo.Upsert(ctx, newVehicle("a", models.TypeTaxi)))

	require.NoError(t, repo.Delete(ctx, "a"))
	assert.ErrorIs(t, repo.Delete(ctx, "a"), models.ErrNotFound)
}

func TestVehicleRepository_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewVehicleRepository(NewMemoryDocuments())
	v := newVehicle("a", models.TypeVan)
	v.Location = &models.Location{Lat: 33.3, Lng: 44.4}
	require.NoError(t, repo.Upsert(ctx, v))

	got, err := repo.Get(ctx, "a")
	require.NoError(t, err)
	got.Location.Lat = 0

	again, err := repo.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 33.3, again.Location.Lat)
}

func TestVehicleRepository_Update(t *testing.T) {
	ctx := context.Background()
	repo := NewVehicleRepository(NewMemoryDocuments())
	require.NoError(t, repo.Upsert(ctx, newVehicle("a", models.TypeVan)))

	t.Run("applies change", func(t *testing.T) {
		out, err := repo.Update(ctx, "a", func(v *models.Vehicle) error {
			v.Approved = true
			return nil
		})
		require.NoError(t, err)
		assert.True(t, out.Approved)

		stored, err := repo.Get(ctx, "a")
		require.NoError(t, err)
		assert.True(t, stored.Approved)
	})

	t.Run("fn error writes nothing", func(t *testing.T) {
		boom := errors.New("boom")
		_, err := repo.Update(ctx, "a", func(v *models.Vehicle) error {
			v.Name = "changed"
			return boom
		})
		assert.ErrorIs(t, err, boom)

		stored, err := repo.Get(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, "Driver a", stored.Name)
	})

	t.Run("id cannot change", func(t *testing.T) {
		out, err := repo.Update(ctx, "a", func(v *models.Vehicle) error {
			v.ID = "other"
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, "a", out.ID)
	})

	t.Run("missing id", func(t *testing.T) {
		_, err := repo.Update(ctx, "zzz", func(v *models.Vehicle) error { return nil })
		assert.ErrorIs(t, err, models.ErrNotFound)
	})
}

func TestVehicleRepository_FindByEmail(t *testing.T) {
	ctx := context.Background()
	repo := NewVehicleRepository(NewMemoryDocuments())
	require.NoError(t, repo.Upsert(ctx, newVehicle("a", models.TypeVan)))

	got, err := repo.FindByEmail(ctx, "A@Example.com")
	require.NoError(t, err)
	assert.Equal(t, "a", got.ID)

	_, err = repo.FindByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestVehicleRepository_CorruptStoreDegradesToEmpty(t *testing.T) {
	ctx := context.Background()
	docs := NewMemoryDocuments()
	docs.SetRaw(KeyVehicles, []byte("not bson"))
	repo := NewVehicleRepository(docs)

	all, err := repo.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	var raw []models.Vehicle
	assert.ErrorIs(t, docs.Get(ctx, KeyVehicles, &raw), models.ErrStorage)
}

func TestMemoryDocuments_MissingKey(t *testing.T) {
	var out map[string]string
	err := NewMemoryDocuments().Get(context.Background(), KeyAboutContent, &out)
	assert.ErrorIs(t, err, ErrNoDocument)
}

// flakyDocuments fails the next failGets reads with a storage error.
type flakyDocuments struct {
	*MemoryDocuments
	failGets int
}

func (f *flakyDocuments) Get(ctx context.Context, key string, out interface{}) error {
	if f.failGets > 0 {
		f.failGets--
		return fmt.Errorf("%w: %s: i/o timeout", models.ErrStorage, key)
	}
	return f.MemoryDocuments.Get(ctx, key, out)
}

func TestVehicleRepository_FailedReadNeverOverwrites(t *testing.T) {
	ctx := context.Background()
	docs := &flakyDocuments{MemoryDocuments: NewMemoryDocuments()}
	repo := NewVehicleRepository(docs)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, repo.Upsert(ctx, newVehicle(id, models.TypeVan)))
	}

	docs.failGets = 1
	err := repo.Upsert(ctx, newVehicle("new", models.TypeVan))
	assert.ErrorIs(t, err, models.ErrStorage)

	docs.failGets = 1
	assert.ErrorIs(t, repo.Delete(ctx, "a"), models.ErrStorage)

	docs.failGets = 1
	_, err = repo.Update(ctx, "b", func(v *models.Vehicle) error {
		v.Online = true
		return nil
	})
	assert.ErrorIs(t, err, models.ErrStorage)

	docs.failGets = 1
	all, err := repo.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, all, "queries degrade to an empty fleet")

	all, err = repo.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{all[0].ID, all[1].ID, all[2].ID})
	assert.False(t, all[1].Online)
}

func TestVehicleRepository_CorruptStoreRefusesWrites(t *testing.T) {
	ctx := context.Background()
	docs := NewMemoryDocuments()
	docs.SetRaw(KeyVehicles, []byte("not bson"))
	repo := NewVehicleRepository(docs)

	err := repo.Upsert(ctx, newVehicle("a", models.TypeVan))
	assert.ErrorIs(t, err, models.ErrStorage)
	assert.ErrorIs(t, err, ErrUndecodable)

	var raw []models.Vehicle
	assert.ErrorIs(t, docs.Get(ctx, KeyVehicles, &raw), ErrUndecodable, "corrupt document left in place")
}
