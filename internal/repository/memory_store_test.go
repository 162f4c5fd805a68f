package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/parking-spot-reservation/internal/apperr"
	"github.com/iliyamo/parking-spot-reservation/internal/model"
)

func seed(t *testing.T, m *MemorySpotStore, zoneID int64, floor int, number string) model.Spot {
	t.Helper()
	s, err := m.Insert(context.Background(), model.Spot{ZoneID: zoneID, FloorLevel: floor, SpotNumber: number, X: 10, Y: 10})
	require.NoError(t, err)
	return s
}

func TestMemoryInsertRejectsDuplicateNumber(t *testing.T) {
	m := NewMemorySpotStore()
	seed(t, m, 1, 0, "A1")
	_, err := m.Insert(context.Background(), model.Spot{ZoneID: 1, FloorLevel: 0, SpotNumber: "A1"})
	assert.True(t, apperr.IsConflict(err))

	// same number on another floor is fine
	_, err = m.Insert(context.Background(), model.Spot{ZoneID: 1, FloorLevel: 1, SpotNumber: "A1"})
	assert.NoError(t, err)
}

func TestMemoryCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	m := NewMemorySpotStore()
	s := seed(t, m, 1, 0, "A1")
	user := "u1"
	now := time.Now()

	next := s
	next.Status = model.StatusReserved
	next.ReservedBy = &user
	next.ReservedAt = &now
	next.Version = s.Version + 1

	t.Run("stale version conflicts", func(t *testing.T) {
		_, err := m.CompareAndSwap(ctx, next, s.Version+5, Guard{})
		assert.True(t, apperr.IsConflict(err))
	})
	t.Run("matching version commits", func(t *testing.T) {
		got, err := m.CompareAndSwap(ctx, next, s.Version, Guard{ExclusiveClaimFor: user})
		require.NoError(t, err)
		assert.Equal(t, s.Version+1, got.Version)
		stored, _ := m.Get(ctx, s.ID)
		assert.Equal(t, model.StatusReserved, stored.Status)
	})
	t.Run("guard blocks second claim", func(t *testing.T) {
		other := seed(t, m, 1, 0, "A2")
		n := other
		n.Status = model.StatusReserved
		n.ReservedBy = &user
		n.ReservedAt = &now
		n.Version++
		_, err := m.CompareAndSwap(ctx, n, other.Version, Guard{ExclusiveClaimFor: user})
		assert.True(t, apperr.IsConflict(err))
	})
	t.Run("active claim lookup", func(t *testing.T) {
		c, err := m.ActiveClaim(ctx, user)
		require.NoError(t, err)
		require.NotNil(t, c)
		assert.Equal(t, s.ID, c.ID)

		none, err := m.ActiveClaim(ctx, "nobody")
		require.NoError(t, err)
		assert.Nil(t, none)
	})
}

func TestMemoryCompareAndSwapSingleWinner(t *testing.T) {
	ctx := context.Background()
	m := NewMemorySpotStore()
	s := seed(t, m, 1, 0, "A1")

	var wg sync.WaitGroup
	wins := make(chan string, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := string(rune('a' + i))
			now := time.Now()
			next := s
			next.Status = model.StatusReserved
			next.ReservedBy = &user
			next.ReservedAt = &now
			next.Version = s.Version + 1
			if _, err := m.CompareAndSwap(ctx, next, s.Version, Guard{ExclusiveClaimFor: user}); err == nil {
				wins <- user
			}
		}(i)
	}
	wg.Wait()
	close(wins)
	assert.Len(t, wins, 1)
}

func TestMemoryReplaceFloors(t *testing.T) {
	ctx := context.Background()
	m := NewMemorySpotStore()
	seed(t, m, 1, 0, "A1-G")
	old := seed(t, m, 1, 1, "OLD-F1")
	seed(t, m, 2, 1, "OTHER-ZONE")

	res, err := m.ReplaceFloors(ctx, 1, []int{1}, []model.Spot{
		{FloorLevel: 1, SpotNumber: "A1-F1"},
	})
	require.NoError(t, err)
	require.Len(t, res.Deleted, 1)
	assert.Equal(t, old.ID, res.Deleted[0].ID)
	require.Len(t, res.Created, 1)
	assert.Equal(t, "A1-F1", res.Created[0].SpotNumber)

	floor1, _ := m.ListByFloor(ctx, 1, 1)
	require.Len(t, floor1, 1)
	assert.Equal(t, "A1-F1", floor1[0].SpotNumber)

	other, _ := m.ListByZone(ctx, 2)
	assert.Len(t, other, 1)
}

func TestMemoryReplaceFloorsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	m := NewMemorySpotStore()
	seed(t, m, 1, 1, "KEEP-F1")

	_, err := m.ReplaceFloors(ctx, 1, []int{1}, []model.Spot{
		{FloorLevel: 1, SpotNumber: "A1-F1"},
		{FloorLevel: 1, SpotNumber: "A1-F1"},
	})
	assert.True(t, apperr.IsConflict(err))

	floor1, _ := m.ListByFloor(ctx, 1, 1)
	require.Len(t, floor1, 1)
	assert.Equal(t, "KEEP-F1", floor1[0].SpotNumber)
}

func TestMemoryCatalog(t *testing.T) {
	c := NewMemoryCatalog()
	c.PutZone(model.Zone{ID: 1, Name: "Tower", Kind: model.ZoneBuilding, TotalFloors: 3})
	c.PutGate(model.Gate{ID: 10, ZoneID: 1, X: 50, Y: 50})

	z, err := c.Zone(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 3, z.FloorCount())

	_, err = c.Zone(context.Background(), 2)
	assert.True(t, apperr.IsNotFound(err))

	gates, _ := c.Gates(context.Background(), 1)
	assert.Len(t, gates, 1)
}
