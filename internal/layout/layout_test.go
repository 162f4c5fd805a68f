package layout

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/parking-spot-reservation/internal/apperr"
	"github.com/iliyamo/parking-spot-reservation/internal/model"
	"github.com/iliyamo/parking-spot-reservation/internal/repository"
	"github.com/iliyamo/parking-spot-reservation/internal/reservation"
)

var admin = reservation.Actor{UserID: "ops", Role: reservation.RoleAdmin}

type recorder struct {
	mu       sync.Mutex
	events   []model.ChangeEvent
	disarmed []int64
	notified []string
}

func (r *recorder) Publish(_ context.Context, ev model.ChangeEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) Arm(context.Context, int64, time.Time) error { return nil }

func (r *recorder) Disarm(_ context.Context, id int64, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disarmed = append(r.disarmed, id)
	return nil
}

func (r *recorder) Notify(_ context.Context, _ model.ChangeEvent, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notified = append(r.notified, userID)
	return nil
}

type fixture struct {
	store   *repository.MemorySpotStore
	catalog *repository.MemoryCatalog
	machine *reservation.Machine
	rec     *recorder
	rep     *Replicator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: repository.NewMemorySpotStore(), catalog: repository.NewMemoryCatalog(), rec: &recorder{}}
	f.catalog.PutZone(model.Zone{ID: 1, Name: "Tower", Kind: model.ZoneBuilding, TotalFloors: 3})
	f.catalog.PutZone(model.Zone{ID: 2, Name: "Lot", Kind: model.ZoneOutdoor, TotalFloors: 1})
	f.catalog.PutZone(model.Zone{ID: 3, Name: "Annex", Kind: model.ZoneBuilding, TotalFloors: 1})
	f.machine = reservation.New(reservation.Config{
		Spots: f.store, Catalog: f.catalog, Publisher: f.rec, Scheduler: f.rec, Notifier: f.rec,
	})
	f.rep = NewReplicator(f.store, f.catalog, f.machine, nil)
	return f
}

func (f *fixture) insert(t *testing.T, s model.Spot) model.Spot {
	t.Helper()
	out, err := f.store.Insert(context.Background(), s)
	require.NoError(t, err)
	return out
}

func numbers(spots []model.Spot) []string {
	out := make([]string, len(spots))
	for i, s := range spots {
		out[i] = s.SpotNumber
	}
	sort.Strings(out)
	return out
}

func TestNumberFor(t *testing.T) {
	cases := []struct {
		in    string
		floor int
		want  string
	}{
		{"A1", 1, "A1-F1"},
		{"A1", 0, "A1-G"},
		{"A1-F3", 2, "A1-F2"},
		{"A1-G", 4, "A1-F4"},
		{"A1-F12", 0, "A1-G"},
		{"B-FX", 1, "B-FX-F1"},
		{"G", 1, "G-F1"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, NumberFor(tc.in, tc.floor), tc.in)
	}
}

func TestCopyLayoutReplacesTargetFloors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.insert(t, model.Spot{ZoneID: 1, FloorLevel: 0, SpotNumber: "A1", X: 10, Y: 20, Width: 4, Height: 8, Rotation: 90})
	f.insert(t, model.Spot{ZoneID: 1, FloorLevel: 0, SpotNumber: "B1", X: 30, Y: 20, Width: 4, Height: 8})
	f.insert(t, model.Spot{ZoneID: 1, FloorLevel: 2, SpotNumber: "OLD"})
	held := f.insert(t, model.Spot{ZoneID: 1, FloorLevel: 1, SpotNumber: "X9"})

	_, err := f.machine.Reserve(ctx, reservation.Actor{UserID: "u1", Role: reservation.RoleUser}, held.ID)
	require.NoError(t, err)
	f.rec.events = nil

	rep, err := f.rep.CopyLayout(ctx, admin, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, Report{ZoneID: 1, SourceFloor: 0, TargetFloors: []int{1, 2}, Deleted: 2, Created: 4}, rep)

	floor1, err := f.store.ListByFloor(ctx, 1, 1)
	require.NoError(t, err)
	floor2, err := f.store.ListByFloor(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"A1-F1", "B1-F1"}, numbers(floor1))
	assert.Equal(t, []string{"A1-F2", "B1-F2"}, numbers(floor2))

	for _, s := range append(floor1, floor2...) {
		assert.Equal(t, model.StatusAvailable, s.Status)
		assert.Nil(t, s.ReservedBy)
		assert.Nil(t, s.ReservedAt)
		require.NoError(t, s.Validate())
	}
	for _, s := range floor1 {
		if s.SpotNumber == "A1-F1" {
			assert.Equal(t, 10.0, s.X)
			assert.Equal(t, 90.0, s.Rotation)
		}
	}

	source, err := f.store.ListByFloor(ctx, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"A1", "B1"}, numbers(source), "source floor untouched")

	claim, err := f.store.ActiveClaim(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, claim, "replaced reservation is gone")
	assert.Equal(t, []int64{held.ID}, f.rec.disarmed)
	assert.Equal(t, []string{"u1"}, f.rec.notified)

	var deletes, inserts int
	for _, ev := range f.rec.events {
		assert.Equal(t, model.ReasonCopyLayout, ev.Reason)
		switch ev.Operation {
		case model.OpDelete:
			deletes++
		case model.OpInsert:
			inserts++
		}
	}
	assert.Equal(t, 2, deletes)
	assert.Equal(t, 4, inserts)
}

func TestCopyLayoutFromUpperFloor(t *testing.T) {
	f := newFixture(t)
	f.insert(t, model.Spot{ZoneID: 1, FloorLevel: 1, SpotNumber: "C7-F1"})

	rep, err := f.rep.CopyLayout(context.Background(), admin, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2}, rep.TargetFloors)

	ground, err := f.store.ListByFloor(context.Background(), 1, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"C7-G"}, numbers(ground))
}

func TestCopyLayoutRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.insert(t, model.Spot{ZoneID: 1, FloorLevel: 0, SpotNumber: "A1"})

	_, err := f.rep.CopyLayout(ctx, reservation.Actor{UserID: "u1", Role: reservation.RoleUser}, 1, 0)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = f.rep.CopyLayout(ctx, admin, 99, 0)
	assert.True(t, apperr.IsNotFound(err))

	_, err = f.rep.CopyLayout(ctx, admin, 2, 0)
	assert.True(t, apperr.IsValidation(err), "outdoor zone")

	_, err = f.rep.CopyLayout(ctx, admin, 3, 0)
	assert.True(t, apperr.IsValidation(err), "single floor building")

	_, err = f.rep.CopyLayout(ctx, admin, 1, 3)
	assert.True(t, apperr.IsValidation(err))
	_, err = f.rep.CopyLayout(ctx, admin, 1, -1)
	assert.True(t, apperr.IsValidation(err))

	_, err = f.rep.CopyLayout(ctx, admin, 1, 2)
	assert.ErrorIs(t, err, apperr.ErrNothingToCopy)
}

func TestCopyLayoutDuplicateNumbersDeleteNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.insert(t, model.Spot{ZoneID: 1, FloorLevel: 0, SpotNumber: "A1"})
	f.insert(t, model.Spot{ZoneID: 1, FloorLevel: 0, SpotNumber: "A1-F5"})
	keep := f.insert(t, model.Spot{ZoneID: 1, FloorLevel: 1, SpotNumber: "KEEP"})

	_, err := f.rep.CopyLayout(ctx, admin, 1, 0)
	assert.True(t, apperr.IsConflict(err))

	_, err = f.store.Get(ctx, keep.ID)
	assert.NoError(t, err)
	assert.Empty(t, f.rec.events)
}

type failingStore struct {
	*repository.MemorySpotStore
	err error
}

func (s failingStore) ReplaceFloors(context.Context, int64, []int, []model.Spot) (repository.ReplaceResult, error) {
	return repository.ReplaceResult{}, s.err
}

func TestCopyLayoutSurfacesPartialFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.insert(t, model.Spot{ZoneID: 1, FloorLevel: 0, SpotNumber: "A1"})

	partial := &apperr.PartialFailureError{ZoneID: 1, Floors: []int{1, 2}, Stage: "commit", Err: errors.New("connection reset")}
	rep := NewReplicator(failingStore{f.store, partial}, f.catalog, f.machine, nil)

	_, err := rep.CopyLayout(ctx, admin, 1, 0)
	var pf *apperr.PartialFailureError
	require.ErrorAs(t, err, &pf)
	assert.Equal(t, []int{1, 2}, pf.Floors)
	assert.Empty(t, f.rec.events, "nothing is announced for an unknown outcome")
}
