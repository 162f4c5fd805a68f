package reservation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/parking-spot-reservation/internal/apperr"
	"github.com/iliyamo/parking-spot-reservation/internal/model"
	"github.com/iliyamo/parking-spot-reservation/internal/repository"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.ChangeEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev model.ChangeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) reasons() []model.Reason {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.Reason, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Reason
	}
	return out
}

type recordingScheduler struct {
	mu       sync.Mutex
	armed    map[int64]time.Time
	disarmed []int64
}

func (s *recordingScheduler) Arm(_ context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.armed == nil {
		s.armed = map[int64]time.Time{}
	}
	s.armed[id] = at
	return nil
}

func (s *recordingScheduler) Disarm(_ context.Context, id int64, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.armed, id)
	s.disarmed = append(s.disarmed, id)
	return nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	users []string
	kinds []model.Reason
}

func (n *recordingNotifier) Notify(_ context.Context, ev model.ChangeEvent, userID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.users = append(n.users, userID)
	n.kinds = append(n.kinds, ev.Reason)
	return nil
}

type fixture struct {
	store *repository.MemorySpotStore
	cat   *repository.MemoryCatalog
	pub   *recordingPublisher
	sched *recordingScheduler
	note  *recordingNotifier
	now   time.Time
	m     *Machine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: repository.NewMemorySpotStore(),
		cat:   repository.NewMemoryCatalog(),
		pub:   &recordingPublisher{},
		sched: &recordingScheduler{},
		note:  &recordingNotifier{},
		now:   time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	f.cat.PutZone(model.Zone{ID: 1, Name: "Tower", Kind: model.ZoneBuilding, TotalFloors: 3})
	f.m = New(Config{
		Spots:     f.store,
		Catalog:   f.cat,
		Publisher: f.pub,
		Scheduler: f.sched,
		Notifier:  f.note,
		Clock:     func() time.Time { return f.now },
	})
	return f
}

func (f *fixture) spot(t *testing.T, number string) model.Spot {
	t.Helper()
	s, err := f.store.Insert(context.Background(), model.Spot{ZoneID: 1, SpotNumber: number, X: 10, Y: 10})
	require.NoError(t, err)
	return s
}

var (
	u1 = Actor{UserID: "u1", Role: RoleUser}
	u2 = Actor{UserID: "u2", Role: RoleUser}
)

func TestReserveThenConfirm(t *testing.T) {
	f := newFixture(t)
	s := f.spot(t, "A1")
	ctx := context.Background()

	res, err := f.m.Reserve(ctx, u1, s.ID)
	require.NoError(t, err)
	assert.Equal(t, Committed, res.Outcome)
	assert.Equal(t, model.StatusReserved, res.Spot.Status)
	require.NotNil(t, res.Spot.ReservedBy)
	assert.Equal(t, "u1", *res.Spot.ReservedBy)
	require.NotNil(t, res.Spot.ReservedAt)
	assert.Equal(t, f.now, *res.Spot.ReservedAt)
	assert.NoError(t, res.Spot.Validate())
	assert.Contains(t, f.sched.armed, s.ID)

	f.now = f.now.Add(3 * time.Minute)
	res, err = f.m.Confirm(ctx, u1, s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusOccupied, res.Spot.Status)
	assert.Nil(t, res.Spot.ReservedAt)
	assert.Equal(t, "u1", *res.Spot.ReservedBy)
	assert.NoError(t, res.Spot.Validate())
	assert.NotContains(t, f.sched.armed, s.ID)

	assert.Equal(t, []model.Reason{model.ReasonReserve, model.ReasonConfirm}, f.pub.reasons())
	assert.Equal(t, int64(3), res.Spot.Version)
}

func TestConcurrentReserveSingleWinner(t *testing.T) {
	f := newFixture(t)
	s := f.spot(t, "A1")
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		winners   []string
		conflicts int
	)
	for _, a := range []Actor{u1, u2} {
		wg.Add(1)
		go func(a Actor) {
			defer wg.Done()
			res, err := f.m.Reserve(ctx, a, s.ID)
			mu.Lock()
			defer mu.Unlock()
			if err == nil && res.Outcome == Committed {
				winners = append(winners, a.UserID)
				return
			}
			var ce *apperr.ConflictError
			if errors.As(err, &ce) {
				conflicts++
			}
		}(a)
	}
	wg.Wait()

	require.Len(t, winners, 1)
	assert.Equal(t, 1, conflicts)
	stored, _ := f.store.Get(ctx, s.ID)
	assert.Equal(t, winners[0], *stored.ReservedBy)
}

func TestExpireThenConfirmConflicts(t *testing.T) {
	f := newFixture(t)
	s := f.spot(t, "A1")
	ctx := context.Background()

	res, err := f.m.Reserve(ctx, u1, s.ID)
	require.NoError(t, err)
	reservedAt := *res.Spot.ReservedAt

	f.now = f.now.Add(10*time.Minute + time.Second)
	exp, err := f.m.Expire(ctx, s.ID, reservedAt)
	require.NoError(t, err)
	assert.Equal(t, Committed, exp.Outcome)
	assert.Equal(t, model.StatusAvailable, exp.Spot.Status)
	assert.Nil(t, exp.Spot.ReservedBy)
	assert.Nil(t, exp.Spot.ReservedAt)

	_, err = f.m.Confirm(ctx, u1, s.ID)
	assert.True(t, apperr.IsConflict(err))

	assert.Equal(t, []model.Reason{model.ReasonReserve, model.ReasonExpire}, f.pub.reasons())
	assert.Equal(t, []string{"u1"}, f.note.users)
	assert.Equal(t, []model.Reason{model.ReasonExpire}, f.note.kinds)
}

func TestExpireSkipsWhenNotDue(t *testing.T) {
	f := newFixture(t)
	s := f.spot(t, "A1")
	ctx := context.Background()
	res, _ := f.m.Reserve(ctx, u1, s.ID)
	reservedAt := *res.Spot.ReservedAt

	t.Run("window still running", func(t *testing.T) {
		f.now = f.now.Add(9 * time.Minute)
		exp, err := f.m.Expire(ctx, s.ID, reservedAt)
		require.NoError(t, err)
		assert.Equal(t, Skipped, exp.Outcome)
	})

	t.Run("stale token", func(t *testing.T) {
		f.now = f.now.Add(time.Hour)
		exp, err := f.m.Expire(ctx, s.ID, reservedAt.Add(-time.Minute))
		require.NoError(t, err)
		assert.Equal(t, Skipped, exp.Outcome)
	})

	t.Run("deleted spot", func(t *testing.T) {
		exp, err := f.m.Expire(ctx, 999, reservedAt)
		require.NoError(t, err)
		assert.Equal(t, Skipped, exp.Outcome)
	})
}

type rearmingScheduler struct {
	recordingScheduler
	rearmed []int64
}

func (s *rearmingScheduler) Rearm(_ context.Context, id int64, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rearmed = append(s.rearmed, id)
	return nil
}

func TestEarlyExpiryRearmsWithFreshTimer(t *testing.T) {
	f := newFixture(t)
	sched := &rearmingScheduler{}
	f.m.SetScheduler(sched)
	s := f.spot(t, "A1")
	ctx := context.Background()
	res, err := f.m.Reserve(ctx, u1, s.ID)
	require.NoError(t, err)

	f.now = f.now.Add(9 * time.Minute)
	exp, err := f.m.Expire(ctx, s.ID, *res.Spot.ReservedAt)
	require.NoError(t, err)
	assert.Equal(t, Skipped, exp.Outcome)
	assert.Equal(t, []int64{s.ID}, sched.rearmed)
}

func TestExpireAfterConfirmIsNoop(t *testing.T) {
	f := newFixture(t)
	s := f.spot(t, "A1")
	ctx := context.Background()
	res, _ := f.m.Reserve(ctx, u1, s.ID)
	reservedAt := *res.Spot.ReservedAt

	f.now = f.now.Add(2 * time.Minute)
	_, err := f.m.Confirm(ctx, u1, s.ID)
	require.NoError(t, err)

	f.now = f.now.Add(20 * time.Minute)
	exp, err := f.m.Expire(ctx, s.ID, reservedAt)
	require.NoError(t, err)
	assert.Equal(t, Skipped, exp.Outcome)
	stored, _ := f.store.Get(ctx, s.ID)
	assert.Equal(t, model.StatusOccupied, stored.Status)
}

func TestLateConfirmExpiresInstead(t *testing.T) {
	f := newFixture(t)
	s := f.spot(t, "A1")
	ctx := context.Background()
	_, err := f.m.Reserve(ctx, u1, s.ID)
	require.NoError(t, err)

	// the timer has not fired but the window is over
	f.now = f.now.Add(11 * time.Minute)
	res, err := f.m.Confirm(ctx, u1, s.ID)
	assert.True(t, apperr.IsConflict(err))
	assert.Equal(t, Conflict, res.Outcome)

	stored, _ := f.store.Get(ctx, s.ID)
	assert.Equal(t, model.StatusAvailable, stored.Status)
	assert.Equal(t, []model.Reason{model.ReasonReserve, model.ReasonExpire}, f.pub.reasons())
}

func TestRetriedReserveAfterWindowConflicts(t *testing.T) {
	f := newFixture(t)
	s := f.spot(t, "A1")
	ctx := context.Background()
	_, err := f.m.Reserve(ctx, u1, s.ID)
	require.NoError(t, err)

	f.now = f.now.Add(11 * time.Minute)
	res, err := f.m.Reserve(ctx, u1, s.ID)
	require.Error(t, err)
	assert.True(t, apperr.IsConflict(err))
	assert.Equal(t, Conflict, res.Outcome)

	stored, _ := f.store.Get(ctx, s.ID)
	assert.Equal(t, model.StatusAvailable, stored.Status)
	assert.Nil(t, stored.ReservedBy)
	assert.Equal(t, []model.Reason{model.ReasonReserve, model.ReasonExpire}, f.pub.reasons())
	assert.Equal(t, []string{"u1"}, f.note.users)

	// a fresh attempt starts a new window
	res, err = f.m.Reserve(ctx, u1, s.ID)
	require.NoError(t, err)
	assert.Equal(t, Committed, res.Outcome)
	require.NotNil(t, res.Spot.ReservedAt)
	assert.True(t, res.Spot.ReservedAt.Equal(f.now))
}

func TestReserveTakesOverdueSpotOfAnotherUser(t *testing.T) {
	f := newFixture(t)
	s := f.spot(t, "A1")
	ctx := context.Background()
	_, err := f.m.Reserve(ctx, u1, s.ID)
	require.NoError(t, err)

	f.now = f.now.Add(11 * time.Minute)
	res, err := f.m.Reserve(ctx, u2, s.ID)
	require.NoError(t, err)
	assert.Equal(t, Committed, res.Outcome)
	require.NotNil(t, res.Spot.ReservedBy)
	assert.Equal(t, "u2", *res.Spot.ReservedBy)
	assert.Equal(t, []model.Reason{model.ReasonReserve, model.ReasonExpire, model.ReasonReserve}, f.pub.reasons())
}

func TestReserveReleasesOwnOverdueClaim(t *testing.T) {
	f := newFixture(t)
	a := f.spot(t, "A1")
	b := f.spot(t, "A2")
	ctx := context.Background()
	_, err := f.m.Reserve(ctx, u1, a.ID)
	require.NoError(t, err)

	f.now = f.now.Add(12 * time.Minute)
	res, err := f.m.Reserve(ctx, u1, b.ID)
	require.NoError(t, err)
	assert.Equal(t, Committed, res.Outcome)

	sa, _ := f.store.Get(ctx, a.ID)
	assert.Equal(t, model.StatusAvailable, sa.Status)
}

func TestReplays(t *testing.T) {
	f := newFixture(t)
	s := f.spot(t, "A1")
	ctx := context.Background()

	_, err := f.m.Reserve(ctx, u1, s.ID)
	require.NoError(t, err)

	res, err := f.m.Reserve(ctx, u1, s.ID)
	require.NoError(t, err)
	assert.Equal(t, Replayed, res.Outcome)

	_, err = f.m.Confirm(ctx, u1, s.ID)
	require.NoError(t, err)
	res, err = f.m.Confirm(ctx, u1, s.ID)
	require.NoError(t, err)
	assert.Equal(t, Replayed, res.Outcome)

	_, err = f.m.Leave(ctx, u1, s.ID)
	require.NoError(t, err)
	res, err = f.m.Leave(ctx, u1, s.ID)
	require.NoError(t, err)
	assert.Equal(t, Replayed, res.Outcome)

	assert.Len(t, f.pub.events, 3)
}

func TestPreconditions(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name   string
		setup  func(f *fixture, id int64)
		act    func(f *fixture, id int64) (Result, error)
		expect Outcome
	}{
		{
			name:   "confirm without reservation",
			act:    func(f *fixture, id int64) (Result, error) { return f.m.Confirm(ctx, u1, id) },
			expect: Conflict,
		},
		{
			name:   "cancel someone else's reservation",
			setup:  func(f *fixture, id int64) { _, _ = f.m.Reserve(ctx, u2, id) },
			act:    func(f *fixture, id int64) (Result, error) { return f.m.Cancel(ctx, u1, id) },
			expect: Conflict,
		},
		{
			name:   "reserve occupied spot",
			setup:  func(f *fixture, id int64) { _, _ = f.m.Reserve(ctx, u2, id); _, _ = f.m.Confirm(ctx, u2, id) },
			act:    func(f *fixture, id int64) (Result, error) { return f.m.Reserve(ctx, u1, id) },
			expect: Conflict,
		},
		{
			name:   "leave while only reserved",
			setup:  func(f *fixture, id int64) { _, _ = f.m.Reserve(ctx, u1, id) },
			act:    func(f *fixture, id int64) (Result, error) { return f.m.Leave(ctx, u1, id) },
			expect: Conflict,
		},
		{
			name:   "missing spot",
			act:    func(f *fixture, id int64) (Result, error) { return f.m.Reserve(ctx, u1, id+100) },
			expect: Rejected,
		},
		{
			name:   "anonymous actor",
			act:    func(f *fixture, id int64) (Result, error) { return f.m.Reserve(ctx, Actor{}, id) },
			expect: Rejected,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			s := f.spot(t, "A1")
			if tc.setup != nil {
				tc.setup(f, s.ID)
			}
			before, _ := f.store.Get(ctx, s.ID)
			res, err := tc.act(f, s.ID)
			assert.Error(t, err)
			assert.Equal(t, tc.expect, res.Outcome)
			after, _ := f.store.Get(ctx, s.ID)
			assert.Equal(t, before.Version, after.Version)
		})
	}
}

func TestSingleClaimPerUser(t *testing.T) {
	f := newFixture(t)
	a := f.spot(t, "A1")
	b := f.spot(t, "A2")
	ctx := context.Background()

	_, err := f.m.Reserve(ctx, u1, a.ID)
	require.NoError(t, err)

	res, err := f.m.Reserve(ctx, u1, b.ID)
	assert.True(t, apperr.IsConflict(err))
	assert.Equal(t, Conflict, res.Outcome)

	// after cancelling the first, the second is allowed
	_, err = f.m.Cancel(ctx, u1, a.ID)
	require.NoError(t, err)
	_, err = f.m.Reserve(ctx, u1, b.ID)
	assert.NoError(t, err)

	claim, err := f.m.ActiveClaim(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, claim)
	assert.Equal(t, b.ID, claim.ID)
}

func TestCommitSurvivesPublishFailure(t *testing.T) {
	f := newFixture(t)
	f.pub.err = errors.New("redis down")
	s := f.spot(t, "A1")

	res, err := f.m.Reserve(context.Background(), u1, s.ID)
	require.NoError(t, err)
	assert.Equal(t, Committed, res.Outcome)
	stored, _ := f.store.Get(context.Background(), s.ID)
	assert.Equal(t, model.StatusReserved, stored.Status)
}

func TestExpireOverdue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.spot(t, "A1")
	b := f.spot(t, "A2")

	_, err := f.m.Reserve(ctx, u1, a.ID)
	require.NoError(t, err)
	f.now = f.now.Add(5 * time.Minute)
	_, err = f.m.Reserve(ctx, u2, b.ID)
	require.NoError(t, err)

	f.now = f.now.Add(6 * time.Minute)
	n, err := f.m.ExpireOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	sa, _ := f.store.Get(ctx, a.ID)
	sb, _ := f.store.Get(ctx, b.ID)
	assert.Equal(t, model.StatusAvailable, sa.Status)
	assert.Equal(t, model.StatusReserved, sb.Status)
}

func TestAdminOperations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := Actor{UserID: "root", Role: RoleAdmin}

	t.Run("place requires admin", func(t *testing.T) {
		_, err := f.m.PlaceSpot(ctx, u1, PlaceRequest{ZoneID: 1, SpotNumber: "A1", X: 1, Y: 1})
		assert.ErrorIs(t, err, apperr.ErrForbidden)
	})

	t.Run("place validates input", func(t *testing.T) {
		_, err := f.m.PlaceSpot(ctx, admin, PlaceRequest{ZoneID: 1, SpotNumber: "A1", X: 101, Y: 1})
		assert.True(t, apperr.IsValidation(err))
		_, err = f.m.PlaceSpot(ctx, admin, PlaceRequest{ZoneID: 1, SpotNumber: "A1", FloorLevel: 3, X: 1, Y: 1})
		assert.True(t, apperr.IsValidation(err))
		_, err = f.m.PlaceSpot(ctx, admin, PlaceRequest{ZoneID: 1, SpotNumber: "  ", X: 1, Y: 1})
		assert.True(t, apperr.IsValidation(err))
		_, err = f.m.PlaceSpot(ctx, admin, PlaceRequest{ZoneID: 9, SpotNumber: "A1", X: 1, Y: 1})
		assert.True(t, apperr.IsNotFound(err))
	})

	var placed model.Spot
	t.Run("place, move, delete", func(t *testing.T) {
		res, err := f.m.PlaceSpot(ctx, admin, PlaceRequest{ZoneID: 1, FloorLevel: 2, SpotNumber: "C7-F2", X: 20, Y: 30})
		require.NoError(t, err)
		placed = res.Spot
		assert.Equal(t, model.StatusAvailable, placed.Status)
		assert.Equal(t, model.OpInsert, res.Event.Operation)

		_, err = f.m.PlaceSpot(ctx, admin, PlaceRequest{ZoneID: 1, FloorLevel: 2, SpotNumber: "C7-F2", X: 21, Y: 31})
		assert.True(t, apperr.IsConflict(err))

		res, err = f.m.MoveSpot(ctx, admin, placed.ID, 55, 60)
		require.NoError(t, err)
		assert.Equal(t, 55.0, res.Spot.X)
		assert.Equal(t, placed.Version+1, res.Spot.Version)

		_, err = f.m.Reserve(ctx, u1, placed.ID)
		require.NoError(t, err)

		res, err = f.m.DeleteSpot(ctx, admin, placed.ID)
		require.NoError(t, err)
		assert.Equal(t, model.OpDelete, res.Event.Operation)
		assert.Contains(t, f.sched.disarmed, placed.ID)
		assert.Contains(t, f.note.kinds, model.ReasonDelete)

		_, err = f.store.Get(ctx, placed.ID)
		assert.True(t, apperr.IsNotFound(err))
	})
}

func TestAvailability(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.spot(t, "A1")
	f.spot(t, "A2")
	_, err := f.m.Reserve(ctx, u1, a.ID)
	require.NoError(t, err)

	counts, err := f.m.Availability(ctx, 1)
	require.NoError(t, err)
	require.Len(t, counts, 3)
	assert.Equal(t, FloorAvailability{FloorLevel: 0, Available: 1, Reserved: 1}, counts[0])
	assert.Equal(t, FloorAvailability{FloorLevel: 1}, counts[1])
}
