package reconciler

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
	"github.com/iliyamo/parking-spot-reservation/internal/realtime"
	"github.com/iliyamo/parking-spot-reservation/internal/reservation"
)

// fakeServer answers with a scripted result and lets the test observe the
// cache while a request is in flight.
type fakeServer struct {
	mu       sync.Mutex
	spots    []model.Spot
	fetches  int
	reply    func(action reservation.Action, spotID int64) (model.Spot, error)
	inFlight func()
	ids      []string
}

func (f *fakeServer) Do(_ context.Context, action reservation.Action, spotID int64, requestID string) (model.Spot, error) {
	f.mu.Lock()
	f.ids = append(f.ids, requestID)
	f.mu.Unlock()
	if f.inFlight != nil {
		f.inFlight()
	}
	return f.reply(action, spotID)
}

func (f *fakeServer) ZoneSpots(context.Context, int64) ([]model.Spot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	out := make([]model.Spot, len(f.spots))
	copy(out, f.spots)
	return out, nil
}

func available(id, version int64) model.Spot {
	return model.Spot{ID: id, ZoneID: 1, SpotNumber: "A1", Status: model.StatusAvailable, Version: version}
}

func reserved(id, version int64, user string) model.Spot {
	s := available(id, version)
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s.Status, s.ReservedBy, s.ReservedAt = model.StatusReserved, &user, &at
	return s
}

func newCache(srv *fakeServer) *Cache {
	c := New(1, "u1", srv, srv, nil)
	c.Load([]model.Spot{available(10, 1), available(11, 1)})
	return c
}

func TestApplyShowsPendingThenCommitted(t *testing.T) {
	srv := &fakeServer{}
	c := newCache(srv)

	srv.inFlight = func() {
		s, ok := c.Spot(10)
		require.True(t, ok)
		assert.Equal(t, model.StatusReserved, s.Status, "optimistic overlay visible")
		assert.True(t, c.Pending(10))
	}
	srv.reply = func(reservation.Action, int64) (model.Spot, error) { return reserved(10, 2, "u1"), nil }

	got, err := c.Apply(context.Background(), reservation.ActionReserve, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.False(t, c.Pending(10))

	s, _ := c.Spot(10)
	assert.Equal(t, model.StatusReserved, s.Status)
	assert.True(t, s.HeldBy("u1"))
	require.Len(t, srv.ids, 1)
	assert.NotEmpty(t, srv.ids[0])
}

func TestApplyRevertsOnConflict(t *testing.T) {
	srv := &fakeServer{}
	c := newCache(srv)
	srv.reply = func(_ reservation.Action, id int64) (model.Spot, error) {
		return model.Spot{}, apperr.Conflict(id, "spot was modified concurrently")
	}

	_, err := c.Apply(context.Background(), reservation.ActionReserve, 10)
	assert.True(t, apperr.IsConflict(err))

	s, _ := c.Spot(10)
	assert.Equal(t, model.StatusAvailable, s.Status, "reverted to authoritative")
	assert.Equal(t, int64(1), s.Version)
	assert.False(t, c.Pending(10))
}

func TestApplyRevertsOnTransientFailure(t *testing.T) {
	srv := &fakeServer{}
	c := newCache(srv)
	down := apperr.Unavailable("api", errors.New("connection refused"))
	srv.reply = func(reservation.Action, int64) (model.Spot, error) { return model.Spot{}, down }

	_, err := c.Apply(context.Background(), reservation.ActionReserve, 11)
	var ce *apperr.ConnectionError
	assert.ErrorAs(t, err, &ce)
	s, _ := c.Spot(11)
	assert.Equal(t, model.StatusAvailable, s.Status)
}

func TestApplyChecksLocallyFirst(t *testing.T) {
	srv := &fakeServer{reply: func(reservation.Action, int64) (model.Spot, error) {
		t.Fatal("server must not be called")
		return model.Spot{}, nil
	}}
	c := New(1, "u1", srv, srv, nil)
	c.Load([]model.Spot{reserved(10, 4, "u2")})

	_, err := c.Apply(context.Background(), reservation.ActionReserve, 10)
	assert.True(t, apperr.IsConflict(err))

	_, err = c.Apply(context.Background(), reservation.ActionReserve, 99)
	assert.True(t, apperr.IsNotFound(err))
}

func TestBroadcastDuringFlightReplacesBase(t *testing.T) {
	srv := &fakeServer{}
	c := newCache(srv)
	srv.inFlight = func() {
		// Another user won the race; their broadcast lands first.
		ev := model.NewUpdate(available(10, 1), reserved(10, 2, "u2"), model.ReasonReserve, time.Now())
		assert.True(t, c.HandleEvent(ev))
		assert.True(t, c.Pending(10), "own overlay still shown until the answer")
	}
	srv.reply = func(_ reservation.Action, id int64) (model.Spot, error) {
		return model.Spot{}, apperr.Conflict(id, "spot was modified concurrently")
	}

	_, err := c.Apply(context.Background(), reservation.ActionReserve, 10)
	require.Error(t, err)
	s, _ := c.Spot(10)
	assert.True(t, s.HeldBy("u2"))
	assert.Equal(t, int64(2), s.Version)
}

func TestMatchingBroadcastClearsPending(t *testing.T) {
	srv := &fakeServer{}
	c := newCache(srv)
	srv.inFlight = func() {
		ev := model.NewUpdate(available(10, 1), reserved(10, 2, "u1"), model.ReasonReserve, time.Now())
		c.HandleEvent(ev)
		assert.False(t, c.Pending(10))
	}
	srv.reply = func(reservation.Action, int64) (model.Spot, error) { return reserved(10, 2, "u1"), nil }

	_, err := c.Apply(context.Background(), reservation.ActionReserve, 10)
	require.NoError(t, err)
}

func TestHandleEventOrdering(t *testing.T) {
	c := newCache(&fakeServer{})
	now := time.Now()

	assert.True(t, c.HandleEvent(model.NewUpdate(available(10, 1), reserved(10, 3, "u2"), model.ReasonReserve, now)))
	assert.False(t, c.HandleEvent(model.NewUpdate(available(10, 1), available(10, 2), model.ReasonCancel, now)), "older version")
	assert.False(t, c.HandleEvent(model.NewUpdate(available(10, 1), reserved(10, 3, "u2"), model.ReasonReserve, now)), "duplicate")

	other := model.NewUpdate(available(50, 1), available(50, 2), model.ReasonMove, now)
	other.ZoneID = 2
	other.After.ZoneID = 2
	assert.False(t, c.HandleEvent(other), "other zone")

	s, _ := c.Spot(10)
	assert.Equal(t, int64(3), s.Version)
}

func TestDeleteTombstone(t *testing.T) {
	c := newCache(&fakeServer{})
	now := time.Now()

	assert.True(t, c.HandleEvent(model.NewDelete(available(10, 2), model.ReasonDelete, now)))
	_, ok := c.Spot(10)
	assert.False(t, ok)

	assert.False(t, c.HandleEvent(model.NewUpdate(available(10, 1), reserved(10, 2, "u2"), model.ReasonReserve, now)), "late update cannot resurrect")
	assert.Len(t, c.Snapshot(), 1)

	assert.True(t, c.HandleEvent(model.NewInsert(available(12, 1), model.ReasonPlace, now)))
	assert.Len(t, c.Snapshot(), 2)
}

func TestHealthTransitions(t *testing.T) {
	srv := &fakeServer{spots: []model.Spot{available(10, 5)}}
	c := New(1, "u1", srv, srv, nil)
	ctx := context.Background()
	assert.True(t, c.Stale())

	require.NoError(t, c.SetHealth(ctx, realtime.Live))
	assert.Equal(t, 1, srv.fetches)
	assert.False(t, c.Stale())

	require.NoError(t, c.SetHealth(ctx, realtime.Live))
	assert.Equal(t, 1, srv.fetches, "no resync while already live")

	require.NoError(t, c.SetHealth(ctx, realtime.Offline))
	assert.True(t, c.Stale())

	srv.spots = []model.Spot{available(10, 6), available(11, 1)}
	require.NoError(t, c.SetHealth(ctx, realtime.Live))
	assert.Equal(t, 2, srv.fetches)
	assert.False(t, c.Stale())
	snap := c.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, int64(6), snap[0].Version)
}

func TestWatch(t *testing.T) {
	srv := &fakeServer{spots: []model.Spot{available(10, 1)}}
	c := New(1, "u1", srv, srv, nil)

	feed := make(chan realtime.Envelope, 4)
	ev := model.NewUpdate(available(10, 1), reserved(10, 2, "u2"), model.ReasonReserve, time.Now())
	feed <- realtime.Envelope{Health: realtime.Live}
	feed <- realtime.Envelope{Event: &ev}
	close(feed)

	var seen []model.ChangeEvent
	err := c.Watch(context.Background(), feed, func(e model.ChangeEvent) { seen = append(seen, e) })
	require.Error(t, err)
	assert.Len(t, seen, 1)
	assert.True(t, c.Stale(), "closed feed leaves the view stale")
	assert.Equal(t, realtime.Offline, c.Health())
	s, _ := c.Spot(10)
	assert.True(t, s.HeldBy("u2"))
}
