// Package reservation implements the spot lifecycle: reserve, confirm,
// cancel, leave and the server-owned expiry of unconfirmed reservations.
//
// Every transition is a read followed by one conditional write.  The
// machine reads the spot, checks the precondition for the caller, and
// commits with a compare-and-set on the spot's version.  If another writer
// got there first the store rejects the write and the caller receives a
// ConflictError; no lock is held between the read and the write.
//
// After a commit the change is published for realtime viewers, the expiry
// timer is armed or disarmed, and release notifications are emitted.
// Failures in those side effects are logged and never undo the commit.
package reservation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/iliyamo/parking-spot-reservation/internal/apperr"
	"github.com/iliyamo/parking-spot-reservation/internal/model"
	"github.com/iliyamo/parking-spot-reservation/internal/repository"
)

// DefaultWindow is how long a reservation stays valid without confirmation.
const DefaultWindow = 10 * time.Minute

// Publisher broadcasts committed changes.
type Publisher interface {
	Publish(ctx context.Context, ev model.ChangeEvent) error
}

// Scheduler owns the expiry timers.  Arm and Disarm are keyed by the spot
// and the reserved_at value that started the window, so a stale timer can
// never release a newer reservation.
type Scheduler interface {
	Arm(ctx context.Context, spotID int64, reservedAt time.Time) error
	Disarm(ctx context.Context, spotID int64, reservedAt time.Time) error
}

// Rearmer is implemented by schedulers whose Arm is a no-op while the
// timer for the same reservation is still running.  Expire uses it when a
// timer fires before the deadline.
type Rearmer interface {
	Rearm(ctx context.Context, spotID int64, reservedAt time.Time) error
}

// Notifier receives releases and confirmations for out-of-band delivery.
type Notifier interface {
	Notify(ctx context.Context, ev model.ChangeEvent, userID string) error
}

// Config wires a Machine.  Spots is required; every other field has a
// working default.
type Config struct {
	Spots     repository.SpotStore
	Catalog   repository.Catalog
	Publisher Publisher
	Scheduler Scheduler
	Notifier  Notifier
	Window    time.Duration
	Clock     func() time.Time
	Logger    *slog.Logger
}

// Machine executes spot transitions.
type Machine struct {
	spots     repository.SpotStore
	catalog   repository.Catalog
	publisher Publisher
	scheduler Scheduler
	notifier  Notifier
	window    time.Duration
	clock     func() time.Time
	log       *slog.Logger
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, model.ChangeEvent) error { return nil }

type nopScheduler struct{}

func (nopScheduler) Arm(context.Context, int64, time.Time) error    { return nil }
func (nopScheduler) Disarm(context.Context, int64, time.Time) error { return nil }

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, model.ChangeEvent, string) error { return nil }

// New builds a Machine.  It panics if cfg.Spots is nil.
func New(cfg Config) *Machine {
	if cfg.Spots == nil {
		panic("nil spot store passed to reservation.New")
	}
	m := &Machine{
		spots:     cfg.Spots,
		catalog:   cfg.Catalog,
		publisher: cfg.Publisher,
		scheduler: cfg.Scheduler,
		notifier:  cfg.Notifier,
		window:    cfg.Window,
		clock:     cfg.Clock,
		log:       cfg.Logger,
	}
	if m.publisher == nil {
		m.publisher = nopPublisher{}
	}
	if m.scheduler == nil {
		m.scheduler = nopScheduler{}
	}
	if m.notifier == nil {
		m.notifier = nopNotifier{}
	}
	if m.window <= 0 {
		m.window = DefaultWindow
	}
	if m.clock == nil {
		m.clock = time.Now
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	return m
}

// SetScheduler replaces the expiry scheduler.  The asynq scheduler needs
// the machine to exist before it can be built, so wiring happens in two
// steps at startup.
func (m *Machine) SetScheduler(s Scheduler) {
	if s == nil {
		s = nopScheduler{}
	}
	m.scheduler = s
}

// Window returns the reservation window.
func (m *Machine) Window() time.Duration { return m.window }

// now truncates to microseconds so that reserved_at survives a round trip
// through a DATETIME(6) column unchanged.
func (m *Machine) now() time.Time {
	return m.clock().UTC().Truncate(time.Microsecond)
}

// Reserve moves an Available spot to Reserved for the actor.
func (m *Machine) Reserve(ctx context.Context, a Actor, spotID int64) (Result, error) {
	return m.Apply(ctx, a, spotID, ActionReserve)
}

// Confirm moves the actor's Reserved spot to Occupied.
func (m *Machine) Confirm(ctx context.Context, a Actor, spotID int64) (Result, error) {
	return m.Apply(ctx, a, spotID, ActionConfirm)
}

// Cancel releases the actor's Reserved spot.
func (m *Machine) Cancel(ctx context.Context, a Actor, spotID int64) (Result, error) {
	return m.Apply(ctx, a, spotID, ActionCancel)
}

// Leave releases the actor's Occupied spot.
func (m *Machine) Leave(ctx context.Context, a Actor, spotID int64) (Result, error) {
	return m.Apply(ctx, a, spotID, ActionLeave)
}

// classify maps an error to an outcome.
func classify(err error) Outcome {
	var (
		ce *apperr.ConflictError
		nf *apperr.NotFoundError
		ve *apperr.ValidationError
	)
	switch {
	case errors.As(err, &ce):
		return Conflict
	case errors.As(err, &nf), errors.As(err, &ve), errors.Is(err, apperr.ErrForbidden):
		return Rejected
	}
	return TransientFailure
}

func fail(cur model.Spot, err error) (Result, error) {
	return Result{Outcome: classify(err), Spot: cur}, err
}

// Apply runs one user action against a spot.
func (m *Machine) Apply(ctx context.Context, a Actor, spotID int64, action Action) (Result, error) {
	if a.UserID == "" {
		return fail(model.Spot{}, apperr.Invalid("user_id", "actor is required"))
	}
	if spotID <= 0 {
		return fail(model.Spot{}, apperr.Invalid("spot_id", "must be positive"))
	}
	cur, err := m.spots.Get(ctx, spotID)
	if err != nil {
		return fail(model.Spot{}, err)
	}

	now := m.now()
	if (action == ActionConfirm || action == ActionReserve) && m.overdue(cur, now) {
		// The timer has not fired yet but the window is over.  The holder
		// learns that the reservation lapsed; anyone else reserving gets
		// the released spot.
		holder := ""
		if cur.ReservedBy != nil {
			holder = *cur.ReservedBy
		}
		if _, err := m.Expire(ctx, cur.ID, *cur.ReservedAt); err != nil {
			return fail(cur, err)
		}
		if action == ActionConfirm || holder == a.UserID {
			return fail(cur, apperr.Conflict(spotID, "reservation expired"))
		}
		if cur, err = m.spots.Get(ctx, spotID); err != nil {
			return fail(model.Spot{}, err)
		}
	}
	next, replay, err := Plan(cur, action, a.UserID, now)
	if err != nil {
		return fail(cur, err)
	}
	if replay {
		return Result{Outcome: Replayed, Spot: cur}, nil
	}

	var guard repository.Guard
	if action == ActionReserve {
		claim, err := m.spots.ActiveClaim(ctx, a.UserID)
		if err != nil {
			return fail(cur, err)
		}
		if claim != nil && claim.ID != spotID && m.overdue(*claim, now) {
			if res, err := m.Expire(ctx, claim.ID, *claim.ReservedAt); err == nil && res.Outcome == Committed {
				claim = nil
			}
		}
		if claim != nil && claim.ID != spotID {
			return fail(cur, apperr.Conflict(spotID, fmt.Sprintf("user already holds spot %s", claim.SpotNumber)))
		}
		guard.ExclusiveClaimFor = a.UserID
	}

	committed, err := m.spots.CompareAndSwap(ctx, next, cur.Version, guard)
	if err != nil {
		return fail(cur, err)
	}

	ev := model.NewUpdate(cur, committed, action.Reason(), now)
	m.afterCommit(ctx, ev)
	return Result{Outcome: Committed, Spot: committed, Event: &ev}, nil
}

// Expire releases a reservation whose window has elapsed.  reservedAt is
// the value the timer was armed with; if the spot has since been
// confirmed, cancelled or reserved again the call does nothing.
func (m *Machine) Expire(ctx context.Context, spotID int64, reservedAt time.Time) (Result, error) {
	cur, err := m.spots.Get(ctx, spotID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return Result{Outcome: Skipped}, nil
		}
		return fail(model.Spot{}, err)
	}
	if cur.Status != model.StatusReserved || cur.ReservedAt == nil || !cur.ReservedAt.Equal(reservedAt) {
		return Result{Outcome: Skipped, Spot: cur}, nil
	}
	now := m.now()
	if now.Sub(*cur.ReservedAt) < m.window {
		// Fired early, e.g. clock skew between worker and API.
		if err := m.rearm(ctx, spotID, *cur.ReservedAt); err != nil {
			m.log.Warn("re-arm expiry failed", "spot_id", spotID, "err", err)
		}
		return Result{Outcome: Skipped, Spot: cur}, nil
	}

	next := cur.Clone()
	release(&next)
	next.Version = cur.Version + 1
	next.UpdatedAt = now

	committed, err := m.spots.CompareAndSwap(ctx, next, cur.Version, repository.Guard{})
	if err != nil {
		if apperr.IsConflict(err) {
			// The holder acted at the same moment; their write wins.
			return Result{Outcome: Skipped, Spot: cur}, nil
		}
		return fail(cur, err)
	}
	ev := model.NewUpdate(cur, committed, model.ReasonExpire, now)
	m.afterCommit(ctx, ev)
	m.log.Info("reservation expired", "spot_id", spotID, "zone_id", cur.ZoneID, "user_id", *cur.ReservedBy)
	return Result{Outcome: Committed, Spot: committed, Event: &ev}, nil
}

func (m *Machine) rearm(ctx context.Context, spotID int64, reservedAt time.Time) error {
	if r, ok := m.scheduler.(Rearmer); ok {
		return r.Rearm(ctx, spotID, reservedAt)
	}
	return m.scheduler.Arm(ctx, spotID, reservedAt)
}

// overdue reports whether s is a reservation whose window has elapsed.
func (m *Machine) overdue(s model.Spot, now time.Time) bool {
	return s.Status == model.StatusReserved && s.ReservedAt != nil && !now.Before(m.Deadline(*s.ReservedAt))
}

// Deadline returns when a reservation started at reservedAt expires.
func (m *Machine) Deadline(reservedAt time.Time) time.Time {
	return reservedAt.Add(m.window)
}

// ExpireOverdue releases every reservation already past its deadline and
// returns how many were released.  It backs the periodic sweep that
// catches timers lost to a crash.
func (m *Machine) ExpireOverdue(ctx context.Context) (int, error) {
	reserved, err := m.spots.ListReserved(ctx)
	if err != nil {
		return 0, err
	}
	now := m.now()
	released := 0
	var errs []error
	for _, s := range reserved {
		if s.ReservedAt == nil || now.Before(m.Deadline(*s.ReservedAt)) {
			continue
		}
		res, err := m.Expire(ctx, s.ID, *s.ReservedAt)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if res.Outcome == Committed {
			released++
		}
	}
	return released, errors.Join(errs...)
}

// Announce runs the post-commit side effects for a change committed
// outside the machine, such as a layout replication batch.
func (m *Machine) Announce(ctx context.Context, ev model.ChangeEvent) {
	m.afterCommit(ctx, ev)
}

func (m *Machine) afterCommit(ctx context.Context, ev model.ChangeEvent) {
	if err := m.publisher.Publish(ctx, ev); err != nil {
		m.log.Warn("publish change failed", "spot_id", ev.SpotID(), "reason", ev.Reason, "err", err)
	}

	before, after := ev.Before, ev.After
	switch {
	case after != nil && after.Status == model.StatusReserved && after.ReservedAt != nil:
		if err := m.scheduler.Arm(ctx, after.ID, *after.ReservedAt); err != nil {
			m.log.Warn("arm expiry failed", "spot_id", after.ID, "err", err)
		}
	case before != nil && before.Status == model.StatusReserved && before.ReservedAt != nil:
		if err := m.scheduler.Disarm(ctx, before.ID, *before.ReservedAt); err != nil {
			m.log.Warn("disarm expiry failed", "spot_id", before.ID, "err", err)
		}
	}

	if before == nil || before.ReservedBy == nil {
		return
	}
	switch ev.Reason {
	case model.ReasonExpire, model.ReasonCancel, model.ReasonConfirm, model.ReasonDelete, model.ReasonCopyLayout:
		if err := m.notifier.Notify(ctx, ev, *before.ReservedBy); err != nil {
			m.log.Warn("notify failed", "spot_id", before.ID, "reason", ev.Reason, "err", err)
		}
	}
}
