package expiry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/iliyamo/parking-spot-reservation/internal/reservation"
)

type localTimer struct {
	reservedAt time.Time
	timer      *time.Timer
}

// LocalScheduler runs expiry timers in process with time.AfterFunc.
type LocalScheduler struct {
	expirer Expirer
	clock   func() time.Time
	log     *slog.Logger

	mu     sync.Mutex
	timers map[int64]localTimer
	closed bool
}

var _ reservation.Scheduler = (*LocalScheduler)(nil)

// NewLocalScheduler creates a scheduler that calls e.Expire when a window
// elapses.  clock may be nil.
func NewLocalScheduler(e Expirer, clock func() time.Time, log *slog.Logger) *LocalScheduler {
	if clock == nil {
		clock = time.Now
	}
	if log == nil {
		log = slog.Default()
	}
	return &LocalScheduler{expirer: e, clock: clock, log: log, timers: make(map[int64]localTimer)}
}

// Arm starts or replaces the timer for a spot.
func (s *LocalScheduler) Arm(_ context.Context, spotID int64, reservedAt time.Time) error {
	delay := s.expirer.Deadline(reservedAt).Sub(s.clock())
	if delay < 0 {
		delay = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if prev, ok := s.timers[spotID]; ok {
		prev.timer.Stop()
	}
	s.timers[spotID] = localTimer{
		reservedAt: reservedAt,
		timer:      time.AfterFunc(delay, func() { s.fire(spotID, reservedAt) }),
	}
	return nil
}

// Disarm stops the timer for a spot if it belongs to reservedAt.
func (s *LocalScheduler) Disarm(_ context.Context, spotID int64, reservedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[spotID]; ok && t.reservedAt.Equal(reservedAt) {
		t.timer.Stop()
		delete(s.timers, spotID)
	}
	return nil
}

func (s *LocalScheduler) fire(spotID int64, reservedAt time.Time) {
	s.mu.Lock()
	if t, ok := s.timers[spotID]; ok && t.reservedAt.Equal(reservedAt) {
		delete(s.timers, spotID)
	}
	s.mu.Unlock()

	res, err := s.expirer.Expire(context.Background(), spotID, reservedAt)
	if err != nil {
		s.log.Error("expire reservation", "spot_id", spotID, "err", err)
		return
	}
	s.log.Debug("expiry timer fired", "spot_id", spotID, "outcome", res.Outcome.String())
}

// Pending returns the number of armed timers.
func (s *LocalScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Close stops every timer.  Later calls to Arm are ignored.
func (s *LocalScheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		t.timer.Stop()
		delete(s.timers, id)
	}
	s.closed = true
}
