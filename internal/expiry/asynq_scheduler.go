package expiry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/hibiken/asynq"

	"github.com/iliyamo/parking-spot-reservation/internal/reservation"
)

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type taskDeleter interface {
	DeleteTask(queue, id string) error
}

// AsynqScheduler persists expiry timers as scheduled asynq tasks.
type AsynqScheduler struct {
	client    enqueuer
	inspector taskDeleter
	deadline  func(time.Time) time.Time
	queue     string
	log       *slog.Logger
	clock     func() time.Time
}

var (
	_ reservation.Scheduler = (*AsynqScheduler)(nil)
	_ reservation.Rearmer   = (*AsynqScheduler)(nil)
)

// NewAsynqScheduler returns a scheduler that enqueues on queue.  deadline
// maps reserved_at to the moment the task should run.
func NewAsynqScheduler(client *asynq.Client, inspector *asynq.Inspector, deadline func(time.Time) time.Time, queue string, log *slog.Logger) *AsynqScheduler {
	return newAsynqScheduler(client, inspector, deadline, queue, log)
}

func newAsynqScheduler(client enqueuer, inspector taskDeleter, deadline func(time.Time) time.Time, queue string, log *slog.Logger) *AsynqScheduler {
	if queue == "" {
		queue = "critical"
	}
	if log == nil {
		log = slog.Default()
	}
	return &AsynqScheduler{client: client, inspector: inspector, deadline: deadline, queue: queue, log: log, clock: time.Now}
}

// Arm enqueues the expiry task.  A task that already exists for the same
// reservation is left in place.
func (s *AsynqScheduler) Arm(ctx context.Context, spotID int64, reservedAt time.Time) error {
	return s.enqueue(ctx, spotID, reservedAt, TaskID(spotID, reservedAt))
}

// Rearm enqueues a fresh task for a reservation whose task ran before the
// deadline.  The running task still holds the deterministic id, so the new
// one gets a unique suffix.  Disarm cannot find it; if it fires after the
// spot changed, Expire skips it.
func (s *AsynqScheduler) Rearm(ctx context.Context, spotID int64, reservedAt time.Time) error {
	id := TaskID(spotID, reservedAt) + ":re:" + strconv.FormatInt(s.clock().UnixNano(), 10)
	return s.enqueue(ctx, spotID, reservedAt, id)
}

func (s *AsynqScheduler) enqueue(ctx context.Context, spotID int64, reservedAt time.Time, id string) error {
	task, err := NewExpireTask(spotID, reservedAt)
	if err != nil {
		return err
	}
	at := s.deadline(reservedAt)
	_, err = s.client.EnqueueContext(ctx, task,
		asynq.TaskID(id),
		asynq.ProcessAt(at),
		asynq.Queue(s.queue),
		asynq.MaxRetry(5),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue expiry for spot %d: %w", spotID, err)
	}
	s.log.Debug("expiry armed", "spot_id", spotID, "process_at", at)
	return nil
}

// Disarm deletes the scheduled task.  A task that already ran or never
// existed is not an error.
func (s *AsynqScheduler) Disarm(_ context.Context, spotID int64, reservedAt time.Time) error {
	err := s.inspector.DeleteTask(s.queue, TaskID(spotID, reservedAt))
	if err == nil || errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
		return nil
	}
	return fmt.Errorf("delete expiry for spot %d: %w", spotID, err)
}
