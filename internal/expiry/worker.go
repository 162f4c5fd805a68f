package expiry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/iliyamo/parking-spot-reservation/internal/config"
	"github.com/iliyamo/parking-spot-reservation/internal/reservation"
)

// Sweeper releases every overdue reservation in one pass.
type Sweeper interface {
	ExpireOverdue(ctx context.Context) (int, error)
}

// Machine is what the worker needs from the reservation machine.
type Machine interface {
	Expirer
	Sweeper
}

// Worker processes expiry tasks and runs the periodic sweep.
type Worker struct {
	machine   Machine
	srv       *asynq.Server
	scheduler *asynq.Scheduler
	cfg       config.AsynqConfig
	log       *slog.Logger
}

// NewWorker builds the asynq server and cron scheduler.  Nothing runs
// until Start is called.
func NewWorker(opt asynq.RedisConnOpt, cfg config.AsynqConfig, m Machine, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues: map[string]int{
			cfg.Queue: 6,
			"default": 3,
			"low":     1,
		},
	})
	return &Worker{
		machine:   m,
		srv:       srv,
		scheduler: asynq.NewScheduler(opt, nil),
		cfg:       cfg,
		log:       log,
	}
}

// Mux routes task types to handlers.
func (w *Worker) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeSpotExpire, w.HandleExpire)
	mux.HandleFunc(TypeSpotSweep, w.HandleSweep)
	return mux
}

// Start registers the sweep and starts processing in the background.
func (w *Worker) Start() error {
	if _, err := w.scheduler.Register(w.cfg.SweepCron, asynq.NewTask(TypeSpotSweep, nil), asynq.Queue(w.cfg.Queue)); err != nil {
		return fmt.Errorf("register sweep: %w", err)
	}
	if err := w.scheduler.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	if err := w.srv.Start(w.Mux()); err != nil {
		w.scheduler.Shutdown()
		return fmt.Errorf("start asynq server: %w", err)
	}
	return nil
}

// Shutdown stops the scheduler and waits for running tasks.
func (w *Worker) Shutdown() {
	w.scheduler.Shutdown()
	w.srv.Shutdown()
}

// HandleExpire releases one reservation.
func (w *Worker) HandleExpire(ctx context.Context, t *asynq.Task) error {
	var p ExpirePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("decode %s payload: %v: %w", TypeSpotExpire, err, asynq.SkipRetry)
	}
	res, err := w.machine.Expire(ctx, p.SpotID, p.ReservedAt)
	if err != nil {
		if res.Outcome == reservation.TransientFailure {
			return err
		}
		w.log.Warn("expire task rejected", "spot_id", p.SpotID, "err", err)
		return nil
	}
	w.log.Info("expire task done", "spot_id", p.SpotID, "outcome", res.Outcome.String())
	return nil
}

// HandleSweep releases every reservation past its deadline.
func (w *Worker) HandleSweep(ctx context.Context, _ *asynq.Task) error {
	n, err := w.machine.ExpireOverdue(ctx)
	if n > 0 {
		w.log.Info("sweep released reservations", "count", n)
	}
	return err
}
