package config

// AsynqConfig controls the durable expiry queue.
type AsynqConfig struct {
	Enabled     bool   // use asynq for expiry timers; falls back to in-process timers otherwise
	Concurrency int    // worker goroutines
	Queue       string // queue holding expiry and sweep tasks
	SweepCron   string // schedule of the overdue-reservation sweep
	RunWorker   bool   // process tasks in this process
}

// LoadAsynqConfig reads ASYNQ_* variables.
func LoadAsynqConfig() AsynqConfig {
	cfg := AsynqConfig{
		Enabled:     envBool("ASYNQ_ENABLED", true),
		Concurrency: envInt("ASYNQ_CONCURRENCY", 10),
		Queue:       envStr("ASYNQ_QUEUE", "critical"),
		SweepCron:   envStr("ASYNQ_SWEEP_CRON", "*/1 * * * *"),
		RunWorker:   envBool("ASYNQ_RUN_WORKER", true),
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return cfg
}
