package main // Entry point package

import (
	"context"
	"errors"
	"log" // Logging library
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/labstack/echo/v4" // Echo web framework
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/parking-spot-reservation/internal/config" // Internal config loader
	"github.com/iliyamo/parking-spot-reservation/internal/database"
	"github.com/iliyamo/parking-spot-reservation/internal/expiry"
	"github.com/iliyamo/parking-spot-reservation/internal/handler"
	"github.com/iliyamo/parking-spot-reservation/internal/layout"
	"github.com/iliyamo/parking-spot-reservation/internal/middleware"
	"github.com/iliyamo/parking-spot-reservation/internal/model"
	"github.com/iliyamo/parking-spot-reservation/internal/nearest"
	"github.com/iliyamo/parking-spot-reservation/internal/notify"
	"github.com/iliyamo/parking-spot-reservation/internal/realtime"
	"github.com/iliyamo/parking-spot-reservation/internal/repository"
	"github.com/iliyamo/parking-spot-reservation/internal/reservation"
	"github.com/iliyamo/parking-spot-reservation/internal/router" // Internal router setup
)

func main() {
	config.LoadDotEnv()
	cfg := config.Load() // Load environment config
	rtCfg := config.LoadRealtimeConfig()
	aqCfg := config.LoadAsynqConfig()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	spots, catalog := openStore(ctx, cfg, logger)

	redisOpt := config.LoadRedisOptions()
	rdb := config.NewRedisClient(redisOpt)
	if rdb == nil {
		logger.Warn("redis unreachable; realtime stays in-process, expiry timers stay local", "addr", redisOpt.Addr)
	}

	// ---- Realtime ----
	hub := realtime.NewHub(rtCfg.BufferSize, logger)
	var relay *realtime.PubNubRelay
	if rtCfg.PubNubEnabled {
		r, err := realtime.NewPubNubRelay(realtime.PubNubConfig{
			PublishKey:   rtCfg.PubNubPublish,
			SubscribeKey: rtCfg.PubNubSubscribe,
			SecretKey:    rtCfg.PubNubSecret,
			UserID:       rtCfg.PubNubUserID,
		})
		if err != nil {
			logger.Warn("pubnub relay disabled", "err", err)
		} else {
			relay = r
		}
	}
	var publisher reservation.Publisher = hub
	if rdb != nil {
		// Every node publishes to Redis and feeds its own hub from the
		// subscription, so a viewer sees changes made on any node.
		bridge := realtime.NewRedisBridge(rdb, hub, rtCfg.ChannelPrefix, logger)
		go bridge.Run(ctx)
		publisher = realtime.Fanout{bridge, pubnubOrNil(relay)}
	} else if relay != nil {
		publisher = realtime.Fanout{hub, pubnubOrNil(relay)}
	}

	// ---- Notifications ----
	var notifier reservation.Notifier = notify.NopPublisher{}
	if cfg.NotifyEnabled {
		p := notify.NewPublisher(cfg.RabbitURL, logger)
		defer p.Close()
		go p.Run(ctx)
		notifier = p
		go func() {
			if err := notify.NewConsumer(cfg.RabbitURL, "logs", logger).Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("notification consumer stopped", "err", err)
			}
		}()
	}

	m := reservation.New(reservation.Config{
		Spots:     spots,
		Catalog:   catalog,
		Publisher: publisher,
		Notifier:  notifier,
		Window:    cfg.ReservationWindow,
		Logger:    logger,
	})

	// ---- Expiry ----
	sched, worker, closeScheduler := startExpiry(ctx, m, rdb, redisOpt, aqCfg, logger)
	defer closeScheduler()
	if n, err := expiry.Recover(ctx, spots, sched); err != nil {
		logger.Error("recover expiry timers", "err", err)
	} else if n > 0 {
		logger.Info("re-armed expiry timers", "count", n)
	}

	// ---- HTTP ----
	stream := handler.NewStreamHandler(hub, catalog, rtCfg.Heartbeat)
	if relay != nil {
		stream.PubNub = relay
	}
	e := echo.New() // Create Echo instance
	e.HideBanner = true
	e.Use(echomw.RequestID(), echomw.Logger(), echomw.Recover())
	router.RegisterRoutes(e, hub) // Register application routes
	router.RegisterAPI(e, router.Handlers{
		Spots:     handler.NewSpotHandler(m),
		Zones:     handler.NewZoneHandler(m, catalog, nearest.NewFinder(spots, catalog)),
		Admin:     handler.NewAdminHandler(m, layout.NewReplicator(spots, catalog, m, logger)),
		Stream:    stream,
		Hub:       hub,
		JWTSecret: cfg.JWTSecret,
		Limit:     middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb),
		Cache:     middleware.NewRedisCache(config.LoadCacheConfig(), rdb),
	})

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s, store=%s)", addr, cfg.Env, cfg.StoreDriver) // Print startup info
	go func() {
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) { // Start HTTP server
			log.Fatal(err) // Log and exit if server fails
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "err", err)
	}
	if worker != nil {
		worker.Shutdown()
	}
	if rdb != nil {
		_ = rdb.Close()
	}
}

// pubnubOrNil keeps a nil *PubNubRelay from becoming a non-nil interface.
// PubNub is fed straight from the commit path, so it gets its own gate.
func pubnubOrNil(r *realtime.PubNubRelay) realtime.Publisher {
	if r == nil {
		return nil
	}
	return realtime.Ordered(r)
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (repository.SpotStore, repository.Catalog) {
	if cfg.StoreDriver == config.DriverMemory {
		store := repository.NewMemorySpotStore()
		catalog := repository.NewMemoryCatalog()
		if cfg.SeedDemo {
			seedMemory(ctx, store, catalog)
		}
		logger.Info("using in-memory registry", "seeded", cfg.SeedDemo)
		return store, catalog
	}

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("db open: %v", err)
	}
	if err := database.Migrate(ctx, db, logger); err != nil {
		log.Fatalf("db migrate: %v", err)
	}
	if cfg.SeedDemo {
		if err := database.SeedDemo(ctx, db); err != nil {
			log.Fatalf("db seed: %v", err)
		}
	}
	return repository.NewSpotRepo(db), repository.NewDBCatalog(db)
}

// seedMemory mirrors database.SeedDemo: a three-floor building with one
// gate in the middle and a row of spots on the ground floor.
func seedMemory(ctx context.Context, store *repository.MemorySpotStore, catalog *repository.MemoryCatalog) {
	catalog.PutZone(model.Zone{ID: 1, Name: "Demo Garage", Kind: model.ZoneBuilding, TotalFloors: 3, CreatedAt: time.Now().UTC()})
	catalog.PutGate(model.Gate{ID: 1, ZoneID: 1, Name: "Main", X: 50, Y: 50})
	for i, n := range []string{"A1", "A2", "A3", "A4"} {
		_, _ = store.Insert(ctx, model.Spot{
			ZoneID:     1,
			SpotNumber: n,
			X:          float64(20 + 20*i),
			Y:          20,
			Width:      8,
			Height:     14,
			UpdatedAt:  time.Now().UTC(),
		})
	}
}

// startExpiry wires the durable asynq scheduler when Redis is available and
// in-process timers otherwise.
func startExpiry(ctx context.Context, m *reservation.Machine, rdb *redis.Client, opt *redis.Options, cfg config.AsynqConfig, logger *slog.Logger) (reservation.Scheduler, *expiry.Worker, func()) {
	if rdb == nil || !cfg.Enabled {
		local := expiry.NewLocalScheduler(m, nil, logger)
		m.SetScheduler(local)
		go sweepLoop(ctx, m, logger)
		return local, nil, local.Close
	}

	connOpt := config.AsynqRedisOpt(opt)
	client := asynq.NewClient(connOpt)
	inspector := asynq.NewInspector(connOpt)
	s := expiry.NewAsynqScheduler(client, inspector, m.Deadline, cfg.Queue, logger)
	m.SetScheduler(s)

	var worker *expiry.Worker
	if cfg.RunWorker {
		worker = expiry.NewWorker(connOpt, cfg, m, logger)
		if err := worker.Start(); err != nil {
			log.Fatalf("expiry worker: %v", err)
		}
	}
	return s, worker, func() {
		_ = client.Close()
		_ = inspector.Close()
	}
}

// sweepLoop backs the local timers with a periodic pass so that a timer
// lost to a panic still releases its spot.
func sweepLoop(ctx context.Context, m *reservation.Machine, logger *slog.Logger) {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n, err := m.ExpireOverdue(ctx); err != nil {
				logger.Warn("expiry sweep", "err", err)
			} else if n > 0 {
				logger.Info("expiry sweep released spots", "count", n)
			}
		}
	}
}
