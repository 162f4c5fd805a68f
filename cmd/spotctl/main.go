// Command spotctl drives the parking API from a terminal.  Actions go
// through an optimistic zone view, so the printed state is what a map
// client would render.
//
//	spotctl -zone 1 reserve 12
//	spotctl -zone 1 nearest -gate 3
//	spotctl -zone 1 watch
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/iliyamo/parking-spot-reservation/internal/apperr"
	"github.com/iliyamo/parking-spot-reservation/internal/client"
	"github.com/iliyamo/parking-spot-reservation/internal/model"
	"github.com/iliyamo/parking-spot-reservation/internal/reconciler"
	"github.com/iliyamo/parking-spot-reservation/internal/reservation"
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: spotctl [flags] <command> [args]

commands:
  reserve|confirm|cancel|leave <spot-id>
  nearest -gate id
  copy-layout <source-floor>
  spots
  watch

flags:
`)
	flag.PrintDefaults()
}

func main() {
	api := flag.String("api", envOr("SPOT_API", "http://localhost:8080"), "API base URL")
	token := flag.String("token", os.Getenv("SPOT_TOKEN"), "access token")
	zone := flag.Int64("zone", 1, "zone id")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	c, err := client.New(*api, *token)
	if err != nil {
		fatal(err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cmd, args := flag.Arg(0), flag.Args()[1:]
	switch cmd {
	case "reserve", "confirm", "cancel", "leave":
		err = runAction(ctx, c, logger, *zone, *token, cmd, args)
	case "nearest":
		err = runNearest(ctx, c, *zone, args)
	case "copy-layout":
		err = runCopyLayout(ctx, c, *zone, args)
	case "spots":
		err = runSpots(ctx, c, *zone)
	case "watch":
		err = runWatch(ctx, c, logger, *zone, *token)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		fatal(err)
	}
}

func runAction(ctx context.Context, c *client.Client, logger *slog.Logger, zoneID int64, token, cmd string, args []string) error {
	if len(args) != 1 {
		return apperr.Invalid("spot_id", "exactly one spot id is required")
	}
	spotID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return apperr.Invalid("spot_id", "must be an integer")
	}
	action, err := reservation.ParseAction(cmd)
	if err != nil {
		return err
	}
	view := reconciler.New(zoneID, subject(token), c, c, logger)
	if err := view.Resync(ctx); err != nil {
		return err
	}
	s, err := view.Apply(ctx, action, spotID)
	if err != nil {
		return err
	}
	printSpot(s)
	return nil
}

func runNearest(ctx context.Context, c *client.Client, zoneID int64, args []string) error {
	fs := flag.NewFlagSet("nearest", flag.ContinueOnError)
	gate := fs.Int64("gate", 0, "gate id (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	m, err := c.Nearest(ctx, zoneID, *gate)
	if err != nil {
		return err
	}
	fmt.Printf("gate %q -> ", m.Gate.Name)
	printSpot(m.Spot)
	fmt.Printf("distance %.2f\n", m.Distance)
	return nil
}

func runCopyLayout(ctx context.Context, c *client.Client, zoneID int64, args []string) error {
	if len(args) != 1 {
		return apperr.Invalid("source_floor", "exactly one floor is required")
	}
	floor, err := strconv.Atoi(args[0])
	if err != nil {
		return apperr.Invalid("source_floor", "must be an integer")
	}
	rep, err := c.CopyLayout(ctx, zoneID, floor)
	if err != nil {
		return err
	}
	fmt.Printf("copied floor %d to %v: %d created, %d deleted\n", rep.SourceFloor, rep.TargetFloors, rep.Created, rep.Deleted)
	return nil
}

func runSpots(ctx context.Context, c *client.Client, zoneID int64) error {
	spots, err := c.ZoneSpots(ctx, zoneID)
	if err != nil {
		return err
	}
	for _, s := range spots {
		printSpot(s)
	}
	return nil
}

// runWatch keeps a live view of the zone and reconnects with backoff when
// the stream drops.  Each reconnect starts with a full resync.
func runWatch(ctx context.Context, c *client.Client, logger *slog.Logger, zoneID int64, token string) error {
	view := reconciler.New(zoneID, subject(token), c, c, logger)
	backoff := time.Second
	for {
		feed, err := c.Stream(ctx, zoneID)
		if err == nil {
			backoff = time.Second
			err = view.Watch(ctx, feed, func(ev model.ChangeEvent) {
				fmt.Printf("%s %s ", ev.CommittedAt.Format(time.TimeOnly), ev.Reason)
				if s, ok := view.Spot(ev.SpotID()); ok {
					printSpot(s)
				} else {
					fmt.Printf("spot %d removed\n", ev.SpotID())
				}
			})
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warn("stream offline", "zone_id", zoneID, "err", err, "retry_in", backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

// subject reads the user id from the token without verifying it; the
// server does the verification.
func subject(token string) string {
	if token == "" {
		return ""
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return ""
	}
	sub, _ := claims.GetSubject()
	return sub
}

func printSpot(s model.Spot) {
	holder := "-"
	if s.ReservedBy != nil {
		holder = *s.ReservedBy
	}
	fmt.Printf("#%d %s floor=%d %s holder=%s v%d\n", s.ID, s.SpotNumber, s.FloorLevel, s.Status, holder, s.Version)
}

func envOr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "spotctl:", err)
	os.Exit(1)
}
