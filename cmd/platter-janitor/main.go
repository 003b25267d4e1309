// README: Standalone janitor; runs the sweep scheduler, or a single sweep with --once.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"platter/internal/app"
	"platter/internal/config"
	"platter/internal/modules/janitor"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var once bool
	var interval time.Duration

	flagSet := pflag.NewFlagSet("platter-janitor", pflag.ContinueOnError)
	flagSet.BoolVar(&once, "once", false, "run a single sweep, print its report and exit")
	flagSet.DurationVar(&interval, "interval", 0, "sweep interval (default PLATTER_JANITOR_INTERVAL)")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if interval > 0 {
		cfg.Janitor.Interval = interval
		// the env lock TTL was sized for the default interval
		cfg.Janitor.LockTTL = 0
	}
	log := app.NewLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if !once {
		a.Janitor.RunScheduler(ctx)
		return nil
	}

	rep, err := a.Janitor.SweepOnce(ctx)
	if errors.Is(err, janitor.ErrLeaseHeld) {
		log.Warn("another janitor holds the sweep lease")
		return nil
	}
	out, _ := json.MarshalIndent(rep, "", "  ")
	fmt.Println(string(out))
	return err
}
