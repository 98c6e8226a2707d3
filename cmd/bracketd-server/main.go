package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"bracketd/internal/config"
	"bracketd/internal/engine"
	"bracketd/internal/httpapi"
	"bracketd/internal/ledger"
	"bracketd/internal/settings"
	"bracketd/internal/util"
	"bracketd/internal/venue"
)

func main() {
	cfgPath := "config/bracketd.yaml"
	if p := os.Getenv("BRACKETD_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := settings.New(
		cfg.Settings.Path,
		time.Duration(cfg.Settings.ReloadIntervalSeconds)*time.Second,
		logger,
	)
	if err != nil {
		log.Fatalf("failed to load settings: %v", err)
	}

	lgr := ledger.New(cfg.Trading.TickValue, cfg.Trading.CommissionPerContract, logger)

	var (
		venueClient venue.Client
		alpacaVenue *venue.Alpaca
	)
	switch cfg.Venue.Provider {
	case "alpaca":
		alpacaVenue = venue.NewAlpaca(cfg.Venue, cfg.Trading, logger)
		venueClient = alpacaVenue
	default:
		sim := venue.NewSimulator(logger)
		if cfg.Venue.SimAutoFill {
			sim.EnableAutoFill()
		}
		venueClient = sim
	}

	eng := engine.New(venueClient, store, lgr, logger)
	api := httpapi.NewServer(eng, venueClient, lgr, store, logger)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: api.Handler(),
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("bracketd listening", "addr", addr, "venue", cfg.Venue.Provider)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		err := store.Watch(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if alpacaVenue != nil {
		g.Go(func() error {
			err := alpacaVenue.KeepAlive(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	if err := g.Wait(); err != nil {
		log.Fatalf("bracketd exited: %v", err)
	}
	logger.Info("bracketd stopped")
}
