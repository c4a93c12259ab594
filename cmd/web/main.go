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

	"github.com/lightningnetwork/lnd/ticker"

	gobtcmini "github.com/btcmini/go-btcmini"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := gobtcmini.LoadConfig(os.Getenv(gobtcmini.ConfigPathEnv))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := gobtcmini.ConfigureLogging(cfg.Logging); err != nil {
		log.Fatalf("configure logging: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, gobtcmini.AppOptions{})
	stop()
	if err != nil {
		log.Printf("%v", err)
		os.Exit(1)
	}
}

// run serves the app until ctx is done. The app is closed on every return
// path.
func run(ctx context.Context, cfg gobtcmini.Config, opts gobtcmini.AppOptions) error {
	logger := gobtcmini.NewLogger("main")

	app, err := gobtcmini.NewApp(cfg, opts)
	if err != nil {
		return fmt.Errorf("build app: %w", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Printf("close app: %v", err)
		}
	}()

	if err := app.Load(ctx); err != nil {
		return err
	}

	poller := gobtcmini.NewFeedPoller(app.Price, app.Fees, ticker.New(cfg.Feeds.PollInterval), app.Hub.Publish)
	poller.Start()
	defer poller.Stop()

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           gobtcmini.NewServer(app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Printf("shutdown failed: %v", err)
		}
	}()

	logger.Printf("listening at http://localhost%s", cfg.Server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
