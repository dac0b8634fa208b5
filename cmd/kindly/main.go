// Spins up kindly's document client behind a Redis protocol port, for inspecting the cache and the batching.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/nobletooth/kindly/pkg/api"
	"github.com/nobletooth/kindly/pkg/config"
	"github.com/nobletooth/kindly/pkg/docstore"
	"github.com/nobletooth/kindly/pkg/port"
	"github.com/nobletooth/kindly/pkg/utils"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	printVersion   = flag.Bool("print_version", false, "Print the version and exit.")
	metricsAddress = flag.String("metrics_address", "", "The ip:port to serve /metrics on; disabled if empty.")
	seedFile       = flag.String("seed_file", "", "JSON file of documents loaded into the in-memory store on start.")
)

// newStore builds the in-memory document store, seeded from --seed_file if set.
func newStore(ctx context.Context) (*docstore.Memory, error) {
	store := docstore.NewMemory()
	if *seedFile == "" {
		return store, nil
	}
	seed, err := os.Open(*seedFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open seed file: %w", err)
	}
	defer func() { _ = seed.Close() }()
	count, err := store.Seed(ctx, seed)
	if err != nil {
		return nil, fmt.Errorf("failed to seed store from %s: %w", *seedFile, err)
	}
	slog.Info("Seeded document store.", "path", *seedFile, "documents", count)
	return store, nil
}

// serveMetrics exposes the prometheus registry until `ctx` is done.
func serveMetrics(ctx context.Context) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: *metricsAddress, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shut down the metrics server.", "error", err)
		}
	}()
	slog.Info("Serving metrics.", "address", *metricsAddress)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Metrics server stopped.", "error", err)
	}
}

func run(ctx context.Context) error {
	store, err := newStore(ctx)
	if err != nil {
		return err
	}
	opts, err := api.OptionsFromFlags()
	if err != nil {
		return err
	}
	client, err := api.New(ctx, store, opts)
	if err != nil {
		return fmt.Errorf("failed to build the document client: %w", err)
	}
	if *metricsAddress != "" {
		go serveMetrics(ctx)
	}
	return port.RunRedisServer(ctx, client)
}

func main() {
	config.InitFlags()
	utils.InitLogging()

	if *printVersion {
		slog.Info("Kindly build info.", "version", utils.Version, "commit", utils.Commit, "build", utils.BuildTime)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt)

	go func() { // Listen for OS interrupts in the background.
		sig := <-signals
		slog.Info("Received termination signal, cancelling server context.", "signal", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		slog.Error("Kindly stopped.", "error", err, "uptime", utils.Uptime())
		os.Exit(1)
	}
	slog.Info("Kindly stopped.", "uptime", utils.Uptime())
}
