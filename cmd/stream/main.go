// Command stream runs the live poll/publish daemon: it repeatedly fetches a
// short lookback window per symbol, computes the new-or-changed bar delta,
// and broadcasts it to WebSocket subscribers on a named channel.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"fx-feed-lab/internal/fetch"
	"fx-feed-lab/internal/history"
	"fx-feed-lab/internal/observability"
	"fx-feed-lab/internal/publish"
	"fx-feed-lab/internal/storage"
	chstore "fx-feed-lab/internal/storage/clickhouse"
	"fx-feed-lab/internal/storage/migrations"
	pgstore "fx-feed-lab/internal/storage/postgres"
	"fx-feed-lab/internal/stream"
)

func main() {
	symbols := flag.String("symbols", "", "Comma-separated symbols to stream (e.g. eurusd,gbpusd)")
	interval := flag.String("interval", "1m", "Target bar timeframe (only 1m is supported)")
	source := flag.String("source", "binary", "Upstream source kind: binary or csv")
	binaryHost := flag.String("binary-host", "", "Base URL of the binary tick feed host")
	csvTemplate := flag.String("csv-template", "", "CSV fallback URL template with {symbol} {kind} {yyyy} {mm} {dd} {hh}")
	pollSeconds := flag.Int("poll-seconds", 10, "Seconds between poll cycles")
	lookbackMinutes := flag.Int("lookback-minutes", 15, "Lookback window per poll")
	limit := flag.Int("limit", 120, "Max rows per published delta")
	channel := flag.String("channel", "bars", "Publish channel name")
	listenAddr := flag.String("listen-addr", ":8080", "WebSocket subscriber listen address")
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string for bar persistence (optional)")
	clickhouseDSN := flag.String("clickhouse-dsn", "", "ClickHouse connection string for bar persistence (optional)")
	metricsAddr := flag.String("metrics-addr", ":9090", "Prometheus metrics HTTP address (empty to disable)")
	fetchTimeout := flag.Duration("fetch-timeout", 20*time.Second, "Per-request upstream HTTP timeout")
	fetchRetries := flag.Int("fetch-retries", 3, "Max attempts per upstream HTTP request")

	flag.Parse()

	logger := log.New(os.Stdout, "[stream] ", log.LstdFlags|log.Lshortfile)

	symbolList := splitList(*symbols)
	if len(symbolList) == 0 {
		logger.Fatal("No symbols specified. Use --symbols")
	}

	srcKind := history.SourceKind(*source)
	switch srcKind {
	case history.SourceBinary:
		if *binaryHost == "" {
			logger.Fatal("--binary-host is required with --source=binary")
		}
	case history.SourceCSV:
		if *csvTemplate == "" {
			logger.Fatal("--csv-template is required with --source=csv")
		}
	default:
		logger.Fatalf("Unknown source kind: %s", *source)
	}

	metrics := observability.NewMetrics("")

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", observability.Handler())
			mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("ok"))
			})
			logger.Printf("Starting metrics server on %s", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil && err != http.ErrServerClosed {
				logger.Printf("Metrics server error: %v", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan error, 1)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
			// Normal shutdown completed.
		}
	}()

	store, closeStore, err := openStore(ctx, logger, *postgresDSN, *clickhouseDSN)
	if err != nil {
		logger.Fatalf("Open bar store: %v", err)
	}
	if closeStore != nil {
		defer closeStore()
	}

	hub := publish.NewHub(nil, logger)
	defer hub.Close()

	server := &http.Server{Addr: *listenAddr, Handler: hub}
	go func() {
		logger.Printf("Starting subscriber server on %s (channel=%s)", *listenAddr, *channel)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("Subscriber server error: %v", err)
		}
	}()
	defer server.Close()

	client := fetch.NewClient(
		fetch.WithTimeout(*fetchTimeout),
		fetch.WithMaxRetries(*fetchRetries),
	)
	fetcher := history.NewFetcher(history.FetcherOptions{
		Client:      client,
		BinaryHost:  *binaryHost,
		CSVTemplate: *csvTemplate,
		Logger:      logger,
		Metrics:     metrics,
	})

	scheduler, err := stream.NewScheduler(stream.SchedulerOptions{
		Source:       fetcher,
		Symbols:      symbolList,
		SrcKind:      srcKind,
		Interval:     *interval,
		PollInterval: time.Duration(*pollSeconds) * time.Second,
		Lookback:     time.Duration(*lookbackMinutes) * time.Minute,
		Limit:        *limit,
		Channel:      *channel,
		Publisher:    hub,
		Store:        store,
		Logger:       logger,
		Metrics:      metrics,
	})
	if err != nil {
		logger.Fatalf("Create scheduler: %v", err)
	}

	err = scheduler.Run(ctx)

	done <- err
	cancel()

	if err != nil && err != context.Canceled {
		logger.Fatalf("Stream daemon failed: %v", err)
	}
	logger.Println("Shutdown complete")
}

// openStore opens the configured persistence tier; nil when no DSN is given
// (streaming works without persistence, state just resets on restart).
func openStore(ctx context.Context, logger *log.Logger, postgresDSN, clickhouseDSN string) (storage.BarStore, func(), error) {
	switch {
	case postgresDSN != "":
		pool, err := pgstore.NewPool(ctx, postgresDSN)
		if err != nil {
			return nil, nil, err
		}
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		logger.Println("Using PostgreSQL bar store")
		return pgstore.NewBarStore(pool), pool.Close, nil

	case clickhouseDSN != "":
		conn, err := migrations.RunClickhouseMigrations(ctx, clickhouseDSN)
		if err != nil {
			return nil, nil, err
		}
		logger.Println("Using ClickHouse bar store")
		return chstore.NewBarStore(conn), func() { conn.Close() }, nil

	default:
		logger.Println("No persistence DSN given; stream state resets on restart")
		return nil, nil, nil
	}
}

// splitList parses a comma-separated flag value.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
