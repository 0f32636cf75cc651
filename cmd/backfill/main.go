// Command backfill performs a one-shot historical range fetch and writes the
// resulting 1-minute bars into a bar store.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"fx-feed-lab/internal/fetch"
	"fx-feed-lab/internal/history"
	"fx-feed-lab/internal/observability"
	"fx-feed-lab/internal/storage"
	chstore "fx-feed-lab/internal/storage/clickhouse"
	"fx-feed-lab/internal/storage/memory"
	"fx-feed-lab/internal/storage/migrations"
	pgstore "fx-feed-lab/internal/storage/postgres"
)

func main() {
	symbols := flag.String("symbols", "", "Comma-separated symbols to backfill")
	interval := flag.String("interval", "1m", "Target bar timeframe (only 1m is supported)")
	source := flag.String("source", "binary", "Upstream source kind: binary or csv")
	binaryHost := flag.String("binary-host", "", "Base URL of the binary tick feed host")
	csvTemplate := flag.String("csv-template", "", "CSV fallback URL template with {symbol} {kind} {yyyy} {mm} {dd} {hh}")
	fromTime := flag.String("from-time", "", "Range start (RFC3339, inclusive)")
	toTime := flag.String("to-time", "", "Range end (RFC3339, exclusive)")
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", "", "ClickHouse connection string")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage (dry run)")
	fetchTimeout := flag.Duration("fetch-timeout", 30*time.Second, "Per-request upstream HTTP timeout")
	fetchRetries := flag.Int("fetch-retries", 3, "Max attempts per upstream HTTP request")

	flag.Parse()

	logger := log.New(os.Stdout, "[backfill] ", log.LstdFlags|log.Lshortfile)

	symbolList := splitList(*symbols)
	if len(symbolList) == 0 {
		logger.Fatal("No symbols specified. Use --symbols")
	}

	from, err := time.Parse(time.RFC3339, *fromTime)
	if err != nil {
		logger.Fatalf("Invalid --from-time: %v", err)
	}
	to, err := time.Parse(time.RFC3339, *toTime)
	if err != nil {
		logger.Fatalf("Invalid --to-time: %v", err)
	}
	if !from.Before(to) {
		logger.Fatal("--from-time must be before --to-time")
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, aborting backfill...", sig)
		cancel()
	}()

	store, closeStore, err := openStore(ctx, logger, *useMemory, *postgresDSN, *clickhouseDSN)
	if err != nil {
		logger.Fatalf("Open bar store: %v", err)
	}
	if closeStore != nil {
		defer closeStore()
	}

	metrics := observability.NewMetrics("")
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

	start := time.Now()
	totalBars := 0
	failed := 0

	for _, symbol := range symbolList {
		bars, err := fetcher.FetchBars(ctx, history.Request{
			Symbol:   symbol,
			Source:   srcKind,
			Start:    from,
			End:      to,
			Interval: *interval,
		})
		if err != nil {
			logger.Printf("Backfill failed symbol=%s: %v", symbol, err)
			failed++
			continue
		}

		key := strings.ToLower(symbol)
		if err := store.PutBars(ctx, key, strings.ToLower(*interval), bars); err != nil {
			logger.Printf("Store failed symbol=%s bars=%d: %v", symbol, len(bars), err)
			failed++
			continue
		}

		totalBars += len(bars)
		logger.Printf("Backfilled symbol=%s bars=%d", symbol, len(bars))
	}

	logger.Printf("Backfill complete: %d symbols, %d bars, %d failures in %v",
		len(symbolList)-failed, totalBars, failed, time.Since(start))

	if failed == len(symbolList) {
		os.Exit(1)
	}
}

// openStore opens the configured persistence tier.
func openStore(ctx context.Context, logger *log.Logger, useMemory bool, postgresDSN, clickhouseDSN string) (storage.BarStore, func(), error) {
	switch {
	case useMemory:
		logger.Println("Using in-memory bar store (dry run)")
		return memory.NewBarStore(), nil, nil

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
		logger.Println("No storage configured; defaulting to in-memory (dry run)")
		return memory.NewBarStore(), nil, nil
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
