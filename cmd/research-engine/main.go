// Command research-engine is the composition root: it wires every
// package in the module into a runnable program and exposes three
// subcommands (research, similarity, batch), following
// cmd/raito-api/main.go's wiring style (flag-parsed config path,
// migrate.Run on a short-lived connection, pooled *sql.DB, slog text
// logger) adapted from its Fiber HTTP server to this engine's own
// entry points.
package main

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"researchengine/internal/batch"
	"researchengine/internal/config"
	"researchengine/internal/embed"
	"researchengine/internal/extract"
	"researchengine/internal/llmpool"
	"researchengine/internal/llmprovider"
	"researchengine/internal/migrate"
	"researchengine/internal/model"
	"researchengine/internal/progressbus"
	"researchengine/internal/research"
	"researchengine/internal/searchprovider"
	"researchengine/internal/similarity"
	"researchengine/internal/store"
	"researchengine/internal/vectorstore"

	"github.com/google/uuid"
)

type app struct {
	cfg       *config.Config
	log       *slog.Logger
	bus       *progressbus.Bus
	vstore    *vectorstore.Store
	orch      *research.Orchestrator
	simEngine *similarity.Engine
	coord     *batch.Coordinator
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	sub := os.Args[1]
	if sub != "research" && sub != "similarity" && sub != "batch" {
		usage()
		os.Exit(2)
	}

	fs := flag.NewFlagSet(sub, flag.ExitOnError)
	configPath := fs.String("config", "config/config.yaml", "path to config file")
	var (
		name     = fs.String("name", "", "company name (research)")
		website  = fs.String("website", "", "company website (research)")
		query    = fs.String("query", "", "company name or website to find neighbors for (similarity)")
		k        = fs.Int("k", 10, "max candidates to return (similarity)")
		source   = fs.String("source", "hybrid", "vector|web|hybrid (similarity)")
		industry = fs.String("industry", "", "optional industry filter (similarity)")
		file     = fs.String("file", "", "path to a CSV file with name,website columns (batch)")
	)
	fs.Parse(os.Args[2:])

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	a, err := bootstrap(cfg)
	if err != nil {
		log.Fatalf("bootstrap: %v", err)
	}

	ctx := context.Background()
	switch sub {
	case "research":
		a.runResearch(ctx, *name, *website)
	case "similarity":
		a.runSimilarity(ctx, *query, *k, *source, *industry)
	case "batch":
		a.runBatch(ctx, *file)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: research-engine <research|similarity|batch> [flags]

  research   -name NAME -website URL
  similarity -query NAME_OR_WEBSITE [-k 10] [-source vector|web|hybrid] [-industry IND]
  batch      -file rows.csv [-config path]`)
}

// bootstrap wires every component, mirroring cmd/raito-api/main.go's
// startup order: run migrations on a short-lived connection, then open
// the pooled *sql.DB the rest of the process shares.
func bootstrap(cfg *config.Config) (*app, error) {
	if err := migrate.Run(cfg.Database.DSN); err != nil {
		return nil, fmt.Errorf("migrations failed: %w", err)
	}

	db, err := sql.Open("pgx", cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	st := store.New(db)
	vstore := vectorstore.New(st)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{}))

	provider, err := llmprovider.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("llm provider: %w", err)
	}
	pool := llmpool.New(context.Background(), cfg, provider, logger)

	embedder := embed.New(cfg)

	var searchProvider searchprovider.Provider
	if cfg.Search.Enabled {
		searchProvider, err = searchprovider.NewProviderFromConfig(cfg)
		if err != nil {
			logger.Warn("search provider unavailable, similarity web path disabled", "error", err)
		}
	}

	if cfg.Metrics.Enabled {
		startMetricsServer(cfg.Metrics.Addr, logger)
	}

	if cfg.Retention.Enabled {
		startRetentionSweep(context.Background(), st, cfg.Retention, logger)
	}

	bus := progressbus.New(cfg.Progress.SubscriberBufferSize, time.Duration(cfg.Progress.GCAfterMinutes)*time.Minute)
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			bus.GC()
		}
	}()

	taxonomy := model.Taxonomy{Labels: cfg.TaxonomyLabels()}
	if len(taxonomy.Labels) == 0 {
		taxonomy = model.DefaultTaxonomy
	}

	extractor := newExtractor(cfg, logger)

	orch := research.New(research.Deps{
		Config:    cfg,
		Pool:      pool,
		Extractor: extractor,
		Embedder:  embedder,
		VStore:    vstore,
		Bus:       bus,
		Taxonomy:  taxonomy,
		Log:       logger,
	})

	simEngine := similarity.New(similarity.Deps{
		VStore:   vstore,
		Search:   searchProvider,
		Pool:     pool,
		Embedder: embedder,
		Config:   cfg,
		Log:      logger,
	})

	var cache batch.RowCache
	if cfg.Redis.URL != "" {
		cache, err = batch.NewRedisRowCache(cfg.Redis.URL)
		if err != nil {
			logger.Warn("redis row cache unavailable, batch runs will not resume", "error", err)
			cache = nil
		}
	}

	coord := batch.New(batch.Deps{
		Config:     cfg,
		Researcher: orch,
		Cache:      cache,
		Bus:        bus,
		Log:        logger,
	})

	return &app{cfg: cfg, log: logger, bus: bus, vstore: vstore, orch: orch, simEngine: simEngine, coord: coord}, nil
}

func (a *app) runResearch(ctx context.Context, name, website string) {
	if website == "" {
		log.Fatal("research: -website is required")
	}

	jobID := uuid.New()
	sub := a.bus.Subscribe(jobID)
	defer sub.Close()

	go func() {
		for ev := range sub.Events {
			a.log.Info("progress", "phase", ev.Phase, "type", ev.Type, "message", ev.Message)
		}
	}()

	rec, err := a.orch.Research(ctx, jobID, name, website)
	if err != nil {
		log.Fatalf("research failed: %v", err)
	}
	printJSON(rec)
}

func (a *app) runSimilarity(ctx context.Context, query string, k int, source, industry string) {
	if query == "" {
		log.Fatal("similarity: -query is required")
	}

	candidates, err := a.simEngine.Discover(ctx, query, similarity.Filters{Industry: industry}, k, similarity.Source(source))
	if err != nil {
		log.Fatalf("similarity discovery failed: %v", err)
	}
	printJSON(candidates)
}

func (a *app) runBatch(ctx context.Context, file string) {
	if file == "" {
		log.Fatal("batch: -file is required")
	}

	rows, err := readRowsCSV(file)
	if err != nil {
		log.Fatalf("batch: %v", err)
	}

	stats, err := a.coord.Run(ctx, uuid.New(), rows)
	if err != nil {
		log.Fatalf("batch run failed: %v", err)
	}
	printJSON(stats)
}

// readRowsCSV parses a CSV of name,website pairs into batch.Row. A
// header row ("name,website") is skipped if present.
func readRowsCSV(path string) ([]batch.Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open rows file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(bufio.NewReader(f))
	r.FieldsPerRecord = -1

	var rows []batch.Row
	first := true
	for {
		record, err := r.Read()
		if err != nil {
			break
		}
		if len(record) < 2 {
			continue
		}
		name, website := strings.TrimSpace(record[0]), strings.TrimSpace(record[1])
		if first {
			first = false
			if strings.EqualFold(name, "name") && strings.EqualFold(website, "website") {
				continue
			}
		}
		if website == "" {
			continue
		}
		rows = append(rows, batch.Row{Name: name, Website: website})
	}
	return rows, nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Fatalf("encode output: %v", err)
	}
}

// startMetricsServer serves the Prometheus collectors registered by
// internal/metrics on a background listener so a CLI invocation can
// still be scraped while it runs.
func startMetricsServer(addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()
}

// startRetentionSweep runs DeleteCompaniesOlderThan on a fixed interval
// for the life of the process, generalizing the job-bookkeeping cleanup
// a completed research job otherwise has no caller for.
func startRetentionSweep(ctx context.Context, st *store.Store, cfg config.RetentionConfig, logger *slog.Logger) {
	interval := time.Duration(cfg.CleanupIntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = time.Hour
	}
	days := cfg.Jobs.DefaultDays
	if days <= 0 {
		days = 30
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().Add(-time.Duration(days) * 24 * time.Hour)
				n, err := st.DeleteCompaniesOlderThan(ctx, cutoff)
				if err != nil {
					logger.Warn("retention sweep failed", "error", err)
					continue
				}
				if n > 0 {
					logger.Info("retention sweep removed expired records", "count", n, "cutoff", cutoff)
				}
			}
		}
	}()
}

// newExtractor builds the content extractor from the scraper and
// crawl sections of config, mirroring the field mapping
// internal/research.Orchestrator expects from Deps.Extractor.
func newExtractor(cfg *config.Config, logger *slog.Logger) *extract.Extractor {
	opts := extract.Options{
		Concurrency:          cfg.Crawl.PerHostConcurrency,
		PerPageTimeout:       time.Duration(cfg.Scraper.TimeoutMs) * time.Millisecond,
		ByteCap:              cfg.Scraper.ByteCapPerPage,
		TextCap:              cfg.Scraper.TextCapPerPage,
		UserAgent:            cfg.Scraper.UserAgent,
		UseRodFallback:       cfg.Rod.Enabled,
		ThinContentThreshold: 400,
	}
	return extract.New(opts, cfg.Rod.Enabled, logger)
}
