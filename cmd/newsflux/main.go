package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/go-pkgz/lgr"
	"github.com/jessevdk/go-flags"

	"github.com/umputun/newsflux/pkg/cache"
	"github.com/umputun/newsflux/pkg/classify"
	"github.com/umputun/newsflux/pkg/config"
	"github.com/umputun/newsflux/pkg/content"
	"github.com/umputun/newsflux/pkg/dedup"
	"github.com/umputun/newsflux/pkg/llm"
	"github.com/umputun/newsflux/pkg/pipeline"
	"github.com/umputun/newsflux/pkg/queue"
	"github.com/umputun/newsflux/pkg/repository"
	"github.com/umputun/newsflux/pkg/title"
	"github.com/umputun/newsflux/server"
)

// Opts with all CLI options
type Opts struct {
	Config string `short:"c" long:"config" env:"CONFIG" default:"config.yml" description:"config file path"`

	// Common options
	Debug   bool `long:"dbg" env:"DEBUG" description:"debug mode"`
	Version bool `short:"V" long:"version" description:"show version info"`
	NoColor bool `long:"no-color" env:"NO_COLOR" description:"disable color output"`
}

var revision = "unknown"

func main() {
	var opts Opts
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	if opts.Version {
		fmt.Printf("Version: %s\nGolang: %s\n", revision, runtime.Version())
		os.Exit(0)
	}

	cfg, err := config.Load(opts.Config)
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	var secrets []string
	for _, s := range []string{cfg.LLM.APIKey, cfg.Redis.Password} {
		if s != "" {
			secrets = append(secrets, s)
		}
	}
	setupLog(opts.Debug, secrets...)
	lgr.Printf("[INFO] starting newsflux version %s", revision)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// handle termination signals
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		lgr.Printf("[INFO] termination signal received")
		cancel()
	}()

	if err := run(ctx, cfg, opts.Debug); err != nil {
		lgr.Printf("[ERROR] newsflux failed: %v", err)
		os.Exit(1)
	}
	lgr.Printf("[INFO] shutdown complete")
}

// run wires all components and blocks until the context is cancelled.
// Errors returned here are configuration or startup failures, degraded
// backends are logged and worked around instead.
func run(ctx context.Context, cfg *config.Config, debug bool) error {
	db, err := repository.Open(ctx, repository.Config{
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.Database.ConnMaxLifetime) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	articles := repository.NewArticles(db)

	// redis backends with in-memory fallback, an unreachable redis degrades
	// the deployment but never prevents startup
	var cacheBackend cache.Backend = cache.NewMemoryBackend()
	var queueBackend queue.Backend = queue.NewMemoryBackend()
	if cfg.Redis.Enabled {
		if rb, err := cache.NewRedisBackend(cfg.Redis.Addr, cfg.Redis.Password); err != nil {
			lgr.Printf("[WARN] redis cache backend unavailable, using in-memory: %v", err)
		} else {
			cacheBackend = rb
		}
		if qb, err := queue.NewRedisBackend(cfg.Redis.Addr, cfg.Redis.Password, cfg.Queue.Key); err != nil {
			lgr.Printf("[WARN] redis queue backend unavailable, using in-memory: %v", err)
		} else {
			queueBackend = qb
		}
	}

	store := cache.NewStore(cacheBackend, cache.Opts{
		TTLClasses:       cfg.Cache.TTLClasses,
		DefaultTTL:       cfg.Cache.DefaultTTL,
		BreakerThreshold: cfg.Cache.BreakerFailures,
		BreakerCooldown:  cfg.Cache.BreakerCooldown,
		StatsInterval:    cfg.Cache.StatsInterval,
		StatsMaxOps:      cfg.Cache.StatsMaxOps,
	})

	var completion *llm.Client
	if cfg.LLM.Enabled {
		completion = llm.NewClient(cfg.LLM)
		lgr.Printf("[INFO] llm enabled, model %s at %s", cfg.LLM.Model, cfg.LLM.Endpoint)
	}

	strategies := []classify.Strategy{
		classify.NewURLStrategy(nil),
		classify.NewDomainStrategy(cfg.Classify.DomainRules),
		classify.NewKeywordStrategy(nil),
	}
	if completion != nil {
		strategies = append(strategies, classify.NewAIStrategy(completion, classify.DefaultCategories()))
	}
	cascade := classify.NewCascade(cfg.Classify.MinConfidence, strategies...)

	var titleCompletion title.Completion
	if completion != nil {
		titleCompletion = completion
	}
	resolver := title.NewResolver(titleCompletion)

	fingerprinter := dedup.NewFingerprinter(cfg.Dedup.MinContentLength)
	detector := dedup.NewDetector(articles, fingerprinter, cfg.Dedup.SimilarityThreshold)

	fetcher := content.NewPageFetcher(cfg.Extraction.Timeout, cfg.Extraction.UserAgent)
	extractor := content.NewExtractor(cfg.Extraction.MinTextLength)

	orch, err := pipeline.New(fetcher, extractor, resolver, cascade, detector, articles, store,
		fingerprinter, pipeline.Params{
			Concurrency:        cfg.Batch.Concurrency,
			ArticleTimeout:     cfg.Batch.ArticleTimeout,
			BatchTimeout:       cfg.Batch.Timeout,
			RecentScrapeWindow: cfg.Batch.RecentScrapeWindow,
			DedupWindow:        cfg.Dedup.Window,
		})
	if err != nil {
		return fmt.Errorf("create orchestrator: %w", err)
	}

	jobs := queue.New(queueBackend, orch, cfg.Queue.Workers, queue.Options{
		Attempts: cfg.Queue.Attempts,
		Backoff:  cfg.Queue.Backoff,
		Timeout:  cfg.Queue.Timeout,
	})
	jobs.Start(ctx)
	defer jobs.Stop()

	srv := server.New(cfg, jobs, store, articles, revision, debug)
	return srv.Run(ctx)
}

func setupLog(dbg bool, secs ...string) {
	logOpts := []lgr.Option{lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError}
	if dbg {
		logOpts = append(logOpts, lgr.Debug, lgr.CallerFile, lgr.CallerFunc)
	}

	colorizer := lgr.Mapper{
		ErrorFunc:  func(s string) string { return color.New(color.FgHiRed).Sprint(s) },
		WarnFunc:   func(s string) string { return color.New(color.FgRed).Sprint(s) },
		InfoFunc:   func(s string) string { return color.New(color.FgYellow).Sprint(s) },
		DebugFunc:  func(s string) string { return color.New(color.FgWhite).Sprint(s) },
		CallerFunc: func(s string) string { return color.New(color.FgBlue).Sprint(s) },
		TimeFunc:   func(s string) string { return color.New(color.FgCyan).Sprint(s) },
	}
	logOpts = append(logOpts, lgr.Map(colorizer))
	if len(secs) > 0 {
		logOpts = append(logOpts, lgr.Secret(secs...))
	}
	lgr.SetupStdLogger(logOpts...)
	lgr.Setup(logOpts...)
}
