package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/you/recurse-review/internal/config"
	"github.com/you/recurse-review/internal/core"
	"github.com/you/recurse-review/internal/credentials"
	httpadmin "github.com/you/recurse-review/internal/http"
	"github.com/you/recurse-review/internal/httpapi"
	"github.com/you/recurse-review/internal/narrative"
	"github.com/you/recurse-review/internal/pipeline"
	"github.com/you/recurse-review/internal/store"
	"github.com/you/recurse-review/internal/version"
	"github.com/you/recurse-review/internal/zulip"
)

// relay forwards journey events to the API once it exists. The store wrapper
// is built before the server because the server serves from it.
type relay struct {
	api atomic.Pointer[httpapi.Server]
}

func (r *relay) Broadcast(ev core.JourneyEvent) {
	if s := r.api.Load(); s != nil {
		s.Broadcast(ev)
	}
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	var (
		versionFlag     bool
		envFile         string
		dbPath          string
		httpAddr        string
		httpCorsOrigins string
		httpRateRPS     int
		httpRateBurst   int
		httpAccessLog   bool
		zuliprcPath     string
		llmProvider     string
		llmModel        string
	)

	flag.BoolVar(&versionFlag, "version", false, "Print build version and exit")
	flag.StringVar(&envFile, "env-file", ".env", "Path to a dotenv file loaded before reading the environment")
	flag.StringVar(&dbPath, "sqlite", "journeys.db", "Path to SQLite database file")
	flag.StringVar(&httpAddr, "http-addr", ":8080", "HTTP listen address")
	flag.StringVar(&httpCorsOrigins, "http-cors-origins", "", "Comma-separated list of allowed CORS origins")
	flag.IntVar(&httpRateRPS, "http-rate-rps", 20, "Maximum HTTP requests per second per client")
	flag.IntVar(&httpRateBurst, "http-rate-burst", 40, "Burst size for HTTP rate limiter")
	flag.BoolVar(&httpAccessLog, "http-access-log", true, "Log HTTP access records")
	flag.StringVar(&zuliprcPath, "zuliprc", "", "Path to a .zuliprc file with bot credentials")
	flag.StringVar(&llmProvider, "llm-provider", "", "Generation provider (anthropic or gemini)")
	flag.StringVar(&llmModel, "llm-model", "", "Model name for the generation provider")
	flag.Parse()

	if versionFlag {
		fmt.Printf(
			"journeyd version: %s (commit %s, built %s)\n",
			version.Version,
			version.Commit,
			version.BuildTime,
		)
		os.Exit(0)
	}

	overrides := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) {
		overrides[f.Name] = true
	})

	if err := config.LoadDotEnv(envFile); err != nil {
		log.Printf("journeyd: env file %s: %v", envFile, err)
	}
	cfg := config.Load()

	if overrides["sqlite"] {
		cfg.SQLite.Path = strings.TrimSpace(dbPath)
	}
	if overrides["http-addr"] {
		cfg.HTTP.Addr = strings.TrimSpace(httpAddr)
	}
	if overrides["http-cors-origins"] {
		cfg.HTTP.CORSOrigins = config.SplitList(httpCorsOrigins)
	}
	if overrides["http-rate-rps"] {
		cfg.HTTP.RateRPS = httpRateRPS
	}
	if overrides["http-rate-burst"] {
		cfg.HTTP.RateBurst = httpRateBurst
	}
	if overrides["http-access-log"] {
		cfg.HTTP.AccessLog = httpAccessLog
	}
	if overrides["zuliprc"] {
		cfg.Zulip.Zuliprc = strings.TrimSpace(zuliprcPath)
	}
	if overrides["llm-provider"] {
		cfg.LLM.Provider = strings.ToLower(strings.TrimSpace(llmProvider))
	}
	if overrides["llm-model"] {
		cfg.LLM.Model = strings.TrimSpace(llmModel)
	}

	if cfg.Zulip.LegacyEmailEnv != "" || cfg.Zulip.LegacyKeyEnv != "" {
		log.Printf("journeyd: zulip credentials read from legacy env names; prefer RR_ZULIP_EMAIL/RR_ZULIP_API_KEY")
	}
	log.Printf("%s", cfg.SummaryJSON())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.OpenSQLite(cfg.SQLite.Path, store.Options{Tuning: cfg.SQLite.Tuning})
	if err != nil {
		log.Fatalf("journeyd: open sqlite: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("journeyd: closing store: %v", err)
		}
	}()
	if err := db.Ping(); err != nil {
		log.Fatalf("journeyd: ping sqlite: %v", err)
	}

	zcfg := zulip.Config{
		Realm:     cfg.Zulip.Realm,
		Stream:    cfg.Zulip.Stream,
		NumBefore: cfg.Zulip.NumBefore,
	}
	static := zulip.Credentials{Email: cfg.Zulip.Email, APIKey: cfg.Zulip.APIKey}
	var loader *credentials.FileLoader
	if cfg.Zulip.Zuliprc != "" {
		loader = credentials.NewFileLoader(cfg.Zulip.Zuliprc)
	}
	creds := credentials.NewManager(static, loader, zulip.New(zcfg, nil))
	if loader != nil {
		if email, err := creds.Reload(); err != nil {
			log.Printf("journeyd: zuliprc %s: %v", cfg.Zulip.Zuliprc, err)
		} else {
			log.Printf("journeyd: zulip credentials loaded for %s", email)
		}
		if site := creds.Site(); site != "" && strings.TrimSuffix(site, "/") != strings.TrimSuffix(cfg.Zulip.Realm, "/") {
			log.Printf("journeyd: zuliprc site %s differs from realm %s; using realm", site, cfg.Zulip.Realm)
		}
	}
	source := zulip.New(zcfg, creds)

	model, err := narrative.NewModel(narrative.ModelConfig{
		Provider:         cfg.LLM.Provider,
		Model:            cfg.LLM.Model,
		AnthropicAPIKey:  cfg.LLM.AnthropicAPIKey,
		AnthropicBaseURL: cfg.LLM.AnthropicBaseURL,
		GeminiAPIKey:     cfg.LLM.GeminiAPIKey,
	})
	if err != nil {
		log.Fatalf("journeyd: %v", err)
	}
	if !model.Configured() {
		log.Printf("journeyd: %s model has no api key; generate requests will fail with a configuration error", model.Name())
	}
	gen := narrative.NewGenerator(model, cfg.LLM.MaxTokens)

	events := &relay{}
	repo := store.WithAPI(db, events)
	metrics := httpapi.NewMetrics()
	orch := pipeline.New(source, gen, repo, pipeline.Options{
		Stream:   cfg.Zulip.Stream,
		Observer: metrics,
		Logger:   slog.Default(),
	})

	build := httpapi.BuildInfo{Version: version.Version, Revision: version.Commit}
	if version.BuildTime != "" && version.BuildTime != "unknown" {
		if t, err := time.Parse(time.RFC3339, version.BuildTime); err == nil {
			build.BuiltAt = t
		}
	}

	configSnapshot := cfg.Redacted()
	api := httpapi.New(repo, orch, httpapi.Options{
		Addr:            cfg.HTTP.Addr,
		Build:           build,
		CORSOrigins:     cfg.HTTP.CORSOrigins,
		RateRPS:         cfg.HTTP.RateRPS,
		RateBurst:       cfg.HTTP.RateBurst,
		TrustProxy:      cfg.HTTP.TrustProxy,
		AccessLog:       cfg.HTTP.AccessLog,
		GenerateTimeout: time.Duration(cfg.HTTP.GenerateTimeoutSecs) * time.Second,
		Config:          func() any { return configSnapshot },
		Admin:           httpadmin.New(creds).Register,
		Metrics:         metrics,
	})
	events.api.Store(api)

	g, gctx := errgroup.WithContext(ctx)
	if loader != nil {
		if err := creds.Watch(gctx); err != nil {
			log.Printf("journeyd: watch zuliprc: %v", err)
		}
	}
	g.Go(func() error {
		log.Printf("journeyd: http api ready on %s", cfg.HTTP.Addr)
		return api.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Printf("journeyd: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return api.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("journeyd: %v", err)
		os.Exit(1)
	}
}
