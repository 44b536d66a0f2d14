package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stefi19/roomsched/internal/artifact"
	"github.com/stefi19/roomsched/internal/config"
	"github.com/stefi19/roomsched/internal/extract"
	"github.com/stefi19/roomsched/internal/ics"
	"github.com/stefi19/roomsched/internal/logging"
	"github.com/stefi19/roomsched/internal/merge"
	"github.com/stefi19/roomsched/internal/parse"
	"github.com/stefi19/roomsched/internal/query"
	"github.com/stefi19/roomsched/internal/render"
	"github.com/stefi19/roomsched/internal/schedule"
	"github.com/stefi19/roomsched/internal/scheduler"
	"github.com/stefi19/roomsched/internal/store"
	"github.com/stefi19/roomsched/internal/web"
)

type flagConfig struct {
	configPath string
	listen     string
	once       bool
	console    bool
}

func parseFlags() flagConfig {
	var f flagConfig
	flag.StringVar(&f.configPath, "config", "./config.yaml", "path to the YAML config file")
	flag.StringVar(&f.listen, "listen", "", "override the HTTP listen address")
	flag.BoolVar(&f.once, "once", false, "run a single extraction and exit")
	flag.BoolVar(&f.console, "console", false, "human-readable log output")
	flag.Parse()
	return f
}

func main() {
	flags := parseFlags()

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		root := logging.Root()
		root.Fatal().Err(err).Str("config", flags.configPath).Msg("loading config failed")
	}
	if flags.listen != "" {
		cfg.Listen = flags.listen
	}

	logging.Setup(cfg.LogLevel, flags.console)
	log := logging.Component("main")
	log.Info().Str("listen", cfg.Listen).Str("artifact_dir", cfg.ArtifactDir).
		Str("store", cfg.StorePath).Int("ics_concurrency", cfg.ICSConcurrency).
		Int("render_concurrency", cfg.RenderConcurrency).Msg("roomsched starting")

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		log.Warn().Err(err).Str("timezone", cfg.Timezone).Msg("unknown timezone, using UTC")
		loc = time.UTC
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		cancel()
	}()

	artifacts, err := artifact.NewStore(cfg.ArtifactDir)
	if err != nil {
		log.Fatal().Err(err).Msg("opening artifact directory failed")
	}
	db, err := store.Open(cfg.StorePath)
	if err != nil {
		log.Fatal().Err(err).Msg("opening database failed")
	}
	defer db.Close()

	pool, err := render.NewPool(ctx, cfg.RenderConcurrency)
	if err != nil {
		log.Fatal().Err(err).Msg("starting browser pool failed")
	}
	defer pool.Close()

	abbrevs := parse.NewAbbrevMap()
	if saved, err := artifacts.ReadSubjectMap(); err == nil {
		abbrevs.Load(saved)
	} else {
		log.Warn().Err(err).Msg("loading subject map failed")
	}

	extractor := &extract.Extractor{
		ICS:        ics.NewClient(),
		Renderer:   pool,
		Artifacts:  artifacts,
		Abbrevs:    abbrevs,
		WindowDays: cfg.RetentionDays,
	}
	merger := merge.NewMerger(artifacts, db)
	orch := extract.NewOrchestrator(extractor, db, artifacts, merger,
		cfg.ICSConcurrency, cfg.RenderConcurrency)

	if flags.once {
		if err := orch.Run(ctx); err != nil {
			log.Fatal().Err(err).Msg("extraction failed")
		}
		return
	}

	cache := schedule.NewCache(artifacts, merger)
	svc := query.NewService(cache, db, loc)
	server := web.NewServer(svc, db, orch, cfg.AdminAuth, cfg.RetentionDays)

	httpSrv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var sched *scheduler.Scheduler
	if cfg.DisableBackgroundTasks {
		log.Info().Msg("background tasks disabled")
	} else {
		sched = scheduler.New(orch, db, cfg.ExtractIntervalMin, cfg.RetentionDays)
		if err := sched.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("starting scheduler failed")
		}
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Listen).Msg("http server listening")
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server failed")
		}
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
	if sched != nil {
		sched.Stop()
	}
	log.Info().Msg("roomsched exiting")
}
