package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jordanhubbard/arcfork/internal/agent"
	"github.com/jordanhubbard/arcfork/internal/health"
	"github.com/jordanhubbard/arcfork/internal/metrics"
	"github.com/jordanhubbard/arcfork/internal/persona"
	"github.com/jordanhubbard/arcfork/internal/provider"
	"github.com/jordanhubbard/arcfork/internal/social"
	"github.com/jordanhubbard/arcfork/internal/telemetry"
	"github.com/jordanhubbard/arcfork/internal/watermark"
	"github.com/jordanhubbard/arcfork/pkg/config"
)

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the autonomous posting loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			if err := cfg.ValidateRun(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runAgent(ctx, cfg, logger)
		},
	}
	addPersonaFlags(cmd)
	return cmd
}

func runAgent(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	store := persona.NewStore(cfg.Persona.Dir, cfg.Persona.BranchEvery)
	p, err := loadPersona(store, cfg.Persona.Name, useLatest, logger)
	if err != nil {
		return fmt.Errorf("failed to load persona: %w", err)
	}
	logger = logger.With(zap.String("persona", p.BaseName))
	logger.Info("loaded persona", zap.String("lookup_name", p.LookupName()), zap.Int("version", p.Version))

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     version,
		Persona:     p.BaseName,
		SampleRatio: cfg.Telemetry.SampleRatio,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	rng := newRand(cfg.Schedule.Seed)
	ag, err := newAgent(cfg, rng)
	if err != nil {
		return err
	}
	embedder, err := newEmbedder(ctx, cfg.Embedding)
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}

	client := social.NewClient(cfg.Social.BaseURL, social.Credentials{
		ConsumerKey:    cfg.Social.ConsumerKey,
		ConsumerSecret: cfg.Social.ConsumerSecret,
		AccessToken:    cfg.Social.AccessToken,
		AccessSecret:   cfg.Social.AccessSecret,
	}, provider.NewHTTPClient(30*time.Second))
	me, err := client.Me(ctx)
	if err != nil {
		return fmt.Errorf("failed to authenticate with the social platform: %w", err)
	}
	logger.Info("authenticated", zap.String("username", me.Username), zap.Uint64("user_id", me.ID))

	docStore, err := openDocumentStore(ctx, cfg, p.BaseName)
	if err != nil {
		return fmt.Errorf("failed to open document store: %w", err)
	}
	if docStore != nil {
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = docStore.Close(closeCtx)
		}()
	}
	memory, heartbeat := storeDeps(docStore, cfg, logger)

	checkpoint, closeRedis, err := newCheckpoint(ctx, cfg.Redis, p.BaseName)
	if err != nil {
		return err
	}
	defer func() { _ = closeRedis() }()

	events, closeBus, err := newEventBus(cfg.NATS, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer func() { _ = closeBus() }()

	var tracker *watermark.Tracker
	if checkpoint != nil {
		tracker = watermark.NewTracker(checkpoint, logger)
	} else {
		tracker = watermark.NewTracker(nil, logger)
	}
	// Mentions that predate startup are never answered.
	latest, err := client.LatestMentionID(ctx)
	if err != nil {
		logger.Warn("failed to read latest mention, starting from checkpoint", zap.Error(err))
	}
	logger.Info("seeded mention watermark", zap.Uint64("watermark", tracker.Seed(ctx, latest)))

	m := metrics.NewMetrics()
	m.PersonaVersion.WithLabelValues(p.BaseName).Set(float64(p.Version))
	m.Watermark.Set(float64(tracker.Current()))

	// A tick may spend several provider calls on top of the sleep.
	watchdog := health.NewWatchdog(cfg.Schedule.MaxInterval+4*cfg.Schedule.CallTimeout, logger)
	if check, ok := healthCheck(events); ok {
		watchdog.AddCheck("event_bus", check)
	}

	loop := agent.NewLoop(p, agent.Deps{
		Store:     store,
		Agent:     ag,
		Social:    client,
		Embedder:  embedder,
		Memory:    memory,
		Tracker:   tracker,
		Heartbeat: heartbeat,
		Events:    events,
		Metrics:   m,
		Pulse:     watchdog,
		Rand:      rng,
		Logger:    logger,
	}, agent.Options{
		MinInterval:  cfg.Schedule.MinInterval,
		MaxInterval:  cfg.Schedule.MaxInterval,
		PostWeight:   cfg.Schedule.PostWeight,
		CallTimeout:  cfg.Schedule.CallTimeout,
		MentionLimit: cfg.Schedule.MentionLimit,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return loop.Run(gctx)
	})
	g.Go(func() error {
		watchdog.Start(gctx)
		return nil
	})

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.Handle("/healthz", watchdog)
		server := &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			logger.Info("serving metrics", zap.String("addr", cfg.Metrics.Addr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server failed: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	logger.Info("shutting down", zap.String("lookup_name", loop.Persona().LookupName()))
	return err
}
