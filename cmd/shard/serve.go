package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"media-companion/internal/config"
	"media-companion/internal/integrations/chat"
	"media-companion/internal/integrations/linkagg"
	"media-companion/internal/integrations/openai"
	"media-companion/internal/integrations/paramstore"
	"media-companion/internal/integrations/peer"
	"media-companion/internal/integrations/tagsearch"
	"media-companion/internal/media"
	"media-companion/internal/metrics"
	"media-companion/internal/registry"
	"media-companion/internal/repository"
	"media-companion/internal/session"
	"media-companion/internal/telemetry"
	"media-companion/internal/transport/httpapi"
	"media-companion/internal/usecase"
)

const (
	serviceName     = "media-companion-shard"
	shutdownTimeout = 30 * time.Second
	paramCacheTTL   = 5 * time.Minute
)

// stateStore is everything the shard keeps in the shared table.
type stateStore interface {
	registry.Store
	session.QuotaStore
	session.SummaryRecorder
	usecase.NotesReader
	httpapi.History
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the shard until SIGINT or SIGTERM",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

func serve(ctx context.Context) error {
	// ---- Configuration (read only here) ----
	cfg, err := config.LoadShard()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})).
		With("shard", cfg.ShardID)
	slog.SetDefault(logger)

	catalog, err := config.LoadCharacters(cfg.CharactersPath)
	if err != nil {
		return err
	}

	shutdownTracing, err := telemetry.Setup(ctx, serviceName, cfg.OTelEndpoint, cfg.ShardID)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("tracing shutdown failed", "err", err)
		}
	}()

	// ---- AWS SDK config ----
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("load AWS config: %w", err)
	}

	// ---- Clients ----
	params, err := paramstore.New(awsssm.NewFromConfig(awsCfg), paramstore.WithCacheTTL(paramCacheTTL))
	if err != nil {
		return fmt.Errorf("create SSM client: %w", err)
	}
	store, err := newStateStore(cfg, awsCfg)
	if err != nil {
		return err
	}
	reg, err := registry.New(store)
	if err != nil {
		return err
	}

	openaiClient, err := openai.NewClient(params, cfg.ParamPrefix, openai.WithBaseURL(cfg.OpenAIBaseURL))
	if err != nil {
		return fmt.Errorf("create OpenAI client: %w", err)
	}
	chatClient, err := chat.NewClient(params, cfg.ParamPrefix, chat.WithBaseURL(cfg.ChatBaseURL))
	if err != nil {
		return fmt.Errorf("create chat client: %w", err)
	}
	pipeline, err := media.NewPipeline(openaiClient, logger)
	if err != nil {
		return err
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(promReg)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	coord, err := usecase.NewCoordinator(usecase.CoordinatorDeps{
		ShardID:  cfg.ShardID,
		Registry: reg,
		Catalog:  catalog,
		Quota:    store,
		Notes:    store,
		Peers:    peer.NewClient(cfg.PeerTimeout),
		Session: session.Deps{
			Transport: chatClient,
			Quota:     store,
			Batcher:   pipeline,
			Tags:      tagsearch.NewClient(tagsearch.WithBaseURL(cfg.TagSearchBaseURL)),
			Listing:   linkagg.NewClient(linkagg.WithBaseURL(cfg.LinkAggBaseURL)),
			Recorder:  store,
			Generator: openaiClient,
		},
		SessionConfig: session.Config{
			Interval:            cfg.CycleInterval,
			BatchSize:           cfg.BatchSize,
			MaxDeliveryFailures: cfg.MaxDeliveryFailures,
			Source: media.SourceOptions{
				PageSize: cfg.PageSize,
				MaxPages: cfg.MaxPages,
				Logger:   logger,
			},
		},
		Metrics: m,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	api, err := httpapi.NewServer(httpapi.Config{
		Sessions: coord,
		History:  store,
		Gatherer: promReg,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ---- Run ----
	if err := reg.AnnounceShard(ctx, cfg.ShardID, cfg.AdvertiseURL); err != nil {
		return fmt.Errorf("announce shard: %w", err)
	}
	logger.Info("shard starting", "addr", cfg.ListenAddr, "advertise", cfg.AdvertiseURL,
		"store", cfg.StoreBackend, "characters", len(catalog.Names()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shard shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		ended := coord.EndAllLocal(shutdownCtx)
		logger.Info("local sessions ended", "count", ended)
		if err := reg.WithdrawShard(shutdownCtx, cfg.ShardID); err != nil {
			logger.Warn("withdraw shard failed", "err", err)
		}
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newStateStore(cfg config.Shard, awsCfg aws.Config) (stateStore, error) {
	switch cfg.StoreBackend {
	case config.StoreMemory:
		return repository.NewMemoryStore(cfg.DefaultMinutes), nil
	default:
		client, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.StateTable,
			repository.WithDefaultMinutes(cfg.DefaultMinutes))
		if err != nil {
			return nil, fmt.Errorf("create state client: %w", err)
		}
		return client, nil
	}
}
