package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"media-companion/handler"
	"media-companion/internal/config"
	"media-companion/internal/integrations/peer"
	"media-companion/internal/registry"
	"media-companion/internal/repository"
	"media-companion/internal/usecase"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// ---- Configuration (read only here) ----
	var cfg config.Control
	if err := config.ParseEnv(&cfg); err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	// ---- AWS SDK config ----
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	stateClient, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.StateTable,
		repository.WithDefaultMinutes(cfg.DefaultMinutes))
	if err != nil {
		slog.Error("failed to create state client", "err", err)
		os.Exit(1)
	}
	reg, err := registry.New(stateClient)
	if err != nil {
		slog.Error("failed to create registry", "err", err)
		os.Exit(1)
	}

	// The control function hosts no sessions; it only queries and clears
	// ownership and forwards termination to the owning shard.
	coord, err := usecase.NewCoordinator(usecase.CoordinatorDeps{
		ShardID:  handler.ControlPlaneShardID,
		Registry: reg,
		Peers:    peer.NewClient(cfg.PeerTimeout),
		Logger:   logger,
	})
	if err != nil {
		slog.Error("failed to create coordinator", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	h, err := handler.NewHandler(coord)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}
