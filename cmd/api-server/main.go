// Command api-server runs the cardapio HTTP API.
package main

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"

	cardapio "github.com/cardapiopro/cardapio-api/internal/app"
)

func main() {
	app.Run(run)
}

func run(ctx context.Context, lg *zap.Logger, m *app.Telemetry) error {
	cfg, err := cardapio.LoadConfig()
	if err != nil {
		return errors.Wrap(err, "load config")
	}
	lg.Info("Configuration loaded",
		zap.Bool("idempotency", cfg.Redis.Addr != ""),
		zap.Bool("events", len(cfg.Kafka.Brokers) > 0),
	)
	return cardapio.Run(ctx, lg, m, cfg)
}
