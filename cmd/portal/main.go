package main

import (
	"log"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"marinedesk-portal/internal/httpapi"
	"marinedesk-portal/pkg/config"
	"marinedesk-portal/pkg/db"
	"marinedesk-portal/pkg/health"
	"marinedesk-portal/pkg/logger"
	"marinedesk-portal/pkg/redis"
	"marinedesk-portal/pkg/sequence"
	"marinedesk-portal/pkg/server"
	"marinedesk-portal/pkg/task"
	"marinedesk-portal/services/license"
	"marinedesk-portal/services/payment"
	"marinedesk-portal/services/vessel"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		task.Client,
		sequence.Module,
		fx.Provide(
			provideSnowflakeNode,
		),
		health.Module,
		license.Module,
		payment.Module,
		vessel.Module,
		httpapi.Module,
		server.ProvideGRPCServer,
		server.ProvideHTTPServer,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func provideSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}
