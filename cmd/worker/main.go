package main

import (
	"log"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"marinedesk-portal/pkg/config"
	"marinedesk-portal/pkg/db"
	"marinedesk-portal/pkg/logger"
	"marinedesk-portal/pkg/redis"
	"marinedesk-portal/pkg/sequence"
	"marinedesk-portal/pkg/task"
	"marinedesk-portal/services/license"
	"marinedesk-portal/services/payment"
)

// The worker consumes payment success tasks and applies them to license
// state. It shares the database and redis wiring with the portal binary but
// exposes no HTTP surface of its own.
func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		sequence.Module,
		fx.Provide(
			provideSnowflakeNode,
		),
		license.Module,
		payment.WorkerModule,
		task.Server,
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
