package main

import (
	"context"
	"log"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"coinledger/pkg/config"
	"coinledger/pkg/db"
	"coinledger/pkg/health"
	"coinledger/pkg/logger"
	"coinledger/pkg/redis"
	"coinledger/pkg/server"
	"coinledger/pkg/task"
	"coinledger/services/account"
	"coinledger/services/audit"
	"coinledger/services/commission"
	"coinledger/services/expiry"
	"coinledger/services/fraud"
	"coinledger/services/ledger"
	"coinledger/services/notify"
	"coinledger/services/treasury"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		task.Client,
		task.Server,
		fx.Provide(provideSnowflakeNode),

		commission.Module,
		audit.Module,
		notify.Module,
		ledger.Module,
		account.Module,
		fraud.Module,
		treasury.Module,
		expiry.Module,

		notify.TaskModule,
		expiry.TaskModule,

		server.ProvideHTTPServer,
		health.Module,

		fx.Invoke(migrate, bootstrap),
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	fx.New(opts...).Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func provideSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

func migrate(gdb *gorm.DB) error {
	models := ledger.Models()
	models = append(models, account.Models()...)
	models = append(models, fraud.Models()...)
	models = append(models, treasury.Models()...)
	models = append(models, expiry.Models()...)
	models = append(models, audit.Models()...)

	if err := gdb.AutoMigrate(models...); err != nil {
		return err
	}

	zap.L().Info("database migration complete")
	return nil
}

func bootstrap(svc *account.Service) error {
	return svc.Bootstrap(context.Background())
}
