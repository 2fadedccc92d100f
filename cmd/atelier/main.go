package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/smallbiznis/atelier/internal/clock"
	"github.com/smallbiznis/atelier/internal/config"
	"github.com/smallbiznis/atelier/internal/invoice"
	"github.com/smallbiznis/atelier/internal/lock"
	"github.com/smallbiznis/atelier/internal/migration"
	"github.com/smallbiznis/atelier/internal/observability"
	"github.com/smallbiznis/atelier/internal/organization"
	"github.com/smallbiznis/atelier/internal/payment"
	"github.com/smallbiznis/atelier/internal/pricing"
	"github.com/smallbiznis/atelier/internal/quote"
	"github.com/smallbiznis/atelier/internal/server"
	"github.com/smallbiznis/atelier/internal/subscription"
	"github.com/smallbiznis/atelier/pkg/db"
)

func main() {
	app := fx.New(
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),

		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		lock.Module,

		// Billing domains
		pricing.Module,
		quote.Module,
		organization.Module,
		subscription.Module,
		invoice.Module,
		payment.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}
