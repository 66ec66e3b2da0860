package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payrail/internal/clock"
	"github.com/smallbiznis/payrail/internal/config"
	"github.com/smallbiznis/payrail/internal/gateway"
	"github.com/smallbiznis/payrail/internal/invoice"
	"github.com/smallbiznis/payrail/internal/ledger"
	"github.com/smallbiznis/payrail/internal/migration"
	obsmetrics "github.com/smallbiznis/payrail/internal/observability/metrics"
	"github.com/smallbiznis/payrail/internal/observability/metricspush"
	"github.com/smallbiznis/payrail/internal/pdf"
	"github.com/smallbiznis/payrail/internal/ratelimit"
	"github.com/smallbiznis/payrail/internal/report"
	"github.com/smallbiznis/payrail/internal/server"
	"github.com/smallbiznis/payrail/internal/sweeper"
	"github.com/smallbiznis/payrail/internal/webhook"
	"github.com/smallbiznis/payrail/pkg/db"
	"github.com/smallbiznis/payrail/pkg/log"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		log.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		obsmetrics.Module,
		metricspush.Module,
		ratelimit.Module,

		// Functional domains
		gateway.Module,
		invoice.Module,
		ledger.Module,
		webhook.Module,
		report.Module,
		pdf.Module,
		sweeper.Module,

		migration.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
