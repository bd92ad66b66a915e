package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/permitwise/billingcore/internal/automation"
	"github.com/permitwise/billingcore/internal/billingschedule"
	"github.com/permitwise/billingcore/internal/clock"
	"github.com/permitwise/billingcore/internal/config"
	"github.com/permitwise/billingcore/internal/invoicing"
	"github.com/permitwise/billingcore/internal/logger"
	"github.com/permitwise/billingcore/internal/migration"
	"github.com/permitwise/billingcore/internal/promise"
	"github.com/permitwise/billingcore/internal/providers/riskscore"
	"github.com/permitwise/billingcore/internal/providers/textgen"
	"github.com/permitwise/billingcore/internal/retainer"
	"github.com/permitwise/billingcore/internal/runlock"
	"github.com/permitwise/billingcore/internal/runner"
	"github.com/permitwise/billingcore/internal/server"
	"github.com/permitwise/billingcore/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		runlock.Module,

		// External data and model providers
		invoicing.Module,
		textgen.Module,
		riskscore.Module,

		// Billing core domains
		retainer.Module,
		automation.Module,
		billingschedule.Module,
		promise.Module,

		// Batch runner and operations API
		runner.Module,
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
