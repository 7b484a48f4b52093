package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/rentwise/internal/clock"
	"github.com/smallbiznis/rentwise/internal/config"
	"github.com/smallbiznis/rentwise/internal/migration"
	"github.com/smallbiznis/rentwise/internal/observability"
	"github.com/smallbiznis/rentwise/internal/scheduler"
	"github.com/smallbiznis/rentwise/internal/seed"
	"github.com/smallbiznis/rentwise/internal/server"
	"github.com/smallbiznis/rentwise/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		seed.Module,

		// HTTP API, webhooks and every payment domain
		server.Module,

		// Overdue sweep, off with SCHEDULER_ENABLED=false
		scheduler.Module,
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
