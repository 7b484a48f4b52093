package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/rentwise/internal/clock"
	"github.com/smallbiznis/rentwise/internal/config"
	"github.com/smallbiznis/rentwise/internal/lock"
	"github.com/smallbiznis/rentwise/internal/observability"
	paymentrepository "github.com/smallbiznis/rentwise/internal/payment/repository"
	"github.com/smallbiznis/rentwise/internal/scheduler"
	"github.com/smallbiznis/rentwise/pkg/db"
	"go.uber.org/fx"
)

// A standalone worker for deployments that keep the sweep off the API pods.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		lock.Module,

		fx.Provide(paymentrepository.Provide),
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(2)
	if err != nil {
		panic(err)
	}
	return node
}
