package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/warmline/internal/clock"
	"github.com/smallbiznis/warmline/internal/migration"
	"github.com/smallbiznis/warmline/internal/observability"
	"github.com/smallbiznis/warmline/internal/scheduler"
	"github.com/smallbiznis/warmline/internal/server"
	"github.com/smallbiznis/warmline/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		server.Module,
		scheduler.Module,
		migration.Module,
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
