package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/croftlabs/croft/internal/billingevent"
	"github.com/croftlabs/croft/internal/clock"
	"github.com/croftlabs/croft/internal/config"
	"github.com/croftlabs/croft/internal/invoice"
	"github.com/croftlabs/croft/internal/migration"
	"github.com/croftlabs/croft/internal/observability"
	"github.com/croftlabs/croft/internal/payment"
	"github.com/croftlabs/croft/internal/plan"
	"github.com/croftlabs/croft/internal/providers"
	"github.com/croftlabs/croft/internal/provisioning"
	"github.com/croftlabs/croft/internal/ratelimit"
	"github.com/croftlabs/croft/internal/reconciliation"
	"github.com/croftlabs/croft/internal/server"
	"github.com/croftlabs/croft/internal/subscription"
	"github.com/croftlabs/croft/internal/tenant"
	"github.com/croftlabs/croft/internal/usage"
	"github.com/croftlabs/croft/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		ratelimit.Module,
		providers.Module,

		// Domains
		tenant.Module,
		plan.Module,
		subscription.Module,
		usage.Module,
		billingevent.Module,
		invoice.Module,
		provisioning.Module,
		payment.Module,
		reconciliation.Module,

		// HTTP surface
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
