package cmd

import (
	"path/filepath"

	"github.com/loomhq/loomgate/internal/config"
	"github.com/loomhq/loomgate/internal/delivery"
	"github.com/loomhq/loomgate/internal/gateway"
	httpapi "github.com/loomhq/loomgate/internal/http"
	"github.com/loomhq/loomgate/internal/scheduler"
)

// setupScheduler builds the schedule store, delivery inbox, and cron engine,
// then wires their HTTP surface onto srv. runFunc drives every scheduled and
// webhook-triggered run through the same turn runtime as live chat.
func setupScheduler(cfg *config.Config, dataDir string, srv *gateway.Server, runFunc scheduler.RunFunc) (*scheduler.Engine, error) {
	scheduleStore, err := scheduler.NewScheduleStore(filepath.Join(dataDir, "schedules.json"))
	if err != nil {
		return nil, err
	}

	deliveryStore, err := delivery.NewStore(filepath.Join(dataDir, "deliveries.json"))
	if err != nil {
		return nil, err
	}

	engine := scheduler.NewEngine(scheduleStore, runFunc, deliveryStore)

	srv.SetSchedulesHandler(httpapi.NewSchedulesHandler(scheduleStore, engine, cfg.Gateway.Token))
	srv.SetDeliveriesHandler(httpapi.NewDeliveriesHandler(deliveryStore, cfg.Gateway.Token))

	return engine, nil
}
