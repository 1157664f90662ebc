package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nhle/mensabot/internal/api"
	"github.com/nhle/mensabot/internal/credential"
	"github.com/nhle/mensabot/internal/delivery"
	"github.com/nhle/mensabot/internal/logging"
	"github.com/nhle/mensabot/internal/lookup"
	"github.com/nhle/mensabot/internal/menu"
	"github.com/nhle/mensabot/internal/model"
	"github.com/nhle/mensabot/internal/normalize"
	"github.com/nhle/mensabot/internal/notify"
	"github.com/nhle/mensabot/internal/source"
	"github.com/nhle/mensabot/internal/store"
	appsync "github.com/nhle/mensabot/internal/sync"
)

// app holds the wired components for one process.
type app struct {
	cfg        *model.AppConfig
	log        *logging.Logger
	store      *store.SQLiteStore
	lookups    *lookup.Registry
	menus      *menu.Store
	dispatcher *delivery.Dispatcher
	scheduler  *appsync.Scheduler
	api        *api.Server
}

// newApp loads the configuration and wires every component. The caller
// must call close. Configuration errors found once the transport is up
// are also sent to the administrator.
func newApp(ctx context.Context, cfgPath string) (*app, error) {
	cfg, err := model.LoadConfig(cfgPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateDelivery(); err != nil {
		return nil, err
	}

	log, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(log.Logger)

	a := &app{cfg: cfg, log: log}

	a.store, err = store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("opening database: %w", err)
	}

	transport, err := newTransport(cfg.Delivery, log.Logger)
	if err != nil {
		a.close()
		return nil, err
	}
	a.dispatcher = delivery.NewDispatcher(transport, a.store, cfg.Admin.ID, log.Logger)

	if err := cfg.Validate(); err != nil {
		return nil, a.configFailed(ctx, err)
	}
	refreshAt, alertCheckAt, loc, err := cfg.Schedule.Resolve()
	if err != nil {
		return nil, a.configFailed(ctx, err)
	}

	a.lookups, err = lookup.NewRegistry(cfg.Lookup.Path, log.WithComponent("lookup"))
	if err != nil {
		return nil, a.configFailed(ctx, err)
	}

	a.menus = menu.NewStore(a.store, menu.Options{
		Freshness:     cfg.Menu.Freshness,
		RetentionDays: cfg.Menu.RetentionDays,
		Location:      loc,
	}, log.Logger)
	if err := a.menus.Load(ctx); err != nil {
		a.close()
		return nil, err
	}

	a.scheduler = appsync.New(appsync.Config{
		RefreshAt:    refreshAt,
		AlertCheckAt: alertCheckAt,
		Location:     loc,
		WindowDays:   cfg.Menu.WindowDays,
		GuardWindow:  cfg.Schedule.GuardWindow,
	}, appsync.Deps{
		Fetcher:    source.NewClient(cfg.Source, log.Logger),
		Normalizer: normalize.New(log.Logger),
		Lookups:    a.lookups,
		Menus:      a.menus,
		Users:      a.store,
		Engine:     notify.NewEngine(a.store, log.Logger),
		Dispatcher: a.dispatcher,
	}, log.Logger)

	a.api = api.NewServer(api.Options{
		AdminID:    cfg.Admin.ID,
		WindowDays: cfg.Menu.WindowDays,
		MensaName:  cfg.Source.MensaName,
	}, api.Deps{
		Menus:   a.menus,
		Lookups: a.lookups,
		Users:   a.store,
		Jobs:    a.scheduler,
		Admin:   a.dispatcher,
	}, log.Logger)

	return a, nil
}

func newTransport(cfg model.DeliveryConfig, logger *slog.Logger) (delivery.Transport, error) {
	switch cfg.Kind {
	case "imap":
		secrets, err := credential.Open("")
		if err != nil {
			return nil, err
		}
		return delivery.NewIMAPTransport(cfg, secrets, logger), nil
	default:
		return delivery.NewLogTransport(logger), nil
	}
}

// configFailed reports a configuration error to the administrator and
// releases what was opened so far.
func (a *app) configFailed(ctx context.Context, err error) error {
	if model.IsConfigError(err) && a.dispatcher != nil {
		if nerr := a.dispatcher.NotifyAdmin(ctx, "Configuration error", err.Error()); nerr != nil {
			a.log.Error("notifying admin of configuration error", "error", nerr)
		}
	}
	a.close()
	return err
}

func (a *app) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Error("closing database", "error", err)
		}
	}
	_ = a.log.Close()
}
