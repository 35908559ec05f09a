package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/Mukasa-Matthew/HMS-frontend-sub000/internal/api"
	"github.com/Mukasa-Matthew/HMS-frontend-sub000/internal/audit"
	"github.com/Mukasa-Matthew/HMS-frontend-sub000/internal/credstore"
	"github.com/Mukasa-Matthew/HMS-frontend-sub000/internal/eventsink"
	"github.com/Mukasa-Matthew/HMS-frontend-sub000/internal/httpclient"
	"github.com/Mukasa-Matthew/HMS-frontend-sub000/internal/infrastructure/config"
	"github.com/Mukasa-Matthew/HMS-frontend-sub000/internal/infrastructure/database"
	"github.com/Mukasa-Matthew/HMS-frontend-sub000/internal/infrastructure/influxdb"
	"github.com/Mukasa-Matthew/HMS-frontend-sub000/internal/infrastructure/logging"
	"github.com/Mukasa-Matthew/HMS-frontend-sub000/internal/infrastructure/mqtt"
	"github.com/Mukasa-Matthew/HMS-frontend-sub000/internal/session"
)

// bootRoute is the route the console claims at startup. It is never the
// login route, so a stored identity is always verified.
const bootRoute = "/"

// loadConfig resolves the configuration file: the -config flag, then
// $HMS_CONFIG, then defaultConfigPath if it exists, then defaults and
// environment only.
func loadConfig(path string) (*config.Config, error) {
	explicit := path != ""
	if !explicit {
		path = os.Getenv("HMS_CONFIG")
		explicit = path != ""
	}
	if !explicit {
		path = defaultConfigPath
	}

	var (
		cfg *config.Config
		err error
	)
	if _, statErr := os.Stat(path); !explicit && errors.Is(statErr, fs.ErrNotExist) {
		cfg, err = config.LoadDefaults()
	} else {
		cfg, err = config.Load(path)
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if cfg.Console.ClientID == "" {
		cfg.Console.ClientID = "hmsconsole-" + uuid.NewString()[:8]
	}
	if cfg.MQTT.Broker.ClientID == "" {
		cfg.MQTT.Broker.ClientID = cfg.Console.ClientID
	}
	return cfg, nil
}

type consoleOptions struct {
	in          io.Reader
	out         io.Writer
	interactive bool

	// serve only
	user     string
	password string
}

// runConsole runs one session until ctx is cancelled or, for the
// interactive shell, the operator quits.
func runConsole(ctx context.Context, cfg *config.Config, o consoleOptions) error {
	log := logging.New(cfg.Logging, version)
	log.Info("starting hmsconsole",
		"version", version,
		"commit", commit,
		"client_id", cfg.Console.ClientID,
		"backend", cfg.API.BaseURL,
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	store, storeCloser, err := credstore.Open(ctx, cfg.Storage, log)
	if err != nil {
		return fmt.Errorf("opening credential store: %w", err)
	}
	defer func() {
		if closeErr := storeCloser.Close(); closeErr != nil {
			log.Error("error closing credential store", "error", closeErr)
		}
	}()
	log.Info("credential store ready", "backend", cfg.Storage.Backend, "path", cfg.Storage.Path)

	client, err := httpclient.New(cfg.API, httpclient.WithLogger(log))
	if err != nil {
		return fmt.Errorf("creating API client: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	sinks, err := openSinks(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer sinks.close()

	opts, err := session.OptionsFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("session options: %w", err)
	}
	opts.Navigator = session.NavigatorFunc(func(route string) {
		fmt.Fprintf(o.out, "session ended, log in again (%s)\n", route)
	})
	opts.Sink = sinks.list
	opts.Metrics = session.NewMetrics(reg)
	opts.Logger = log

	mgr := session.NewManager(client, store, opts)
	defer mgr.Close()
	mgr.Boot(ctx, bootRoute)

	g, gctx := errgroup.WithContext(ctx)

	for _, r := range sinks.runners {
		g.Go(func() error { return r.Run(gctx) })
	}
	if fileStore, ok := store.(*credstore.FileStore); ok && cfg.Storage.Watch {
		g.Go(func() error { return fileStore.Watch(gctx, mgr.HandleStoreChange) })
	}

	if o.interactive {
		g.Go(func() error {
			defer cancel()
			return newShell(mgr, o.in, o.out).run(gctx)
		})
	} else {
		srv, err := api.New(api.Deps{
			Config:   cfg.Status,
			Logger:   log,
			Session:  mgr,
			Checks:   sinks.checks,
			Audit:    sinks.audit,
			Gatherer: reg,
			Version:  version,
		})
		if err != nil {
			return fmt.Errorf("creating status API: %w", err)
		}
		if err := srv.Start(gctx); err != nil {
			return fmt.Errorf("starting status API: %w", err)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing status API", "error", closeErr)
			}
		}()

		g.Go(func() error {
			if err := loginIfNeeded(gctx, mgr, o, log); err != nil {
				return err
			}
			<-gctx.Done()
			return nil
		})
	}

	log.Info("initialisation complete")
	err = g.Wait()
	log.Info("hmsconsole stopped", "state", mgr.State().String())
	return err
}

// loginIfNeeded logs in with the serve credentials once boot verification
// has ended without a session.
func loginIfNeeded(ctx context.Context, mgr *session.Manager, o consoleOptions, log *logging.Logger) error {
	select {
	case <-mgr.Verified():
	case <-ctx.Done():
		return nil
	}
	if _, ok := mgr.Identity(); ok || o.user == "" {
		return nil
	}
	if o.password == "" {
		return fmt.Errorf("%w: -user requires HMS_PASSWORD", errUsage)
	}

	ident, err := mgr.Login(ctx, o.user, o.password)
	if err != nil {
		return fmt.Errorf("logging in as %s: %w", o.user, err)
	}
	log.Info("logged in", "user_id", ident.ID, "role", ident.Role)
	return nil
}

// runner is a sink that delivers from a background loop.
type runner interface {
	Run(ctx context.Context) error
}

// sinks holds the event sinks enabled by configuration.
type sinks struct {
	list    eventsink.Multi
	runners []runner
	audit   api.AuditLister
	checks  map[string]api.HealthChecker
	closers []func()
}

func openSinks(ctx context.Context, cfg *config.Config, log *logging.Logger) (*sinks, error) {
	s := &sinks{
		list:   eventsink.Multi{eventsink.NewLog(log)},
		checks: make(map[string]api.HealthChecker),
	}

	if cfg.MQTT.Enabled {
		client, err := mqtt.Connect(cfg.MQTT)
		if err != nil {
			s.close()
			return nil, fmt.Errorf("connecting to MQTT: %w", err)
		}
		client.SetLogger(log)
		client.SetOnConnect(func() { log.Info("MQTT reconnected") })
		client.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", client.ClientID(),
		)

		sink := eventsink.NewMQTT(client, log)
		s.list = append(s.list, sink)
		s.runners = append(s.runners, sink)
		s.checks["mqtt"] = client
		s.closers = append(s.closers, func() {
			log.Info("disconnecting from MQTT")
			if closeErr := client.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		})
	} else {
		log.Info("MQTT event feed disabled")
	}

	if cfg.InfluxDB.Enabled {
		client, err := influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			s.close()
			return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		client.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)

		s.list = append(s.list, eventsink.NewInflux(client, cfg.Console.ClientID))
		s.checks["influxdb"] = client
		s.closers = append(s.closers, func() {
			log.Info("closing InfluxDB connection")
			if closeErr := client.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		})
	} else {
		log.Info("InfluxDB telemetry disabled")
	}

	if cfg.Audit.Enabled {
		if err := s.openAudit(ctx, cfg, log); err != nil {
			s.close()
			return nil, err
		}
	}

	return s, nil
}

// openAudit opens the audit trail database and prunes expired entries.
func (s *sinks) openAudit(ctx context.Context, cfg *config.Config, log *logging.Logger) error {
	db, err := database.Open(database.Config{
		Path:        cfg.Audit.Path,
		WALMode:     cfg.Storage.WALMode,
		BusyTimeout: cfg.Storage.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening audit database: %w", err)
	}
	s.closers = append(s.closers, func() {
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing audit database", "error", closeErr)
		}
	})

	repo, err := audit.NewSQLiteRepository(ctx, db)
	if err != nil {
		return err
	}
	if cfg.Audit.Retention > 0 {
		pruned, err := repo.Prune(ctx, time.Now().Add(-cfg.Audit.Retention))
		if err != nil {
			return err
		}
		log.Info("audit trail pruned", "removed", pruned, "retention", cfg.Audit.Retention.String())
	}
	log.Info("audit trail ready", "path", cfg.Audit.Path)

	sink := eventsink.NewAudit(repo, cfg.Console.ClientID, log)
	s.list = append(s.list, sink)
	s.runners = append(s.runners, sink)
	s.audit = repo
	s.checks["audit"] = repo
	return nil
}

// close releases the sinks in reverse order of opening.
func (s *sinks) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}
