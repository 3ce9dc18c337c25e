package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/nerrad567/touchportal-mqtt/internal/api"
	"github.com/nerrad567/touchportal-mqtt/internal/history"
	"github.com/nerrad567/touchportal-mqtt/internal/infrastructure/config"
	"github.com/nerrad567/touchportal-mqtt/internal/infrastructure/database"
	"github.com/nerrad567/touchportal-mqtt/internal/infrastructure/influxdb"
	"github.com/nerrad567/touchportal-mqtt/internal/infrastructure/logging"
	"github.com/nerrad567/touchportal-mqtt/internal/plugin"
	"github.com/nerrad567/touchportal-mqtt/internal/touchportal"
	"github.com/nerrad567/touchportal-mqtt/migrations"
)

const pruneInterval = time.Hour

func newStartCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Connect to TouchPortal and run the plugin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), *configPath)
		},
	}
}

// run is the plugin lifecycle, separated from the command for testability.
// It returns nil when ctx is cancelled or TouchPortal ends the session.
func run(ctx context.Context, configPath string) error {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	log := logging.Default()
	log.Info("starting TouchPortal MQTT plugin",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"level", cfg.Logging.Level,
		"topic_slots", cfg.Bridge.TopicSlots,
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if watchErr := config.Watch(ctx, configPath,
		func(next *config.Config) {
			log.SetLevel(next.Logging.Level)
			log.Info("configuration reloaded", "level", next.Logging.Level)
		},
		func(err error) { log.Warn("configuration reload failed", "error", err) },
	); watchErr != nil {
		log.Warn("configuration hot-reload unavailable", "error", watchErr)
	}

	checks := make(map[string]api.HealthCheck)
	opts := plugin.Options{
		PluginID:   cfg.TouchPortal.PluginID,
		MQTT:       cfg.MQTT,
		Slots:      cfg.Bridge.TopicSlots,
		ResetDelay: cfg.Bridge.ResetDelay,
		QueueSize:  cfg.Bridge.QueueSize,
		Logger:     log,
	}

	var repo *history.SQLiteRepository
	if cfg.Database.Enabled {
		db, dbErr := openHistory(ctx, cfg.Database)
		if dbErr != nil {
			return dbErr
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		log.Info("payload history enabled", "path", db.Path(), "retention", cfg.Database.Retention)

		repo = history.NewSQLiteRepository(db.DB)
		opts.History = repo
		checks["database"] = db.HealthCheck
	}

	influxClient, err := influxdb.Connect(ctx, cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
		opts.Metrics = influxClient
		checks["influxdb"] = influxClient.HealthCheck
	}

	hub := api.NewHub(cfg.WebSocket, log)
	opts.Broadcaster = hub

	workers := []func(context.Context){hub.Run}
	if repo != nil {
		workers = append(workers, func(ctx context.Context) {
			history.RunPruner(ctx, repo, cfg.Database.Retention, pruneInterval, log)
		})
	}
	// Registered after the database defer so the pruner stops first.
	defer background(ctx, workers...)()

	host := &hostRef{}
	opts.Host = host

	p, err := plugin.New(opts)
	if err != nil {
		return fmt.Errorf("creating plugin: %w", err)
	}
	defer func() {
		log.Info("stopping plugin")
		if closeErr := p.Close(); closeErr != nil {
			log.Error("error stopping plugin", "error", closeErr)
		}
	}()

	tp, err := touchportal.ConnectWithLogger(ctx, touchportal.Config{
		Address:        net.JoinHostPort(cfg.TouchPortal.Host, strconv.Itoa(cfg.TouchPortal.Port)),
		PluginID:       cfg.TouchPortal.PluginID,
		ConnectTimeout: cfg.TouchPortal.Timeout(),
	}, p, log)
	if err != nil {
		return fmt.Errorf("connecting to TouchPortal: %w", err)
	}
	defer func() {
		log.Info("closing TouchPortal connection")
		if closeErr := tp.Close(); closeErr != nil {
			log.Error("error closing TouchPortal connection", "error", closeErr)
		}
	}()
	host.set(tp)
	checks["touchportal"] = tp.HealthCheck
	checks["mqtt"] = mqttCheck(p)

	if cfg.API.Enabled {
		var reader api.HistoryReader
		if repo != nil {
			reader = repo
		}
		server, apiErr := api.New(api.Deps{
			Config:  cfg.API,
			WS:      cfg.WebSocket,
			Logger:  log,
			Status:  p,
			History: reader,
			Hub:     hub,
			Checks:  checks,
			Version: version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating status API: %w", apiErr)
		}
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting status API: %w", startErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing status API", "error", closeErr)
			}
		}()
	}

	log.Info("initialisation complete, waiting for TouchPortal")

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, cleaning up")
	case <-tp.Done():
		log.Info("TouchPortal session ended, cleaning up")
	}
	cancel()

	log.Info("TouchPortal MQTT plugin stopped")
	return nil
}

// background runs each fn in its own goroutine. The returned stop cancels
// their context and waits for all of them to return.
func background(ctx context.Context, fns ...func(context.Context)) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	for _, fn := range fns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}
	return func() {
		cancel()
		wg.Wait()
	}
}

func openHistory(ctx context.Context, cfg config.DatabaseConfig) (*database.DB, error) {
	db, err := database.Open(database.Config{
		Path:        cfg.Path,
		WALMode:     cfg.WALMode,
		BusyTimeout: time.Duration(cfg.BusyTimeout) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

func mqttCheck(p *plugin.Plugin) api.HealthCheck {
	return func(context.Context) error {
		if !p.Status().MQTTConnected {
			return errors.New("not connected to broker")
		}
		return nil
	}
}

// hostRef lets the plugin exist before the TouchPortal connection it
// reports to; updates before set fail with ErrNotConnected.
type hostRef struct {
	client atomic.Pointer[touchportal.Client]
}

func (h *hostRef) set(c *touchportal.Client) {
	h.client.Store(c)
}

func (h *hostRef) UpdateState(ctx context.Context, id, value string) error {
	c := h.client.Load()
	if c == nil {
		return touchportal.ErrNotConnected
	}
	return c.UpdateState(ctx, id, value)
}
