// Netatmo Sync keeps the devices of any number of linked Netatmo accounts
// in sync with the cloud and exposes their state over MQTT and HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/Dijker/com.netatmo/migrations"

	"github.com/Dijker/com.netatmo/internal/api"
	"github.com/Dijker/com.netatmo/internal/audit"
	"github.com/Dijker/com.netatmo/internal/auth"
	"github.com/Dijker/com.netatmo/internal/capability"
	"github.com/Dijker/com.netatmo/internal/device"
	"github.com/Dijker/com.netatmo/internal/driver"
	"github.com/Dijker/com.netatmo/internal/infrastructure/config"
	"github.com/Dijker/com.netatmo/internal/infrastructure/database"
	"github.com/Dijker/com.netatmo/internal/infrastructure/influxdb"
	"github.com/Dijker/com.netatmo/internal/infrastructure/logging"
	"github.com/Dijker/com.netatmo/internal/infrastructure/mqtt"
	"github.com/Dijker/com.netatmo/internal/netatmo"
	"github.com/Dijker/com.netatmo/internal/notify"
	"github.com/Dijker/com.netatmo/internal/retry"
	"github.com/Dijker/com.netatmo/internal/settings"
	cloudsync "github.com/Dijker/com.netatmo/internal/sync"
)

// Version information, set at build time via ldflags:
// go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"

	// historyRetention is how long capability transitions are kept locally.
	historyRetention = 30 * 24 * time.Hour
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := runToken(os.Args[2:], os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component and blocks until ctx is cancelled. Deferred
// cleanups run in reverse order, so the API stops first and the database
// closes last.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Netatmo Sync",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "netatmo", cfg.Netatmo.String())

	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	store := settings.NewSQLiteStore(db.DB)

	deviceRegistry := device.NewRegistry(device.NewSQLiteRepository(db.DB))
	deviceRegistry.SetLogger(log)
	if refreshErr := deviceRegistry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading device registry: %w", refreshErr)
	}
	paired, err := deviceRegistry.ListDevices(ctx)
	if err != nil {
		return fmt.Errorf("listing devices: %w", err)
	}
	log.Info("device registry initialised", "devices", len(paired))

	history := device.NewSQLiteHistoryRepository(db.DB)
	if pruned, pruneErr := history.Prune(ctx, historyRetention); pruneErr != nil {
		log.Warn("pruning capability history failed", "error", pruneErr)
	} else if pruned > 0 {
		log.Info("capability history pruned", "entries", pruned)
	}

	trail := audit.NewSQLiteRepository(db.DB)

	mapper := capability.Default()
	state := device.NewStateStore(mapper)

	accounts := auth.NewRegistry(netatmo.NewFactory(netatmoConfig(cfg)), store)
	accounts.SetLogger(log)

	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() { log.Info("MQTT connected") })
	mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	reporter := notify.NewReporter(mqttClient)
	reporter.SetLogger(log)
	accounts.SetReporter(reporter)

	checks := map[string]api.HealthChecker{"database": db, "mqtt": mqttClient}
	notifyDeps := notify.Deps{Publisher: mqttClient, History: history, Reporter: reporter}

	influxClient, err := influxdb.Connect(cfg.InfluxDB)
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
		checks["influxdb"] = influxClient
		notifyDeps.Telemetry = influxClient
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	notifier := notify.New(notifyDeps)
	notifier.SetLogger(log)
	state.OnChange(notifier.HandleChange)
	accounts.OnAuthenticated(notifier.AccountAuthenticated)

	scheduler := cloudsync.New(accounts, deviceRegistry, state, syncOptions(cfg))
	scheduler.SetLogger(log)
	scheduler.SetReporter(reporter)
	scheduler.OnOutcome(notifier.RefreshOutcome)

	driverDeps := driver.Deps{
		Sessions:  accounts,
		Catalog:   deviceRegistry,
		Mapper:    mapper,
		Refresher: scheduler,
		State:     state,
	}
	weather := driver.New(driver.WeatherStation(), driverDeps)
	thermostat := driver.New(driver.Thermostat(), driverDeps)
	weather.SetLogger(log)
	thermostat.SetLogger(log)
	drivers := driver.NewSet(deviceRegistry, weather, thermostat)
	accounts.AddDeviceLister(drivers)

	restored, restoreErr := accounts.RestoreAll(ctx)
	if restoreErr != nil {
		log.Warn("some accounts could not be restored", "error", restoreErr)
	}
	log.Info("accounts restored", "count", restored)

	commands := notify.NewCommands(drivers, mqttClient)
	commands.SetLogger(log)
	commands.SetAuditor(trail)
	if subErr := commands.Subscribe(mqttClient, byte(cfg.MQTT.QoS)); subErr != nil {
		return fmt.Errorf("subscribing to commands: %w", subErr)
	}

	scheduler.Start()
	defer scheduler.Stop()

	if cfg.API.Auth.JWTSecret == "" {
		log.Warn("api.auth.jwt_secret not set, API writes are unauthenticated")
	}
	server, err := api.New(api.Deps{
		Config:           cfg.API,
		Logger:           log,
		Accounts:         accounts,
		Authorizer:       auth.NewAuthorizer(netatmoConfig(cfg), accounts),
		Refresher:        scheduler,
		Catalog:          deviceRegistry,
		Drivers:          drivers,
		State:            state,
		History:          history,
		Audit:            trail,
		Checks:           checks,
		Version:          version,
		OnAccountRemoved: notifier.AccountRemoved,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error stopping API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, checks); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")
	return nil
}

func getConfigPath() string {
	if path := os.Getenv("NETATMOSYNC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// netatmoConfig maps the configuration onto the cloud client settings.
func netatmoConfig(cfg *config.Config) netatmo.Config {
	return netatmo.Config{
		BaseURL:      cfg.Netatmo.APIURL,
		ClientID:     cfg.Netatmo.ClientID,
		ClientSecret: cfg.Netatmo.ClientSecret,
		RedirectURL:  cfg.Netatmo.RedirectURL,
		Scopes:       cfg.Netatmo.Scopes,
		Timeout:      config.Seconds(cfg.Netatmo.RequestTimeout),
	}
}

func syncOptions(cfg *config.Config) cloudsync.Options {
	opts := cloudsync.DefaultOptions()
	opts.SweepInterval = config.Seconds(cfg.Sync.SweepInterval)
	opts.SweepTimeout = config.Seconds(cfg.Sync.SweepTimeout)
	opts.Cooldown = config.Seconds(cfg.Sync.Cooldown)
	opts.AuthWait = config.Seconds(cfg.Sync.AuthWait)
	opts.Policy = retry.Policy{
		MaxRetries: cfg.Sync.MaxRetries,
		Step:       config.Seconds(cfg.Sync.RetryStep),
	}
	return opts
}

// healthCheck runs the component checks once at startup, in a stable order.
func healthCheck(ctx context.Context, checks map[string]api.HealthChecker) error {
	for _, name := range []string{"database", "mqtt", "influxdb"} {
		check, ok := checks[name]
		if !ok {
			continue
		}
		if err := check.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}
