// Lumen Core - Interactive Installation Control
//
// This is the main entry point for the Lumen Core application. Lumen
// routes messages between the sensors, lighting, audio, and timer
// modules of an interactive installation:
//   - Deterministic message ordering (single-flight bounded queue)
//   - Declarative routes, editable at runtime over the HTTP API
//   - Offline-first operation on the installation's own network
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/hallamshaw/lumen-core/migrations"

	"github.com/hallamshaw/lumen-core/internal/api"
	"github.com/hallamshaw/lumen-core/internal/bridge"
	"github.com/hallamshaw/lumen-core/internal/bus"
	"github.com/hallamshaw/lumen-core/internal/infrastructure/config"
	"github.com/hallamshaw/lumen-core/internal/infrastructure/database"
	"github.com/hallamshaw/lumen-core/internal/infrastructure/influxdb"
	"github.com/hallamshaw/lumen-core/internal/infrastructure/logging"
	"github.com/hallamshaw/lumen-core/internal/infrastructure/mqtt"
	"github.com/hallamshaw/lumen-core/internal/module"
	"github.com/hallamshaw/lumen-core/internal/state"
	"github.com/hallamshaw/lumen-core/internal/telemetry"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Lumen Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath, "site", cfg.Site.ID)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
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
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Create the bus
	b := bus.New(bus.Config{
		QueueCapacity:  cfg.Bus.QueueCapacity,
		RateWindow:     time.Duration(cfg.Bus.RateWindowSeconds) * time.Second,
		LatencyHistory: cfg.Bus.LatencyHistory,
	})
	b.SetLogger(log)
	b.SetSink(bus.LogSink(log))

	// Load persisted routes
	repo := state.NewSQLiteRepository(db.DB)

	routeCount, err := state.LoadRoutesInto(ctx, repo, b)
	if err != nil {
		return fmt.Errorf("loading routes: %w", err)
	}
	log.Info("routes restored", "count", routeCount)

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// Start the state autosaver. Its context outlives the signal
	// context so the final flush runs after modules have stopped and
	// saved their last state.
	autosaver := state.NewAutosaver(repo, time.Duration(cfg.Database.AutosaveInterval)*time.Second)
	autosaver.SetLogger(log)

	autosaveCtx, stopAutosave := context.WithCancel(context.Background())
	autosaveDone := make(chan struct{})
	go func() {
		autosaver.Run(autosaveCtx)
		close(autosaveDone)
	}()
	defer func() {
		stopAutosave()
		<-autosaveDone
	}()

	// Start configured modules
	manager := module.NewManager(b, autosaver, repo)
	manager.SetLogger(log)
	manager.RegisterBuiltins()

	if err := manager.StartAll(ctx, moduleSpecs(cfg)); err != nil {
		return fmt.Errorf("starting modules: %w", err)
	}
	defer func() {
		log.Info("stopping modules")
		if stopErr := manager.StopAll(context.Background()); stopErr != nil {
			log.Error("error stopping modules", "error", stopErr)
		}
	}()
	log.Info("modules started", "count", len(manager.List()))

	// Start the MQTT bridge (if connected)
	if mqttClient != nil {
		br := bridge.New(b, mqttClient, cfg.MQTT)
		br.SetLogger(log)
		if err := br.Start(); err != nil {
			return fmt.Errorf("starting MQTT bridge: %w", err)
		}
		defer func() {
			log.Info("stopping MQTT bridge")
			br.Stop()
		}()
	}

	// Start the metrics exporter (if InfluxDB is connected)
	if influxClient != nil {
		exporter := telemetry.NewExporter(influxClient, b, cfg.Site.ID,
			time.Duration(cfg.InfluxDB.ExportInterval)*time.Second)
		exporter.SetLogger(log)

		exportCtx, stopExport := context.WithCancel(context.Background())
		exportDone := make(chan struct{})
		go func() {
			exporter.Run(exportCtx)
			close(exportDone)
		}()
		defer func() {
			stopExport()
			<-exportDone
		}()
	}

	// Start the HTTP API
	apiServer, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log,
		Bus:      b,
		Repo:     repo,
		Modules:  manager,
		Version:  version,
		ModuleSpecs: func() ([]module.Spec, error) {
			fresh, loadErr := config.Load(configPath)
			if loadErr != nil {
				return nil, fmt.Errorf("reloading config: %w", loadErr)
			}
			return moduleSpecs(fresh), nil
		},
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := apiServer.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	// Extend the observation feed to WebSocket clients now the hub
	// exists. Observations before this point went to the log sink only;
	// no client can be connected before the API is up.
	b.SetSink(bus.MultiSink{bus.LogSink(log), apiServer.Hub().Sink()})

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls unwind in reverse order:
	// 1. API server (stops intake)
	// 2. Metrics exporter (final snapshot)
	// 3. MQTT bridge
	// 4. Modules (save final state)
	// 5. Autosaver (final flush)
	// 6. InfluxDB / MQTT
	// 7. Database

	log.Info("Lumen Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses LUMEN_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("LUMEN_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// moduleSpecs converts declared module config into manager specs.
func moduleSpecs(cfg *config.Config) []module.Spec {
	specs := make([]module.Spec, 0, len(cfg.Modules))
	for _, mc := range cfg.Modules {
		specs = append(specs, module.Spec{
			ID:       mc.ID,
			Kind:     mc.Kind,
			Enabled:  mc.Enabled,
			Settings: mc.Settings,
		})
	}
	return specs
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check (may be nil if disabled)
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
