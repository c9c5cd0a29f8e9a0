// Vivarium Core - Terrarium Environmental Controller
//
// This is the main entry point for the Vivarium Core application.
// Vivarium Core is a closed-loop environmental controller designed for:
//   - Unattended long-running operation on small single-board computers
//   - Offline-first control (the loop never depends on cloud reachability)
//   - Fail-safe behaviour (hold last known state on sensor faults)
//   - A durable, auditable record of every actuation decision
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/mossline/vivarium-core/migrations"

	"github.com/mossline/vivarium-core/internal/actuator"
	"github.com/mossline/vivarium-core/internal/api"
	"github.com/mossline/vivarium-core/internal/infrastructure/config"
	"github.com/mossline/vivarium-core/internal/infrastructure/database"
	"github.com/mossline/vivarium-core/internal/infrastructure/influxdb"
	"github.com/mossline/vivarium-core/internal/infrastructure/logging"
	"github.com/mossline/vivarium-core/internal/infrastructure/mqtt"
	"github.com/mossline/vivarium-core/internal/scheduler"
	"github.com/mossline/vivarium-core/internal/sensor"
	"github.com/mossline/vivarium-core/internal/statestore"
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
func run(ctx context.Context) error { //nolint:gocognit,cyclop // Composition root: sequential wiring of all components
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Vivarium Core",
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
	log.Info("configuration loaded", "path", configPath, "habitat", cfg.Habitat.ID)

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

	// State store over the migrated database
	store := statestore.NewSQLiteStore(db.DB)

	// Connect to MQTT broker
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
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// Connect to InfluxDB (optional telemetry)
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

	// Sensor reader fed by the MQTT sensor bridge
	reader := sensor.NewBridgeReader(cfg.Control.Sensor)
	if subErr := subscribeSensorReadings(mqttClient, reader, influxClient, cfg.Habitat.ID, log); subErr != nil {
		return fmt.Errorf("subscribing to sensor readings: %w", subErr)
	}

	// Actuator port publishing commands to the transport bridges
	port := actuator.NewBridgePort(mqttClient, mqttClient.QoS(), cfg.Control.Devices)

	// Build devices and their policies from configuration
	devices, err := scheduler.DevicesFromConfig(cfg.Control.Devices)
	if err != nil {
		return fmt.Errorf("building devices: %w", err)
	}
	log.Info("devices configured", "count", len(devices))

	// The API server is created after the loop but the transition hook
	// fires only once the loop runs, so capturing the variable is safe.
	var apiServer *api.Server

	loop, err := scheduler.New(scheduler.Config{
		Devices:  devices,
		Reader:   reader,
		Actuator: port,
		Store:    store,
		Retry:    cfg.Control.Retry,
		Logger:   log,
		Location: cfg.Location(),
		OnTransition: func(rec statestore.TransitionRecord) {
			publishTransition(mqttClient, influxClient, apiServer, rec, log)
		},
	})
	if err != nil {
		return fmt.Errorf("creating control loop: %w", err)
	}

	// Manual overrides arriving over MQTT
	if subErr := subscribeOverrides(mqttClient, loop, log); subErr != nil {
		return fmt.Errorf("subscribing to overrides: %w", subErr)
	}

	// Operator API
	checks := map[string]api.HealthChecker{
		"database": db.HealthCheck,
		"mqtt":     mqttClient.HealthCheck,
	}
	if influxClient != nil {
		checks["influxdb"] = influxClient.HealthCheck
	}

	apiServer, err = api.New(api.Deps{
		Config:  cfg.API,
		Logger:  log,
		Loop:    loop,
		Store:   store,
		Version: version,
		Checks:  checks,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := apiServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	// Verify all connections are healthy before starting the loop
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, control loop running")

	// Run the control loop. This blocks until the shutdown signal; a
	// tick in progress always completes before Run returns.
	if runErr := loop.Run(ctx); runErr != nil {
		return fmt.Errorf("control loop: %w", runErr)
	}

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls will run in reverse order:
	// 1. API server
	// 2. InfluxDB (if enabled)
	// 3. MQTT
	// 4. Database

	log.Info("Vivarium Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses VIVARIUM_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("VIVARIUM_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// subscribeSensorReadings feeds sensor bridge publications into the
// reader cache and, when telemetry is enabled, into InfluxDB.
func subscribeSensorReadings(client *mqtt.Client, reader *sensor.BridgeReader, influxClient *influxdb.Client, habitatID string, log *logging.Logger) error {
	var topics mqtt.Topics
	return client.Subscribe(topics.SensorReading(), client.QoS(), func(_ string, payload []byte) error {
		if err := reader.HandleReading(payload); err != nil {
			log.Warn("rejected sensor reading", "error", err)
			return nil
		}

		if influxClient != nil {
			snap, err := reader.Read(context.Background())
			if err == nil {
				influxClient.WriteSensorReading(habitatID, snap.Temperature, snap.Humidity, snap.CapturedAt)
			}
		}
		return nil
	})
}

// overrideMessage is the payload accepted on the override topics.
type overrideMessage struct {
	IsOn  bool `json:"is_on"`
	Level *int `json:"level,omitempty"`
}

// subscribeOverrides routes manual override publications to the loop.
// The device ID is taken from the topic; the payload carries the
// desired setting.
func subscribeOverrides(client *mqtt.Client, loop *scheduler.Loop, log *logging.Logger) error {
	var topics mqtt.Topics
	return client.Subscribe(topics.AllOverrides(), client.QoS(), func(topic string, payload []byte) error {
		deviceID := mqtt.DeviceIDFromTopic(topic)
		if deviceID == "" {
			log.Warn("override with no device ID", "topic", topic)
			return nil
		}

		var msg overrideMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			log.Warn("malformed override payload", "device_id", deviceID, "error", err)
			return nil
		}

		if err := loop.Override(deviceID, msg.IsOn, msg.Level); err != nil {
			log.Warn("override rejected", "device_id", deviceID, "error", err)
			return nil
		}

		log.Info("override queued", "device_id", deviceID, "is_on", msg.IsOn)
		return nil
	})
}

// publishTransition fans a recorded transition out to the retained MQTT
// state topic, the telemetry store, and connected WebSocket clients.
func publishTransition(client *mqtt.Client, influxClient *influxdb.Client, apiServer *api.Server, rec statestore.TransitionRecord, log *logging.Logger) {
	// Retained state reflects only what hardware is believed to be
	// doing, so failed attempts are not published.
	if rec.Outcome == statestore.OutcomeCommitted {
		payload, err := json.Marshal(rec.NewState)
		if err != nil {
			log.Error("failed to marshal device state", "device_id", rec.DeviceID, "error", err)
		} else {
			var topics mqtt.Topics
			if pubErr := client.PublishRetained(topics.DeviceState(rec.DeviceID), payload); pubErr != nil {
				log.Warn("failed to publish retained state", "device_id", rec.DeviceID, "error", pubErr)
			}
		}
	}

	if influxClient != nil {
		influxClient.WriteTransition(rec.DeviceID, string(rec.Origin), string(rec.Outcome), rec.NewState.IsOn, rec.NewState.Level, rec.CreatedAt)
	}

	if apiServer != nil {
		apiServer.BroadcastTransition(rec)
	}
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
