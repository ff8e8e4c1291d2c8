// RIO Bridge - Russound controller bridge for Gray Logic
//
// This is the main entry point of the bridge service. It keeps one persistent
// RIO connection to a Russound controller and exposes the configured zones and
// sources on the Gray Logic MQTT bus, over HTTP and over WebSocket, recording
// every change to SQLite and (optionally) InfluxDB.
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

	"github.com/spf13/pflag"

	"github.com/nerrad567/gray-logic-rio/internal/api"
	riobridge "github.com/nerrad567/gray-logic-rio/internal/bridges/rio"
	"github.com/nerrad567/gray-logic-rio/internal/history"
	"github.com/nerrad567/gray-logic-rio/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-rio/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-rio/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-rio/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-rio/internal/infrastructure/mqtt"
	rioclient "github.com/nerrad567/gray-logic-rio/internal/rio"
	"github.com/nerrad567/gray-logic-rio/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	// defaultConfigPath is used when neither --config nor GRAYLOGIC_CONFIG is set.
	defaultConfigPath = "configs/config.yaml"

	// pruneInterval is how often expired history rows are deleted.
	pruneInterval = time.Hour

	// defaultConnectRetry is the initial-connect retry delay when none is configured.
	defaultConnectRetry = 5 * time.Second
)

// options holds the parsed command line.
type options struct {
	configPath  string
	showVersion bool
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		os.Exit(2)
	}
	if opts.showVersion {
		fmt.Printf("riobridge %s (commit %s, built %s)\n", version, commit, date)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parseFlags parses the command line.
func parseFlags(args []string, output io.Writer) (options, error) {
	var opts options

	fs := pflag.NewFlagSet("riobridge", pflag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVarP(&opts.configPath, "config", "c", "", "path to the YAML configuration file (env GRAYLOGIC_CONFIG)")
	fs.BoolVarP(&opts.showVersion, "version", "v", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if opts.configPath == "" {
		opts.configPath = getConfigPath()
	}
	return opts, nil
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - opts: Parsed command line
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, opts options) error { //nolint:gocognit,gocyclo // linear startup sequence
	log := logging.Default()
	log.Info("starting RIO bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", opts.configPath)

	log = logging.New(cfg.Logging, version)

	// Database and history
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

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	historyRepo := history.NewSQLiteRepository(db.DB)

	// InfluxDB (optional)
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
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	// MQTT, with the bridge's offline health message as the will
	willTopic, willPayload, err := riobridge.LWT(cfg.Bridge.ID)
	if err != nil {
		return fmt.Errorf("building MQTT will: %w", err)
	}
	mqttClient, err := mqtt.Connect(cfg.MQTT,
		mqtt.WithWill(willTopic, willPayload),
		mqtt.WithLogger(log.Component("mqtt")),
	)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetOnConnect(func() { log.Info("MQTT connected") })
	mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })

	// RIO controller client
	client := rioclient.New(rioclient.Config{
		Host:                 cfg.RIO.Host,
		Port:                 cfg.RIO.Port,
		Reconnect:            cfg.RIO.Reconnect,
		ReconnectDelay:       cfg.RIO.ReconnectDelayDuration(),
		MaxReconnectAttempts: cfg.RIO.MaxReconnectAttempts,
		KeepAliveInterval:    cfg.RIO.KeepAliveDuration(),
		ConnectTimeout:       cfg.RIO.ConnectTimeoutDuration(),
		CommandTimeout:       cfg.RIO.CommandTimeoutDuration(),
		MinVersion:           cfg.RIO.MinVersion,
	})
	client.SetLogger(log.Component("rio"))
	defer func() {
		log.Info("closing controller connection")
		if closeErr := client.Close(); closeErr != nil {
			log.Error("error closing controller connection", "error", closeErr)
		}
	}()

	// Bridge
	hub := api.NewHub(cfg.WebSocket, log.Component("websocket"))
	bridgeOpts := riobridge.Options{
		Config:     cfg.Bridge,
		Version:    version,
		MQTTClient: &mqttBridgeAdapter{client: mqttClient},
		Connector:  client,
		History:    historyRepo,
		Listener:   hub,
		Logger:     log.Component("bridge"),
	}
	if influxClient != nil {
		bridgeOpts.Points = influxClient
	}
	bridge, err := riobridge.NewBridge(bridgeOpts)
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}
	if err := bridge.Start(ctx); err != nil {
		bridge.Stop()
		return fmt.Errorf("starting bridge: %w", err)
	}
	defer func() {
		log.Info("stopping bridge")
		bridge.Stop()
	}()

	go connectController(ctx, client, cfg.RIO.ReconnectDelayDuration(), log)

	// HTTP API
	if cfg.API.Enabled {
		server, err := api.New(api.Deps{
			Config:     cfg.API,
			WS:         cfg.WebSocket,
			Logger:     log.Component("api"),
			Bridge:     bridge,
			Controller: client,
			History:    historyRepo,
			Hub:        hub,
			Version:    version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := server.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("HTTP API disabled")
	}

	if cfg.Database.HistoryRetention > 0 {
		retention := time.Duration(cfg.Database.HistoryRetention) * 24 * time.Hour
		go pruneHistory(ctx, historyRepo, retention, log)
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal",
		"controller", client.Address(),
		"devices", len(bridge.Devices()))

	<-ctx.Done()

	// Deferred calls run in reverse order: API, bridge, controller, MQTT,
	// InfluxDB, database.
	log.Info("shutdown signal received, cleaning up")
	return nil
}

// getConfigPath returns GRAYLOGIC_CONFIG if set, otherwise the default path.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// connectController retries the initial connection until it succeeds, the
// controller firmware is rejected, or ctx is cancelled. Once connected, the
// client's own reconnect loop takes over.
func connectController(ctx context.Context, client *rioclient.Client, delay time.Duration, log *logging.Logger) {
	if delay <= 0 {
		delay = defaultConnectRetry
	}
	for attempt := 1; ; attempt++ {
		err := client.Connect(ctx)
		switch {
		case err == nil:
			log.Info("controller connected",
				"address", client.Address(),
				"version", client.Version(),
				"attempts", attempt)
			return
		case errors.Is(err, rioclient.ErrAlreadyConnected), errors.Is(err, rioclient.ErrClosed):
			return
		case errors.Is(err, rioclient.ErrUnsupportedFeature):
			log.Error("controller firmware not supported", "address", client.Address(), "error", err)
			return
		}

		log.Warn("controller connection failed",
			"address", client.Address(),
			"attempt", attempt,
			"retry_in", delay,
			"error", err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// pruneHistory deletes history older than retention once per pruneInterval.
func pruneHistory(ctx context.Context, repo history.Repository, retention time.Duration, log *logging.Logger) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		n, err := repo.Prune(ctx, retention)
		if err != nil && ctx.Err() == nil {
			log.Error("history prune failed", "error", err)
		} else if n > 0 {
			log.Info("history pruned", "rows", n, "retention", retention)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
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

	// The controller is not checked: it may come up after the bridge and
	// connectController keeps retrying.
	return nil
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the bridge's
// MQTTClient interface. The bridge's handlers do not return errors.
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

var _ riobridge.MQTTClient = (*mqttBridgeAdapter)(nil)

// Publish implements riobridge.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements riobridge.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements riobridge.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}
