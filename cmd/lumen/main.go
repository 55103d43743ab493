// Lumen Core - LAN smart-light controller
//
// This is the main entry point for the Lumen Core application. It finds
// lights on the local network, keeps a control connection open to each one
// and exposes them over MQTT, a REST API and a WebSocket event stream.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/lumen-core/internal/api"
	"github.com/nerrad567/lumen-core/internal/bridges/yeelight"
	"github.com/nerrad567/lumen-core/internal/device"
	"github.com/nerrad567/lumen-core/internal/infrastructure/config"
	"github.com/nerrad567/lumen-core/internal/infrastructure/database"
	"github.com/nerrad567/lumen-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/lumen-core/internal/infrastructure/logging"
	"github.com/nerrad567/lumen-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/lumen-core/migrations"
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

const (
	// persistTimeout bounds the final save of the light list on shutdown.
	persistTimeout = 5 * time.Second

	// historyPruneInterval is how often expired light history is deleted.
	historyPruneInterval = time.Hour
)

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

	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open the light list store
	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.close()

	if st.history != nil {
		pruneDone := make(chan struct{})
		go func() {
			defer close(pruneDone)
			pruneHistory(ctx, st.history, cfg.Persistence.HistoryRetention, log)
		}()
		defer func() { <-pruneDone }()
		log.Info("light history enabled", "retention", cfg.Persistence.HistoryRetention)
	}

	policy, err := device.ParseMergePolicy(cfg.Persistence.MergePolicy)
	if err != nil {
		return fmt.Errorf("parsing merge policy: %w", err)
	}
	registry := device.NewRegistry(st.store, policy)
	registry.SetLogger(log.Component("registry"))
	if loadErr := registry.Load(ctx); loadErr != nil {
		return fmt.Errorf("loading light list: %w", loadErr)
	}
	log.Info("light list loaded",
		"lights", registry.Count(),
		"backend", cfg.Persistence.Backend,
		"merge_policy", policy,
	)

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT, log.Component("mqtt"))
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
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB, log.Component("influxdb"))
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
	} else {
		log.Info("InfluxDB disabled")
	}

	// Scanner owns one connection per light; persisted lights are seeded
	// so they connect before answering a search.
	scanner, err := newScanner(cfg, log)
	if err != nil {
		return err
	}
	for _, rec := range registry.List() {
		scanner.Add(rec)
	}
	defer func() {
		log.Info("stopping scanner")
		scanner.Stop()
	}()

	// The bridge broadcasts into the hub, so the hub exists before either.
	var hub *api.Hub
	if cfg.API.Enabled {
		hub = api.NewHub(cfg.WebSocket, log.Component("websocket"))
		go hub.Run(ctx)
	}

	bridge, err := yeelight.NewBridge(bridgeOptions(scanner, registry, st.history, mqttClient, influxClient, hub, log))
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}
	if startErr := bridge.Start(ctx); startErr != nil {
		return fmt.Errorf("starting bridge: %w", startErr)
	}
	defer func() {
		log.Info("stopping bridge")
		bridge.Stop()
	}()

	if cfg.Discovery.Enabled {
		if startErr := scanner.Start(ctx); startErr != nil {
			return fmt.Errorf("starting discovery: %w", startErr)
		}
	} else {
		log.Info("discovery disabled, connecting to persisted lights only")
		for _, conn := range scanner.Connections() {
			conn.Start(ctx)
		}
	}

	if cfg.API.Enabled {
		deps := api.Deps{
			Config:      cfg.API,
			WS:          cfg.WebSocket,
			Logger:      log.Component("api"),
			Lights:      bridge,
			Store:       registry,
			ExternalHub: hub,
			Version:     version,
		}
		if mqttClient != nil {
			deps.MQTT = mqttClient
		}
		if influxClient != nil {
			deps.History = influxClient
		}
		apiServer, apiErr := api.New(deps)
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := apiServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API disabled")
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Save what this run learned before the connections go away.
	persistCtx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if persistErr := registry.Persist(persistCtx); persistErr != nil {
		log.Error("error persisting light list", "error", persistErr)
	} else {
		log.Info("light list persisted", "lights", registry.Count())
	}

	// Deferred calls run in reverse order:
	// 1. API server
	// 2. Bridge
	// 3. Scanner and light connections
	// 4. InfluxDB, MQTT (if enabled)
	// 5. History pruning, then the store

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

// loadConfig loads the configuration file. A missing default file falls
// back to built-in defaults; a missing file named by LUMEN_CONFIG is an
// error.
func loadConfig() (*config.Config, string, error) {
	path := getConfigPath()
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, path, nil
	}
	if errors.Is(err, fs.ErrNotExist) && os.Getenv("LUMEN_CONFIG") == "" {
		cfg = config.Default()
		if validateErr := cfg.Validate(); validateErr != nil {
			return nil, "", fmt.Errorf("validating default config: %w", validateErr)
		}
		return cfg, "(defaults)", nil
	}
	return nil, "", fmt.Errorf("loading config: %w", err)
}

// storage is the opened persistence backend.
type storage struct {
	store device.Store

	// history is nil for the json backend or when retention is 0.
	history *device.SQLiteHistory

	// close releases the backend; always safe to call.
	close func()
}

// openStore opens the configured light list backend.
//
// Parameters:
//   - ctx: Context for opening and migrating the database
//   - cfg: Application configuration
//   - log: Logger instance
//
// Returns:
//   - *storage: The opened backend
//   - error: If the backend cannot be opened or migrated
func openStore(ctx context.Context, cfg *config.Config, log *logging.Logger) (*storage, error) {
	if cfg.Persistence.Backend == "json" {
		log.Info("using JSON light list", "path", cfg.Persistence.File)
		return &storage{store: device.NewFileStore(cfg.Persistence.File), close: func() {}}, nil
	}

	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	closeDB := func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}
	log.Info("database connected", "path", cfg.Database.Path)

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		closeDB()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database migrations complete")

	st := &storage{store: device.NewSQLiteStore(db.DB), close: closeDB}
	if cfg.Persistence.HistoryRetention > 0 {
		st.history = device.NewSQLiteHistory(db.DB)
	}
	return st, nil
}

// pruneHistory deletes expired light history now and then hourly until
// ctx is cancelled.
func pruneHistory(ctx context.Context, h *device.SQLiteHistory, retention time.Duration, log *logging.Logger) {
	ticker := time.NewTicker(historyPruneInterval)
	defer ticker.Stop()

	for {
		n, err := h.Prune(ctx, retention)
		switch {
		case err != nil && ctx.Err() == nil:
			log.Warn("pruning light history failed", "error", err)
		case n > 0:
			log.Info("pruned light history", "rows", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// newScanner builds the discovery scanner and the connection options its
// connections share.
func newScanner(cfg *config.Config, log *logging.Logger) (*yeelight.Scanner, error) {
	bridgeLog := log.Component("yeelight")
	prober, err := yeelight.NewProber(cfg.Connection.Prober, bridgeLog)
	if err != nil {
		return nil, fmt.Errorf("creating prober: %w", err)
	}

	opts := yeelight.Options{
		Prober:           prober,
		Logger:           bridgeLog,
		DialTimeout:      cfg.Connection.DialTimeout,
		KeepAlive:        cfg.Connection.KeepAlive,
		OperationTimeout: cfg.Connection.OperationTimeout,
		ProbeInterval:    cfg.Connection.ProbeInterval,
		ProbeTimeout:     cfg.Connection.ProbeTimeout,
		ReconnectInitial: cfg.Connection.ReconnectInitial,
		ReconnectMax:     cfg.Connection.ReconnectMax,
	}

	return yeelight.NewScanner(yeelight.ScannerConfig{
		Group:       cfg.Discovery.Group,
		Interface:   cfg.Discovery.Interface,
		Interval:    cfg.Discovery.Interval,
		MaxSearches: cfg.Discovery.MaxSearches,
	}, opts), nil
}

// bridgeOptions assembles the bridge dependencies. Optional clients are
// left as nil interfaces when disabled.
func bridgeOptions(
	scanner *yeelight.Scanner,
	registry *device.Registry,
	history *device.SQLiteHistory,
	mqttClient *mqtt.Client,
	influxClient *influxdb.Client,
	hub *api.Hub,
	log *logging.Logger,
) yeelight.BridgeOptions {
	opts := yeelight.BridgeOptions{
		Scanner:  scanner,
		Registry: registry,
		Logger:   log.Component("bridge"),
		Version:  version,
	}
	if history != nil {
		opts.History = history
	}
	if mqttClient != nil {
		opts.MQTT = mqttClient
	}
	if influxClient != nil {
		opts.Recorder = influxClient
	}
	if hub != nil {
		opts.Events = hub
	}
	return opts
}
