package influxdb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/lumen-core/internal/infrastructure/config"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultPingTimeout    = 5 * time.Second

	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second
)

// Logger is the logging surface the client needs. *logging.Logger
// satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Stats counts light history points since Connect.
type Stats struct {
	// Written is points handed to the batching writer.
	Written uint64 `json:"written"`
	// Unchanged is light states dropped because they repeat the last
	// sample for that light.
	Unchanged uint64 `json:"unchanged"`
	// Failed is batches the server rejected or that could not be sent.
	Failed uint64 `json:"failed"`
}

// Client records light history in an InfluxDB v2 bucket.
//
// Writes are batched and never block the bridge. A light reports its full
// property set on reconnect and often repeats unchanged values, so the
// client keeps the last state per light and skips exact repeats.
type Client struct {
	server   influxdb2.Client
	writeAPI api.WriteAPI
	cfg      config.InfluxDBConfig
	logger   Logger
	now      func() time.Time

	closed atomic.Bool

	lastMu sync.Mutex
	last   map[string]LightState

	written   atomic.Uint64
	unchanged atomic.Uint64
	failed    atomic.Uint64

	errorsDone chan struct{}
}

// Connect pings the server and opens a batching writer on the configured
// org and bucket.
//
// Parameters:
//   - cfg: the influxdb config section; non-positive batch settings fall
//     back to 100 points and 10 seconds
//   - logger: receives write failures; nil discards them
//
// Returns:
//   - *Client: ready for writes
//   - error: ErrDisabled, or wraps ErrConnectionFailed
func Connect(cfg config.InfluxDBConfig, logger Logger) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	server := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, writeOptions(cfg))

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer cancel()

	healthy, err := server.Ping(ctx)
	if err != nil {
		server.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, cfg.URL, err)
	}
	if !healthy {
		server.Close()
		return nil, fmt.Errorf("%w: %s: server not healthy", ErrConnectionFailed, cfg.URL)
	}

	c := newClient(server.WriteAPI(cfg.Org, cfg.Bucket), cfg, logger)
	c.server = server
	return c, nil
}

// writeOptions maps the batch settings onto client options. The client
// library takes the flush interval in milliseconds.
func writeOptions(cfg config.InfluxDBConfig) *influxdb2.Options {
	batch := uint(defaultBatchSize)
	if cfg.BatchSize > 0 {
		batch = uint(cfg.BatchSize)
	}
	flush := defaultFlushInterval
	if cfg.FlushInterval > 0 {
		flush = time.Duration(cfg.FlushInterval) * time.Second
	}
	return influxdb2.DefaultOptions().
		SetBatchSize(batch).
		SetFlushInterval(uint(flush.Milliseconds()))
}

// newClient wraps a write API. It drains the API's error channel, which
// the library requires before any write.
func newClient(writeAPI api.WriteAPI, cfg config.InfluxDBConfig, logger Logger) *Client {
	if logger == nil {
		logger = noopLogger{}
	}
	c := &Client{
		writeAPI:   writeAPI,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
		last:       make(map[string]LightState),
		errorsDone: make(chan struct{}),
	}
	go c.drainErrors(writeAPI.Errors())
	return c
}

func (c *Client) drainErrors(errs <-chan error) {
	defer close(c.errorsDone)
	for err := range errs {
		n := c.failed.Add(1)
		c.logger.Error("light history write failed",
			"bucket", c.cfg.Bucket,
			"error", err,
			"failures", n,
		)
	}
}

// Close flushes buffered points and closes the connection. Writes after
// Close are dropped.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.writeAPI.Flush()
	if c.server != nil {
		c.server.Close()
	}
	return nil
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	if c.server == nil {
		return nil
	}

	checkCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	healthy, err := c.server.Ping(checkCtx)
	if err != nil {
		return fmt.Errorf("influxdb health check: %w", err)
	}
	if !healthy {
		return fmt.Errorf("influxdb health check: server not healthy")
	}
	return nil
}

// IsConnected reports false once Close has run. It does not ping; use
// HealthCheck for that.
func (c *Client) IsConnected() bool {
	return !c.closed.Load()
}

// Stats returns the write counters.
func (c *Client) Stats() Stats {
	return Stats{
		Written:   c.written.Load(),
		Unchanged: c.unchanged.Load(),
		Failed:    c.failed.Load(),
	}
}

// Flush sends buffered points now. No-op after Close.
func (c *Client) Flush() {
	if c.IsConnected() {
		c.writeAPI.Flush()
	}
}
