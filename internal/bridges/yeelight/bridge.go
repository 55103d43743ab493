package yeelight

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/lumen-core/internal/device"
	"github.com/nerrad567/lumen-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/lumen-core/internal/infrastructure/mqtt"
)

// Bridge operation constants.
const (
	// minTopicParts is the minimum number of parts in a command topic
	// (lumen/command/yeelight/{light}).
	minTopicParts = 4

	// defaultHealthInterval is how often health is published.
	defaultHealthInterval = 30 * time.Second

	// qosReliable is used for every bridge publish.
	qosReliable = 1

	// historyWriteTimeout bounds one history insert.
	historyWriteTimeout = 2 * time.Second

	// maxTimerMinutes keeps minutes * time.Minute inside a Duration.
	maxTimerMinutes = int(math.MaxInt64 / int64(time.Minute))
)

// WebSocket event channels.
const (
	EventLightState      = "light.state"
	EventLightConnection = "light.connection"
	EventLightDiscovered = "light.discovered"
)

// MQTTClient is the subset of the MQTT client the bridge uses.
// *mqtt.Client satisfies it.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
}

// LightRegistry is the canonical light list. *device.Registry satisfies it.
type LightRegistry interface {
	Observe(rec device.Record)
	List() []device.Record
	ByID(id device.Identity) (device.Record, error)
	ByName(name string) (device.Record, error)
	UpdateState(id device.Identity, state device.LightState) error
	UpdateName(id device.Identity, name string) error
}

// Recorder stores light history. *influxdb.Client satisfies it.
type Recorder interface {
	WriteLightState(s influxdb.LightState)
	WriteConnectionEvent(lightID, address, state, reason string)
}

// EventSink fans events out to UI clients. The API's WebSocket hub
// satisfies it.
type EventSink interface {
	Broadcast(channel string, payload any)
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// Scanner owns the light connections. Required.
	Scanner *Scanner

	// Registry is the canonical light list. Required.
	Registry LightRegistry

	// MQTT is optional. Without it the bridge serves the API only.
	MQTT MQTTClient

	// Recorder is optional time-series storage.
	Recorder Recorder

	// Events is optional UI fan-out.
	Events EventSink

	// History is an optional local state history. *device.SQLiteHistory
	// satisfies it.
	History device.History

	// Logger is optional structured logger.
	Logger Logger

	// Version is reported in health messages.
	Version string

	// HealthInterval defaults to 30 seconds.
	HealthInterval time.Duration
}

// LightStatus is a light as reported by the bridge.
type LightStatus struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Model      string            `json:"model,omitempty"`
	Firmware   string            `json:"firmware,omitempty"`
	Address    string            `json:"address"`
	State      device.LightState `json:"state"`
	Connection string            `json:"connection"`
	LastSeen   *time.Time        `json:"last_seen,omitempty"`
}

// ConnectionEvent is the payload of light.connection events.
type ConnectionEvent struct {
	DeviceID  string    `json:"device_id"`
	Address   string    `json:"address"`
	State     string    `json:"state"`
	Timestamp time.Time `json:"timestamp"`
}

// Bridge connects lights to the rest of the system. It handles:
//   - Commands from MQTT and the API, executed on the light's connection
//   - Discovery, registering new lights and announcing them
//   - State changes, published to MQTT, InfluxDB and WebSocket clients
//   - Health reporting
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	scanner  *Scanner
	registry LightRegistry
	mqtt     MQTTClient
	recorder Recorder
	events   EventSink
	history  device.History
	logger   Logger

	version        string
	healthInterval time.Duration
	startTime      time.Time

	// attached holds the connection per light whose observers are
	// registered. A replacement connection evicts the old one.
	attached   map[device.Identity]*Connection
	attachedMu sync.Mutex

	// online tracks the last published connection state per light.
	online   map[device.Identity]bool
	onlineMu sync.Mutex

	commandsReceived atomic.Uint64
	commandsFailed   atomic.Uint64

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewBridge creates a bridge. Call Start to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Scanner == nil {
		return nil, fmt.Errorf("scanner is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	interval := opts.HealthInterval
	if interval <= 0 {
		interval = defaultHealthInterval
	}

	return &Bridge{
		scanner:        opts.Scanner,
		registry:       opts.Registry,
		mqtt:           opts.MQTT,
		recorder:       opts.Recorder,
		events:         opts.Events,
		history:        opts.History,
		logger:         logger,
		version:        opts.Version,
		healthInterval: interval,
		startTime:      time.Now(),
		attached:       make(map[device.Identity]*Connection),
		online:         make(map[device.Identity]bool),
		done:           make(chan struct{}),
	}, nil
}

// Start wires discovery, attaches to every connection the scanner already
// holds, subscribes to command topics and starts health reporting. It does
// not start the scanner.
func (b *Bridge) Start(ctx context.Context) error {
	b.scanner.OnDiscovered(b.handleDiscovered)
	for _, conn := range b.scanner.Connections() {
		b.attach(conn)
	}

	if b.mqtt == nil {
		b.logger.Info("bridge started without MQTT")
		return nil
	}

	b.publishHealth(HealthStarting, "")

	topic := CommandSubscribeTopic()
	if err := b.mqtt.Subscribe(topic, qosReliable, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logger.Info("subscribed to commands", "topic", topic)

	b.wg.Add(1)
	go b.healthLoop(ctx)

	b.publishHealth(HealthHealthy, "")
	b.logger.Info("bridge started", "lights", len(b.registry.List()))
	return nil
}

// Stop drops the command subscription and ends health reporting.
// Connections belong to the scanner.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		b.wg.Wait()
		if b.mqtt != nil {
			if err := b.mqtt.Unsubscribe(CommandSubscribeTopic()); err != nil {
				b.logger.Warn("dropping command subscription", "error", err)
			}
			b.publishHealth(HealthStopping, "")
		}
		b.logger.Info("bridge stopped")
	})
}

// attach registers persistent observers on conn once and drops the
// light's previous connection, which the scanner has already closed.
func (b *Bridge) attach(conn *Connection) {
	id := conn.Identity()
	b.attachedMu.Lock()
	prev := b.attached[id]
	if prev == conn {
		b.attachedMu.Unlock()
		return
	}
	b.attached[id] = conn
	b.attachedMu.Unlock()

	if prev != nil {
		b.logger.Debug("connection replaced", "light", id, "old", prev.Address(), "new", conn.Address())
	}

	conn.OnConnected(func() { b.connectionChanged(conn, true) }, false)
	conn.OnDisconnected(func() { b.connectionChanged(conn, false) }, false)
	conn.OnUpdated(func() { b.stateChanged(conn) }, false)
}

func (b *Bridge) handleDiscovered(adv Advertisement, conn *Connection) {
	rec := adv.Record()
	rec.LastSeen = time.Now().UTC()
	b.registry.Observe(rec)
	b.attach(conn)
	b.recordHistory(rec.ID, rec.State, device.HistorySourceDiscovery)

	msg := DiscoveryMessage{
		DeviceID:  adv.ID.String(),
		Timestamp: rec.LastSeen,
		Address:   adv.Address.String(),
		Model:     adv.Model,
		Firmware:  adv.Firmware,
		Name:      adv.Name,
		Support:   adv.Support,
		Protocol:  Protocol,
	}
	b.publishJSON(DiscoveryTopic(), msg, true)
	b.broadcast(EventLightDiscovered, msg)
}

// connectionChanged publishes a connection transition. The first report
// for a light that has never connected is not an event.
func (b *Bridge) connectionChanged(conn *Connection, up bool) {
	id := conn.Identity()

	b.onlineMu.Lock()
	prev, seen := b.online[id]
	b.online[id] = up
	b.onlineMu.Unlock()

	if (seen && prev == up) || (!seen && !up) {
		return
	}

	state := StateDisconnected.String()
	if up {
		state = StateConnected.String()
	}
	if b.recorder != nil {
		b.recorder.WriteConnectionEvent(id.String(), conn.Address().String(), state, "")
	}
	b.broadcast(EventLightConnection, ConnectionEvent{
		DeviceID:  id.String(),
		Address:   conn.Address().String(),
		State:     state,
		Timestamp: time.Now().UTC(),
	})
	b.publishState(conn, up)
}

func (b *Bridge) stateChanged(conn *Connection) {
	id := conn.Identity()
	state, name := conn.Snapshot()

	if err := b.registry.UpdateState(id, state); err != nil {
		b.registry.Observe(device.Record{ID: id, Address: conn.Address(), Name: name, State: state})
	}
	if name != "" {
		if err := b.registry.UpdateName(id, name); err != nil {
			b.logger.Warn("ignoring reported name", "light", id, "error", err)
		}
	}

	if b.recorder != nil {
		rec, _ := b.registry.ByID(id) //nolint:errcheck // Zero record only loses the model tag
		b.recorder.WriteLightState(influxdb.LightState{
			LightID:          id.String(),
			Name:             name,
			Model:            rec.Model,
			Power:            state.Power,
			Brightness:       state.Brightness,
			ColorMode:        state.ColorMode,
			ColorTemperature: state.ColorTemperature,
			RGB:              state.RGB,
		})
	}

	b.recordHistory(id, state, device.HistorySourceDevice)

	msg := b.publishState(conn, conn.State() == StateConnected)
	b.broadcast(EventLightState, msg)
}

func (b *Bridge) recordHistory(id device.Identity, state device.LightState, source string) {
	if b.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
	defer cancel()
	if err := b.history.Record(ctx, id, state, source); err != nil {
		b.logger.Warn("recording light history failed", "light", id, "error", err)
	}
}

func (b *Bridge) publishState(conn *Connection, online bool) StateMessage {
	state, name := conn.Snapshot()
	msg := StateMessage{
		DeviceID:  conn.Identity().String(),
		Name:      name,
		Timestamp: time.Now().UTC(),
		State:     state,
		Online:    online,
		Protocol:  Protocol,
		Address:   conn.Address().String(),
	}
	b.publishJSON(StateTopic(conn.Identity()), msg, true)
	return msg
}

// handleMQTTMessage executes a command and publishes its acknowledgement.
// Errors are reported in the ack, not returned.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) error {
	parts := strings.Split(topic, "/")
	if len(parts) < minTopicParts {
		return fmt.Errorf("invalid command topic %q", topic)
	}
	address := parts[len(parts)-1]

	cmd, err := ParseCommand(payload, address)
	if err != nil {
		b.commandsReceived.Add(1)
		b.commandsFailed.Add(1)
		b.publishAck(address, CommandMessage{DeviceID: address}, err)
		return nil
	}
	if cmd.Source == "" {
		cmd.Source = "mqtt"
	}

	b.publishAck(address, cmd, b.Execute(cmd))
	return nil
}

func (b *Bridge) publishAck(address string, cmd CommandMessage, err error) {
	ack := AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  cmd.DeviceID,
		Status:    AckAccepted,
		Protocol:  Protocol,
	}
	if err != nil {
		ack.Status = AckFailed
		ack.Error = &AckError{Code: ErrorCode(err), Message: err.Error()}
	}
	b.publishJSON(AckTopic(address), ack, false)
}

// Execute runs a command on the light named by cmd.DeviceID (display name
// or hex identity). Success means the request was written.
func (b *Bridge) Execute(cmd CommandMessage) error {
	b.commandsReceived.Add(1)

	err := b.execute(cmd)
	if err != nil {
		b.commandsFailed.Add(1)
		b.logger.Warn("command failed",
			"command_id", cmd.ID, "device_id", cmd.DeviceID, "command", cmd.Command, "error", err)
		return err
	}
	b.logger.Info("command sent",
		"command_id", cmd.ID, "device_id", cmd.DeviceID, "command", cmd.Command, "source", cmd.Source)
	return nil
}

func (b *Bridge) execute(cmd CommandMessage) error {
	rec, err := b.Resolve(cmd.DeviceID)
	if err != nil {
		return err
	}
	conn, ok := b.scanner.Connection(rec.ID)
	if !ok {
		return fmt.Errorf("%w: %s has no connection", ErrUnknownLight, rec.ID)
	}
	return dispatch(conn, cmd.Command, cmd.Parameters)
}

// Resolve finds a light by display name, then by hex identity.
func (b *Bridge) Resolve(ref string) (device.Record, error) {
	if rec, err := b.registry.ByName(ref); err == nil {
		return rec, nil
	}
	if id, err := device.ParseIdentity(ref); err == nil {
		if rec, err := b.registry.ByID(id); err == nil {
			return rec, nil
		}
	}
	return device.Record{}, fmt.Errorf("%w: %q", ErrUnknownLight, ref)
}

func dispatch(conn *Connection, command string, p map[string]any) error {
	switch command {
	case CommandOn, CommandOff:
		d, err := durationParam(p)
		if err != nil {
			return err
		}
		return conn.SetPowered(command == CommandOn, d)

	case CommandToggle:
		return conn.Toggle()

	case CommandBlink:
		return conn.ToggleTwice()

	case CommandBrightness:
		level, err := requireInt(p, "level")
		if err != nil {
			return err
		}
		d, err := durationParam(p)
		if err != nil {
			return err
		}
		return conn.SetBrightness(level, d)

	case CommandColorTemperature:
		kelvin, err := requireInt(p, "kelvin")
		if err != nil {
			return err
		}
		d, err := durationParam(p)
		if err != nil {
			return err
		}
		return conn.SetColorTemperature(kelvin, d)

	case CommandRGB:
		color, err := colorParam(p)
		if err != nil {
			return err
		}
		d, err := durationParam(p)
		if err != nil {
			return err
		}
		return conn.SetRGBColor(color, d)

	case CommandFlow:
		action, steps, err := flowParams(p)
		if err != nil {
			return err
		}
		return conn.StartColorFlow(action, steps)

	case CommandStopFlow:
		return conn.StopColorFlow()

	case CommandShutdownTimer:
		minutes, err := requireInt(p, "minutes")
		if err != nil {
			return err
		}
		if minutes > maxTimerMinutes {
			return fmt.Errorf("%w: minutes %d exceeds %d", ErrInvalidArgument, minutes, maxTimerMinutes)
		}
		return conn.SetShutdownTimer(time.Duration(minutes) * time.Minute)

	case CommandCancelTimer:
		return conn.RemoveShutdownTimer()

	case CommandName:
		name, ok, err := stringParam(p, "name")
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: missing name", ErrInvalidArgument)
		}
		return conn.SetName(name)

	case CommandRefresh:
		return conn.Refresh()

	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, command)
	}
}

// Lights returns every registered light with its connection state.
func (b *Bridge) Lights() []LightStatus {
	records := b.registry.List()
	out := make([]LightStatus, 0, len(records))
	for _, rec := range records {
		out = append(out, b.status(rec))
	}
	return out
}

// Light returns one light by name or identity.
func (b *Bridge) Light(ref string) (LightStatus, error) {
	rec, err := b.Resolve(ref)
	if err != nil {
		return LightStatus{}, err
	}
	return b.status(rec), nil
}

// History returns the newest recorded states for a light, newest first.
func (b *Bridge) History(ctx context.Context, ref string, limit int) ([]device.HistoryEntry, error) {
	if b.history == nil {
		return nil, ErrHistoryDisabled
	}
	rec, err := b.Resolve(ref)
	if err != nil {
		return nil, err
	}
	entries, err := b.history.Recent(ctx, rec.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("reading history for %s: %w", rec.ID, err)
	}
	return entries, nil
}

func (b *Bridge) status(rec device.Record) LightStatus {
	st := LightStatus{
		ID:         rec.ID.String(),
		Name:       rec.Name,
		Model:      rec.Model,
		Firmware:   rec.Firmware,
		Address:    rec.Address.String(),
		State:      rec.State,
		Connection: StateDisconnected.String(),
	}
	if !rec.LastSeen.IsZero() {
		seen := rec.LastSeen
		st.LastSeen = &seen
	}
	if conn, ok := b.scanner.Connection(rec.ID); ok {
		st.Connection = conn.State().String()
		st.Address = conn.Address().String()
	}
	return st
}

// Statistics returns bridge metrics.
func (b *Bridge) Statistics() BridgeStatistics {
	scan := b.scanner.Stats()
	var connects uint64
	for _, conn := range b.scanner.Connections() {
		connects += conn.Stats().Connects
	}
	return BridgeStatistics{
		CommandsReceived: b.commandsReceived.Load(),
		CommandsFailed:   b.commandsFailed.Load(),
		Searches:         scan.Searches,
		Datagrams:        scan.Datagrams,
		Discovered:       scan.Discovered,
		Reconnects:       connects,
	}
}

// Health builds the current health message.
func (b *Bridge) Health(status HealthStatus, reason string) HealthMessage {
	conns := b.scanner.Connections()
	connected := 0
	for _, c := range conns {
		if c.IsConnected() {
			connected++
		}
	}
	if status == HealthHealthy && connected < len(conns) {
		status = HealthDegraded
		if reason == "" {
			reason = fmt.Sprintf("%d of %d lights unreachable", len(conns)-connected, len(conns))
		}
	}
	stats := b.Statistics()
	return HealthMessage{
		Bridge:        Protocol,
		Timestamp:     time.Now().UTC(),
		Status:        status,
		Version:       b.version,
		UptimeSeconds: int64(time.Since(b.startTime).Seconds()),
		Lights:        len(conns),
		Connected:     connected,
		Statistics:    &stats,
		Reason:        reason,
	}
}

func (b *Bridge) healthLoop(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		case <-ticker.C:
			b.publishHealth(HealthHealthy, "")
		}
	}
}

func (b *Bridge) publishHealth(status HealthStatus, reason string) {
	b.publishJSON(HealthTopic(), b.Health(status, reason), true)
}

func (b *Bridge) publishJSON(topic string, v any, retained bool) {
	if b.mqtt == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		b.logger.Error("failed to marshal message", "topic", topic, "error", err)
		return
	}
	if err := b.mqtt.Publish(topic, payload, qosReliable, retained); err != nil {
		if errors.Is(err, mqtt.ErrNotConnected) {
			b.logger.Debug("mqtt offline, dropped message", "topic", topic)
			return
		}
		b.logger.Warn("failed to publish", "topic", topic, "error", err)
	}
}

func (b *Bridge) broadcast(channel string, payload any) {
	if b.events != nil {
		b.events.Broadcast(channel, payload)
	}
}
