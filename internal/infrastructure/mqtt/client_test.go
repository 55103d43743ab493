package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/lumen-core/internal/infrastructure/config"
)

// testConfig returns a valid MQTT configuration. Integration tests expect a
// broker at 127.0.0.1:1883.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "lumen-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// ─── Fakes ──────────────────────────────────────────────────────────

type fakeToken struct {
	err  error
	done chan struct{}
}

func doneToken(err error) *fakeToken {
	ch := make(chan struct{})
	close(ch)
	return &fakeToken{err: err, done: ch}
}

func (t *fakeToken) Wait() bool { <-t.done; return true }

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

type fakePublish struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// fakePaho stands in for the paho client and the broker behind it.
type fakePaho struct {
	mu           sync.Mutex
	connected    bool
	connectErr   error
	publishErr   error
	subscribeErr error
	published    []fakePublish
	subscribed   []string
	unsubscribed []string
	handlers     map[string]pahomqtt.MessageHandler
	disconnects  int
}

func newFakePaho() *fakePaho {
	return &fakePaho{handlers: make(map[string]pahomqtt.MessageHandler)}
}

func (f *fakePaho) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakePaho) IsConnectionOpen() bool { return f.IsConnected() }

func (f *fakePaho) Connect() pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = f.connectErr == nil
	return doneToken(f.connectErr)
}

func (f *fakePaho) Disconnect(uint) {
	f.mu.Lock()
	f.connected = false
	f.disconnects++
	f.mu.Unlock()
}

func (f *fakePaho) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, _ := payload.([]byte)
	f.published = append(f.published, fakePublish{topic: topic, qos: qos, retained: retained, payload: data})
	return doneToken(f.publishErr)
}

func (f *fakePaho) Subscribe(topic string, _ byte, callback pahomqtt.MessageHandler) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr == nil {
		f.subscribed = append(f.subscribed, topic)
		f.handlers[topic] = callback
	}
	return doneToken(f.subscribeErr)
}

func (f *fakePaho) SubscribeMultiple(map[string]byte, pahomqtt.MessageHandler) pahomqtt.Token {
	return doneToken(errors.New("not supported"))
}

func (f *fakePaho) Unsubscribe(topics ...string) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range topics {
		f.unsubscribed = append(f.unsubscribed, t)
		delete(f.handlers, t)
	}
	return doneToken(nil)
}

func (f *fakePaho) AddRoute(string, pahomqtt.MessageHandler) {}

func (f *fakePaho) OptionsReader() pahomqtt.ClientOptionsReader {
	return pahomqtt.ClientOptionsReader{}
}

// deliver routes a message to the handler registered for filter.
func (f *fakePaho) deliver(filter, topic string, payload []byte) {
	f.mu.Lock()
	h := f.handlers[filter]
	f.mu.Unlock()
	if h != nil {
		h(f, &fakeMessage{topic: topic, payload: payload})
	}
}

func (f *fakePaho) lastPublished(topic string) (fakePublish, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.published) - 1; i >= 0; i-- {
		if f.published[i].topic == topic {
			return f.published[i], true
		}
	}
	return fakePublish{}, false
}

func (f *fakePaho) setConnected(v bool) {
	f.mu.Lock()
	f.connected = v
	f.mu.Unlock()
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 1 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

// recordingLogger keeps every message by level.
type recordingLogger struct {
	mu      sync.Mutex
	entries []string
}

func (l *recordingLogger) add(level, msg string) {
	l.mu.Lock()
	l.entries = append(l.entries, level+": "+msg)
	l.mu.Unlock()
}

func (l *recordingLogger) Debug(msg string, _ ...any) { l.add("debug", msg) }
func (l *recordingLogger) Info(msg string, _ ...any)  { l.add("info", msg) }
func (l *recordingLogger) Warn(msg string, _ ...any)  { l.add("warn", msg) }
func (l *recordingLogger) Error(msg string, _ ...any) { l.add("error", msg) }

func (l *recordingLogger) has(entry string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e == entry {
			return true
		}
	}
	return false
}

// connectFake runs Connect against a fake broker and returns the options
// paho was built with, so tests can fire its lifecycle handlers.
func connectFake(t *testing.T, fake *fakePaho, log Logger) (*Client, *pahomqtt.ClientOptions) {
	t.Helper()
	var opts *pahomqtt.ClientOptions
	orig := newPahoClient
	t.Cleanup(func() { newPahoClient = orig })
	newPahoClient = func(o *pahomqtt.ClientOptions) pahomqtt.Client {
		opts = o
		return fake
	}

	c, err := Connect(testConfig(), log)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	return c, opts
}

// ─── Options ────────────────────────────────────────────────────────

func TestBuildClientOptions(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		mutate   func(*config.MQTTConfig)
		url      string
		username string
		tls      bool
	}{
		{"plain", func(*config.MQTTConfig) {}, "tcp://127.0.0.1:1883", "", false},
		{"tls", func(c *config.MQTTConfig) { c.Broker.TLS = true; c.Broker.Port = 8883 }, "ssl://127.0.0.1:8883", "", true},
		{"auth", func(c *config.MQTTConfig) { c.Auth.Username = "lumen"; c.Auth.Password = "secret" }, "tcp://127.0.0.1:1883", "lumen", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			opts := buildClientOptions(cfg, now)

			if len(opts.Servers) != 1 || opts.Servers[0].String() != tt.url {
				t.Errorf("Servers = %v, want %s", opts.Servers, tt.url)
			}
			if opts.Username != tt.username {
				t.Errorf("Username = %q, want %q", opts.Username, tt.username)
			}
			if (opts.TLSConfig != nil && opts.TLSConfig.MinVersion == tlsMinVersion) != tt.tls {
				t.Errorf("TLSConfig = %v, want tls %v", opts.TLSConfig, tt.tls)
			}
			if !opts.CleanSession || !opts.AutoReconnect || !opts.ConnectRetry {
				t.Error("want clean session with auto reconnect and connect retry")
			}
			if opts.ConnectRetryInterval != time.Second || opts.MaxReconnectInterval != 5*time.Second {
				t.Errorf("retry = %v, max = %v; want 1s, 5s", opts.ConnectRetryInterval, opts.MaxReconnectInterval)
			}
		})
	}
}

func TestBuildClientOptions_LastWill(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	opts := buildClientOptions(testConfig(), now)

	if !opts.WillEnabled || opts.WillTopic != "lumen/system/status" || !opts.WillRetained || opts.WillQos != 1 {
		t.Fatalf("will = enabled %v topic %q retained %v qos %d", opts.WillEnabled, opts.WillTopic, opts.WillRetained, opts.WillQos)
	}
	var will StatusMessage
	if err := json.Unmarshal(opts.WillPayload, &will); err != nil {
		t.Fatalf("decoding will: %v", err)
	}
	want := StatusMessage{Status: StatusOffline, ClientID: "lumen-test", Reason: reasonUnexpected, Timestamp: now}
	if will != want {
		t.Errorf("will = %+v, want %+v", will, want)
	}
}

// ─── Connect ────────────────────────────────────────────────────────

func TestConnect_Refused(t *testing.T) {
	fake := newFakePaho()
	fake.connectErr = errors.New("not authorised")
	orig := newPahoClient
	t.Cleanup(func() { newPahoClient = orig })
	newPahoClient = func(*pahomqtt.ClientOptions) pahomqtt.Client { return fake }

	_, err := Connect(testConfig(), nil)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("Connect() error = %v, want ErrConnectionFailed", err)
	}
	if !strings.Contains(err.Error(), "tcp://127.0.0.1:1883") {
		t.Errorf("error %q does not name the broker", err)
	}
}

func TestClient_ReconnectRestoresSubscriptions(t *testing.T) {
	fake := newFakePaho()
	log := &recordingLogger{}
	c, opts := connectFake(t, fake, log)
	opts.OnConnect(fake)

	noop := func(string, []byte) error { return nil }
	for _, topic := range []string{"lumen/command/yeelight/+", "lumen/command/hue/+"} {
		if err := c.Subscribe(topic, 1, noop); err != nil {
			t.Fatalf("Subscribe(%s) error = %v", topic, err)
		}
	}

	fake.setConnected(false)
	opts.OnConnectionLost(fake, errors.New("broker restarted"))
	if c.IsConnected() {
		t.Error("IsConnected() = true after connection lost")
	}
	if err := c.Publish("lumen/state/yeelight/0x15", []byte("{}"), 1, true); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() while down error = %v, want ErrNotConnected", err)
	}

	fake.mu.Lock()
	fake.subscribed = nil
	fake.mu.Unlock()
	fake.setConnected(true)
	opts.OnConnect(fake)

	if !c.IsConnected() {
		t.Error("IsConnected() = false after reconnect")
	}
	if c.Reconnects() != 1 {
		t.Errorf("Reconnects() = %d, want 1", c.Reconnects())
	}
	fake.mu.Lock()
	replayed := append([]string(nil), fake.subscribed...)
	fake.mu.Unlock()
	want := []string{"lumen/command/hue/+", "lumen/command/yeelight/+"}
	if strings.Join(replayed, ",") != strings.Join(want, ",") {
		t.Errorf("replayed = %v, want %v", replayed, want)
	}

	status, ok := fake.lastPublished("lumen/system/status")
	if !ok || !status.retained {
		t.Fatalf("online status published = %v, retained = %v", ok, status.retained)
	}
	var msg StatusMessage
	if err := json.Unmarshal(status.payload, &msg); err != nil || msg.Status != StatusOnline {
		t.Errorf("status = %+v, %v; want online", msg, err)
	}
	if !log.has("warn: mqtt connection lost") || !log.has("info: mqtt reconnected") {
		t.Errorf("log = %v, want connection lost and reconnected", log.entries)
	}
}

// ─── Publish / Subscribe ────────────────────────────────────────────

func TestClient_PublishErrors(t *testing.T) {
	fake := newFakePaho()
	c, _ := connectFake(t, fake, nil)

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		want    error
	}{
		{"empty topic", "", []byte("{}"), 1, ErrInvalidTopic},
		{"qos 3", "lumen/ack/yeelight/desk", []byte("{}"), 3, ErrInvalidQoS},
		{"oversized", "lumen/ack/yeelight/desk", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.Publish(tt.topic, tt.payload, tt.qos, false); !errors.Is(err, tt.want) {
				t.Errorf("Publish() error = %v, want %v", err, tt.want)
			}
		})
	}

	fake.publishErr = errors.New("quota exceeded")
	err := c.Publish("lumen/ack/yeelight/desk", []byte("{}"), 1, false)
	if !errors.Is(err, ErrPublishFailed) || !strings.Contains(err.Error(), "lumen/ack/yeelight/desk") {
		t.Errorf("Publish() broker error = %v, want ErrPublishFailed naming the topic", err)
	}
}

func TestClient_Publish(t *testing.T) {
	fake := newFakePaho()
	c, _ := connectFake(t, fake, nil)

	if err := c.Publish("lumen/state/yeelight/0x15", []byte(`{"power":true}`), 1, true); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	got, ok := fake.lastPublished("lumen/state/yeelight/0x15")
	if !ok || !got.retained || got.qos != 1 || string(got.payload) != `{"power":true}` {
		t.Errorf("published = %+v", got)
	}
}

func TestClient_SubscribeDelivers(t *testing.T) {
	fake := newFakePaho()
	log := &recordingLogger{}
	c, _ := connectFake(t, fake, log)

	filter := Topics{}.BridgeCommands("yeelight")
	var gotTopic, gotPayload string
	err := c.Subscribe(filter, 1, func(topic string, payload []byte) error {
		gotTopic, gotPayload = topic, string(payload)
		switch string(payload) {
		case "fail":
			return errors.New("bad command")
		case "panic":
			panic("boom")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	fake.deliver(filter, "lumen/command/yeelight/desk", []byte(`{"command":"on"}`))
	if gotTopic != "lumen/command/yeelight/desk" || gotPayload != `{"command":"on"}` {
		t.Errorf("handler got %q %q", gotTopic, gotPayload)
	}

	fake.deliver(filter, "lumen/command/yeelight/desk", []byte("fail"))
	if !log.has("warn: mqtt handler returned error") {
		t.Error("handler error not logged")
	}
	fake.deliver(filter, "lumen/command/yeelight/desk", []byte("panic"))
	if !log.has("error: mqtt handler panic recovered") {
		t.Error("handler panic not recovered and logged")
	}
}

func TestClient_SubscribeErrors(t *testing.T) {
	fake := newFakePaho()
	c, _ := connectFake(t, fake, nil)
	noop := func(string, []byte) error { return nil }

	if err := c.Subscribe("", 1, noop); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Subscribe(empty) error = %v, want ErrInvalidTopic", err)
	}
	if err := c.Subscribe("lumen/#", 3, noop); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Subscribe(qos 3) error = %v, want ErrInvalidQoS", err)
	}
	if err := c.Subscribe("lumen/#", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe(nil handler) error = %v, want ErrSubscribeFailed", err)
	}

	fake.subscribeErr = errors.New("not authorised")
	if err := c.Subscribe("lumen/#", 1, noop); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe() refused error = %v, want ErrSubscribeFailed", err)
	}
	if c.subscriptionCount() != 0 {
		t.Errorf("refused subscription was remembered")
	}

	fake.subscribeErr = nil
	fake.setConnected(false)
	if err := c.Subscribe("lumen/#", 1, noop); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe() while down error = %v, want ErrNotConnected", err)
	}
}

func TestClient_Unsubscribe(t *testing.T) {
	fake := newFakePaho()
	c, opts := connectFake(t, fake, nil)
	filter := Topics{}.BridgeCommands("yeelight")

	if err := c.Subscribe(filter, 1, func(string, []byte) error { return nil }); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if err := c.Unsubscribe(filter); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if len(fake.unsubscribed) != 1 || fake.unsubscribed[0] != filter {
		t.Errorf("unsubscribed = %v, want [%s]", fake.unsubscribed, filter)
	}

	// A forgotten filter is not replayed after a reconnect.
	fake.mu.Lock()
	fake.subscribed = nil
	fake.mu.Unlock()
	opts.OnConnect(fake)
	if len(fake.subscribed) != 0 {
		t.Errorf("replayed %v after Unsubscribe", fake.subscribed)
	}

	if err := c.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe(empty) error = %v, want ErrInvalidTopic", err)
	}
	fake.setConnected(false)
	if err := c.Unsubscribe(filter); err != nil {
		t.Errorf("Unsubscribe() while down error = %v, want nil", err)
	}
}

// ─── Lifecycle ──────────────────────────────────────────────────────

func TestClient_Close(t *testing.T) {
	fake := newFakePaho()
	c, _ := connectFake(t, fake, nil)

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	status, ok := fake.lastPublished("lumen/system/status")
	if !ok {
		t.Fatal("no offline status on Close")
	}
	var msg StatusMessage
	if err := json.Unmarshal(status.payload, &msg); err != nil {
		t.Fatalf("decoding status: %v", err)
	}
	if msg.Status != StatusOffline || msg.Reason != reasonGraceful {
		t.Errorf("status = %+v, want graceful offline", msg)
	}
	if fake.disconnects != 1 || c.IsConnected() {
		t.Errorf("disconnects = %d, connected = %v", fake.disconnects, c.IsConnected())
	}

	if err := (&Client{}).Close(); err != nil {
		t.Errorf("Close() on unconnected client error = %v", err)
	}
}

func TestClient_HealthCheck(t *testing.T) {
	fake := newFakePaho()
	c, _ := connectFake(t, fake, nil)

	if err := c.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck(cancelled) error = %v, want context.Canceled", err)
	}

	fake.setConnected(false)
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() while down error = %v, want ErrNotConnected", err)
	}
	if (&Client{}).IsConnected() {
		t.Error("IsConnected() = true on a client that never connected")
	}
}

func TestTopicBuilders(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"BridgeState", Topics{}.BridgeState("yeelight", "0x01"), "lumen/state/yeelight/0x01"},
		{"BridgeCommand", Topics{}.BridgeCommand("yeelight", "study"), "lumen/command/yeelight/study"},
		{"BridgeAck", Topics{}.BridgeAck("yeelight", "study"), "lumen/ack/yeelight/study"},
		{"BridgeHealth", Topics{}.BridgeHealth("yeelight"), "lumen/health/yeelight"},
		{"BridgeDiscovery", Topics{}.BridgeDiscovery("yeelight"), "lumen/discovery/yeelight"},
		{"BridgeCommands", Topics{}.BridgeCommands("yeelight"), "lumen/command/yeelight/+"},
		{"SystemStatus", Topics{}.SystemStatus(), "lumen/system/status"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s() = %q, want %q", tt.name, tt.got, tt.want)
		}
	}
}

// ─── Broker integration ─────────────────────────────────────────────

// skipIfNoBroker skips unless RUN_INTEGRATION is set and a broker answers.
func skipIfNoBroker(t *testing.T) {
	t.Helper()
	if os.Getenv("RUN_INTEGRATION") == "" {
		t.Skip("set RUN_INTEGRATION=1 with a broker on 127.0.0.1:1883")
	}
	conn, err := net.DialTimeout("tcp", "127.0.0.1:1883", 200*time.Millisecond)
	if err != nil {
		t.Skip("MQTT broker not available")
	}
	conn.Close()
}

// TestBridgeCommandRoundtrip sends light commands the way an external
// controller would and receives them on the bridge's wildcard subscription.
func TestBridgeCommandRoundtrip(t *testing.T) {
	skipIfNoBroker(t)
	cfg := testConfig()
	cfg.Broker.ClientID = "lumen-test-controller"

	controller, err := Connect(cfg, nil)
	if err != nil {
		t.Fatalf("Connect() controller error = %v", err)
	}
	defer controller.Close()

	cfg.Broker.ClientID = "lumen-test-bridge"
	bridge, err := Connect(cfg, nil)
	if err != nil {
		t.Fatalf("Connect() bridge error = %v", err)
	}
	defer bridge.Close()

	var mu sync.Mutex
	received := make(map[string]string)
	done := make(chan struct{})

	targets := []string{"study", "0x000000000015"}
	err = bridge.Subscribe(Topics{}.BridgeCommands("yeelight"), 1, func(topic string, payload []byte) error {
		mu.Lock()
		defer mu.Unlock()
		received[topic] = string(payload)
		if len(received) == len(targets) {
			close(done)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	for _, target := range targets {
		if err := controller.Publish(Topics{}.BridgeCommand("yeelight", target), []byte(`{"command":"toggle"}`), 1, false); err != nil {
			t.Fatalf("Publish(%s) error = %v", target, err)
		}
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for commands")
	}

	mu.Lock()
	defer mu.Unlock()
	for _, target := range targets {
		topic := Topics{}.BridgeCommand("yeelight", target)
		if got := received[topic]; got != `{"command":"toggle"}` {
			t.Errorf("payload on %s = %q, want toggle command", topic, got)
		}
	}
}
