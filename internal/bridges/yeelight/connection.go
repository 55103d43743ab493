package yeelight

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/nerrad567/lumen-core/internal/device"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Default timeouts and intervals for the control stream.
const (
	defaultDialTimeout      = 3 * time.Second
	defaultKeepAlive        = 15 * time.Second
	defaultOperationTimeout = time.Second
	defaultProbeInterval    = 3 * time.Second
	defaultProbeTimeout     = time.Second
	defaultReconnectMax     = 30 * time.Second

	// reconnectMultiplier matches the growth used by the other bridges.
	reconnectMultiplier = 1.5

	// maxLineSize bounds one control-stream message.
	maxLineSize = 16 * 1024
)

// State is the connection state of one light.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "State(" + strconv.Itoa(int(s)) + ")"
	}
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Dialer opens the control stream. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Options configures a Connection. Zero fields take defaults.
type Options struct {
	Dialer Dialer
	Prober Prober
	Logger Logger

	DialTimeout      time.Duration
	KeepAlive        time.Duration
	OperationTimeout time.Duration
	ProbeInterval    time.Duration
	ProbeTimeout     time.Duration

	// ReconnectInitial is the first delay after a retryable connect error.
	// Zero retries immediately every time.
	ReconnectInitial time.Duration

	// ReconnectMax caps the backoff and is also the delay used after a
	// connect error that is not one of the retryable network errors.
	ReconnectMax time.Duration
}

func (o Options) withDefaults() Options {
	if o.DialTimeout <= 0 {
		o.DialTimeout = defaultDialTimeout
	}
	if o.KeepAlive <= 0 {
		o.KeepAlive = defaultKeepAlive
	}
	if o.OperationTimeout <= 0 {
		o.OperationTimeout = defaultOperationTimeout
	}
	if o.ProbeInterval <= 0 {
		o.ProbeInterval = defaultProbeInterval
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = defaultProbeTimeout
	}
	if o.ReconnectMax <= 0 {
		o.ReconnectMax = defaultReconnectMax
	}
	if o.Dialer == nil {
		o.Dialer = &net.Dialer{Timeout: o.DialTimeout, KeepAlive: o.KeepAlive}
	}
	if o.Prober == nil {
		o.Prober = NewTCPProber()
	}
	if o.Logger == nil {
		o.Logger = noopLogger{}
	}
	return o
}

// Stats holds operational statistics for one connection.
type Stats struct {
	State         State
	Session       string
	CommandsSent  uint64
	Replies       uint64
	Notifications uint64
	Malformed     uint64
	Timeouts      uint64
	ProbeFailures uint64
	ProbeErrors   uint64
	Connects      uint64
	Disconnects   uint64
	DialFailures  uint64
	Rejected      uint64
	LastActivity  time.Time
}

// session is one established control stream. It ends exactly once, when
// lost is closed.
type session struct {
	gen  uint64
	id   string
	conn net.Conn
	lost chan struct{}
}

// tracked is a cached property with a dirty flag: fresh is set when the
// value changes and cleared when the value is read through its getter.
type tracked[T comparable] struct {
	value T
	fresh bool
}

func (t *tracked[T]) set(v T) bool {
	if t.value == v {
		return false
	}
	t.value = v
	t.fresh = true
	return true
}

func (t *tracked[T]) read() (T, bool) {
	v, fresh := t.value, t.fresh
	t.fresh = false
	return v, fresh
}

// Connection owns the control stream to one light.
//
// It runs the state machine Disconnected → Connecting → Connected and back,
// reconnecting for as long as it is running. Commands are fire-and-forget:
// a nil error means the request was written, not that the light applied it.
// A command that gets no reply within the operation timeout, a failed
// liveness probe, or any read/write error ends the session; every pending
// request is then abandoned and callers re-issue what still applies once
// the connection is back.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Requests are written in call order.
//   - Observer callbacks run on the goroutine that performed the transition
//     and must not call Close.
type Connection struct {
	id   device.Identity
	addr device.Address
	opts Options
	log  Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   *closeOnce
	wg     sync.WaitGroup

	started atomic.Bool

	// writeMu orders request allocation and socket writes.
	writeMu sync.Mutex

	// mu guards everything below.
	mu         sync.Mutex
	state      State
	session    *session
	gen        uint64
	nextID     uint64
	pending    map[uint64]*time.Timer
	refreshIDs map[uint64]struct{}

	power      tracked[bool]
	brightness tracked[int]
	name       tracked[string]
	colorMode  int
	ct         int
	rgb        uint32
	propsKnown bool

	onConnected    observerList
	onDisconnected observerList
	onUpdated      observerList

	stats struct {
		sent, replies, notifications, malformed atomic.Uint64
		timeouts, probeFailures, probeErrors    atomic.Uint64
		connects, disconnects, dialFailures     atomic.Uint64
		rejected                                atomic.Uint64
		lastActivity                            atomic.Int64
	}
}

// NewConnection creates a connection to the light id at addr. It does not
// touch the network until Start.
func NewConnection(id device.Identity, addr device.Address, opts Options) *Connection {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		id:         id,
		addr:       addr,
		opts:       opts,
		log:        opts.Logger,
		ctx:        ctx,
		cancel:     cancel,
		done:       newCloseOnce(),
		state:      StateDisconnected,
		nextID:     1,
		pending:    make(map[uint64]*time.Timer),
		refreshIDs: make(map[uint64]struct{}),
	}
}

// Identity returns the light's identity.
func (c *Connection) Identity() device.Identity { return c.id }

// Address returns the control endpoint.
func (c *Connection) Address() device.Address { return c.addr }

// Start begins connecting in the background. Cancelling ctx has the same
// effect as Close, except that it does not wait. Calling Start more than
// once, or after Close, does nothing.
func (c *Connection) Start(ctx context.Context) {
	if c.isClosed() || !c.started.CompareAndSwap(false, true) {
		return
	}
	stop := context.AfterFunc(ctx, c.shutdown)
	c.wg.Add(1)
	go func() {
		defer stop()
		c.run()
	}()
}

// Close stops the connection: outstanding timers are cancelled, then the
// socket is released, then Close waits for the background goroutines.
// Observers are not notified.
func (c *Connection) Close() error {
	c.shutdown()
	c.wg.Wait()
	return nil
}

func (c *Connection) shutdown() {
	c.done.Close()
	c.cancel()

	c.mu.Lock()
	sess := c.endSessionLocked()
	c.state = StateDisconnected
	c.mu.Unlock()

	if sess != nil {
		close(sess.lost)
	}
}

func (c *Connection) isClosed() bool {
	select {
	case <-c.done.Done():
		return true
	default:
		return false
	}
}

// State returns the current connection state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether the state is Connected.
func (c *Connection) IsConnected() bool {
	return c.State() == StateConnected
}

func (c *Connection) run() {
	defer c.wg.Done()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.opts.ReconnectInitial
	bo.MaxInterval = c.opts.ReconnectMax
	bo.Multiplier = reconnectMultiplier
	bo.Reset()

	for !c.isClosed() {
		c.mu.Lock()
		if c.isClosed() {
			c.mu.Unlock()
			return
		}
		c.state = StateConnecting
		c.mu.Unlock()

		conn, err := c.dial()
		if err != nil {
			if c.isClosed() {
				return
			}
			c.stats.dialFailures.Add(1)
			if !c.sleep(c.retryDelay(bo, err)) {
				return
			}
			continue
		}
		bo.Reset()

		sess := c.establish(conn)
		if sess == nil {
			conn.Close() //nolint:errcheck // Closed while connecting
			return
		}

		select {
		case <-sess.lost:
		case <-c.done.Done():
			return
		}
	}
}

func (c *Connection) dial() (net.Conn, error) {
	ctx, cancel := context.WithTimeout(c.ctx, c.opts.DialTimeout)
	defer cancel()
	return c.opts.Dialer.DialContext(ctx, "tcp", c.addr.String())
}

// retryDelay picks the wait before the next connect attempt. Refused,
// unreachable, aborted and timed-out attempts are expected while a light is
// off and retry on the backoff schedule; anything else is logged and
// retried after the maximum delay.
func (c *Connection) retryDelay(bo *backoff.ExponentialBackOff, err error) time.Duration {
	if isRetryable(err) {
		c.log.Debug("connect failed, retrying", "light", c.id, "address", c.addr, "error", err)
		if c.opts.ReconnectInitial <= 0 {
			return 0
		}
		return bo.NextBackOff()
	}
	c.log.Warn("connect failed", "light", c.id, "address", c.addr, "error", err,
		"retry_in", c.opts.ReconnectMax)
	return c.opts.ReconnectMax
}

func isRetryable(err error) bool {
	for _, errno := range []syscall.Errno{
		syscall.ECONNREFUSED,
		syscall.ECONNABORTED,
		syscall.ECONNRESET,
		syscall.EHOSTUNREACH,
		syscall.ENETUNREACH,
	} {
		if errors.Is(err, errno) {
			return true
		}
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// sleep waits d or until the connection is closed. It reports whether the
// connection is still open.
func (c *Connection) sleep(d time.Duration) bool {
	if d <= 0 {
		return !c.isClosed()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-c.done.Done():
		return false
	}
}

// establish performs Connecting → Connected. It returns nil if the
// connection was closed meanwhile.
func (c *Connection) establish(conn net.Conn) *session {
	c.mu.Lock()
	if c.isClosed() {
		c.mu.Unlock()
		return nil
	}
	c.gen++
	sess := &session{
		gen:  c.gen,
		id:   uuid.NewString(),
		conn: conn,
		lost: make(chan struct{}),
	}
	c.session = sess
	c.state = StateConnected
	c.clearPendingLocked()
	fns := c.onConnected.take()
	c.mu.Unlock()

	c.stats.connects.Add(1)
	c.touch()
	c.log.Info("light connected", "light", c.id, "address", c.addr, "session", sess.id)
	c.notify("connected", fns)

	c.wg.Add(2)
	go c.receiveLoop(sess)
	go c.probeLoop(sess)

	if _, err := c.send(PropsCommand(refreshProps...), true); err != nil {
		c.log.Debug("property refresh not sent", "light", c.id, "error", err)
	}
	return sess
}

// fail performs Connected → Disconnected for sess. Triggers for a session
// that already ended are ignored, so concurrent failures (a timeout racing
// a probe, say) produce one transition.
func (c *Connection) fail(sess *session, reason error) {
	c.mu.Lock()
	if c.session != sess {
		c.mu.Unlock()
		return
	}
	abandoned := len(c.pending)
	c.endSessionLocked()
	c.state = StateDisconnected
	fns := c.onDisconnected.take()
	c.mu.Unlock()

	c.stats.disconnects.Add(1)
	c.log.Warn("light disconnected", "light", c.id, "address", c.addr,
		"session", sess.id, "reason", reason, "abandoned_requests", abandoned)
	c.notify("disconnected", fns)

	// Released last so a reconnect cannot overtake the disconnected observers.
	close(sess.lost)
}

// endSessionLocked cancels the pending timers, then closes the socket.
// It returns the ended session, or nil if there was none.
func (c *Connection) endSessionLocked() *session {
	sess := c.session
	c.clearPendingLocked()
	c.propsKnown = false
	if sess == nil {
		return nil
	}
	c.session = nil
	sess.conn.Close() //nolint:errcheck // Socket is being discarded
	return sess
}

func (c *Connection) clearPendingLocked() {
	for id, t := range c.pending {
		t.Stop()
		delete(c.pending, id)
	}
	clear(c.refreshIDs)
}

func (c *Connection) notify(event string, fns []func()) {
	for _, fn := range fns {
		c.invoke(event, fn)
	}
}

func (c *Connection) invoke(event string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("panic in light observer", "light", c.id, "event", event, "panic", r)
		}
	}()
	fn()
}

func (c *Connection) touch() {
	c.stats.lastActivity.Store(time.Now().UnixNano())
}

// send writes one request. When refresh is set the reply is applied to
// the cached properties.
func (c *Connection) send(cmd Command, refresh bool) (uint64, error) {
	id, broken, err := c.write(cmd, refresh)
	if broken != nil {
		c.fail(broken, fmt.Errorf("writing %s: %w", cmd.Method, err))
		return 0, fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	if err != nil {
		return 0, err
	}

	c.stats.sent.Add(1)
	c.touch()
	c.log.Debug("request sent", "light", c.id, "id", id, "method", cmd.Method)
	return id, nil
}

// write allocates the request id, arms its timeout and writes the payload.
// On a socket error it returns the session the error ended, which the
// caller fails after writeMu is released.
func (c *Connection) write(cmd Command, refresh bool) (uint64, *session, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	if c.isClosed() {
		c.mu.Unlock()
		return 0, nil, ErrClosed
	}
	sess := c.session
	if sess == nil {
		c.mu.Unlock()
		c.stats.rejected.Add(1)
		return 0, nil, ErrNotConnected
	}

	id := c.nextID
	payload, err := BuildRequest(id, cmd)
	if err != nil {
		c.mu.Unlock()
		return 0, nil, err
	}
	c.nextID++
	c.pending[id] = time.AfterFunc(c.opts.OperationTimeout, func() {
		c.operationTimedOut(sess, id)
	})
	if refresh {
		c.refreshIDs[id] = struct{}{}
	}
	c.mu.Unlock()

	_ = sess.conn.SetWriteDeadline(time.Now().Add(c.opts.OperationTimeout)) //nolint:errcheck // Write reports the real failure
	if _, err := sess.conn.Write(payload); err != nil {
		return 0, sess, err
	}
	return id, nil, nil
}

func (c *Connection) operationTimedOut(sess *session, id uint64) {
	c.mu.Lock()
	_, outstanding := c.pending[id]
	current := c.session == sess
	c.mu.Unlock()

	if !outstanding || !current {
		return
	}
	c.stats.timeouts.Add(1)
	c.fail(sess, fmt.Errorf("request %d unanswered after %v", id, c.opts.OperationTimeout))
}

func (c *Connection) receiveLoop(sess *session) {
	defer c.wg.Done()

	r := bufio.NewReaderSize(sess.conn, maxLineSize)
	for {
		line, err := r.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			c.touch()
			c.stats.malformed.Add(1)
			c.log.Warn("discarding oversized message", "light", c.id, "limit", maxLineSize)
			if err = skipLine(r); err != nil {
				c.fail(sess, fmt.Errorf("reading: %w", err))
				return
			}
			continue
		}
		if len(line) > 0 {
			c.touch()
			c.handleLine(sess, bytes.TrimRight(line, "\r\n"))
		}
		if err != nil {
			c.fail(sess, fmt.Errorf("reading: %w", err))
			return
		}
	}
}

// skipLine consumes input up to and including the next newline.
func skipLine(r *bufio.Reader) error {
	for {
		_, err := r.ReadSlice('\n')
		if !errors.Is(err, bufio.ErrBufferFull) {
			return err
		}
	}
}

func (c *Connection) handleLine(sess *session, line []byte) {
	msg, err := ParseIncoming(line)
	if err != nil {
		c.stats.malformed.Add(1)
		c.log.Warn("discarding malformed message", "light", c.id, "error", err)
		return
	}

	switch m := msg.(type) {
	case *Reply:
		c.handleReply(sess, m)
	case *Notification:
		c.stats.notifications.Add(1)
		if m.Method == methodPropsNotify && m.Props != nil {
			c.applyProps(m.Props, false)
			return
		}
		c.log.Debug("ignoring notification", "light", c.id, "method", m.Method)
	}
}

func (c *Connection) handleReply(sess *session, r *Reply) {
	c.mu.Lock()
	if c.session != sess {
		c.mu.Unlock()
		return
	}
	timer, known := c.pending[r.ID]
	if known {
		timer.Stop()
		delete(c.pending, r.ID)
	}
	_, refresh := c.refreshIDs[r.ID]
	delete(c.refreshIDs, r.ID)
	c.mu.Unlock()

	c.stats.replies.Add(1)
	switch {
	case !known:
		c.log.Debug("reply for unknown request", "light", c.id, "id", r.ID)
	case r.Error != nil:
		c.log.Warn("light rejected request", "light", c.id, "id", r.ID, "error", r.Error)
	case refresh:
		c.applyRefresh(r.Result)
	}
}

// applyRefresh handles the get_prop reply: power, bright, name in order.
func (c *Connection) applyRefresh(result []string) {
	if len(result) != len(refreshProps) {
		c.log.Warn("unexpected property reply", "light", c.id, "values", len(result))
		return
	}
	c.applyProps(map[string]string{
		"power":  result[0],
		"bright": result[1],
		"name":   result[2],
	}, true)
}

// applyProps updates the cache. Observers fire after every refresh reply,
// and after a notification that changed something.
func (c *Connection) applyProps(props map[string]string, always bool) {
	c.mu.Lock()
	changed := false
	for key, raw := range props {
		switch key {
		case "power":
			changed = c.power.set(raw == "on") || changed
		case "bright":
			if v, err := strconv.Atoi(raw); err == nil {
				changed = c.brightness.set(v) || changed
			}
		case "name":
			changed = c.name.set(raw) || changed
		case "color_mode":
			if v, err := strconv.Atoi(raw); err == nil && v != c.colorMode {
				c.colorMode, changed = v, true
			}
		case "ct":
			if v, err := strconv.Atoi(raw); err == nil && v != c.ct {
				c.ct, changed = v, true
			}
		case "rgb":
			if v, err := strconv.ParseUint(raw, 10, 32); err == nil && uint32(v) != c.rgb {
				c.rgb, changed = uint32(v), true
			}
		}
	}
	var fns []func()
	if c.session != nil {
		c.propsKnown = true
		if changed || always {
			fns = c.onUpdated.take()
		}
	}
	c.mu.Unlock()

	c.notify("updated", fns)
}

// OnConnected registers fn for Connecting → Connected. If the connection is
// already connected fn runs immediately on the caller's goroutine; a
// one-shot fn is then not registered, a persistent one is kept for later
// transitions.
func (c *Connection) OnConnected(fn func(), once bool) {
	c.register(&c.onConnected, func() bool { return c.state == StateConnected }, "connected", fn, once)
}

// OnDisconnected registers fn for Connected → Disconnected. "Already
// current" means the connection is not connected.
func (c *Connection) OnDisconnected(fn func(), once bool) {
	c.register(&c.onDisconnected, func() bool { return c.state != StateConnected }, "disconnected", fn, once)
}

// OnUpdated registers fn for property changes. "Already current" means
// properties have been received during the current session.
func (c *Connection) OnUpdated(fn func(), once bool) {
	c.register(&c.onUpdated, func() bool { return c.session != nil && c.propsKnown }, "updated", fn, once)
}

func (c *Connection) register(list *observerList, current func() bool, event string, fn func(), once bool) {
	c.mu.Lock()
	now := current()
	if !now || !once {
		list.add(fn, once)
	}
	c.mu.Unlock()

	if now {
		c.invoke(event, fn)
	}
}

// Powered returns the cached power state and whether it changed since the
// last call.
func (c *Connection) Powered() (bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.power.read()
}

// Brightness returns the cached brightness and whether it changed since
// the last call.
func (c *Connection) Brightness() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.brightness.read()
}

// Name returns the cached display name and whether it changed since the
// last call.
func (c *Connection) Name() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name.read()
}

// Snapshot returns the cached state without touching the dirty flags.
func (c *Connection) Snapshot() (device.LightState, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return device.LightState{
		Power:            c.power.value,
		Brightness:       c.brightness.value,
		ColorMode:        c.colorMode,
		ColorTemperature: c.ct,
		RGB:              c.rgb,
	}, c.name.value
}

// Stats returns current operational statistics.
func (c *Connection) Stats() Stats {
	c.mu.Lock()
	st := Stats{State: c.state}
	if c.session != nil {
		st.Session = c.session.id
	}
	c.mu.Unlock()

	st.CommandsSent = c.stats.sent.Load()
	st.Replies = c.stats.replies.Load()
	st.Notifications = c.stats.notifications.Load()
	st.Malformed = c.stats.malformed.Load()
	st.Timeouts = c.stats.timeouts.Load()
	st.ProbeFailures = c.stats.probeFailures.Load()
	st.ProbeErrors = c.stats.probeErrors.Load()
	st.Connects = c.stats.connects.Load()
	st.Disconnects = c.stats.disconnects.Load()
	st.DialFailures = c.stats.dialFailures.Load()
	st.Rejected = c.stats.rejected.Load()
	if ns := c.stats.lastActivity.Load(); ns != 0 {
		st.LastActivity = time.Unix(0, ns)
	}
	return st
}

// PendingRequests returns the number of requests awaiting a reply.
func (c *Connection) PendingRequests() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Connection) probeLoop(sess *session) {
	defer c.wg.Done()

	timer := time.NewTimer(c.opts.ProbeInterval)
	defer timer.Stop()

	for {
		select {
		case <-sess.lost:
			return
		case <-c.done.Done():
			return
		case <-timer.C:
		}

		ctx, cancel := context.WithTimeout(c.ctx, c.opts.ProbeTimeout)
		err := c.opts.Prober.Probe(ctx, c.addr)
		cancel()

		if errors.Is(err, ErrProbeUnavailable) {
			c.stats.probeErrors.Add(1)
			c.log.Error("liveness probe could not run", "light", c.id, "error", err)
			timer.Reset(c.opts.ProbeInterval)
			continue
		}
		if err != nil {
			if c.isClosed() {
				return
			}
			c.stats.probeFailures.Add(1)
			c.fail(sess, fmt.Errorf("liveness probe: %w", err))
			return
		}
		timer.Reset(c.opts.ProbeInterval)
	}
}

// Refresh re-reads power, brightness and name from the light.
func (c *Connection) Refresh() error {
	_, err := c.send(PropsCommand(refreshProps...), true)
	return err
}

// Toggle flips the power state.
func (c *Connection) Toggle() error {
	return c.do(ToggleCommand(), nil)
}

// ToggleTwice sends two toggles back to back, making the light blink once
// and end in its original power state.
func (c *Connection) ToggleTwice() error {
	if err := c.Toggle(); err != nil {
		return err
	}
	return c.Toggle()
}

// SetColorTemperature sets the white colour temperature (kelvin).
func (c *Connection) SetColorTemperature(kelvin int, d time.Duration) error {
	return c.do(ColorTemperatureCommand(kelvin, d))
}

// SetRGBColor sets the colour.
func (c *Connection) SetRGBColor(color RGB, d time.Duration) error {
	return c.do(RGBCommand(color, d))
}

// SetBrightness sets the brightness (1..100).
func (c *Connection) SetBrightness(level int, d time.Duration) error {
	return c.do(BrightnessCommand(level, d))
}

// SetPowered switches the light on or off.
func (c *Connection) SetPowered(on bool, d time.Duration) error {
	return c.do(PowerCommand(on, d), nil)
}

// StartColorFlow runs steps once and then applies action.
func (c *Connection) StartColorFlow(action FlowAction, steps []FlowStep) error {
	return c.do(StartFlowCommand(action, steps))
}

// StopColorFlow stops a running colour flow.
func (c *Connection) StopColorFlow() error {
	return c.do(StopFlowCommand(), nil)
}

// SetShutdownTimer switches the light off after d (whole minutes).
func (c *Connection) SetShutdownTimer(d time.Duration) error {
	return c.do(ShutdownTimerCommand(d))
}

// RemoveShutdownTimer cancels the shutdown timer.
func (c *Connection) RemoveShutdownTimer() error {
	return c.do(RemoveShutdownTimerCommand(), nil)
}

// SetName stores a display name on the light.
func (c *Connection) SetName(name string) error {
	return c.do(NameCommand(name))
}

// do sends a built command. Build errors are returned before any I/O.
func (c *Connection) do(cmd Command, buildErr error) error {
	if buildErr != nil {
		return buildErr
	}
	_, err := c.send(cmd, false)
	return err
}
