package yeelight

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/lumen-core/internal/device"
	"github.com/nerrad567/lumen-core/internal/infrastructure/mqtt"
)

// Protocol is the bridge's protocol identifier in topics and messages.
const Protocol = "yeelight"

// Bridge command names.
const (
	CommandOn               = "on"
	CommandOff              = "off"
	CommandToggle           = "toggle"
	CommandBlink            = "blink"
	CommandBrightness       = "brightness"
	CommandColorTemperature = "color_temperature"
	CommandRGB              = "rgb"
	CommandFlow             = "flow"
	CommandStopFlow         = "stop_flow"
	CommandShutdownTimer    = "shutdown_timer"
	CommandCancelTimer      = "cancel_timer"
	CommandName             = "name"
	CommandRefresh          = "refresh"
)

// CommandMessage asks the bridge to operate one light.
// Topic: lumen/command/yeelight/{light}
type CommandMessage struct {
	// ID correlates the command with its acknowledgement. Generated when
	// empty.
	ID string `json:"id"`

	// Timestamp is when the command was issued (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// DeviceID is the light identity (hex) or display name. The topic's
	// last segment is used when empty.
	DeviceID string `json:"device_id"`

	// Command is one of the Command* names.
	Command string `json:"command"`

	// Parameters contains command-specific values.
	// Examples:
	//   {"level": 50, "duration_ms": 500} for brightness
	//   {"kelvin": 2700} for color_temperature
	//   {"rgb": "#ff8800"} for rgb
	//   {"action": "recover", "steps": [{"duration_ms": 500, "mode": "rgb", "value": 16711680, "brightness": 100}]} for flow
	//   {"minutes": 30} for shutdown_timer
	//   {"name": "study"} for name
	Parameters map[string]any `json:"parameters,omitempty"`

	// Source indicates where the command originated ("mqtt", "api").
	Source string `json:"source"`
}

// ParseCommand decodes a command payload. address (the topic's last
// segment) fills DeviceID when the payload omits it.
func ParseCommand(payload []byte, address string) (CommandMessage, error) {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return cmd, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if cmd.DeviceID == "" {
		cmd.DeviceID = address
	}
	if cmd.DeviceID == "" {
		return cmd, fmt.Errorf("%w: missing device_id", ErrInvalidArgument)
	}
	if cmd.Command == "" {
		return cmd, fmt.Errorf("%w: missing command", ErrInvalidArgument)
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	if cmd.Timestamp.IsZero() {
		cmd.Timestamp = time.Now().UTC()
	}
	return cmd, nil
}

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckAccepted means the request was written to the light. It does not
	// mean the light applied it.
	AckAccepted AckStatus = "accepted"

	// AckFailed means the command could not be sent.
	AckFailed AckStatus = "failed"
)

// AckMessage acknowledges a command.
// Topic: lumen/ack/yeelight/{light}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`
	Status    AckStatus `json:"status"`
	Protocol  string    `json:"protocol"`
	Error     *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes for command failures.
const (
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeUnsupportedMode   = "UNSUPPORTED_MODE"
	ErrCodeNotConfigured     = "NOT_CONFIGURED"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// ErrorCode maps a command error to its acknowledgement code.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotConnected), errors.Is(err, ErrClosed):
		return ErrCodeDeviceUnreachable
	case errors.Is(err, ErrUnknownLight):
		return ErrCodeNotConfigured
	case errors.Is(err, ErrUnknownCommand):
		return ErrCodeInvalidCommand
	case errors.Is(err, ErrUnsupportedMode):
		return ErrCodeUnsupportedMode
	case errors.Is(err, ErrInvalidArgument):
		return ErrCodeInvalidParameters
	default:
		return ErrCodeBridgeError
	}
}

// StateMessage carries a light's state.
// Topic: lumen/state/yeelight/{identity}
// QoS: 1, Retained: Yes
type StateMessage struct {
	DeviceID  string            `json:"device_id"`
	Name      string            `json:"name,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	State     device.LightState `json:"state"`
	Online    bool              `json:"online"`
	Protocol  string            `json:"protocol"`
	Address   string            `json:"address"`
}

// DiscoveryMessage announces a newly found light.
// Topic: lumen/discovery/yeelight
// QoS: 1, Retained: Yes
type DiscoveryMessage struct {
	DeviceID  string    `json:"device_id"`
	Timestamp time.Time `json:"timestamp"`
	Address   string    `json:"address"`
	Model     string    `json:"model,omitempty"`
	Firmware  string    `json:"firmware,omitempty"`
	Name      string    `json:"name,omitempty"`
	Support   []string  `json:"support,omitempty"`
	Protocol  string    `json:"protocol"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports bridge status.
// Topic: lumen/health/yeelight
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge        string            `json:"bridge"`
	Timestamp     time.Time         `json:"timestamp"`
	Status        HealthStatus      `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Lights        int               `json:"lights"`
	Connected     int               `json:"connected"`
	Statistics    *BridgeStatistics `json:"statistics,omitempty"`
	Reason        string            `json:"reason,omitempty"`
}

// BridgeStatistics contains operational metrics.
type BridgeStatistics struct {
	CommandsReceived uint64 `json:"commands_received"`
	CommandsFailed   uint64 `json:"commands_failed"`
	Searches         uint64 `json:"searches"`
	Datagrams        uint64 `json:"datagrams"`
	Discovered       uint64 `json:"discovered"`
	Reconnects       uint64 `json:"reconnects"`
}

// CommandTopic returns the topic commands for address arrive on.
func CommandTopic(address string) string {
	return mqtt.Topics{}.BridgeCommand(Protocol, address)
}

// CommandSubscribeTopic returns the wildcard for every command.
func CommandSubscribeTopic() string {
	return mqtt.Topics{}.BridgeCommands(Protocol)
}

// AckTopic returns the acknowledgement topic for address.
func AckTopic(address string) string {
	return mqtt.Topics{}.BridgeAck(Protocol, address)
}

// StateTopic returns the state topic for a light.
func StateTopic(id device.Identity) string {
	return mqtt.Topics{}.BridgeState(Protocol, id.String())
}

// DiscoveryTopic returns the discovery announcement topic.
func DiscoveryTopic() string {
	return mqtt.Topics{}.BridgeDiscovery(Protocol)
}

// HealthTopic returns the health topic.
func HealthTopic() string {
	return mqtt.Topics{}.BridgeHealth(Protocol)
}

// Parameter accessors. JSON numbers decode as float64; integers must fit
// in 32 bits, which keeps millisecond durations from overflowing.

func intParam(params map[string]any, key string) (int, bool, error) {
	raw, ok := params[key]
	if !ok {
		return 0, false, nil
	}
	f, isNum := raw.(float64)
	if !isNum || f != math.Trunc(f) {
		return 0, true, fmt.Errorf("%w: %s must be an integer", ErrInvalidArgument, key)
	}
	if f < math.MinInt32 || f > math.MaxInt32 {
		return 0, true, fmt.Errorf("%w: %s %v out of range", ErrInvalidArgument, key, f)
	}
	return int(f), true, nil
}

func requireInt(params map[string]any, key string) (int, error) {
	v, ok, err := intParam(params, key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: missing %s", ErrInvalidArgument, key)
	}
	return v, nil
}

func stringParam(params map[string]any, key string) (string, bool, error) {
	raw, ok := params[key]
	if !ok {
		return "", false, nil
	}
	s, isStr := raw.(string)
	if !isStr {
		return "", true, fmt.Errorf("%w: %s must be a string", ErrInvalidArgument, key)
	}
	return s, true, nil
}

// durationParam reads "duration_ms", falling back to DefaultTransition.
func durationParam(params map[string]any) (time.Duration, error) {
	ms, ok, err := intParam(params, "duration_ms")
	if err != nil {
		return 0, err
	}
	if !ok {
		return DefaultTransition, nil
	}
	if ms < 0 {
		return 0, fmt.Errorf("%w: duration_ms must not be negative", ErrInvalidArgument)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// colorParam accepts "#rrggbb" or a packed integer.
func colorParam(params map[string]any) (RGB, error) {
	switch v := params["rgb"].(type) {
	case string:
		return ParseRGB(v)
	case float64:
		if v < 0 || v != math.Trunc(v) || v > float64(White) {
			return 0, fmt.Errorf("%w: rgb %v", ErrInvalidArgument, v)
		}
		return RGB(v), nil
	case nil:
		return 0, fmt.Errorf("%w: missing rgb", ErrInvalidArgument)
	default:
		return 0, fmt.Errorf("%w: rgb must be a string or integer", ErrInvalidArgument)
	}
}

// flowParams decodes {"action": ..., "steps": [...]}.
func flowParams(params map[string]any) (FlowAction, []FlowStep, error) {
	actionName, _, err := stringParam(params, "action")
	if err != nil {
		return 0, nil, err
	}
	action, err := ParseFlowAction(actionName)
	if err != nil {
		return 0, nil, err
	}

	rawSteps, ok := params["steps"].([]any)
	if !ok || len(rawSteps) == 0 {
		return 0, nil, fmt.Errorf("%w: steps must be a non-empty list", ErrInvalidArgument)
	}

	steps := make([]FlowStep, 0, len(rawSteps))
	for i, raw := range rawSteps {
		m, ok := raw.(map[string]any)
		if !ok {
			return 0, nil, fmt.Errorf("%w: step %d is not an object", ErrInvalidArgument, i)
		}
		step, err := flowStepParam(m)
		if err != nil {
			return 0, nil, fmt.Errorf("step %d: %w", i, err)
		}
		steps = append(steps, step)
	}
	return action, steps, nil
}

func flowStepParam(m map[string]any) (FlowStep, error) {
	ms, err := requireInt(m, "duration_ms")
	if err != nil {
		return FlowStep{}, err
	}
	modeName, _, err := stringParam(m, "mode")
	if err != nil {
		return FlowStep{}, err
	}
	mode, err := ParseColorMode(modeName)
	if err != nil {
		return FlowStep{}, err
	}
	bright, _, err := intParam(m, "brightness")
	if err != nil {
		return FlowStep{}, err
	}

	step := FlowStep{
		Duration:   time.Duration(ms) * time.Millisecond,
		Mode:       mode,
		Brightness: bright,
	}
	switch mode {
	case ModeRGB:
		if s, ok := m["value"].(string); ok {
			step.Color, err = ParseRGB(s)
		} else {
			var v int
			v, err = requireInt(m, "value")
			step.Color = RGB(v)
		}
	case ModeTemperature:
		step.Temperature, err = requireInt(m, "value")
	}
	return step, err
}
