package yeelight

import (
	"fmt"
	"time"
	"unicode/utf8"
)

// Wire method names.
const (
	methodToggle      = "toggle"
	methodSetCT       = "set_ct_abx"
	methodSetRGB      = "set_rgb"
	methodSetBright   = "set_bright"
	methodSetPower    = "set_power"
	methodStartFlow   = "start_cf"
	methodStopFlow    = "stop_cf"
	methodCronAdd     = "cron_add"
	methodCronDel     = "cron_del"
	methodSetName     = "set_name"
	methodGetProp     = "get_prop"
	methodPropsNotify = "props"
)

// Argument limits accepted by the lights.
const (
	MinBrightness  = 1
	MaxBrightness  = 100
	MinTemperature = 1700
	MaxTemperature = 6500
	MaxNameBytes   = 64

	// DefaultTransition is used by callers that have no preference.
	DefaultTransition = 300 * time.Millisecond

	// smoothThreshold is the shortest duration sent as a "smooth" effect.
	smoothThreshold = 30 * time.Millisecond
)

// cronPowerOff is the only timer type lights support.
const cronPowerOff = 0

// refreshProps are the properties read after every connect.
var refreshProps = []string{"power", "bright", "name"}

// transition returns the effect and duration arguments shared by the
// set_* commands: "smooth" with the duration above 30ms, else "sudden".
func transition(d time.Duration) []Arg {
	effect := "sudden"
	if d > smoothThreshold {
		effect = "smooth"
	}
	return []Arg{Text(effect), Number(d.Milliseconds())}
}

// ToggleCommand flips the power state.
func ToggleCommand() Command {
	return Command{Method: methodToggle}
}

// ColorTemperatureCommand sets the white colour temperature in kelvin.
func ColorTemperatureCommand(kelvin int, d time.Duration) (Command, error) {
	if err := checkTemperature(kelvin); err != nil {
		return Command{}, err
	}
	return Command{
		Method: methodSetCT,
		Params: append([]Arg{Number(int64(kelvin))}, transition(d)...),
	}, nil
}

// RGBCommand sets the colour.
func RGBCommand(c RGB, d time.Duration) (Command, error) {
	if err := checkRGB(c); err != nil {
		return Command{}, err
	}
	return Command{
		Method: methodSetRGB,
		Params: append([]Arg{Number(int64(c))}, transition(d)...),
	}, nil
}

// BrightnessCommand sets the brightness (1..100).
func BrightnessCommand(level int, d time.Duration) (Command, error) {
	if err := checkBrightness(level); err != nil {
		return Command{}, err
	}
	return Command{
		Method: methodSetBright,
		Params: append([]Arg{Number(int64(level))}, transition(d)...),
	}, nil
}

// PowerCommand switches the light on or off.
func PowerCommand(on bool, d time.Duration) Command {
	state := "off"
	if on {
		state = "on"
	}
	return Command{
		Method: methodSetPower,
		Params: append([]Arg{Text(state)}, transition(d)...),
	}
}

// StartFlowCommand runs steps once, then applies action. Encoding errors
// (including ErrUnsupportedMode) are returned before anything is sent.
func StartFlowCommand(action FlowAction, steps []FlowStep) (Command, error) {
	if action < FlowRecover || action > FlowTurnOff {
		return Command{}, fmt.Errorf("%w: flow action %d", ErrInvalidArgument, action)
	}
	expr, err := EncodeFlow(steps)
	if err != nil {
		return Command{}, err
	}
	return Command{
		Method: methodStartFlow,
		Params: []Arg{Number(int64(len(steps))), Number(int64(action)), FlowString(expr)},
	}, nil
}

// StopFlowCommand stops a running colour flow.
func StopFlowCommand() Command {
	return Command{Method: methodStopFlow}
}

// ShutdownTimerCommand switches the light off after d, rounded down to
// whole minutes (at least one).
func ShutdownTimerCommand(d time.Duration) (Command, error) {
	minutes := int64(d / time.Minute)
	if minutes < 1 {
		return Command{}, fmt.Errorf("%w: shutdown timer %v is under a minute", ErrInvalidArgument, d)
	}
	return Command{
		Method: methodCronAdd,
		Params: []Arg{Number(cronPowerOff), Number(minutes)},
	}, nil
}

// RemoveShutdownTimerCommand cancels the shutdown timer.
func RemoveShutdownTimerCommand() Command {
	return Command{Method: methodCronDel, Params: []Arg{Number(cronPowerOff)}}
}

// NameCommand stores a display name on the light.
func NameCommand(name string) (Command, error) {
	if len(name) > MaxNameBytes || !utf8.ValidString(name) {
		return Command{}, fmt.Errorf("%w: name must be valid UTF-8 of at most %d bytes", ErrInvalidArgument, MaxNameBytes)
	}
	return Command{Method: methodSetName, Params: []Arg{Text(name)}}, nil
}

// PropsCommand reads the named properties.
func PropsCommand(props ...string) Command {
	params := make([]Arg, len(props))
	for i, p := range props {
		params[i] = Text(p)
	}
	return Command{Method: methodGetProp, Params: params}
}

func checkBrightness(v int) error {
	if v < MinBrightness || v > MaxBrightness {
		return fmt.Errorf("%w: brightness %d outside %d..%d", ErrInvalidArgument, v, MinBrightness, MaxBrightness)
	}
	return nil
}

func checkTemperature(k int) error {
	if k < MinTemperature || k > MaxTemperature {
		return fmt.Errorf("%w: temperature %dK outside %d..%d", ErrInvalidArgument, k, MinTemperature, MaxTemperature)
	}
	return nil
}

func checkRGB(c RGB) error {
	if c > White {
		return fmt.Errorf("%w: colour %#x exceeds 0xffffff", ErrInvalidArgument, uint32(c))
	}
	return nil
}
