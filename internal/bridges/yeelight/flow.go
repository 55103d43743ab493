package yeelight

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ColorMode is the light's colour mode, as used in flow steps and the
// "color_mode" property.
type ColorMode int

const (
	ModeRGB         ColorMode = 1
	ModeTemperature ColorMode = 2
	ModeHSV         ColorMode = 3
	ModeSleep       ColorMode = 7
)

func (m ColorMode) String() string {
	switch m {
	case ModeRGB:
		return "rgb"
	case ModeTemperature:
		return "temperature"
	case ModeHSV:
		return "hsv"
	case ModeSleep:
		return "sleep"
	default:
		return "ColorMode(" + strconv.Itoa(int(m)) + ")"
	}
}

// ParseColorMode maps a mode name to a ColorMode.
func ParseColorMode(s string) (ColorMode, error) {
	switch strings.ToLower(s) {
	case "rgb":
		return ModeRGB, nil
	case "temperature", "ct":
		return ModeTemperature, nil
	case "hsv":
		return ModeHSV, nil
	case "sleep":
		return ModeSleep, nil
	default:
		return 0, fmt.Errorf("%w: colour mode %q", ErrInvalidArgument, s)
	}
}

// FlowAction is what the light does once a colour flow ends.
type FlowAction int

const (
	// FlowRecover returns to the state before the flow started.
	FlowRecover FlowAction = 0
	// FlowStay keeps the state of the last step.
	FlowStay FlowAction = 1
	// FlowTurnOff switches the light off.
	FlowTurnOff FlowAction = 2
)

// ParseFlowAction maps an action name to a FlowAction.
func ParseFlowAction(s string) (FlowAction, error) {
	switch strings.ToLower(s) {
	case "", "recover":
		return FlowRecover, nil
	case "stay":
		return FlowStay, nil
	case "turn_off", "off":
		return FlowTurnOff, nil
	default:
		return 0, fmt.Errorf("%w: flow action %q", ErrInvalidArgument, s)
	}
}

// RGB is a 24-bit colour packed as 0xRRGGBB.
type RGB uint32

// Common colours.
const (
	Red   RGB = 0xFF0000
	Green RGB = 0x00FF00
	Blue  RGB = 0x0000FF
	White RGB = 0xFFFFFF
)

// NewRGB packs three channels.
func NewRGB(r, g, b uint8) RGB {
	return RGB(uint32(r)<<16 | uint32(g)<<8 | uint32(b))
}

// ParseRGB parses "#rrggbb" or "rrggbb".
func ParseRGB(s string) (RGB, error) {
	hex := strings.TrimPrefix(s, "#")
	if len(hex) != 6 {
		return 0, fmt.Errorf("%w: colour %q", ErrInvalidArgument, s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: colour %q", ErrInvalidArgument, s)
	}
	return RGB(v), nil
}

// Components unpacks the three channels.
func (c RGB) Components() (r, g, b uint8) {
	return uint8(c >> 16), uint8(c >> 8), uint8(c)
}

func (c RGB) String() string {
	return fmt.Sprintf("#%06x", uint32(c))
}

// FlowStep is one transition in a colour flow.
type FlowStep struct {
	Duration time.Duration
	Mode     ColorMode

	// Temperature is used in ModeTemperature (kelvin).
	Temperature int

	// Color is used in ModeRGB.
	Color RGB

	// Brightness is 1..100. Ignored by ModeSleep.
	Brightness int
}

const (
	flowFieldsPerStep   = 4
	minFlowStepDuration = 50 * time.Millisecond
)

// EncodeFlow renders steps as the flow expression of a start_cf command:
// "duration,mode,value,brightness" per step, every field comma separated,
// so the result always has exactly 4 fields per step.
//
//	[{500ms rgb red 100} {500ms temperature 4000 50}] → "500,1,16711680,100,500,2,4000,50"
//
// The value field depends on the mode: the packed colour for rgb, kelvin for
// temperature, 0 for sleep. hsv fails with ErrUnsupportedMode.
func EncodeFlow(steps []FlowStep) (string, error) {
	if len(steps) == 0 {
		return "", fmt.Errorf("%w: empty flow", ErrInvalidArgument)
	}

	fields := make([]string, 0, len(steps)*flowFieldsPerStep)
	for i, s := range steps {
		value, err := flowValue(s)
		if err != nil {
			return "", fmt.Errorf("step %d: %w", i, err)
		}
		if s.Duration < minFlowStepDuration {
			return "", fmt.Errorf("step %d: %w: duration %v below %v", i, ErrInvalidArgument, s.Duration, minFlowStepDuration)
		}
		brightness := s.Brightness
		if s.Mode == ModeSleep {
			brightness = 0
		} else if err := checkBrightness(brightness); err != nil {
			return "", fmt.Errorf("step %d: %w", i, err)
		}

		fields = append(fields,
			strconv.FormatInt(s.Duration.Milliseconds(), 10),
			strconv.Itoa(int(s.Mode)),
			strconv.FormatInt(value, 10),
			strconv.Itoa(brightness),
		)
	}
	return strings.Join(fields, ","), nil
}

func flowValue(s FlowStep) (int64, error) {
	switch s.Mode {
	case ModeRGB:
		if err := checkRGB(s.Color); err != nil {
			return 0, err
		}
		return int64(s.Color), nil
	case ModeTemperature:
		if err := checkTemperature(s.Temperature); err != nil {
			return 0, err
		}
		return int64(s.Temperature), nil
	case ModeSleep:
		return 0, nil
	case ModeHSV:
		return 0, fmt.Errorf("%w: hsv cannot be used in a colour flow", ErrUnsupportedMode)
	default:
		return 0, fmt.Errorf("%w: %v", ErrUnsupportedMode, s.Mode)
	}
}

// DecodeFlow parses a flow expression back into steps.
func DecodeFlow(expr string) ([]FlowStep, error) {
	parts := strings.Split(expr, ",")
	if expr == "" || len(parts)%flowFieldsPerStep != 0 {
		return nil, fmt.Errorf("%w: flow %q has %d fields", ErrMalformedPayload, expr, len(parts))
	}

	steps := make([]FlowStep, 0, len(parts)/flowFieldsPerStep)
	for i := 0; i < len(parts); i += flowFieldsPerStep {
		var n [flowFieldsPerStep]int64
		for j := range n {
			v, err := strconv.ParseInt(parts[i+j], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: flow field %d: %q", ErrMalformedPayload, i+j, parts[i+j])
			}
			n[j] = v
		}
		step := FlowStep{
			Duration:   time.Duration(n[0]) * time.Millisecond,
			Mode:       ColorMode(n[1]),
			Brightness: int(n[3]),
		}
		switch step.Mode {
		case ModeRGB:
			step.Color = RGB(n[2])
		case ModeTemperature:
			step.Temperature = int(n[2])
		}
		steps = append(steps, step)
	}
	return steps, nil
}
