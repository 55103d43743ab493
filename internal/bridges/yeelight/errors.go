package yeelight

import "errors"

// Domain errors for the Yeelight bridge package.
var (
	// ErrNotConnected is returned when a command is issued while the
	// connection is not in the Connected state. Nothing is queued.
	ErrNotConnected = errors.New("yeelight: not connected")

	// ErrClosed is returned when a command is issued after Close.
	ErrClosed = errors.New("yeelight: connection closed")

	// ErrMalformedPayload is returned when a control-stream line is not a
	// complete, well-formed message.
	ErrMalformedPayload = errors.New("yeelight: malformed payload")

	// ErrUnsupportedMode is returned when a colour flow step uses a mode
	// the light cannot run in a flow (hsv).
	ErrUnsupportedMode = errors.New("yeelight: unsupported colour mode")

	// ErrInvalidArgument is returned when a command argument is out of range.
	ErrInvalidArgument = errors.New("yeelight: invalid argument")

	// ErrProbeUnavailable is returned by a Prober that cannot run on this
	// host (for example no permission to open an ICMP socket). It says
	// nothing about the light.
	ErrProbeUnavailable = errors.New("yeelight: prober unavailable")

	// ErrInvalidAdvertisement is returned when a discovery datagram cannot
	// be parsed.
	ErrInvalidAdvertisement = errors.New("yeelight: invalid advertisement")

	// ErrUnknownLight is returned when a bridge command names no known light.
	ErrUnknownLight = errors.New("yeelight: unknown light")

	// ErrUnknownCommand is returned for a bridge command name that has no
	// wire equivalent.
	ErrUnknownCommand = errors.New("yeelight: unknown command")

	// ErrHistoryDisabled is returned by History when no history store is
	// configured.
	ErrHistoryDisabled = errors.New("yeelight: history not enabled")
)
