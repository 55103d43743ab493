package yeelight

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// ArgKind identifies which variant an Arg holds.
type ArgKind uint8

const (
	// ArgNumber is an integer encoded as a JSON number.
	ArgNumber ArgKind = iota + 1

	// ArgText is a string encoded as a JSON string.
	ArgText

	// ArgFlow is an encoded colour flow, sent as a single JSON string.
	ArgFlow
)

// Arg is one positional command parameter: a number, a string or an
// encoded flow.
type Arg struct {
	kind ArgKind
	num  int64
	text string
}

// Number returns a numeric argument.
func Number(n int64) Arg { return Arg{kind: ArgNumber, num: n} }

// Text returns a string argument.
func Text(s string) Arg { return Arg{kind: ArgText, text: s} }

// FlowString returns an encoded flow argument (see EncodeFlow).
func FlowString(s string) Arg { return Arg{kind: ArgFlow, text: s} }

// Kind reports the variant.
func (a Arg) Kind() ArgKind { return a.kind }

// Int returns the numeric value and whether a is a number.
func (a Arg) Int() (int64, bool) { return a.num, a.kind == ArgNumber }

// String returns the text of a string or flow argument, or the decimal
// form of a number.
func (a Arg) String() string {
	if a.kind == ArgNumber {
		return strconv.FormatInt(a.num, 10)
	}
	return a.text
}

// MarshalJSON encodes numbers as JSON numbers and everything else as strings.
func (a Arg) MarshalJSON() ([]byte, error) {
	switch a.kind {
	case ArgNumber:
		return strconv.AppendInt(nil, a.num, 10), nil
	case ArgText, ArgFlow:
		return json.Marshal(a.text)
	default:
		return nil, fmt.Errorf("%w: zero Arg", ErrInvalidArgument)
	}
}

// Command is a method name with its ordered parameters.
type Command struct {
	Method string
	Params []Arg
}

// request is the wire envelope of an outgoing command.
type request struct {
	ID     uint64 `json:"id"`
	Method string `json:"method"`
	Params []Arg  `json:"params"`
}

// lineTerminator ends every message on the control stream.
var lineTerminator = []byte("\r\n")

// BuildRequest encodes cmd as one CRLF-terminated request line:
//
//	{"id":1,"method":"set_rgb","params":[16711680,"smooth",300]}\r\n
//
// It has no side effects and is deterministic.
func BuildRequest(id uint64, cmd Command) ([]byte, error) {
	if cmd.Method == "" {
		return nil, fmt.Errorf("%w: empty method", ErrInvalidArgument)
	}
	params := cmd.Params
	if params == nil {
		params = []Arg{}
	}
	payload, err := json.Marshal(request{ID: id, Method: cmd.Method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", cmd.Method, err)
	}
	return append(payload, lineTerminator...), nil
}

// Message is a parsed control-stream line: *Reply or *Notification.
type Message interface {
	isMessage()
}

// Reply answers the request with the same ID.
type Reply struct {
	ID     uint64
	Result []string
	Error  *DeviceError
}

// Notification is any message that is not a reply: the light's "props"
// push, or a request echoed back to us.
type Notification struct {
	// ID is set when the message carried one (e.g. a request line).
	ID     uint64
	HasID  bool
	Method string

	// Params holds positional parameters; Props holds named ones.
	Params []Arg
	Props  map[string]string
}

func (*Reply) isMessage()        {}
func (*Notification) isMessage() {}

// DeviceError is the error object a light returns instead of a result.
type DeviceError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("yeelight: device error %d: %s", e.Code, e.Message)
}

// envelope covers every field any control-stream message may carry.
type envelope struct {
	ID     *json.Number    `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
	Error  *DeviceError    `json:"error"`
}

// ParseIncoming decodes one complete line (terminator optional). Lines that
// are empty, truncated, carry trailing data, or match neither a reply nor a
// notification fail with ErrMalformedPayload.
func ParseIncoming(line []byte) (Message, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, fmt.Errorf("%w: empty line", ErrMalformedPayload)
	}

	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()

	var env envelope
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data", ErrMalformedPayload)
	}

	var (
		id    uint64
		hasID bool
	)
	if env.ID != nil {
		v, err := strconv.ParseUint(env.ID.String(), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: id %s", ErrMalformedPayload, env.ID.String())
		}
		id, hasID = v, true
	}

	if hasID && (env.Result != nil || env.Error != nil) {
		reply := &Reply{ID: id, Error: env.Error}
		if env.Result != nil {
			result, err := decodeResult(env.Result)
			if err != nil {
				return nil, err
			}
			reply.Result = result
		}
		return reply, nil
	}

	if env.Method == "" {
		return nil, fmt.Errorf("%w: neither reply nor notification", ErrMalformedPayload)
	}

	n := &Notification{ID: id, HasID: hasID, Method: env.Method}
	if err := decodeParams(env.Params, n); err != nil {
		return nil, err
	}
	return n, nil
}

// decodeResult flattens a result array to strings; lights report numbers
// both as strings and as numbers depending on firmware.
func decodeResult(raw json.RawMessage) ([]string, error) {
	var values []any
	if err := unmarshalNumbers(raw, &values); err != nil {
		return nil, fmt.Errorf("%w: result: %v", ErrMalformedPayload, err)
	}
	out := make([]string, len(values))
	for i, v := range values {
		s, err := scalarString(v)
		if err != nil {
			return nil, fmt.Errorf("%w: result[%d]: %v", ErrMalformedPayload, i, err)
		}
		out[i] = s
	}
	return out, nil
}

func decodeParams(raw json.RawMessage, n *Notification) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}

	switch raw[0] {
	case '[':
		var values []any
		if err := unmarshalNumbers(raw, &values); err != nil {
			return fmt.Errorf("%w: params: %v", ErrMalformedPayload, err)
		}
		n.Params = make([]Arg, 0, len(values))
		for i, v := range values {
			switch val := v.(type) {
			case json.Number:
				num, err := val.Int64()
				if err != nil {
					return fmt.Errorf("%w: params[%d]: non-integer %s", ErrMalformedPayload, i, val)
				}
				n.Params = append(n.Params, Number(num))
			case string:
				n.Params = append(n.Params, textOrFlow(val))
			default:
				return fmt.Errorf("%w: params[%d]: unsupported %T", ErrMalformedPayload, i, v)
			}
		}
	case '{':
		var values map[string]any
		if err := unmarshalNumbers(raw, &values); err != nil {
			return fmt.Errorf("%w: params: %v", ErrMalformedPayload, err)
		}
		n.Props = make(map[string]string, len(values))
		for k, v := range values {
			s, err := scalarString(v)
			if err != nil {
				return fmt.Errorf("%w: params.%s: %v", ErrMalformedPayload, k, err)
			}
			n.Props[k] = s
		}
	default:
		return fmt.Errorf("%w: params must be an array or object", ErrMalformedPayload)
	}
	return nil
}

// textOrFlow classifies a decoded string parameter. Flow strings are the
// only parameters made entirely of comma-separated integers.
func textOrFlow(s string) Arg {
	if looksLikeFlow(s) {
		return FlowString(s)
	}
	return Text(s)
}

func looksLikeFlow(s string) bool {
	if s == "" {
		return false
	}
	fields := 1
	for _, r := range s {
		switch {
		case r == ',':
			fields++
		case r == '-' || (r >= '0' && r <= '9'):
		default:
			return false
		}
	}
	return fields >= flowFieldsPerStep && fields%flowFieldsPerStep == 0
}

func unmarshalNumbers(raw json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(v)
}

func scalarString(v any) (string, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case json.Number:
		return val.String(), nil
	case bool:
		return strconv.FormatBool(val), nil
	default:
		return "", fmt.Errorf("unsupported %T", v)
	}
}
