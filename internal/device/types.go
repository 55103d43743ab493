package device

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// DefaultPort is the control port a light listens on when its location
// header omits one.
const DefaultPort = 55443

// Identity is the stable numeric identifier a light reports during
// discovery. It survives address changes and is the dedup and merge key.
type Identity uint64

// ParseIdentity parses a hexadecimal identity with or without a 0x prefix,
// as carried in the discovery "id" header (e.g. "0x000000000015243f").
func ParseIdentity(s string) (Identity, error) {
	s = strings.TrimSpace(s)
	hex := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if hex == "" {
		return 0, fmt.Errorf("%w: empty identity", ErrInvalidIdentity)
	}
	v, err := strconv.ParseUint(hex, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidIdentity, s)
	}
	return Identity(v), nil
}

// String formats the identity the way lights advertise it.
func (id Identity) String() string {
	return fmt.Sprintf("0x%016x", uint64(id))
}

// UnmarshalJSON accepts either a JSON number or a hex string.
func (id *Identity) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := ParseIdentity(s)
		if err != nil {
			return err
		}
		*id = parsed
		return nil
	}
	var n uint64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidIdentity, data)
	}
	*id = Identity(n)
	return nil
}

// Address is the (host, port) of a light's control endpoint. A light may
// change address between sessions; the latest discovery wins.
type Address struct {
	Host string
	Port int
}

// ParseAddress parses "host:port" or a bare host (DefaultPort is used).
func ParseAddress(s string) (Address, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		var addrErr *net.AddrError
		if errors.As(err, &addrErr) && addrErr.Err == "missing port in address" && s != "" {
			return Address{Host: strings.Trim(s, "[]"), Port: DefaultPort}, nil
		}
		return Address{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return Address{}, fmt.Errorf("%w: bad port %q", ErrInvalidAddress, portStr)
	}
	if host == "" {
		return Address{}, fmt.Errorf("%w: empty host", ErrInvalidAddress)
	}
	return Address{Host: host, Port: port}, nil
}

// String returns the address in host:port form.
func (a Address) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool {
	return a.Host == "" && a.Port == 0
}

// LightState is the last-known state snapshot of a light.
type LightState struct {
	Power            bool   `json:"power"`
	Brightness       int    `json:"brightness"`
	ColorMode        int    `json:"color_mode,omitempty"`
	ColorTemperature int    `json:"color_temperature,omitempty"`
	RGB              uint32 `json:"rgb,omitempty"`
}

// Record is the canonical description of one light.
//
// A Record is a plain value. The live copy belongs to whichever component
// holds the light's connection; copies handed out by the Registry or loaded
// from a Store are snapshots.
type Record struct {
	ID       Identity
	Address  Address
	Name     string
	Model    string
	Firmware string
	State    LightState

	// LastSeen is when discovery last observed the light. Zero for records
	// that only come from persisted storage.
	LastSeen time.Time
}

// Validate checks the fields every stored record needs.
func (r Record) Validate() error {
	if r.Address.Host == "" {
		return fmt.Errorf("%w: %s has no host", ErrInvalidAddress, r.ID)
	}
	if r.Address.Port < 1 || r.Address.Port > 65535 {
		return fmt.Errorf("%w: %s has port %d", ErrInvalidAddress, r.ID, r.Address.Port)
	}
	if len(r.Name) > MaxNameLength {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidName, len(r.Name), MaxNameLength)
	}
	return nil
}

// MaxNameLength is the longest display name a light accepts.
const MaxNameLength = 64
