package yeelight

import (
	"bufio"
	"bytes"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/nerrad567/lumen-core/internal/device"
)

// Discovery wire constants.
const (
	// DefaultGroup is the multicast group and port lights listen and
	// advertise on.
	DefaultGroup = "239.255.255.250:1982"

	locationScheme = "yeelight"
	searchTarget   = "wifi_bulb"

	statusSearchReply = "HTTP/1.1 200 OK"
	statusNotify      = "NOTIFY * HTTP/1.1"
)

// AdvertisementKind tells a solicited search reply from an unsolicited
// announcement. Both carry the same fields.
type AdvertisementKind int

const (
	KindSearchReply AdvertisementKind = iota
	KindNotify
)

func (k AdvertisementKind) String() string {
	if k == KindNotify {
		return "notify"
	}
	return "search_reply"
}

// Advertisement is a parsed discovery datagram.
type Advertisement struct {
	Kind     AdvertisementKind
	ID       device.Identity
	Address  device.Address
	Model    string
	Firmware string
	Support  []string
	Name     string

	Power            bool
	Brightness       int
	ColorMode        int
	ColorTemperature int
	RGB              uint32
	Hue              int
	Saturation       int
}

// Record converts the advertisement into a registry record.
func (a Advertisement) Record() device.Record {
	return device.Record{
		ID:       a.ID,
		Address:  a.Address,
		Name:     a.Name,
		Model:    a.Model,
		Firmware: a.Firmware,
		State: device.LightState{
			Power:            a.Power,
			Brightness:       a.Brightness,
			ColorMode:        a.ColorMode,
			ColorTemperature: a.ColorTemperature,
			RGB:              a.RGB,
		},
	}
}

// Supports reports whether the light lists method in its support header.
func (a Advertisement) Supports(method string) bool {
	for _, m := range a.Support {
		if m == method {
			return true
		}
	}
	return false
}

// SearchMessage returns the M-SEARCH datagram sent to group.
func SearchMessage(group string) []byte {
	return []byte("M-SEARCH * HTTP/1.1\r\n" +
		"HOST: " + group + "\r\n" +
		"MAN: \"ssdp:discover\"\r\n" +
		"ST: " + searchTarget + "\r\n")
}

// ParseAdvertisement parses a search reply or NOTIFY datagram.
//
// The status line selects the kind; header names are case-insensitive and
// parsing stops at the first blank line. Location ("yeelight://host:port")
// and id are required. Numeric state headers that fail to parse are left
// at zero.
func ParseAdvertisement(data []byte) (Advertisement, error) {
	var adv Advertisement

	sc := bufio.NewScanner(bytes.NewReader(data))
	if !sc.Scan() {
		return adv, fmt.Errorf("%w: empty datagram", ErrInvalidAdvertisement)
	}
	switch status := strings.TrimSpace(sc.Text()); status {
	case statusSearchReply:
		adv.Kind = KindSearchReply
	case statusNotify:
		adv.Kind = KindNotify
	default:
		return adv, fmt.Errorf("%w: unexpected status line %q", ErrInvalidAdvertisement, status)
	}

	headers := make(map[string]string)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" {
			break
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		headers[strings.ToLower(strings.TrimSpace(key))] = strings.TrimSpace(value)
	}

	location, ok := headers["location"]
	if !ok {
		return adv, fmt.Errorf("%w: missing location", ErrInvalidAdvertisement)
	}
	addr, err := parseLocation(location)
	if err != nil {
		return adv, err
	}
	adv.Address = addr

	rawID, ok := headers["id"]
	if !ok {
		return adv, fmt.Errorf("%w: missing id", ErrInvalidAdvertisement)
	}
	id, err := device.ParseIdentity(rawID)
	if err != nil {
		return adv, fmt.Errorf("%w: %v", ErrInvalidAdvertisement, err)
	}
	adv.ID = id

	adv.Model = headers["model"]
	adv.Firmware = headers["fw_ver"]
	adv.Name = headers["name"]
	if s := headers["support"]; s != "" {
		adv.Support = strings.Fields(s)
	}
	adv.Power = headers["power"] == "on"
	adv.Brightness = atoiOrZero(headers["bright"])
	adv.ColorMode = atoiOrZero(headers["color_mode"])
	adv.ColorTemperature = atoiOrZero(headers["ct"])
	adv.Hue = atoiOrZero(headers["hue"])
	adv.Saturation = atoiOrZero(headers["sat"])
	if v, err := strconv.ParseUint(headers["rgb"], 10, 32); err == nil {
		adv.RGB = uint32(v)
	}
	return adv, nil
}

func parseLocation(s string) (device.Address, error) {
	u, err := url.Parse(s)
	if err != nil {
		return device.Address{}, fmt.Errorf("%w: location %q: %v", ErrInvalidAdvertisement, s, err)
	}
	if u.Scheme != locationScheme {
		return device.Address{}, fmt.Errorf("%w: location scheme %q", ErrInvalidAdvertisement, u.Scheme)
	}
	addr, err := device.ParseAddress(u.Host)
	if err != nil {
		return device.Address{}, fmt.Errorf("%w: location %q: %v", ErrInvalidAdvertisement, s, err)
	}
	return addr, nil
}

func atoiOrZero(s string) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return v
}
