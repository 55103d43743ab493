package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by lumen.
const (
	MeasurementLightState      = "light_state"
	MeasurementLightConnection = "light_connection"
)

// LightState is the state sample written for one light.
type LightState struct {
	LightID          string
	Name             string
	Model            string
	Power            bool
	Brightness       int
	ColorMode        int
	ColorTemperature int
	RGB              uint32
}

// WriteLightState records a light's reported state. A state equal to
// the last one recorded for the light is counted as unchanged and not
// written.
//
// Example:
//
//	client.WriteLightState(influxdb.LightState{
//	    LightID: "0x000000000015243f", Name: "study", Power: true, Brightness: 80,
//	})
func (c *Client) WriteLightState(s LightState) {
	if !c.IsConnected() {
		return
	}

	c.lastMu.Lock()
	prev, seen := c.last[s.LightID]
	c.last[s.LightID] = s
	c.lastMu.Unlock()
	if seen && prev == s {
		c.unchanged.Add(1)
		return
	}

	c.writeAPI.WritePoint(lightStatePoint(s, c.now()))
	c.written.Add(1)
}

// WriteConnectionEvent records a connection state transition.
//
// Parameters:
//   - lightID: Light identity (hex)
//   - address: Control endpoint (host:port)
//   - state: New connection state ("connected", "disconnected")
//   - reason: Why the transition happened (may be empty)
//
// After a disconnect the next state sample for the light is always
// written, so each session starts with a full record.
func (c *Client) WriteConnectionEvent(lightID, address, state, reason string) {
	if !c.IsConnected() {
		return
	}
	if state != "connected" {
		c.lastMu.Lock()
		delete(c.last, lightID)
		c.lastMu.Unlock()
	}
	c.writeAPI.WritePoint(connectionPoint(lightID, address, state, reason, c.now()))
	c.written.Add(1)
}

func lightStatePoint(s LightState, ts time.Time) *write.Point {
	tags := map[string]string{
		"light_id": s.LightID,
	}
	if s.Name != "" {
		tags["name"] = s.Name
	}
	if s.Model != "" {
		tags["model"] = s.Model
	}

	fields := map[string]interface{}{
		"power":      s.Power,
		"brightness": int64(s.Brightness),
	}
	if s.ColorMode != 0 {
		fields["color_mode"] = int64(s.ColorMode)
	}
	if s.ColorTemperature != 0 {
		fields["color_temperature"] = int64(s.ColorTemperature)
	}
	if s.RGB != 0 {
		fields["rgb"] = int64(s.RGB)
	}

	return write.NewPoint(MeasurementLightState, tags, fields, ts)
}

func connectionPoint(lightID, address, state, reason string, ts time.Time) *write.Point {
	fields := map[string]interface{}{
		"connected": state == "connected",
		"state":     state,
	}
	if reason != "" {
		fields["reason"] = reason
	}
	return write.NewPoint(MeasurementLightConnection,
		map[string]string{
			"light_id": lightID,
			"address":  address,
		},
		fields, ts)
}
