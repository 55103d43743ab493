// Package yeelight implements the Yeelight LAN protocol bridge for lumen.
//
// It finds lights with multicast discovery, keeps one control connection
// per light and translates between lumen's MQTT/API commands and the
// lights' JSON control stream.
//
// # Architecture
//
//	┌─────────────────┐          ┌─────────────────┐  multicast 239.255.255.250:1982
//	│  MQTT / API     │◄────────►│     Bridge      │◄──────────────────────────────► lights
//	└─────────────────┘          │ Scanner         │  TCP :55443, JSON lines
//	                             │ Connection × n  │◄──────────────────────────────►
//	                             └─────────────────┘
//
// # Control stream
//
// One JSON object per line, CRLF terminated:
//
//	→ {"id":1,"method":"set_bright","params":[50,"smooth",500]}
//	← {"id":1,"result":["ok"]}
//	← {"method":"props","params":{"power":"on","bright":"50"}}
//
// Commands are fire-and-forget. A request without a reply inside the
// operation timeout, a failed liveness probe, or a socket error drops the
// connection, which then reconnects on its own. Commands issued while a
// light is not connected fail with ErrNotConnected and are not queued.
//
// # Discovery
//
// The Scanner sends M-SEARCH datagrams to the group and listens for both
// search replies and NOTIFY announcements. The first address seen for an
// identity wins until the scanner is restarted.
//
// # Colour flows
//
// A flow is a list of steps encoded as "duration,mode,value,brightness"
// per step:
//
//	expr, err := yeelight.EncodeFlow([]yeelight.FlowStep{
//	    {Duration: 500 * time.Millisecond, Mode: yeelight.ModeRGB, Color: yeelight.Red, Brightness: 100},
//	    {Duration: 500 * time.Millisecond, Mode: yeelight.ModeTemperature, Temperature: 4000, Brightness: 50},
//	})
//	// expr == "500,1,16711680,100,500,2,4000,50"
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
package yeelight
