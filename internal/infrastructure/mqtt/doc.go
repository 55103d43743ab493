// Package mqtt connects lumen to its MQTT broker.
//
// MQTT is lumen's outward bus. The Yeelight bridge subscribes to command
// topics and publishes light state, acknowledgements, discovery
// announcements and health:
//
//	home automation ↔ MQTT broker ↔ lumen ↔ lights (LAN)
//
// # Topics
//
//	lumen/command/yeelight/{light}    commands in (identity or name)
//	lumen/ack/yeelight/{light}        command acknowledgements
//	lumen/state/yeelight/{light}      retained light state
//	lumen/discovery/yeelight          retained discovery announcements
//	lumen/health/yeelight             retained bridge health
//	lumen/system/status               retained online/offline, also the last will
//
// # Reconnects
//
// Sessions are clean. After paho re-establishes a lost link the client
// republishes the online status and replays every remembered
// subscription, so the bridge keeps receiving commands across broker
// restarts. Reconnects counts these recoveries for /metrics.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, log.Component("mqtt"))
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.BridgeCommands("yeelight"), 1,
//	    func(topic string, payload []byte) error {
//	        return handle(topic, payload)
//	    })
package mqtt
