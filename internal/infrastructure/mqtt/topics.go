package mqtt

import "fmt"

// Topic roots.
//
// Bridge topics use the flat scheme lumen/{category}/{protocol}/{light}.
const (
	// TopicPrefix is the root of every topic lumen publishes or subscribes to.
	TopicPrefix = "lumen"

	// TopicPrefixSystem is the base for process-level topics.
	TopicPrefixSystem = "lumen/system"
)

// Topics builds lumen topic names.
//
//	topics := mqtt.Topics{}
//	topics.BridgeState("yeelight", "0x000000000015243f")
//	// "lumen/state/yeelight/0x000000000015243f"
type Topics struct{}

// BridgeState is the retained state topic of one light.
func (Topics) BridgeState(protocol, light string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, protocol, light)
}

// BridgeCommand is the command topic of one light. light is a hex
// identity or a display name.
func (Topics) BridgeCommand(protocol, light string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, protocol, light)
}

// BridgeAck is where the bridge answers commands sent to light.
func (Topics) BridgeAck(protocol, light string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefix, protocol, light)
}

// BridgeHealth is the retained health topic of a bridge.
func (Topics) BridgeHealth(protocol string) string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, protocol)
}

// BridgeDiscovery is the retained discovery announcement topic.
func (Topics) BridgeDiscovery(protocol string) string {
	return fmt.Sprintf("%s/discovery/%s", TopicPrefix, protocol)
}

// BridgeCommands is the filter matching every command for a bridge.
func (Topics) BridgeCommands(protocol string) string {
	return fmt.Sprintf("%s/command/%s/+", TopicPrefix, protocol)
}

// SystemStatus is the retained online/offline topic, also used as the
// last will.
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}
