package mqtt

import "fmt"

// TopicPrefix is the root of every simpit topic.
const TopicPrefix = "simpit"

// Topics builds simpit MQTT topics.
//
//	mqtt.Topics{}.State(0x1234)       // simpit/state/1234
//	mqtt.Topics{}.Health("panel-001") // simpit/health/panel-001
type Topics struct{}

// State returns the retained state topic for an export address.
// Addresses are four lower-case hex digits.
func (Topics) State(address uint16) string {
	return fmt.Sprintf("%s/state/%04x", TopicPrefix, address)
}

// Health returns the retained health topic for a panel.
func (Topics) Health(panelID string) string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, panelID)
}

// Command returns the topic an input command is published on.
func (Topics) Command(name string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, name)
}

// Input returns the topic remote input for one control arrives on.
func (Topics) Input(panelID, name string) string {
	return fmt.Sprintf("%s/input/%s/%s", TopicPrefix, panelID, name)
}

// SystemStatus returns the online/offline status topic.
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// AllStates matches every state topic.
func (Topics) AllStates() string {
	return TopicPrefix + "/state/+"
}

// AllInputs matches every remote input topic for a panel.
func (Topics) AllInputs(panelID string) string {
	return fmt.Sprintf("%s/input/%s/+", TopicPrefix, panelID)
}

// AllTopics matches everything under the simpit prefix.
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}
