package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every topic this service publishes or
// subscribes to.
const TopicPrefix = "netatmo"

// Topics builds the service's MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.State("70:ee:50:00:00:01", "measure_co2")
//	// netatmo/state/70:ee:50:00:00:01/measure_co2
type Topics struct{}

// State is the retained topic carrying the current value of one
// capability of one device.
func (Topics) State(deviceID, capabilityID string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, deviceID, capabilityID)
}

// Command is the topic a capability write is requested on.
func (Topics) Command(deviceID, capabilityID string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, deviceID, capabilityID)
}

// CommandResult carries the outcome of a command.
func (Topics) CommandResult(deviceID, capabilityID string) string {
	return fmt.Sprintf("%s/command/%s/%s/result", TopicPrefix, deviceID, capabilityID)
}

// AccountStatus is the retained topic carrying an account's session state.
func (Topics) AccountStatus(accountID string) string {
	return fmt.Sprintf("%s/account/%s/status", TopicPrefix, accountID)
}

// RefreshOutcome carries the result of each refresh chain of an account.
func (Topics) RefreshOutcome(accountID string) string {
	return fmt.Sprintf("%s/account/%s/refresh", TopicPrefix, accountID)
}

// SystemStatus is the retained online/offline topic, also used for the
// last will.
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// SystemError is the operator error channel.
func (Topics) SystemError() string {
	return TopicPrefix + "/system/error"
}

// AllCommands matches every command topic.
func (Topics) AllCommands() string {
	return TopicPrefix + "/command/+/+"
}

// AllStates matches every state topic.
func (Topics) AllStates() string {
	return TopicPrefix + "/state/+/+"
}

// ParseCommand splits a command topic into its device and capability ids.
func (Topics) ParseCommand(topic string) (deviceID, capabilityID string, err error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != TopicPrefix || parts[1] != "command" || parts[2] == "" || parts[3] == "" {
		return "", "", fmt.Errorf("%w: %q is not a command topic", ErrInvalidTopic, topic)
	}
	return parts[2], parts[3], nil
}
