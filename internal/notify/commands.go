package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Dijker/com.netatmo/internal/audit"
	"github.com/Dijker/com.netatmo/internal/infrastructure/mqtt"
)

// commandTimeout bounds one command, cloud write included.
const commandTimeout = 30 * time.Second

// Setter writes a capability value. *driver.Set implements it.
type Setter interface {
	SetCapability(ctx context.Context, deviceID, capabilityID string, value any) error
}

// Subscriber registers MQTT handlers. *mqtt.Client implements it.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// Auditor records executed commands. *audit.SQLiteRepository implements it.
type Auditor interface {
	Record(ctx context.Context, e audit.Entry) error
}

// CommandResult is published after each command.
type CommandResult struct {
	OK    bool      `json:"ok"`
	Error string    `json:"error,omitempty"`
	At    time.Time `json:"at"`
}

// Commands executes capability writes received on
// netatmo/command/{device}/{capability}. The payload is a JSON value; a
// payload that is not valid JSON is taken as a plain string.
type Commands struct {
	setter    Setter
	publisher Publisher
	auditor   Auditor
	logger    Logger
	now       func() time.Time
	topics    mqtt.Topics
}

// NewCommands creates a command handler writing through setter and
// publishing results on publisher.
func NewCommands(setter Setter, publisher Publisher) *Commands {
	return &Commands{setter: setter, publisher: publisher, logger: noopLogger{}, now: time.Now}
}

// SetAuditor records every successful command on a.
func (c *Commands) SetAuditor(a Auditor) {
	c.auditor = a
}

// SetLogger sets the logger for the command handler.
func (c *Commands) SetLogger(logger Logger) {
	c.logger = logger
}

// Subscribe registers the handler for every command topic.
func (c *Commands) Subscribe(sub Subscriber, qos byte) error {
	if err := sub.Subscribe(c.topics.AllCommands(), qos, c.Handle); err != nil {
		return fmt.Errorf("subscribing to commands: %w", err)
	}
	return nil
}

// Handle executes one command message.
func (c *Commands) Handle(topic string, payload []byte) error {
	deviceID, capabilityID, err := c.topics.ParseCommand(topic)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	err = c.setter.SetCapability(ctx, deviceID, capabilityID, decodeValue(payload))
	result := CommandResult{OK: err == nil, At: c.now()}
	if err != nil {
		result.Error = err.Error()
		c.logger.Warn("command failed", "device_id", deviceID, "capability", capabilityID, "error", err)
	} else {
		c.logger.Info("command executed", "device_id", deviceID, "capability", capabilityID)
		c.recordAudit(ctx, deviceID, capabilityID, payload)
	}

	if perr := c.publisher.PublishJSON(c.topics.CommandResult(deviceID, capabilityID), result, false); perr != nil {
		c.logger.Warn("publishing command result failed", "error", perr)
	}
	return err
}

func (c *Commands) recordAudit(ctx context.Context, deviceID, capabilityID string, payload []byte) {
	if c.auditor == nil {
		return
	}
	err := c.auditor.Record(ctx, audit.Entry{
		Action:  audit.ActionCapabilitySet,
		Subject: deviceID,
		Source:  audit.SourceMQTT,
		Details: map[string]any{"capability": capabilityID, "value": decodeValue(payload)},
	})
	if err != nil {
		c.logger.Warn("recording audit entry failed", "device_id", deviceID, "error", err)
	}
}

func decodeValue(payload []byte) any {
	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		return string(payload)
	}
	return v
}
