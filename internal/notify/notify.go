package notify

import (
	"context"
	"time"

	"github.com/Dijker/com.netatmo/internal/device"
	"github.com/Dijker/com.netatmo/internal/infrastructure/mqtt"
)

// historyTimeout bounds a single history insert.
const historyTimeout = 5 * time.Second

// Logger defines the logging interface used by the notifier.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Publisher publishes JSON messages. *mqtt.Client implements it.
type Publisher interface {
	PublishJSON(topic string, v any, retained bool) error
}

// Telemetry receives numeric values and refresh metrics.
// *influxdb.Client implements it.
type Telemetry interface {
	WriteCapability(deviceID, capabilityID string, value float64, at time.Time)
	WriteRefresh(accountID string, success bool, elapsed time.Duration)
}

// History records capability transitions. device.HistoryRepository
// implements it.
type History interface {
	Record(ctx context.Context, change device.Change) error
}

// StatePayload is published retained on the state topic of a capability.
type StatePayload struct {
	Value      any       `json:"value"`
	Previous   any       `json:"previous,omitempty"`
	ObservedAt time.Time `json:"observed_at"`
}

// AccountPayload is published retained on an account's status topic.
type AccountPayload struct {
	AccountID string    `json:"account_id"`
	State     string    `json:"state"`
	At        time.Time `json:"at"`
}

// RefreshPayload is published after every refresh chain.
type RefreshPayload struct {
	AccountID  string    `json:"account_id"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	At         time.Time `json:"at"`
}

// Notifier fans state changes and account events out to MQTT, the
// time-series database and the local history. Telemetry and History are
// optional.
type Notifier struct {
	publisher Publisher
	telemetry Telemetry
	history   History
	reporter  *Reporter
	logger    Logger
	now       func() time.Time
	topics    mqtt.Topics
}

// Deps are the sinks of a Notifier.
type Deps struct {
	Publisher Publisher
	Telemetry Telemetry
	History   History
	Reporter  *Reporter
}

// New creates a notifier. A nil Reporter gets one logging through the
// notifier's logger only.
func New(deps Deps) *Notifier {
	n := &Notifier{
		publisher: deps.Publisher,
		telemetry: deps.Telemetry,
		history:   deps.History,
		reporter:  deps.Reporter,
		logger:    noopLogger{},
		now:       time.Now,
	}
	if n.reporter == nil {
		n.reporter = NewReporter(nil)
	}
	return n
}

// SetLogger sets the logger for the notifier.
func (n *Notifier) SetLogger(logger Logger) {
	n.logger = logger
}

// HandleChange publishes a capability transition. It has the signature of
// device.ChangeHandler and runs on the refresh goroutine.
func (n *Notifier) HandleChange(change device.Change) {
	payload := StatePayload{Value: change.Value, Previous: change.Previous, ObservedAt: change.ObservedAt}
	if err := n.publisher.PublishJSON(n.topics.State(change.DeviceID, change.CapabilityID), payload, true); err != nil {
		n.logger.Warn("publishing state failed",
			"device_id", change.DeviceID,
			"capability", change.CapabilityID,
			"error", err,
		)
	}

	if v, ok := change.Value.(float64); ok && n.telemetry != nil {
		n.telemetry.WriteCapability(change.DeviceID, change.CapabilityID, v, change.ObservedAt)
	}

	if n.history != nil {
		ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
		defer cancel()
		if err := n.history.Record(ctx, change); err != nil {
			n.reporter.Report(err)
		}
	}
}

// AccountAuthenticated publishes the authenticated status of an account.
func (n *Notifier) AccountAuthenticated(accountID string) {
	n.publishAccount(accountID, "authenticated")
}

// AccountRemoved clears the retained status of a removed account.
func (n *Notifier) AccountRemoved(accountID string) {
	n.publishAccount(accountID, "removed")
}

func (n *Notifier) publishAccount(accountID, state string) {
	payload := AccountPayload{AccountID: accountID, State: state, At: n.now()}
	if err := n.publisher.PublishJSON(n.topics.AccountStatus(accountID), payload, true); err != nil {
		n.logger.Warn("publishing account status failed", "account_id", accountID, "error", err)
	}
}

// RefreshOutcome records one refresh chain. It has the signature of
// cloudsync.OutcomeHandler.
func (n *Notifier) RefreshOutcome(accountID string, err error, elapsed time.Duration) {
	if n.telemetry != nil {
		n.telemetry.WriteRefresh(accountID, err == nil, elapsed)
	}

	payload := RefreshPayload{
		AccountID:  accountID,
		Success:    err == nil,
		DurationMS: elapsed.Milliseconds(),
		At:         n.now(),
	}
	if err != nil {
		payload.Error = err.Error()
	}
	if perr := n.publisher.PublishJSON(n.topics.RefreshOutcome(accountID), payload, false); perr != nil {
		n.logger.Debug("publishing refresh outcome failed", "account_id", accountID, "error", perr)
	}
}
