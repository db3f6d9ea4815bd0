package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/Dijker/com.netatmo/internal/infrastructure/config"
)

// testConfig points at a broker that is never dialled by these tests.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "netatmosync-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

type mockLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *mockLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func (l *mockLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func TestTopics(t *testing.T) {
	topics := Topics{}
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"State", topics.State("70:ee:50:00:00:01", "measure_co2"), "netatmo/state/70:ee:50:00:00:01/measure_co2"},
		{"Command", topics.Command("relay-therm", "target_temperature"), "netatmo/command/relay-therm/target_temperature"},
		{"CommandResult", topics.CommandResult("relay-therm", "thermostat_mode"), "netatmo/command/relay-therm/thermostat_mode/result"},
		{"AccountStatus", topics.AccountStatus("user-1"), "netatmo/account/user-1/status"},
		{"RefreshOutcome", topics.RefreshOutcome("user-1"), "netatmo/account/user-1/refresh"},
		{"SystemStatus", topics.SystemStatus(), "netatmo/system/status"},
		{"SystemError", topics.SystemError(), "netatmo/system/error"},
		{"AllCommands", topics.AllCommands(), "netatmo/command/+/+"},
		{"AllStates", topics.AllStates(), "netatmo/state/+/+"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestTopics_ParseCommand(t *testing.T) {
	tests := []struct {
		topic      string
		device     string
		capability string
		wantErr    bool
	}{
		{"netatmo/command/relay-therm/target_temperature", "relay-therm", "target_temperature", false},
		{"netatmo/command/relay-therm/target_temperature/result", "", "", true},
		{"netatmo/state/relay-therm/target_temperature", "", "", true},
		{"other/command/relay-therm/target_temperature", "", "", true},
		{"netatmo/command//target_temperature", "", "", true},
		{"", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			device, capability, err := Topics{}.ParseCommand(tt.topic)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTopic) {
					t.Errorf("ParseCommand() error = %v, want ErrInvalidTopic", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseCommand() error = %v", err)
			}
			if device != tt.device || capability != tt.capability {
				t.Errorf("ParseCommand() = %q, %q", device, capability)
			}
		})
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth = config.MQTTAuthConfig{Username: "sync", Password: "secret"}

	opts := buildClientOptions(cfg)
	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://127.0.0.1:1883" {
		t.Errorf("Servers = %v", opts.Servers)
	}
	if opts.ClientID != "netatmosync-test" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != "sync" || opts.Password != "secret" {
		t.Errorf("credentials = %q/%q", opts.Username, opts.Password)
	}
	if !opts.AutoReconnect || !opts.CleanSession {
		t.Error("expected auto reconnect with a clean session")
	}
	if opts.Order {
		t.Error("handlers must not be serialised behind a slow command")
	}
	if opts.TLSConfig != nil {
		t.Error("TLS configured without cfg.Broker.TLS")
	}

	cfg.Broker.TLS = true
	cfg.Broker.Port = 8883
	opts = buildClientOptions(cfg)
	if opts.Servers[0].String() != "ssl://127.0.0.1:8883" {
		t.Errorf("TLS broker = %v", opts.Servers[0])
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Errorf("TLSConfig = %+v", opts.TLSConfig)
	}
}

func TestConfigureLWT(t *testing.T) {
	opts := buildClientOptions(testConfig())
	configureLWT(opts, "netatmosync-test")

	if !opts.WillEnabled || !opts.WillRetained || opts.WillTopic != "netatmo/system/status" {
		t.Fatalf("will = enabled %v retained %v topic %q", opts.WillEnabled, opts.WillRetained, opts.WillTopic)
	}
	var status Status
	if err := json.Unmarshal(opts.WillPayload, &status); err != nil {
		t.Fatalf("will payload: %v", err)
	}
	if status.Status != "offline" || status.Reason != "unexpected_disconnect" || status.ClientID != "netatmosync-test" {
		t.Errorf("will status = %+v", status)
	}
}

func TestClient_NotConnected(t *testing.T) {
	c := newClient(testConfig())
	handler := func(string, []byte) error { return nil }

	tests := []struct {
		name    string
		call    func() error
		wantErr error
	}{
		{"publish empty topic", func() error { return c.Publish("", nil, 1, false) }, ErrInvalidTopic},
		{"publish invalid qos", func() error { return c.Publish("netatmo/x", nil, 3, false) }, ErrInvalidQoS},
		{"publish too large", func() error { return c.Publish("netatmo/x", make([]byte, maxPayloadSize+1), 1, false) }, ErrPublishFailed},
		{"publish disconnected", func() error { return c.Publish("netatmo/x", []byte("1"), 1, false) }, ErrNotConnected},
		{"publish json disconnected", func() error { return c.PublishJSON("netatmo/x", 1, true) }, ErrNotConnected},
		{"publish json unencodable", func() error { return c.PublishJSON("netatmo/x", make(chan int), true) }, ErrPublishFailed},
		{"subscribe empty topic", func() error { return c.Subscribe("", 1, handler) }, ErrInvalidTopic},
		{"subscribe invalid qos", func() error { return c.Subscribe("netatmo/#", 3, handler) }, ErrInvalidQoS},
		{"subscribe nil handler", func() error { return c.Subscribe("netatmo/#", 1, nil) }, ErrSubscribeFailed},
		{"subscribe disconnected", func() error { return c.Subscribe("netatmo/#", 1, handler) }, ErrNotConnected},
		{"unsubscribe empty topic", func() error { return c.Unsubscribe("") }, ErrInvalidTopic},
		{"unsubscribe disconnected", func() error { return c.Unsubscribe("netatmo/#") }, ErrNotConnected},
		{"health check", func() error { return c.HealthCheck(context.Background()) }, ErrNotConnected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if c.IsConnected() {
		t.Error("IsConnected() = true before Connect")
	}
	if c.SubscriptionCount() != 0 || c.HasSubscription("netatmo/#") {
		t.Error("failed Subscribe left a tracked subscription")
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestClient_HealthCheckCancelled(t *testing.T) {
	c := newClient(testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck() error = %v, want context.Canceled", err)
	}
}

func TestClient_CloseNil(t *testing.T) {
	var c *Client
	if err := c.Close(); err != nil {
		t.Errorf("Close() on nil client = %v", err)
	}
}

func TestClient_Dispatch(t *testing.T) {
	c := newClient(testConfig())
	logger := &mockLogger{}
	c.SetLogger(logger)

	var got []string
	c.dispatch(func(topic string, payload []byte) error {
		got = append(got, topic+"="+string(payload))
		return nil
	}, "netatmo/command/a/b", []byte("1"))
	c.dispatch(func(string, []byte) error { return errors.New("bad payload") }, "netatmo/command/a/b", nil)
	c.dispatch(func(string, []byte) error { panic("boom") }, "netatmo/command/a/b", nil)

	if strings.Join(got, ",") != "netatmo/command/a/b=1" {
		t.Errorf("handled = %v", got)
	}
	if len(logger.warns) != 1 || len(logger.errors) != 1 {
		t.Errorf("warns = %v, errors = %v", logger.warns, logger.errors)
	}
}

func TestClient_Callbacks(t *testing.T) {
	c := newClient(testConfig())

	var lost error
	c.SetOnDisconnect(func(err error) { lost = err })
	c.setConnected(true)
	c.handleDisconnect(errors.New("broker gone"))

	if lost == nil || lost.Error() != "broker gone" {
		t.Errorf("disconnect callback got %v", lost)
	}
	c.connMu.RLock()
	connected := c.connected
	c.connMu.RUnlock()
	if connected {
		t.Error("still marked connected after connection loss")
	}
}
