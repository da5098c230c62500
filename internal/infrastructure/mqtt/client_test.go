package mqtt

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-presence/internal/infrastructure/config"
)

// testConfig returns a valid MQTT configuration for testing.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "graylogic-presence-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// connectOrSkip connects to a local broker, skipping when none is running.
func connectOrSkip(t *testing.T, clientID string) *Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping broker test in short mode")
	}
	cfg := testConfig()
	cfg.Broker.ClientID = clientID
	client, err := Connect(cfg)
	if err != nil {
		t.Skipf("no MQTT broker at 127.0.0.1:1883: %v", err)
	}
	t.Cleanup(func() { client.Close() }) //nolint:errcheck // Test cleanup
	return client
}

// fakeMessage implements pahomqtt.Message for handler tests.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type mockLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *mockLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func (l *mockLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

// =============================================================================
// Validation Tests (no broker)
// =============================================================================

func TestPublishValidation(t *testing.T) {
	c := &Client{subscriptions: make(map[string]subscription)}

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		want    error
	}{
		{"empty topic", "", nil, 1, ErrInvalidTopic},
		{"invalid qos", "t", nil, 3, ErrInvalidQoS},
		{"oversized payload", "t", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
		{"not connected", "t", []byte("{}"), 1, ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.want) {
				t.Errorf("Publish() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestPublishJSONMarshalError(t *testing.T) {
	c := &Client{subscriptions: make(map[string]subscription)}
	err := c.PublishJSON("t", func() {}, false)
	if !errors.Is(err, ErrPublishFailed) {
		t.Errorf("PublishJSON() error = %v, want ErrPublishFailed", err)
	}
}

func TestSubscribeValidation(t *testing.T) {
	c := &Client{subscriptions: make(map[string]subscription)}
	handler := func(string, []byte) error { return nil }

	if err := c.Subscribe("", 1, handler); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Subscribe(empty) error = %v", err)
	}
	if err := c.Subscribe("t", 5, handler); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Subscribe(qos 5) error = %v", err)
	}
	if err := c.Subscribe("t", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe(nil handler) error = %v", err)
	}
	if err := c.Subscribe("t", 1, handler); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe(disconnected) error = %v", err)
	}
	if c.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", c.SubscriptionCount())
	}
}

func TestWrapHandlerRecoversPanic(t *testing.T) {
	logger := &mockLogger{}
	c := &Client{}
	c.SetLogger(logger)

	wrapped := c.wrapHandler(func(string, []byte) error {
		panic("boom")
	})
	wrapped(nil, fakeMessage{topic: "graylogic/presence/response/h"})

	logger.mu.Lock()
	defer logger.mu.Unlock()
	if len(logger.errors) != 1 {
		t.Errorf("logged errors = %v, want one panic report", logger.errors)
	}
}

func TestWrapHandlerLogsError(t *testing.T) {
	logger := &mockLogger{}
	c := &Client{}
	c.SetLogger(logger)

	var gotTopic string
	var gotPayload []byte
	wrapped := c.wrapHandler(func(topic string, payload []byte) error {
		gotTopic, gotPayload = topic, payload
		return errors.New("bad payload")
	})
	wrapped(nil, fakeMessage{topic: "a/b", payload: []byte("x")})

	if gotTopic != "a/b" || string(gotPayload) != "x" {
		t.Errorf("handler got %q %q", gotTopic, gotPayload)
	}
	logger.mu.Lock()
	defer logger.mu.Unlock()
	if len(logger.warns) != 1 {
		t.Errorf("logged warnings = %v, want 1", logger.warns)
	}
}

func TestStatusPayload(t *testing.T) {
	var got serviceStatus
	if err := json.Unmarshal(statusPayload("presence-1", statusOffline, reasonUnexpected), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Status != "offline" || got.ClientID != "presence-1" || got.Reason != "unexpected_disconnect" {
		t.Errorf("payload = %+v", got)
	}
	if _, err := time.Parse(time.RFC3339, got.Timestamp); err != nil {
		t.Errorf("timestamp %q: %v", got.Timestamp, err)
	}

	online := string(statusPayload("presence-1", statusOnline, ""))
	if strings.Contains(online, "reason") {
		t.Errorf("online payload %s should omit reason", online)
	}
}

func TestBrokerURL(t *testing.T) {
	tests := []struct {
		cfg  config.MQTTBrokerConfig
		want string
	}{
		{config.MQTTBrokerConfig{Host: "localhost", Port: 1883}, "tcp://localhost:1883"},
		{config.MQTTBrokerConfig{Host: "broker.lan", Port: 8883, TLS: true}, "ssl://broker.lan:8883"},
	}
	for _, tt := range tests {
		if got := brokerURL(tt.cfg); got != tt.want {
			t.Errorf("brokerURL(%+v) = %q, want %q", tt.cfg, got, tt.want)
		}
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Username = "presence"
	cfg.Auth.Password = "secret"

	opts := buildClientOptions(cfg)
	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://127.0.0.1:1883" {
		t.Errorf("servers = %v", opts.Servers)
	}
	if opts.ClientID != cfg.Broker.ClientID || opts.Username != "presence" {
		t.Errorf("client id/username = %q/%q", opts.ClientID, opts.Username)
	}
	if !opts.WillEnabled || opts.WillTopic != (Topics{}).SystemStatus() || !opts.WillRetained {
		t.Errorf("will = %v %q retained=%v", opts.WillEnabled, opts.WillTopic, opts.WillRetained)
	}
	if !opts.CleanSession || !opts.AutoReconnect {
		t.Error("clean session and auto reconnect should be enabled")
	}
}

func TestStatsDisconnected(t *testing.T) {
	c := &Client{subscriptions: map[string]subscription{"a/#": {qos: 1}}}
	c.handleDisconnect(errors.New("connection reset"))

	s := c.Stats()
	if s.Connected {
		t.Error("Connected = true for a client without a connection")
	}
	if s.Subscriptions != 1 {
		t.Errorf("Subscriptions = %d, want 1", s.Subscriptions)
	}
	if s.LastError != "connection reset" {
		t.Errorf("LastError = %q", s.LastError)
	}
}

func TestTopicBuilders(t *testing.T) {
	topics := Topics{}
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"ProbeRequest", topics.ProbeRequest("10.0.0.5"), "graylogic/presence/request/10.0.0.5"},
		{"ProbeResponse", topics.ProbeResponse("10.0.0.5"), "graylogic/presence/response/10.0.0.5"},
		{"DevicePresence", topics.DevicePresence("gw-1"), "graylogic/presence/device/gw-1"},
		{"ResourceState", topics.ResourceState("abc"), "graylogic/presence/state/abc"},
		{"DeviceState", topics.DeviceState("gw-1"), "graylogic/presence/device_state/gw-1"},
		{"SystemStatus", topics.SystemStatus(), "graylogic/system/status"},
		{"AllProbeResponses", topics.AllProbeResponses(), "graylogic/presence/response/+"},
		{"AllDevicePresence", topics.AllDevicePresence(), "graylogic/presence/device/+"},
		{"AllResourceStates", topics.AllResourceStates(), "graylogic/presence/state/+"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestLastSegment(t *testing.T) {
	tests := map[string]string{
		"graylogic/presence/device/10.0.0.5": "10.0.0.5",
		"single":                             "single",
		"trailing/":                          "",
	}
	for in, want := range tests {
		if got := LastSegment(in); got != want {
			t.Errorf("LastSegment(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestValidLevel(t *testing.T) {
	tests := map[string]bool{
		"10.0.0.5":      true,
		"gw-1:5683":     true,
		"":              false,
		"a/b":           false,
		"+":             false,
		"living#room":   false,
		"fe80::1%wlan0": true,
	}
	for in, want := range tests {
		if got := ValidLevel(in); got != want {
			t.Errorf("ValidLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestCloseNil(t *testing.T) {
	c := &Client{}
	if err := c.Close(); err != nil {
		t.Errorf("Close() on unconnected client error = %v", err)
	}
}

// =============================================================================
// Broker Tests (skipped without a local broker)
// =============================================================================

func TestConnectInvalidBroker(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping connection timeout test in short mode")
	}
	cfg := testConfig()
	cfg.Broker.Port = 19999

	_, err := Connect(cfg)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestPublishSubscribeRoundtrip(t *testing.T) {
	client := connectOrSkip(t, "graylogic-presence-roundtrip")

	topic := Topics{}.ProbeResponse("roundtrip-host")
	received := make(chan []byte, 1)
	err := client.Subscribe(topic, 1, func(_ string, payload []byte) error {
		received <- payload
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !client.HasSubscription(topic) {
		t.Error("HasSubscription() = false after Subscribe")
	}

	if err := client.PublishJSON(topic, map[string]string{"result": "ok"}, false); err != nil {
		t.Fatalf("PublishJSON() error = %v", err)
	}

	select {
	case got := <-received:
		if string(got) != `{"result":"ok"}` {
			t.Errorf("payload = %s", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}

	if err := client.Unsubscribe(topic); err != nil {
		t.Errorf("Unsubscribe() error = %v", err)
	}
	if client.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d after Unsubscribe", client.SubscriptionCount())
	}
}
