package transfer

import (
	"context"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/philipwilson/trees/internal/conf"
	"github.com/philipwilson/trees/internal/errors"
	"github.com/philipwilson/trees/internal/logger"
)

// TransferTopic returns the topic envelopes are published on.
func TransferTopic(base string) string {
	base = strings.TrimRight(base, "/")
	if base == "" {
		base = conf.DefaultMQTTTopic
	}
	return base + "/transfers"
}

// MQTTConfig holds the broker connection parameters.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
	QoS      byte
	Timeout  time.Duration
}

// MQTTConfigFromSettings builds an MQTTConfig. The role is appended to the
// client id so both devices can share one broker.
func MQTTConfigFromSettings(settings *conf.Settings) MQTTConfig {
	clientID := settings.MQTT.ClientID
	if clientID == "" {
		clientID = settings.Main.Name
	}
	return MQTTConfig{
		Broker:   settings.MQTT.Broker,
		ClientID: clientID + "-" + settings.Main.Role,
		Username: settings.MQTT.Username,
		Password: settings.MQTT.Password,
		Topic:    settings.MQTT.Topic,
		QoS:      settings.MQTT.QoS,
		Timeout:  settings.MQTT.Timeout,
	}
}

func (c MQTTConfig) timeout() time.Duration {
	if c.Timeout <= 0 {
		return 10 * time.Second
	}
	return c.Timeout
}

func (c MQTTConfig) clientOptions() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(c.Broker)
	opts.SetClientID(c.ClientID)
	opts.SetUsername(c.Username)
	opts.SetPassword(c.Password)
	opts.SetCleanSession(false)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(c.timeout())
	return opts
}

// waitToken waits for a paho token, honoring ctx and a hard timeout.
func waitToken(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("mqtt operation timed out after %v", timeout)
	}
}

// MQTTTransport publishes envelopes to the broker. Connection events drive
// the Monitor, so the sender sees the broker session as reachability.
type MQTTTransport struct {
	config  MQTTConfig
	client  mqtt.Client
	monitor *Monitor
	log     logger.Logger
}

// NewMQTTTransport creates a transport; call Connect before use.
func NewMQTTTransport(cfg MQTTConfig, monitor *Monitor, log logger.Logger) *MQTTTransport {
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	t := &MQTTTransport{config: cfg, monitor: monitor, log: log.Module("mqtt")}

	opts := cfg.clientOptions()
	opts.SetOnConnectHandler(t.onConnect)
	opts.SetConnectionLostHandler(t.onConnectionLost)
	t.client = mqtt.NewClient(opts)
	return t
}

func (t *MQTTTransport) Name() string { return "mqtt" }

// Connect starts the broker session. With connect retry enabled paho keeps
// trying in the background, so neither a timeout nor the end of ctx is an
// error here: until the session is up the monitor stays unreachable and
// records are queued.
func (t *MQTTTransport) Connect(ctx context.Context) error {
	token := t.client.Connect()
	if err := waitToken(ctx, token, t.config.timeout()); err != nil {
		t.log.Warn("mqtt broker not reachable yet, retrying in background",
			logger.String("broker", t.config.Broker),
			logger.Error(err))
	}
	return nil
}

// Deliver publishes env and waits for the broker acknowledgement.
func (t *MQTTTransport) Deliver(ctx context.Context, env Envelope) error {
	if !t.client.IsConnectionOpen() {
		return ErrUnreachable
	}
	payload, err := EncodeEnvelope(env)
	if err != nil {
		return err
	}

	topic := TransferTopic(t.config.Topic)
	start := time.Now()
	token := t.client.Publish(topic, t.config.QoS, false, payload)
	if err := waitToken(ctx, token, t.config.timeout()); err != nil {
		return errors.New(err).
			Component("transfer").
			Category(errors.CategoryMQTTPublish).
			Timing("mqtt_publish", time.Since(start)).
			Context("topic", topic).
			Context("record_id", env.Record.ID).
			Build()
	}
	return nil
}

// Disconnect closes the broker session. It also stops a connect that is
// still retrying in the background.
func (t *MQTTTransport) Disconnect() {
	t.client.Disconnect(250)
	t.monitor.Set(false)
}

func (t *MQTTTransport) onConnect(_ mqtt.Client) {
	t.log.Info("connected to mqtt broker", logger.String("broker", t.config.Broker))
	t.monitor.Set(true)
}

func (t *MQTTTransport) onConnectionLost(_ mqtt.Client, err error) {
	t.log.Warn("mqtt connection lost",
		logger.String("broker", t.config.Broker),
		logger.Error(err))
	t.monitor.Set(false)
}
