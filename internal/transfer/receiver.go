package transfer

import (
	"context"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/philipwilson/trees/internal/errors"
	"github.com/philipwilson/trees/internal/logger"
	"github.com/philipwilson/trees/internal/observability/metrics"
)

// Receive outcome labels.
const (
	OutcomeStored    = "stored"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "rejected"
)

// Dispatch hands env to handler and records the outcome. Both the MQTT
// receiver and the HTTP API go through it.
func Dispatch(ctx context.Context, handler Handler, env Envelope, log logger.Logger, m *metrics.TransferMetrics) (ReceiveResult, error) {
	result, err := handler.ReceiveTransfer(ctx, env)
	outcome := OutcomeStored
	switch {
	case err != nil:
		outcome = OutcomeRejected
		log.Warn("transfer rejected",
			logger.String("record_id", env.Record.ID),
			logger.Error(err))
	case result.Duplicate:
		outcome = OutcomeDuplicate
		log.Info("duplicate transfer ignored", logger.String("record_id", result.RecordID))
	default:
		log.Info("transfer stored",
			logger.String("record_id", result.RecordID),
			logger.Bool("remapped", result.Remapped))
	}
	if m != nil {
		m.RecordReceived(outcome)
	}
	return result, err
}

// MQTTReceiver subscribes to the transfer topic on the companion and hands
// each envelope to a Handler.
type MQTTReceiver struct {
	config  MQTTConfig
	client  mqtt.Client
	handler Handler
	log     logger.Logger
	metrics *metrics.TransferMetrics
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewMQTTReceiver creates a receiver; call Start to subscribe.
func NewMQTTReceiver(cfg MQTTConfig, handler Handler, log logger.Logger, m *metrics.TransferMetrics) *MQTTReceiver {
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	r := &MQTTReceiver{config: cfg, handler: handler, log: log.Module("receiver"), metrics: m}
	opts := cfg.clientOptions()
	// Messages are acked only after they are handled, so a failed store
	// write leaves them with the broker for redelivery on reconnect.
	opts.SetAutoAckDisabled(true)
	// Queued messages of the persistent session can arrive before the
	// subscription is restored.
	opts.SetDefaultPublishHandler(r.onMessage)
	// Resubscribe on every (re)connect; the broker forgets subscriptions
	// of clean sessions.
	opts.SetOnConnectHandler(func(c mqtt.Client) { r.subscribe(c) })
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		r.log.Warn("mqtt connection lost", logger.Error(err))
	})
	r.client = mqtt.NewClient(opts)
	return r
}

// Start connects and subscribes. Handlers run with a context that is
// cancelled by Stop.
func (r *MQTTReceiver) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)
	token := r.client.Connect()
	if err := waitToken(ctx, token, r.config.timeout()); err != nil {
		r.cancel()
		return errors.New(err).
			Component("transfer").
			Category(errors.CategoryMQTTConnection).
			Context("broker", r.config.Broker).
			Build()
	}
	return nil
}

func (r *MQTTReceiver) subscribe(c mqtt.Client) {
	topic := TransferTopic(r.config.Topic)
	token := c.Subscribe(topic, r.config.QoS, r.onMessage)
	go func() {
		if err := waitToken(context.Background(), token, r.config.timeout()); err != nil {
			r.log.Error("subscribe failed", logger.String("topic", topic), logger.Error(err))
			return
		}
		r.log.Info("subscribed to transfers", logger.String("topic", topic))
	}()
}

// onMessage acks stored, duplicate and malformed transfers. Any other
// handler error leaves the message unacknowledged.
func (r *MQTTReceiver) onMessage(_ mqtt.Client, msg mqtt.Message) {
	env, err := DecodeEnvelope(msg.Payload())
	if err != nil {
		r.log.Warn("dropping undecodable transfer", logger.String("topic", msg.Topic()), logger.Error(err))
		if r.metrics != nil {
			r.metrics.RecordReceived(OutcomeRejected)
		}
		msg.Ack()
		return
	}
	ctx := r.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if _, err := Dispatch(ctx, r.handler, env, r.log, r.metrics); err != nil && !errors.Is(err, ErrMalformedRecord) {
		r.log.Warn("transfer left unacknowledged for redelivery",
			logger.String("record_id", env.Record.ID),
			logger.Int("message_id", int(msg.MessageID())))
		return
	}
	msg.Ack()
}

// Stop unsubscribes and disconnects.
func (r *MQTTReceiver) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	if r.client.IsConnected() {
		r.client.Unsubscribe(TransferTopic(r.config.Topic)).WaitTimeout(r.config.timeout())
		r.client.Disconnect(250)
	}
}
