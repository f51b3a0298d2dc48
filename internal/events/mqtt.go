package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/2beens/fixfit/internal/telemetry/tracing"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

var (
	ErrNotConnected   = errors.New("mqtt not connected")
	ErrPublishTimeout = errors.New("mqtt publish timeout")
)

// mqttClient is the subset of mqtt.Client used for publishing.
type mqttClient interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

type MQTTParams struct {
	BrokerURL      string
	ClientID       string
	Username       string
	Password       string
	TopicPrefix    string
	QoS            byte
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

type MQTTPublisher struct {
	client         mqttClient
	topicPrefix    string
	qos            byte
	publishTimeout time.Duration
}

func NewMQTTPublisher(params MQTTParams) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(params.BrokerURL)
	opts.SetClientID(params.ClientID)
	if params.Username != "" {
		opts.SetUsername(params.Username)
		opts.SetPassword(params.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		log.Infof("mqtt connected to [%s]", params.BrokerURL)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warnf("mqtt connection to [%s] lost, will reconnect: %s", params.BrokerURL, err)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(params.ConnectTimeout) {
		// stop the connect retry loop
		client.Disconnect(0)
		return nil, fmt.Errorf("mqtt connect to %s: timeout", params.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", params.BrokerURL, err)
	}

	return newMQTTPublisher(client, params.TopicPrefix, params.QoS, params.PublishTimeout), nil
}

func newMQTTPublisher(client mqttClient, topicPrefix string, qos byte, publishTimeout time.Duration) *MQTTPublisher {
	return &MQTTPublisher{
		client:         client,
		topicPrefix:    topicPrefix,
		qos:            qos,
		publishTimeout: publishTimeout,
	}
}

// Topic is <prefix>/sessions/<session id>/<event type>.
func (p *MQTTPublisher) Topic(event Event) string {
	return fmt.Sprintf("%s/sessions/%s/%s", p.topicPrefix, event.SessionID, event.Type)
}

func (p *MQTTPublisher) Publish(ctx context.Context, event Event) (err error) {
	_, span := tracing.GlobalTracer.Start(ctx, "events.mqtt.publish")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(
		attribute.String("event.type", string(event.Type)),
		attribute.String("session.id", event.SessionID),
	)

	if !p.client.IsConnected() {
		return ErrNotConnected
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	topic := p.Topic(event)
	token := p.client.Publish(topic, p.qos, false, payload)
	if !token.WaitTimeout(p.publishTimeout) {
		return fmt.Errorf("%w: %s", ErrPublishTimeout, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}

	log.Tracef("event [%s] published to [%s]", event.Type, topic)
	return nil
}

func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}
