package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testToken struct {
	done     chan struct{}
	err      error
	complete bool
}

func newTestToken(complete bool, err error) *testToken {
	done := make(chan struct{})
	if complete {
		close(done)
	}
	return &testToken{done: done, err: err, complete: complete}
}

func (t *testToken) Wait() bool                      { return t.complete }
func (t *testToken) WaitTimeout(_ time.Duration) bool { return t.complete }
func (t *testToken) Done() <-chan struct{}           { return t.done }
func (t *testToken) Error() error                    { return t.err }

type published struct {
	topic   string
	qos     byte
	payload []byte
}

type testClient struct {
	mu           sync.Mutex
	connected    bool
	token        mqtt.Token
	published    []published
	disconnected bool
}

func (c *testClient) IsConnected() bool {
	return c.connected
}

func (c *testClient) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, published{topic: topic, qos: qos, payload: payload.([]byte)})
	return c.token
}

func (c *testClient) Disconnect(uint) {
	c.disconnected = true
}

func testEvent() Event {
	return Event{
		Type:      RepCompleted,
		SessionID: "abc",
		RepCount:  4,
		Timestamp: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestMQTTPublisher_Publish(t *testing.T) {
	client := &testClient{connected: true, token: newTestToken(true, nil)}
	p := newMQTTPublisher(client, "fixfit", 1, time.Second)

	require.NoError(t, p.Publish(context.Background(), testEvent()))
	require.Len(t, client.published, 1)
	assert.Equal(t, "fixfit/sessions/abc/rep_completed", client.published[0].topic)
	assert.Equal(t, byte(1), client.published[0].qos)

	var got Event
	require.NoError(t, json.Unmarshal(client.published[0].payload, &got))
	assert.Equal(t, testEvent(), got)
	assert.NotContains(t, string(client.published[0].payload), "reason")
}

func TestMQTTPublisher_NotConnected(t *testing.T) {
	client := &testClient{connected: false, token: newTestToken(true, nil)}
	p := newMQTTPublisher(client, "fixfit", 0, time.Second)

	err := p.Publish(context.Background(), testEvent())
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Empty(t, client.published)
}

func TestMQTTPublisher_Timeout(t *testing.T) {
	client := &testClient{connected: true, token: newTestToken(false, nil)}
	p := newMQTTPublisher(client, "fixfit", 0, time.Millisecond)

	err := p.Publish(context.Background(), testEvent())
	assert.ErrorIs(t, err, ErrPublishTimeout)
}

func TestMQTTPublisher_TokenError(t *testing.T) {
	brokerErr := errors.New("broker says no")
	client := &testClient{connected: true, token: newTestToken(true, brokerErr)}
	p := newMQTTPublisher(client, "fixfit", 0, time.Second)

	err := p.Publish(context.Background(), testEvent())
	assert.ErrorIs(t, err, brokerErr)
}

func TestMQTTPublisher_Close(t *testing.T) {
	client := &testClient{connected: true}
	p := newMQTTPublisher(client, "fixfit", 0, time.Second)
	p.Close()
	assert.True(t, client.disconnected)
}

func TestNoopPublisher(t *testing.T) {
	var p Publisher = NoopPublisher{}
	assert.NoError(t, p.Publish(context.Background(), testEvent()))
	p.Close()
}
