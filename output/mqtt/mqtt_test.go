package mqtt

import (
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type token struct {
	err  error
	done chan struct{}
}

func newToken(err error) *token {
	t := &token{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *token) Wait() bool                       { return true }
func (t *token) WaitTimeout(_ time.Duration) bool { return true }
func (t *token) Done() <-chan struct{}            { return t.done }
func (t *token) Error() error                     { return t.err }

type message struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeClient struct {
	messages     []message
	err          error
	disconnected bool
}

func (f *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.messages = append(f.messages, message{topic, qos, retained, payload.([]byte)})
	return newToken(f.err)
}

func (f *fakeClient) Disconnect(quiesce uint) {
	f.disconnected = true
}

func TestPublisher_Write(t *testing.T) {
	client := &fakeClient{}
	p := newPublisher(client, Config{Topic: "lab/magnets", QoS: 1, Retain: true})
	frame := []byte("{[1.00;2.00;3.00]}\n")

	n, err := p.Write(frame)
	require.NoError(t, err)
	assert.Equal(t, len(frame), n)
	require.Len(t, client.messages, 1)
	assert.Equal(t, message{"lab/magnets", 1, true, frame}, client.messages[0])

	frame[0] = 'x'
	assert.Equal(t, byte('{'), client.messages[0].payload[0], "payload is copied")
}

func TestPublisher_DefaultTopic(t *testing.T) {
	client := &fakeClient{}
	p := newPublisher(client, Config{})

	_, err := p.Write([]byte{0x01})
	require.NoError(t, err)
	assert.Equal(t, DefaultTopic, client.messages[0].topic)
}

func TestPublisher_Error(t *testing.T) {
	boom := errors.New("not connected")
	p := newPublisher(&fakeClient{err: boom}, Config{Timeout: time.Second})

	n, err := p.Write([]byte{0x01})
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, n)
}

func TestPublisher_Close(t *testing.T) {
	client := &fakeClient{}
	p := newPublisher(client, Config{})
	assert.NoError(t, p.Close())
	assert.True(t, client.disconnected)
}
