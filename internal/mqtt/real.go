package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sony/gobreaker"

	"github.com/sweeney/boiler-control/internal/logger"
	"github.com/sweeney/boiler-control/internal/logic"
)

const (
	defaultBufferSize = 256
	publishTimeout    = 5 * time.Second
	subscribeTimeout  = 5 * time.Second
)

// broker is the slice of a paho client the Client needs.
type broker interface {
	connect() error
	publish(topic string, qos byte, retained bool, payload []byte) error
	subscribe(topics []string, h MessageHandler) error
	unsubscribe(topics []string) error
	connected() bool
	disconnect()
}

// Options configures a Client.
type Options struct {
	Broker   string
	ClientID string

	// BufferSize bounds messages kept while disconnected. Zero means 256.
	BufferSize int

	// ConnectAttempts bounds the initial connection retries. Zero retries
	// until the context is done.
	ConnectAttempts uint64

	// OnConnectionChange, if set, is called on every connect and loss.
	OnConnectionChange func(connected bool)
}

// Client subscribes to sensor topics and publishes cycle and system events.
// Messages published while disconnected are buffered and replayed on
// reconnect.
type Client struct {
	b       broker
	handler MessageHandler
	log     *logger.Logger
	breaker *gobreaker.CircuitBreaker
	notify  func(bool)
	retries uint64
	retryIn time.Duration

	mu     sync.Mutex
	topics []string
	buffer *ringBuffer
}

// NewClient builds a client for opts.Broker. handler receives every
// telemetry message. Call Connect to establish the session.
func NewClient(opts Options, handler MessageHandler, log *logger.Logger) *Client {
	c := newClient(nil, opts, handler, log)
	c.b = newPahoBroker(opts, c)
	return c
}

func newClient(b broker, opts Options, handler MessageHandler, log *logger.Logger) *Client {
	if log == nil {
		log = logger.Nop()
	}
	size := opts.BufferSize
	if size <= 0 {
		size = defaultBufferSize
	}
	return &Client{
		b:       b,
		handler: handler,
		log:     log,
		notify:  opts.OnConnectionChange,
		retries: opts.ConnectAttempts,
		retryIn: time.Second,
		buffer:  newRingBuffer(size),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:     "mqtt-publish",
			Interval: time.Minute,
			Timeout:  30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 3
			},
		}),
	}
}

// Connect establishes the first connection, retrying with exponential
// backoff. Later reconnects are handled by the client library.
func (c *Client) Connect(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retryIn
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0

	var policy backoff.BackOff = bo
	if c.retries > 0 {
		policy = backoff.WithMaxRetries(bo, c.retries-1)
	}

	err := backoff.Retry(func() error {
		if err := c.b.connect(); err != nil {
			c.log.Warnw("mqtt_connect_failed", "error", err)
			return err
		}
		return nil
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		return fmt.Errorf("connect to broker: %w", err)
	}
	return nil
}

// onConnect restores subscriptions and flushes buffered messages.
func (c *Client) onConnect() {
	c.mu.Lock()
	topics := append([]string(nil), c.topics...)
	pending := c.buffer.drainAll()
	c.mu.Unlock()

	if len(topics) > 0 {
		if err := c.b.subscribe(topics, c.handler); err != nil {
			c.log.Errorw("mqtt_subscribe_failed", "topics", topics, "error", err)
		}
	}
	c.log.Infow("mqtt_connected", "topics", len(topics), "replayed", len(pending))

	for _, m := range pending {
		if err := c.b.publish(m.topic, m.qos, m.retained, m.payload); err != nil {
			c.log.Warnw("mqtt_replay_failed", "topic", m.topic, "error", err)
		}
	}
	if c.notify != nil {
		c.notify(true)
	}
}

func (c *Client) onConnectionLost(err error) {
	c.log.Warnw("mqtt_connection_lost", "error", err)
	if c.notify != nil {
		c.notify(false)
	}
}

// Resubscribe replaces the subscribed topic set. When disconnected the set
// is applied on the next connect.
func (c *Client) Resubscribe(topics []string) error {
	c.mu.Lock()
	old := c.topics
	c.topics = append([]string(nil), topics...)
	c.mu.Unlock()

	if !c.b.connected() {
		return nil
	}

	keep := make(map[string]bool, len(topics))
	for _, t := range topics {
		keep[t] = true
	}
	var gone []string
	for _, t := range old {
		if !keep[t] {
			gone = append(gone, t)
		}
	}

	var errs []error
	if len(gone) > 0 {
		if err := c.b.unsubscribe(gone); err != nil {
			errs = append(errs, fmt.Errorf("unsubscribe: %w", err))
		}
	}
	if len(topics) > 0 {
		if err := c.b.subscribe(topics, c.handler); err != nil {
			errs = append(errs, fmt.Errorf("subscribe: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Publish sends a heating cycle event (QoS 0, not retained).
func (c *Client) Publish(event logic.Event) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	return c.send(bufferedMsg{topic: Topic, payload: payload})
}

// PublishSystem sends a system lifecycle event (QoS 1).
func (c *Client) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return c.send(bufferedMsg{topic: TopicSystem, payload: payload, qos: 1, retained: event.Retained})
}

// send publishes through the circuit breaker, buffering when the broker is
// unreachable or the breaker is open.
func (c *Client) send(m bufferedMsg) error {
	if !c.b.connected() {
		c.enqueue(m)
		return nil
	}

	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.b.publish(m.topic, m.qos, m.retained, m.payload)
	})
	if err != nil {
		c.enqueue(m)
		return fmt.Errorf("publish %s: %w", m.topic, err)
	}
	return nil
}

func (c *Client) enqueue(m bufferedMsg) {
	c.mu.Lock()
	dropped := c.buffer.push(m)
	c.mu.Unlock()
	if dropped {
		c.log.Warnw("mqtt_buffer_full", "capacity", c.buffer.capacity)
	}
}

// Buffered returns the number of messages waiting for a connection.
func (c *Client) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffer.len()
}

// IsConnected reports whether the broker session is up.
func (c *Client) IsConnected() bool {
	return c.b.connected()
}

// Close disconnects from the broker.
func (c *Client) Close() error {
	c.b.disconnect()
	return nil
}

// pahoBroker adapts a paho client.
type pahoBroker struct {
	client paho.Client
}

func newPahoBroker(opts Options, c *Client) *pahoBroker {
	clientID := opts.ClientID
	if clientID == "" {
		clientID = "boiler-control"
	}

	will, _ := FormatSystemPayload(SystemEvent{
		Timestamp: time.Now(),
		Event:     "SHUTDOWN",
		Reason:    "MQTT_DISCONNECT",
	})

	po := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(clientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(false).
		SetMaxReconnectInterval(time.Minute).
		SetWill(TopicSystem, string(will), 1, true).
		SetOnConnectHandler(func(paho.Client) { c.onConnect() }).
		SetConnectionLostHandler(func(_ paho.Client, err error) { c.onConnectionLost(err) })

	return &pahoBroker{client: paho.NewClient(po)}
}

func (p *pahoBroker) connect() error {
	return wait(p.client.Connect(), 10*time.Second, "connect")
}

func (p *pahoBroker) publish(topic string, qos byte, retained bool, payload []byte) error {
	return wait(p.client.Publish(topic, qos, retained, payload), publishTimeout, "publish")
}

func (p *pahoBroker) subscribe(topics []string, h MessageHandler) error {
	filters := make(map[string]byte, len(topics))
	for _, t := range topics {
		filters[t] = 0
	}
	tok := p.client.SubscribeMultiple(filters, func(_ paho.Client, m paho.Message) {
		h(m.Topic(), m.Payload())
	})
	return wait(tok, subscribeTimeout, "subscribe")
}

func (p *pahoBroker) unsubscribe(topics []string) error {
	return wait(p.client.Unsubscribe(topics...), subscribeTimeout, "unsubscribe")
}

func (p *pahoBroker) connected() bool {
	return p.client.IsConnectionOpen()
}

func (p *pahoBroker) disconnect() {
	p.client.Disconnect(1000) // 1 second quiesce
}

func wait(tok paho.Token, timeout time.Duration, op string) error {
	if !tok.WaitTimeout(timeout) {
		return fmt.Errorf("%s timeout", op)
	}
	return tok.Error()
}
