package messaging

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"bambuoverlay/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
)

// ErrNotConnected is returned by operations that need a live broker session.
var ErrNotConnected = errors.New("messaging: not connected")

// Handler receives the raw payload of one inbound message.
type Handler func(payload []byte)

// Client is the unified messaging client (MQTT or Kafka).
type Client struct {
	mu       sync.RWMutex
	cfg      *config.MessagingConfig
	backend  string
	clientID string
	mqttConn mqtt.Client
	kafkaW   *kafkago.Writer
	readers  map[string]*kafkaReader

	// Subscriptions are replayed on every MQTT (re)connect.
	subs map[string]Handler

	onConnect    []func()
	onConnLost   []func(error)
	connectLimit time.Duration
}

type kafkaReader struct {
	r      *kafkago.Reader
	cancel context.CancelFunc
	done   chan struct{}
}

// NewClient creates a messaging client based on config.
func NewClient(cfg *config.MessagingConfig) *Client {
	id := cfg.MQTT.ClientID
	if id == "" {
		id = "bambuoverlay-" + uuid.NewString()[:8]
	}
	limit := cfg.MQTT.ConnectTimeout
	if limit <= 0 {
		limit = 10 * time.Second
	}
	return &Client{
		cfg:          cfg,
		backend:      cfg.Backend,
		clientID:     id,
		readers:      make(map[string]*kafkaReader),
		subs:         make(map[string]Handler),
		connectLimit: limit,
	}
}

// ClientID returns the identifier presented to the broker.
func (c *Client) ClientID() string { return c.clientID }

// OnConnect registers a callback run after every successful (re)connect.
// Register callbacks before Connect.
func (c *Client) OnConnect(fn func()) {
	c.onConnect = append(c.onConnect, fn)
}

// OnConnectionLost registers a callback run when the broker session drops.
func (c *Client) OnConnectionLost(fn func(error)) {
	c.onConnLost = append(c.onConnLost, fn)
}

// Connect establishes the messaging connection. An MQTT broker that is not
// reachable within the connect timeout is retried in the background.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.backend {
	case "mqtt":
		return c.connectMQTT()
	case "kafka":
		return c.connectKafka()
	default:
		return fmt.Errorf("unknown messaging backend: %s", c.backend)
	}
}

// BrokerURL returns the paho broker URL for an MQTT config.
func BrokerURL(m config.MQTTConfig) string {
	scheme := "tcp"
	if m.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, m.Broker, m.Port)
}

func (c *Client) connectMQTT() error {
	m := c.cfg.MQTT
	if m.Broker == "" {
		return fmt.Errorf("mqtt broker not configured")
	}
	broker := BrokerURL(m)
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(c.clientID).
		SetUsername(m.Username).
		SetPassword(m.Password).
		SetOrderMatters(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetConnectTimeout(c.connectLimit).
		SetOnConnectHandler(c.handleMQTTConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Printf("messaging: connection lost: %v", err)
			for _, fn := range c.onConnLost {
				fn(err)
			}
		})
	if m.TLS {
		opts.SetTLSConfig(&tls.Config{InsecureSkipVerify: m.InsecureSkipVerify})
	}

	client := mqtt.NewClient(opts)
	c.mqttConn = client
	token := client.Connect()
	if !token.WaitTimeout(c.connectLimit) {
		log.Printf("messaging: %s not reachable yet, retrying in background", broker)
		return nil
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

// handleMQTTConnect restores subscriptions then runs connect callbacks.
func (c *Client) handleMQTTConnect(client mqtt.Client) {
	log.Printf("messaging: connected as %s", c.clientID)
	c.mu.RLock()
	subs := make(map[string]Handler, len(c.subs))
	for t, h := range c.subs {
		subs[t] = h
	}
	c.mu.RUnlock()

	for topic, h := range subs {
		h := h
		token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
			h(msg.Payload())
		})
		if token.Wait() && token.Error() != nil {
			log.Printf("messaging: subscribe %s: %v", topic, token.Error())
		}
	}
	for _, fn := range c.onConnect {
		fn()
	}
}

func (c *Client) connectKafka() error {
	if len(c.cfg.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka brokers not configured")
	}
	c.kafkaW = &kafkago.Writer{
		Addr:         kafkago.TCP(c.cfg.Kafka.Brokers...),
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireOne,
	}
	go func() {
		for _, fn := range c.onConnect {
			fn()
		}
	}()
	return nil
}

// Publish sends a message to topic.
func (c *Client) Publish(topic string, payload []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	switch c.backend {
	case "mqtt":
		if c.mqttConn == nil || !c.mqttConn.IsConnected() {
			return ErrNotConnected
		}
		token := c.mqttConn.Publish(topic, 0, false, payload)
		if !token.WaitTimeout(c.connectLimit) {
			return fmt.Errorf("mqtt publish %s: timed out", topic)
		}
		return token.Error()
	case "kafka":
		if c.kafkaW == nil {
			return ErrNotConnected
		}
		ctx, cancel := context.WithTimeout(context.Background(), c.connectLimit)
		defer cancel()
		return c.kafkaW.WriteMessages(ctx, kafkago.Message{
			Topic: topic,
			Value: payload,
		})
	default:
		return fmt.Errorf("unknown backend: %s", c.backend)
	}
}

// Subscribe registers a handler for messages on topic. MQTT subscriptions
// survive reconnects. Handlers run one message at a time in arrival order.
func (c *Client) Subscribe(topic string, handler Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.backend {
	case "mqtt":
		c.subs[topic] = handler
		if c.mqttConn == nil || !c.mqttConn.IsConnected() {
			// Picked up by handleMQTTConnect.
			return nil
		}
		token := c.mqttConn.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
			handler(msg.Payload())
		})
		token.Wait()
		return token.Error()
	case "kafka":
		if _, ok := c.readers[topic]; ok {
			return fmt.Errorf("kafka: already subscribed to %s", topic)
		}
		ctx, cancel := context.WithCancel(context.Background())
		kr := &kafkaReader{
			r: kafkago.NewReader(kafkago.ReaderConfig{
				Brokers: c.cfg.Kafka.Brokers,
				Topic:   topic,
				GroupID: c.cfg.Kafka.GroupID,
			}),
			cancel: cancel,
			done:   make(chan struct{}),
		}
		c.readers[topic] = kr
		go func() {
			defer close(kr.done)
			for {
				msg, err := kr.r.ReadMessage(ctx)
				if err != nil {
					if ctx.Err() == nil {
						log.Printf("messaging: kafka read %s: %v", topic, err)
					}
					return
				}
				handler(msg.Value)
			}
		}()
		return nil
	default:
		return fmt.Errorf("unknown backend: %s", c.backend)
	}
}

// Unsubscribe stops delivery for topic and waits for an in-progress
// handler to return.
func (c *Client) Unsubscribe(topic string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.backend {
	case "mqtt":
		delete(c.subs, topic)
		if c.mqttConn == nil || !c.mqttConn.IsConnected() {
			return nil
		}
		token := c.mqttConn.Unsubscribe(topic)
		token.Wait()
		return token.Error()
	case "kafka":
		kr, ok := c.readers[topic]
		if !ok {
			return nil
		}
		delete(c.readers, topic)
		kr.cancel()
		<-kr.done
		return kr.r.Close()
	}
	return nil
}

// IsConnected returns whether the messaging client is connected.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch c.backend {
	case "mqtt":
		return c.mqttConn != nil && c.mqttConn.IsConnected()
	case "kafka":
		return c.kafkaW != nil
	default:
		return false
	}
}

// Close shuts down the messaging connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mqttConn != nil {
		c.mqttConn.Disconnect(1000)
		c.mqttConn = nil
	}
	if c.kafkaW != nil {
		c.kafkaW.Close()
		c.kafkaW = nil
	}
	for topic, kr := range c.readers {
		kr.cancel()
		<-kr.done
		kr.r.Close()
		delete(c.readers, topic)
	}
}
