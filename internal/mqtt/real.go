package mqtt

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/filament-sensor/internal/logic"
)

const (
	connectWait    = 3 * time.Second
	publishWait    = 5 * time.Second
	bufferCapacity = 64
)

// RealPublisher publishes to an actual MQTT broker. Messages published while
// the broker is unreachable are held in a fixed-size ring and replayed in
// order once the connection comes back.
type RealPublisher struct {
	client paho.Client
	log    *slog.Logger

	mu      sync.Mutex
	pending *ringBuffer
}

// NewRealPublisher creates a publisher for the given broker. If the broker
// does not answer within a short window the publisher is returned anyway and
// the client keeps retrying in the background; only an immediate connect
// failure (bad URL, rejected credentials) is an error.
func NewRealPublisher(broker string, logger *slog.Logger) (*RealPublisher, error) {
	p := &RealPublisher{
		log:     logger,
		pending: newRingBuffer(bufferCapacity),
	}

	// Last will: the broker announces an unclean disconnect for us.
	will, err := FormatSystemPayload(SystemEvent{
		Timestamp: time.Now(),
		Event:     "SHUTDOWN",
		Reason:    "MQTT_DISCONNECT",
	})
	if err != nil {
		return nil, fmt.Errorf("format will payload: %w", err)
	}

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID("filament-sensor").
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetBinaryWill(TopicSystem, will, 1, true).
		SetOnConnectHandler(func(paho.Client) { p.drain() })

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if token.WaitTimeout(connectWait) {
		if err := token.Error(); err != nil {
			return nil, fmt.Errorf("connect to broker: %w", err)
		}
	} else {
		logger.Warn("mqtt broker not answering, retrying in background", "broker", broker)
	}

	return p, nil
}

// Publish sends a fault event to the MQTT broker.
func (p *RealPublisher) Publish(event logic.Event) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}

	// QoS 1 (at-least-once), not retained
	return p.publish(Topic, payload, false)
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}

	return p.publish(TopicSystem, payload, event.Retained)
}

func (p *RealPublisher) publish(topic string, payload []byte, retained bool) error {
	if !p.client.IsConnectionOpen() {
		p.buffer(bufferedMsg{topic: topic, payload: payload, qos: 1, retained: retained})
		return nil
	}

	// Flush anything held over from a disconnected spell first, in order.
	p.drain()

	token := p.client.Publish(topic, 1, retained, payload)
	if !token.WaitTimeout(publishWait) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

func (p *RealPublisher) buffer(msg bufferedMsg) {
	p.mu.Lock()
	dropped := p.pending.full()
	p.pending.push(msg)
	held := p.pending.len()
	p.mu.Unlock()

	if dropped {
		p.log.Warn("mqtt offline buffer full, dropped oldest message", "capacity", bufferCapacity)
	} else {
		p.log.Debug("mqtt offline, buffered message", "topic", msg.topic, "held", held)
	}
}

// drain replays buffered messages. Runs on the paho connect callback and
// before a live publish; sends are fire-and-forget so neither path blocks.
func (p *RealPublisher) drain() {
	p.mu.Lock()
	msgs := p.pending.drainAll()
	p.mu.Unlock()
	if len(msgs) == 0 {
		return
	}

	p.log.Info("mqtt reconnected, replaying buffered messages", "count", len(msgs))
	for _, m := range msgs {
		p.client.Publish(m.topic, m.qos, m.retained, m.payload)
	}
}

// IsConnected reports whether the client currently has an open connection.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
