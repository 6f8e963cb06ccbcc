package mqtt

import (
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sweeney/kite-pilot/internal/command"
	"github.com/sweeney/kite-pilot/internal/logic"
)

// DefaultBufferSize is how many transition and system messages are kept
// while the broker is unreachable.
const DefaultBufferSize = 256

const (
	connectWait = 10 * time.Second
	publishWait = 5 * time.Second
)

// Options configures a RealPublisher.
type Options struct {
	Broker     string
	ClientID   string
	BufferSize int

	// Commands receives messages from TopicCommands. Nil disables the
	// subscription.
	Commands command.Handler
}

// RealPublisher publishes to an actual MQTT broker.
type RealPublisher struct {
	client   paho.Client
	commands command.Handler

	mu        sync.Mutex
	buf       *ringBuffer
	connected bool // a connection has been made at least once
}

// NewRealPublisher creates a publisher for the given broker. A broker that
// is unreachable at startup is not fatal: the client keeps retrying and
// transitions are buffered until it connects.
func NewRealPublisher(o Options) (*RealPublisher, error) {
	if o.BufferSize <= 0 {
		o.BufferSize = DefaultBufferSize
	}
	p := &RealPublisher{
		commands: o.Commands,
		buf:      newRingBuffer(o.BufferSize),
	}

	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(TopicSystem, string(willPayload(time.Now())), 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Printf("mqtt: connection lost: %v", err)
		})

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(connectWait) {
		log.Printf("mqtt: broker %s not reachable yet, buffering until connected", o.Broker)
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return p, nil
}

func (p *RealPublisher) onConnect(c paho.Client) {
	p.mu.Lock()
	reconnect := p.connected
	p.connected = true
	p.mu.Unlock()

	log.Printf("mqtt: connected")
	if p.commands != nil {
		c.Subscribe(TopicCommands, 1, func(_ paho.Client, m paho.Message) {
			if err := HandleCommand(p.commands, m.Payload()); err != nil {
				log.Printf("mqtt: %v", err)
			}
		})
	}

	// Handlers must not block the client's connection goroutine.
	go p.replay(reconnect)
}

func (p *RealPublisher) replay(reconnect bool) {
	p.mu.Lock()
	msgs := p.buf.drainAll()
	p.mu.Unlock()

	for _, m := range msgs {
		if err := p.send(m); err != nil {
			log.Printf("mqtt: replay to %s: %v", m.topic, err)
		}
	}
	if reconnect {
		if err := p.PublishSystem(SystemEvent{Timestamp: time.Now(), Event: EventReconnected}); err != nil {
			log.Printf("mqtt: reconnect event: %v", err)
		}
	}
}

func (p *RealPublisher) send(m bufferedMsg) error {
	token := p.client.Publish(m.topic, m.qos, m.retained, m.payload)
	if !token.WaitTimeout(publishWait) {
		return fmt.Errorf("publish to %s: timeout", m.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", m.topic, err)
	}
	return nil
}

// publish sends m now, or buffers it while disconnected when keep is set.
func (p *RealPublisher) publish(m bufferedMsg, keep bool) error {
	if !p.client.IsConnectionOpen() {
		if keep {
			p.mu.Lock()
			p.buf.push(m)
			p.mu.Unlock()
		}
		return nil
	}
	return p.send(m)
}

// Publish sends a mode transition to the MQTT broker.
func (p *RealPublisher) Publish(tr logic.Transition) error {
	payload, err := FormatPayload(tr)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	return p.publish(bufferedMsg{topic: TopicEvents, payload: payload, qos: 1}, true)
}

// PublishTelemetry sends a telemetry frame. Frames produced while offline
// are dropped; only the newest state matters.
func (p *RealPublisher) PublishTelemetry(payload []byte) error {
	return p.publish(bufferedMsg{topic: TopicTelemetry, payload: payload}, false)
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.publish(bufferedMsg{topic: TopicSystem, payload: payload, qos: 1, retained: event.Retained}, true)
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Buffered returns how many messages are waiting for the broker.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.len()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000)
	return nil
}
