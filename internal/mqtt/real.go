package mqtt

import (
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/occlusion-sensor/internal/logic"
)

// DefaultBufferSize is the number of messages kept while disconnected.
const DefaultBufferSize = 100

const publishTimeout = 5 * time.Second

// replayRetry is the pause before a failed replay is attempted again.
var replayRetry = time.Second

// Options configures a RealPublisher.
type Options struct {
	Broker     string
	ClientID   string
	Topics     Topics
	BufferSize int
}

// RealPublisher publishes to an actual MQTT broker. Messages published while
// the connection is down are queued and replayed in order on reconnect. New
// messages keep queueing behind the backlog until the replay has emptied it.
type RealPublisher struct {
	client paho.Client
	topics Topics

	mu        sync.Mutex
	connected bool
	replaying bool // a drain goroutine owns the outbox
	closed    bool
	everUp    bool
	outbox    *outbox
	subs      map[string]func([]byte)
}

func newRealPublisher(topics Topics, bufferSize int) *RealPublisher {
	return &RealPublisher{
		topics: topics,
		outbox: newOutbox(bufferSize),
		subs:   make(map[string]func([]byte)),
	}
}

// NewRealPublisher creates a publisher for the given broker. The broker does
// not have to be reachable yet; paho keeps retrying in the background.
func NewRealPublisher(o Options) (*RealPublisher, error) {
	if o.ClientID == "" {
		o.ClientID = "occlusion-sensor"
	}
	if o.BufferSize <= 0 {
		o.BufferSize = DefaultBufferSize
	}
	if o.Topics == (Topics{}) {
		o.Topics = DefaultTopics()
	}

	p := newRealPublisher(o.Topics, o.BufferSize)

	will, err := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "OFFLINE", Reason: "connection lost"})
	if err != nil {
		return nil, fmt.Errorf("format will: %w", err)
	}

	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(30 * time.Second).
		SetBinaryWill(o.Topics.System, will, 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(p.onConnectionLost)

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
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
	p.connected = true
	reconnect := p.everUp
	p.everUp = true
	drain := !p.replaying
	p.replaying = true
	subs := make(map[string]func([]byte), len(p.subs))
	for topic, fn := range p.subs {
		subs[topic] = fn
	}
	p.mu.Unlock()

	log.Printf("mqtt: connected")

	// Clean sessions drop subscriptions; restore them
	for topic, fn := range subs {
		if err := p.subscribe(topic, fn); err != nil {
			log.Printf("mqtt: resubscribe %s: %v", topic, err)
		}
	}

	if reconnect {
		// Queued behind the backlog, so it follows the replayed events
		if err := p.PublishSystem(SystemEvent{Timestamp: time.Now(), Event: "RECONNECTED"}); err != nil {
			log.Printf("mqtt: publish reconnected event: %v", err)
		}
	}

	if drain {
		p.drain()
	}
}

// drain replays the outbox oldest first until it is empty, then lets
// publishes go straight to the broker. A failed send is put back at the
// front and retried while the connection is up. If the connection drops the
// backlog stays queued for the next onConnect.
func (p *RealPublisher) drain() {
	replayed := 0
	defer func() {
		if replayed > 0 {
			log.Printf("mqtt: replayed %d queued messages", replayed)
		}
	}()

	for {
		p.mu.Lock()
		if !p.connected || p.closed || p.outbox.size() == 0 {
			p.replaying = false
			p.mu.Unlock()
			return
		}
		batch := p.outbox.flush()
		p.mu.Unlock()

		for i, msg := range batch {
			if err := p.send(msg); err != nil {
				log.Printf("mqtt: replay to %s failed, %d messages requeued: %v", msg.topic, len(batch)-i, err)
				p.mu.Lock()
				p.outbox.requeue(batch[i:])
				p.mu.Unlock()
				time.Sleep(replayRetry)
				break
			}
			replayed++
		}
	}
}

func (p *RealPublisher) onConnectionLost(c paho.Client, err error) {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
	log.Printf("mqtt: connection lost, will auto-reconnect: %v", err)
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Publish sends an occlusion event to the MQTT broker.
func (p *RealPublisher) Publish(event logic.Event) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}

	// QoS 1 (at-least-once): a missed occlusion alarm is worse than a duplicate
	return p.enqueue(pendingMsg{topic: p.topics.Events, payload: payload, qos: 1})
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.enqueue(pendingMsg{topic: p.topics.System, payload: payload, qos: 1, retained: event.Retained})
}

// PublishRaw sends a pre-formatted payload to topic with QoS 0.
func (p *RealPublisher) PublishRaw(topic string, payload []byte) error {
	return p.enqueue(pendingMsg{topic: topic, payload: payload})
}

// Subscribe registers fn for messages on topic. The subscription is restored
// after every reconnect.
func (p *RealPublisher) Subscribe(topic string, fn func(payload []byte)) error {
	p.mu.Lock()
	p.subs[topic] = fn
	connected := p.connected
	p.mu.Unlock()

	if !connected {
		// onConnect subscribes
		return nil
	}
	return p.subscribe(topic, fn)
}

func (p *RealPublisher) subscribe(topic string, fn func([]byte)) error {
	token := p.client.Subscribe(topic, 1, func(_ paho.Client, msg paho.Message) {
		fn(msg.Payload())
	})
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("subscribe timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	return nil
}

func (p *RealPublisher) enqueue(msg pendingMsg) error {
	p.mu.Lock()
	if !p.connected || p.replaying {
		p.outbox.add(msg)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()
	return p.send(msg)
}

func (p *RealPublisher) send(msg pendingMsg) error {
	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish to %s: timeout", msg.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", msg.topic, err)
	}
	return nil
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
