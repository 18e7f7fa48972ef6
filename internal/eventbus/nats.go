package eventbus

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/heimdall_signage/internal/events"
)

// Subjects are the prefix plus the event type, e.g.
// heimdall.events.player.status_change.
const natsSubjectPrefix = "heimdall.events."

// NATSBus mirrors the in-process event bus onto NATS so every node in a
// cluster sees every event. Local delivery never waits on the broker:
// Publish fans out in-process first and the NATS leg is best effort,
// with the client's own reconnect loop riding out broker outages.
type NATSBus struct {
	conn   *nats.Conn
	local  *events.Bus
	logger zerolog.Logger
	nodeID string

	mu     sync.Mutex
	relays map[events.EventType]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string
	Token         string
	MaxReconnects int // -1 retries forever
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// NewNATSBus connects to NATS and returns a cluster-wide bus. A broker
// that is down at boot is tolerated: the connection keeps retrying in
// the background and subscriptions activate once it lands.
func NewNATSBus(cfg NATSConfig, nodeID string, logger zerolog.Logger) (*NATSBus, error) {
	if nodeID == "" {
		nodeID = generateNodeID()
	}
	busLogger := logger.With().Str("component", "nats_bus").Str("node_id", nodeID).Logger()

	opts := []nats.Option{
		nats.Name("heimdall-" + nodeID),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			busLogger.Warn().Err(err).Msg("NATS disconnected, buffering publishes")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			busLogger.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS %s: %w", cfg.URL, err)
	}

	busLogger.Info().Str("url", cfg.URL).Msg("NATS event bus ready")
	return &NATSBus{
		conn:   conn,
		local:  events.NewBus(),
		logger: busLogger,
		nodeID: nodeID,
		relays: make(map[events.EventType]*nats.Subscription),
	}, nil
}

// Subscribe registers a local subscriber and ensures events of this
// type published by other nodes are relayed to it.
func (nb *NATSBus) Subscribe(eventType events.EventType) events.Subscriber {
	sub := nb.local.Subscribe(eventType)
	nb.ensureRelay(eventType)
	return sub
}

// Unsubscribe removes a local subscriber. The relay subscription stays
// up for any remaining subscribers and is torn down on Close.
func (nb *NATSBus) Unsubscribe(eventType events.EventType, sub events.Subscriber) {
	nb.local.Unsubscribe(eventType, sub)
}

// Publish delivers locally, then broadcasts to the cluster.
func (nb *NATSBus) Publish(eventType events.EventType, payload events.Payload) {
	nb.local.Publish(eventType, payload)

	data, err := marshalNATSMessage(eventType, payload, nb.nodeID)
	if err != nil {
		nb.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to marshal event")
		return
	}
	if err := nb.conn.Publish(natsSubjectPrefix+string(eventType), data); err != nil {
		nb.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("failed to publish event to NATS")
	}
}

// Connected reports whether the broker link is currently up.
func (nb *NATSBus) Connected() bool {
	return nb.conn != nil && nb.conn.IsConnected()
}

// Close tears down relay subscriptions, drains the connection, and
// closes every local subscriber channel.
func (nb *NATSBus) Close() error {
	nb.mu.Lock()
	for eventType, relay := range nb.relays {
		if err := relay.Unsubscribe(); err != nil {
			nb.logger.Debug().Err(err).Str("event_type", string(eventType)).Msg("relay unsubscribe failed")
		}
		delete(nb.relays, eventType)
	}
	nb.mu.Unlock()

	if err := nb.conn.Drain(); err != nil {
		nb.conn.Close()
	}
	return nb.local.Close()
}

func (nb *NATSBus) ensureRelay(eventType events.EventType) {
	nb.mu.Lock()
	defer nb.mu.Unlock()
	if _, ok := nb.relays[eventType]; ok {
		return
	}

	relay, err := nb.conn.Subscribe(natsSubjectPrefix+string(eventType), func(m *nats.Msg) {
		msg, err := unmarshalNATSMessage(m.Data)
		if err != nil {
			nb.logger.Error().Err(err).Str("subject", m.Subject).Msg("failed to unmarshal event")
			return
		}
		// Skip our own messages, they were already delivered locally.
		if msg.NodeID == nb.nodeID {
			return
		}
		nb.local.Deliver(msg.EventType, msg.Payload)
	})
	if err != nil {
		nb.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to subscribe to NATS subject")
		return
	}
	nb.relays[eventType] = relay
}

// natsMessage is the wire envelope for cluster events.
type natsMessage struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"`
}

func marshalNATSMessage(eventType events.EventType, payload events.Payload, nodeID string) ([]byte, error) {
	return json.Marshal(natsMessage{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		NodeID:    nodeID,
		MessageID: generateMessageID(),
	})
}

func unmarshalNATSMessage(data []byte) (*natsMessage, error) {
	var msg natsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func generateNodeID() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "node"
	}
	return hostname + "-" + uuid.NewString()[:8]
}

func generateMessageID() string {
	return uuid.NewString()
}
