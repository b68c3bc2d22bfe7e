// Package hass exposes entities to Home Assistant over MQTT discovery.
//
// On every (re-)connect the bridge publishes a retained discovery config
// per entity, an "online" birth message and the current state of every
// entity. A will message flips the availability topic to "offline" when
// the process disappears without a clean shutdown. After that, states are
// pushed whenever the owning coordinator notifies its entities.
package hass

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"
	"github.com/nimdanitro/pulse-scraper-go/pkg/entity"
	"go.uber.org/zap"
)

const (
	DefaultDiscoveryPrefix = "homeassistant"
	DefaultBaseTopic       = "neat_pulse"
)

type Config struct {
	Broker          string
	Username        string
	Password        string
	ClientID        string
	DiscoveryPrefix string
	BaseTopic       string
	Version         string
}

// publisher is the subset of *autopaho.ConnectionManager the bridge uses.
type publisher interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
}

type Bridge struct {
	cfg Config
	log *zap.Logger
	cm  *autopaho.ConnectionManager

	mu       sync.Mutex
	ctx      context.Context
	pub      publisher
	entities []entity.Entity
	icons    map[string]string
}

func New(cfg Config, log *zap.Logger) *Bridge {
	if cfg.DiscoveryPrefix == "" {
		cfg.DiscoveryPrefix = DefaultDiscoveryPrefix
	}
	if cfg.BaseTopic == "" {
		cfg.BaseTopic = DefaultBaseTopic
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "pulse-" + uuid.NewString()
	}
	if log == nil {
		log = zap.L()
	}
	return &Bridge{
		cfg:   cfg,
		log:   log,
		ctx:   context.Background(),
		icons: make(map[string]string),
	}
}

// Add registers entities and subscribes them to their coordinator. If the
// bridge is already connected their discovery configs and states are
// published right away.
func (b *Bridge) Add(ents ...entity.Entity) {
	b.mu.Lock()
	b.entities = append(b.entities, ents...)
	pub, ctx := b.pub, b.ctx
	b.mu.Unlock()

	for _, e := range ents {
		e.Attach(b.onUpdate)
		if pub != nil {
			b.publishDiscovery(ctx, pub, e)
			b.publishState(ctx, pub, e)
		}
	}
}

// Start connects to the broker. It returns once the first connection is
// up or after 30 seconds, in which case autopaho keeps retrying in the
// background.
func (b *Bridge) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(b.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker url: %w", err)
	}

	b.mu.Lock()
	b.ctx = ctx
	b.mu.Unlock()

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: b.cfg.Username,
		ConnectPassword: []byte(b.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   b.availabilityTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			b.log.Info("mqtt connected to broker", zap.String("broker", b.cfg.Broker))
			b.connected(ctx, cm)
		},
		OnConnectError: func(err error) {
			b.log.Warn("mqtt connection error", zap.Error(err))
		},
		ClientConfig: paho.ClientConfig{
			ClientID: b.cfg.ClientID,
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	b.cm = cm

	connCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		b.log.Warn("mqtt initial connection timed out, will retry in background", zap.Error(err))
	}
	return nil
}

// Stop detaches all entities, marks the bridge offline and disconnects.
func (b *Bridge) Stop(ctx context.Context) error {
	b.mu.Lock()
	ents := b.entities
	pub := b.pub
	b.pub = nil
	b.mu.Unlock()

	for _, e := range ents {
		e.Remove()
	}
	if pub != nil {
		b.publishAvailability(ctx, pub, "offline")
	}
	if b.cm == nil {
		return nil
	}
	return b.cm.Disconnect(ctx)
}

func (b *Bridge) connected(ctx context.Context, pub publisher) {
	b.mu.Lock()
	b.pub = pub
	ents := append([]entity.Entity(nil), b.entities...)
	b.mu.Unlock()

	for _, e := range ents {
		b.publishDiscovery(ctx, pub, e)
	}
	b.publishAvailability(ctx, pub, "online")
	for _, e := range ents {
		b.publishState(ctx, pub, e)
	}
}

func (b *Bridge) onUpdate(e entity.Entity) {
	b.mu.Lock()
	pub, ctx := b.pub, b.ctx
	icon, known := b.icons[e.UniqueID()]
	b.mu.Unlock()

	if pub == nil {
		return
	}
	// Icons follow the state for some entities; discovery carries them.
	if known && icon != e.Icon() {
		b.publishDiscovery(ctx, pub, e)
	}
	b.publishState(ctx, pub, e)
}

// --- Topic helpers ---

func (b *Bridge) availabilityTopic() string {
	return b.cfg.BaseTopic + "/availability"
}

func (b *Bridge) stateTopic(e entity.Entity) string {
	return b.cfg.BaseTopic + "/" + topicSegment(e.UniqueID()) + "/state"
}

func (b *Bridge) discoveryTopic(e entity.Entity) string {
	return b.cfg.DiscoveryPrefix + "/sensor/" + topicSegment(e.UniqueID()) + "/config"
}

// --- Publishing ---

func (b *Bridge) publishDiscovery(ctx context.Context, pub publisher, e entity.Entity) {
	cfg := b.sensorConfig(e)
	payload, err := json.Marshal(cfg)
	if err != nil {
		b.log.Error("mqtt marshal discovery payload", zap.String("entity", e.UniqueID()), zap.Error(err))
		return
	}

	topic := b.discoveryTopic(e)
	if _, err := pub.Publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     1,
		Retain:  true,
	}); err != nil {
		b.log.Warn("mqtt discovery publish failed", zap.String("entity", e.UniqueID()), zap.String("topic", topic), zap.Error(err))
		return
	}

	b.mu.Lock()
	b.icons[e.UniqueID()] = cfg.Icon
	b.mu.Unlock()
	b.log.Debug("mqtt discovery published", zap.String("entity", e.UniqueID()), zap.String("topic", topic))
}

func (b *Bridge) publishAvailability(ctx context.Context, pub publisher, status string) {
	if _, err := pub.Publish(ctx, &paho.Publish{
		Topic:   b.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		b.log.Warn("mqtt availability publish failed", zap.String("status", status), zap.Error(err))
		return
	}
	b.log.Info("mqtt availability published", zap.String("status", status))
}

func (b *Bridge) publishState(ctx context.Context, pub publisher, e entity.Entity) {
	if _, err := pub.Publish(ctx, &paho.Publish{
		Topic:   b.stateTopic(e),
		Payload: []byte(formatState(e.Value())),
		QoS:     0,
		Retain:  true,
	}); err != nil {
		b.log.Debug("mqtt state publish failed", zap.String("entity", e.UniqueID()), zap.Error(err))
	}
}
