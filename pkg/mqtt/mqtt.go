// Package mqtt publishes sensors to Home Assistant using MQTT discovery.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/levenlabs/go-lflag"
	"github.com/simpleelforbrug/elforbrug/pkg/common"
	"github.com/simpleelforbrug/elforbrug/pkg/log"
	"github.com/simpleelforbrug/elforbrug/pkg/types"
)

const (
	DefaultDiscoveryPrefix = "homeassistant"

	topicBase         = "elforbrug"
	payloadOnline     = "online"
	payloadOffline    = "offline"
	publishTimeout    = 10 * time.Second
	disconnectQuiesce = 250
)

// publishFunc sends payload to topic with QoS 1.
type publishFunc func(topic string, retained bool, payload []byte) error

// Publisher announces sensors through discovery and publishes their state
// and attributes. It does nothing when no broker is configured.
type Publisher struct {
	broker          string
	clientID        string
	username        string
	password        string
	discoveryPrefix string

	client  paho.Client
	publish publishFunc

	mu sync.Mutex
	// unit each sensor was last announced with
	announced map[string]types.Unit
}

// Configured registers the MQTT flags and returns the Publisher.
func Configured() *Publisher {
	p := &Publisher{announced: make(map[string]types.Unit)}
	broker := lflag.String("mqtt-broker", "", "MQTT broker to publish Home Assistant sensors to (e.g. tcp://localhost:1883), empty disables MQTT")
	clientID := lflag.String("mqtt-client-id", "elforbrug", "MQTT client ID")
	username := lflag.String("mqtt-username", "", "MQTT username")
	password := lflag.String("mqtt-password", "", "MQTT password")
	prefix := lflag.String("mqtt-discovery-prefix", DefaultDiscoveryPrefix, "Home Assistant MQTT discovery prefix")

	lflag.Do(func() {
		p.broker = *broker
		p.clientID = *clientID
		p.username = *username
		p.password = *password
		p.discoveryPrefix = *prefix
	})
	return p
}

// Enabled reports whether a broker is configured.
func (p *Publisher) Enabled() bool {
	return p.broker != ""
}

// Connect connects to the broker and marks the service online.
func (p *Publisher) Connect(ctx context.Context) error {
	if !p.Enabled() {
		return nil
	}
	opts := paho.NewClientOptions().
		AddBroker(p.broker).
		SetClientID(p.clientID).
		SetAutoReconnect(true).
		SetWill(availabilityTopic(), payloadOffline, 1, true)
	if p.username != "" {
		opts.SetUsername(p.username)
		opts.SetPassword(p.password)
	}
	opts.SetOnConnectHandler(func(c paho.Client) {
		// retained discovery configs don't survive a broker without
		// persistence, so announce again after every reconnect
		p.mu.Lock()
		p.announced = make(map[string]types.Unit)
		p.mu.Unlock()
		c.Publish(availabilityTopic(), 1, true, payloadOnline)
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		log.Ctx(ctx).WarnContext(ctx, "lost connection to mqtt broker", slog.Any("error", err))
	})

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("timed out connecting to mqtt broker %s", p.broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to mqtt broker %s: %w", p.broker, err)
	}
	p.client = client
	p.publish = func(topic string, retained bool, payload []byte) error {
		token := client.Publish(topic, 1, retained, payload)
		if !token.WaitTimeout(publishTimeout) {
			return errors.New("timed out publishing to " + topic)
		}
		return token.Error()
	}
	log.Ctx(ctx).InfoContext(ctx, "connected to mqtt broker", slog.String("broker", p.broker))
	return nil
}

// Close marks the service offline and disconnects.
func (p *Publisher) Close() {
	if p.client == nil {
		return
	}
	p.client.Publish(availabilityTopic(), 1, true, payloadOffline).WaitTimeout(publishTimeout)
	p.client.Disconnect(disconnectQuiesce)
}

func availabilityTopic() string {
	return topicBase + "/status"
}

func stateTopic(uniqueID string) string {
	return topicBase + "/" + uniqueID + "/state"
}

func attributesTopic(uniqueID string) string {
	return topicBase + "/" + uniqueID + "/attributes"
}

func (p *Publisher) configTopic(uniqueID string) string {
	return p.discoveryPrefix + "/sensor/" + uniqueID + "/config"
}

// Publish announces the sensor if needed and sends its state and attributes.
func (p *Publisher) Publish(ctx context.Context, snap types.SensorSnapshot) error {
	if p.publish == nil {
		return nil
	}

	p.mu.Lock()
	unit, ok := p.announced[snap.UniqueID]
	p.mu.Unlock()
	if !ok || unit != snap.Unit {
		payload, err := json.Marshal(newDiscoveryConfig(snap))
		if err != nil {
			return fmt.Errorf("failed to marshal discovery config: %w", err)
		}
		if err := p.publish(p.configTopic(snap.UniqueID), true, payload); err != nil {
			return fmt.Errorf("failed to publish discovery config: %w", err)
		}
		p.mu.Lock()
		p.announced[snap.UniqueID] = snap.Unit
		p.mu.Unlock()
		log.Ctx(ctx).DebugContext(ctx, "announced sensor", slog.String("uniqueID", snap.UniqueID))
	}

	state := strconv.FormatFloat(snap.State, 'f', -1, 64)
	if err := p.publish(stateTopic(snap.UniqueID), true, []byte(state)); err != nil {
		return fmt.Errorf("failed to publish state: %w", err)
	}

	attrs, err := json.Marshal(snap.Attributes)
	if err != nil {
		return fmt.Errorf("failed to marshal attributes: %w", err)
	}
	if err := p.publish(attributesTopic(snap.UniqueID), true, attrs); err != nil {
		return fmt.Errorf("failed to publish attributes: %w", err)
	}
	return nil
}

// Remove deletes the sensor from Home Assistant by clearing its retained
// discovery config.
func (p *Publisher) Remove(ctx context.Context, uniqueID string) error {
	if p.publish == nil {
		return nil
	}
	p.mu.Lock()
	delete(p.announced, uniqueID)
	p.mu.Unlock()

	for _, topic := range []string{p.configTopic(uniqueID), stateTopic(uniqueID), attributesTopic(uniqueID)} {
		if err := p.publish(topic, true, nil); err != nil {
			return fmt.Errorf("failed to clear %s: %w", topic, err)
		}
	}
	return nil
}

type discoveryDevice struct {
	IDs          []string `json:"ids"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"mf"`
	Model        string   `json:"mdl"`
	SWVersion    string   `json:"sw"`
}

type discoveryConfig struct {
	Name                string          `json:"name"`
	UniqueID            string          `json:"uniq_id"`
	ObjectID            string          `json:"obj_id"`
	StateTopic          string          `json:"stat_t"`
	JSONAttributesTopic string          `json:"json_attr_t"`
	AvailabilityTopic   string          `json:"avty_t"`
	UnitOfMeasurement   string          `json:"unit_of_meas,omitempty"`
	DeviceClass         string          `json:"dev_cla,omitempty"`
	StateClass          string          `json:"stat_cla,omitempty"`
	Icon                string          `json:"ic,omitempty"`
	Device              discoveryDevice `json:"dev"`
}

func newDiscoveryConfig(snap types.SensorSnapshot) discoveryConfig {
	cfg := discoveryConfig{
		Name:                snap.Name,
		UniqueID:            snap.UniqueID,
		ObjectID:            "elforbrug_" + snap.UniqueID,
		StateTopic:          stateTopic(snap.UniqueID),
		JSONAttributesTopic: attributesTopic(snap.UniqueID),
		AvailabilityTopic:   availabilityTopic(),
		UnitOfMeasurement:   string(snap.Unit),
		Icon:                snap.Icon,
		Device: discoveryDevice{
			IDs:          []string{"elforbrug_" + snap.MeteringPoint},
			Name:         types.EntryTitle(snap.MeteringPoint),
			Manufacturer: "Eloverblik",
			Model:        "Metering point",
			SWVersion:    common.Version(),
		},
	}
	// monetary only accepts a bare currency, so DKK/kWh gets no device class
	switch snap.Unit {
	case types.UnitKWh, types.UnitMWh:
		cfg.DeviceClass = "energy"
		cfg.StateClass = "total_increasing"
	}
	return cfg
}
