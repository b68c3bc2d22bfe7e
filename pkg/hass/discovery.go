package hass

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/nimdanitro/pulse-scraper-go/pkg/entity"
)

// DeviceConfig is the device block shared by every discovery payload of
// one endpoint so Home Assistant groups the sensors under one device.
type DeviceConfig struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	SWVersion    string   `json:"sw_version,omitempty"`
}

// SensorConfig is the retained discovery payload of one sensor entity.
type SensorConfig struct {
	Name              string       `json:"name"`
	UniqueID          string       `json:"unique_id"`
	ObjectID          string       `json:"object_id,omitempty"`
	StateTopic        string       `json:"state_topic"`
	AvailabilityTopic string       `json:"availability_topic"`
	Device            DeviceConfig `json:"device"`
	DeviceClass       string       `json:"device_class,omitempty"`
	Icon              string       `json:"icon,omitempty"`
	UnitOfMeasurement string       `json:"unit_of_measurement,omitempty"`
	StateClass        string       `json:"state_class,omitempty"`
}

var topicUnsafe = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// topicSegment makes s safe to use as a single MQTT topic level.
func topicSegment(s string) string {
	return topicUnsafe.ReplaceAllString(s, "_")
}

func (b *Bridge) sensorConfig(e entity.Entity) SensorConfig {
	d := e.Device()
	cfg := SensorConfig{
		Name:              e.Name(),
		UniqueID:          e.UniqueID(),
		ObjectID:          topicSegment(e.UniqueID()),
		StateTopic:        b.stateTopic(e),
		AvailabilityTopic: b.availabilityTopic(),
		Device: DeviceConfig{
			Identifiers:  d.Identifiers,
			Name:         d.Name,
			Manufacturer: d.Manufacturer,
			Model:        d.Model,
			SWVersion:    b.cfg.Version,
		},
		DeviceClass:       string(e.DeviceClass()),
		Icon:              e.Icon(),
		UnitOfMeasurement: e.Unit(),
	}
	if e.Unit() != "" && e.DeviceClass() != entity.DeviceClassTimestamp {
		cfg.StateClass = "measurement"
	}
	return cfg
}

// formatState renders an entity value as an MQTT state payload. Unknown
// values are sent as "None", which Home Assistant shows as unknown.
func formatState(v any) string {
	switch t := v.(type) {
	case nil:
		return "None"
	case time.Time:
		return t.Format(time.RFC3339)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}
