package entity

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/nimdanitro/pulse-scraper-go/pkg/coordinator"
	"go.uber.org/zap"
)

// ErrMissingUnit is returned for a descriptor whose device class needs a
// unit but has none.
var ErrMissingUnit = errors.New("missing unit of measurement")

// Measurement exposes one sensor type of a reading.
type Measurement struct {
	*base
	desc Descriptor
	log  *zap.Logger
}

var _ Entity = (*Measurement)(nil)

func NewMeasurement(src Source, endpointID, sensorType string, d Descriptor, log *zap.Logger) (*Measurement, error) {
	if log == nil {
		log = zap.L()
	}
	key := coordinator.NormalizeKey(sensorType)
	m := &Measurement{
		base: newBase(src, endpointID, key, label(key)),
		desc: d,
		log:  log,
	}
	if d.Unit == "" && d.DeviceClass.RequiresUnit() {
		return nil, fmt.Errorf("sensor %q (%s): %w", m.Name(), d.DeviceClass, ErrMissingUnit)
	}
	m.log.Debug("sensor unit assigned", zap.String("sensor", m.Name()), zap.String("unit", d.Unit))
	return m, nil
}

func (m *Measurement) Unit() string             { return m.desc.Unit }
func (m *Measurement) DeviceClass() DeviceClass { return m.desc.DeviceClass }
func (m *Measurement) Icon() string             { return m.desc.Icon }

func (m *Measurement) Attach(fn func(Entity)) { m.attach(m, fn) }

// Value applies the presentation rules of the sensor type: timestamps
// become UTC instants, temperature and humidity are rounded to two
// decimals, people counts are truncated and everything else is a float
// when it can be one.
func (m *Measurement) Value() any {
	v, _ := m.src.Data().Field(m.key)
	if v == nil {
		m.log.Debug("no value found for sensor", zap.String("sensor", m.key))
		return nil
	}

	switch m.key {
	case "timestamp":
		ts, ok := coordinator.ToInt(v)
		if !ok {
			m.log.Error("cannot process sensor value", zap.String("sensor", m.key), zap.Any("value", v))
			return nil
		}
		return time.Unix(coordinator.NormalizeEpoch(ts), 0).UTC()
	case "temp", "temperature", "humidity":
		f, ok := coordinator.ToFloat(v)
		if !ok {
			m.log.Error("cannot process sensor value", zap.String("sensor", m.key), zap.Any("value", v))
			return nil
		}
		return math.Round(f*100) / 100
	case "people":
		f, ok := coordinator.ToFloat(v)
		if !ok {
			m.log.Error("cannot process sensor value", zap.String("sensor", m.key), zap.Any("value", v))
			return nil
		}
		return int(f)
	default:
		if f, ok := coordinator.ToFloat(v); ok {
			return f
		}
		return v
	}
}
