package entity

import (
	"sort"

	"go.uber.org/zap"
)

// Setup builds the entities for the reading src currently holds. Unknown
// sensor types and descriptors missing a required unit are logged and
// skipped; a single bad sensor never fails the setup.
func Setup(src Source, endpointID string, log *zap.Logger) []Entity {
	if log == nil {
		log = zap.L()
	}
	r := src.Data()
	if r == nil || len(r.Fields) == 0 {
		log.Warn("no sensor data available", zap.String("endpointId", endpointID))
		return nil
	}

	keys := make([]string, 0, len(r.Fields))
	for k := range r.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var entities []Entity
	for _, k := range keys {
		d, ok := Lookup(k)
		if !ok {
			log.Warn("unknown sensor type, skipping", zap.String("sensorType", k))
			continue
		}

		m, err := NewMeasurement(src, endpointID, k, d, log)
		if err != nil {
			log.Error("sensor requires a unit but none provided, skipping", zap.String("sensorType", k), zap.Error(err))
			continue
		}
		entities = append(entities, m)
		log.Info("added sensor entity",
			zap.String("entity", m.Name()),
			zap.String("unit", d.Unit),
			zap.String("deviceClass", string(d.DeviceClass)),
		)
	}

	if _, ok := r.Details[CallStatusKey]; ok {
		cs := NewCallStatus(src, endpointID)
		entities = append(entities, cs)
		log.Info("added call status entity", zap.String("entity", cs.Name()))
	}

	return entities
}
