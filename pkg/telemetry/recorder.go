// Package telemetry records published readings as OpenTelemetry gauges,
// one instrument per sensor type.
package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/nimdanitro/pulse-scraper-go/pkg/coordinator"
	"github.com/nimdanitro/pulse-scraper-go/pkg/entity"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

type Recorder struct {
	meter metric.Meter
	log   *zap.Logger
	age   metric.Float64Histogram

	mu     sync.Mutex
	gauges map[string]metric.Float64Gauge
}

func NewRecorder(meter metric.Meter, log *zap.Logger) (*Recorder, error) {
	if log == nil {
		log = zap.L()
	}
	age, err := meter.Float64Histogram(
		"sensor.lastReading.duration",
		metric.WithDescription("The duration since the last sensor reading."),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	return &Recorder{
		meter:  meter,
		log:    log,
		age:    age,
		gauges: make(map[string]metric.Float64Gauge),
	}, nil
}

func (r *Recorder) gauge(key string, d entity.Descriptor) (metric.Float64Gauge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.gauges[key]; ok {
		return g, nil
	}
	g, err := r.meter.Float64Gauge("sensor."+key,
		metric.WithUnit(d.Unit),
		metric.WithDescription("Pulse "+key+" reading"),
	)
	if err != nil {
		return nil, err
	}
	r.gauges[key] = g
	return g, nil
}

// Record emits every known numeric field of rd. Unknown sensor types,
// the timestamp and unusable values are skipped.
func (r *Recorder) Record(ctx context.Context, rd *coordinator.Reading) {
	if rd == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("sensor.id", rd.EndpointID),
		attribute.String("sensor.location", rd.RoomName),
	)

	for key, v := range rd.Fields {
		d, ok := entity.Lookup(key)
		if !ok || key == "timestamp" || v == nil {
			continue
		}
		f, ok := coordinator.ToFloat(v)
		if !ok {
			continue
		}
		g, err := r.gauge(key, d)
		if err != nil {
			r.log.Warn("cannot create gauge", zap.String("sensorType", key), zap.Error(err))
			continue
		}
		g.Record(ctx, f, attrs)
	}

	if ts := rd.Time(); !ts.IsZero() {
		r.age.Record(ctx, time.Since(ts).Seconds(), attrs)
	}
}
