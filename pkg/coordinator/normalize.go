package coordinator

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/nimdanitro/pulse-scraper-go/pkg/pulse"
	"go.uber.org/zap"
)

// MillisecondThreshold separates epoch seconds from epoch milliseconds.
const MillisecondThreshold = 10_000_000_000

// NoUnitKeys are reported as-is: they are neither coerced to float nor
// given a unit.
var NoUnitKeys = map[string]bool{
	"vocindex":  true,
	"timestamp": true,
}

// NormalizeKey lower-cases and trims a sensor type key.
func NormalizeKey(k string) string {
	return strings.ToLower(strings.TrimSpace(k))
}

// NormalizeEpoch converts a millisecond epoch to seconds and leaves
// second-resolution values untouched.
func NormalizeEpoch(ts int64) int64 {
	if ts > MillisecondThreshold {
		return ts / 1000
	}
	return ts
}

// normalize coerces a raw data point. Fields that fail coercion are kept
// with a nil value; the returned timestamp is zero when it is unknown.
// When several raw keys normalize to the same key, the one already in
// normalized form wins, otherwise the first in sorted order.
func normalize(p pulse.DataPoint, log *zap.Logger) (map[string]any, int64) {
	fields := make(map[string]any, len(p))
	var ts int64

	keys := make([]string, 0, len(p))
	for key := range p {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		ci, cj := keys[i] == NormalizeKey(keys[i]), keys[j] == NormalizeKey(keys[j])
		if ci != cj {
			return ci
		}
		return keys[i] < keys[j]
	})

	for _, key := range keys {
		value := p[key]
		k := NormalizeKey(key)
		if _, dup := fields[k]; dup {
			log.Warn("duplicate sensor key, ignoring", zap.String("field", key), zap.String("key", k))
			continue
		}
		switch {
		case k == "timestamp":
			v, ok := ToInt(value)
			if !ok {
				log.Warn("timestamp is not an integer", zap.Any("value", value))
				fields[k] = nil
				continue
			}
			ts = NormalizeEpoch(v)
			fields[k] = ts
		case NoUnitKeys[k]:
			fields[k] = value
		default:
			v, ok := ToFloat(value)
			if !ok {
				log.Warn("value is not a number", zap.String("field", key), zap.Any("value", value))
				fields[k] = nil
				continue
			}
			fields[k] = v
		}
	}

	return fields, ts
}

// ToFloat converts a decoded JSON value to a finite float64.
func ToFloat(v any) (float64, bool) {
	f, ok := toFloat(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// ToInt converts a decoded JSON value to int64. Fractional numbers are
// truncated; fractional strings are rejected.
func ToInt(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case float64:
		return truncate(t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i, true
		}
		f, err := t.Float64()
		if err != nil {
			return 0, false
		}
		return truncate(f)
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		return i, err == nil
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

func truncate(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}
