// Package entity turns a coordinator's reading into Home Assistant style
// entities: one measurement per known sensor type plus the endpoint's call
// status. Entities never poll; they re-read the coordinator whenever it
// notifies them.
package entity

import (
	"strings"
	"sync"
	"unicode"

	"github.com/nimdanitro/pulse-scraper-go/pkg/coordinator"
)

const (
	Domain       = "neat_pulse"
	Manufacturer = "Neat"
	Model        = "Pulse Endpoint"
)

// Source is the view of a coordinator that entities need.
type Source interface {
	Data() *coordinator.Reading
	AddListener(fn func()) (remove func())
}

// DeviceInfo groups all entities of one endpoint under a single device.
type DeviceInfo struct {
	Identifiers  []string
	Name         string
	Manufacturer string
	Model        string
}

type Entity interface {
	// Key is the sensor type key, unique within the endpoint.
	Key() string
	UniqueID() string
	Name() string
	// Value is the presentable state, or nil when it is unknown.
	Value() any
	Unit() string
	DeviceClass() DeviceClass
	Icon() string
	Device() DeviceInfo
	// Attach subscribes the entity to coordinator updates; fn runs after
	// every cycle.
	Attach(fn func(Entity))
	// Remove undoes Attach.
	Remove()
}

type base struct {
	src      Source
	key      string
	uniqueID string
	name     string
	device   DeviceInfo

	mu     sync.Mutex
	remove func()
}

func newBase(src Source, endpointID, key, label string) *base {
	room := "Endpoint " + endpointID
	if r := src.Data(); r != nil && r.RoomName != "" {
		room = r.RoomName
	}
	return &base{
		src:      src,
		key:      key,
		uniqueID: endpointID + "_" + key,
		name:     room + " " + label,
		device: DeviceInfo{
			Identifiers:  []string{Domain + "_" + endpointID},
			Name:         room,
			Manufacturer: Manufacturer,
			Model:        Model,
		},
	}
}

func (b *base) Key() string        { return b.key }
func (b *base) UniqueID() string   { return b.uniqueID }
func (b *base) Name() string       { return b.name }
func (b *base) Device() DeviceInfo { return b.device }

func (b *base) attach(self Entity, fn func(Entity)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.remove != nil {
		b.remove()
	}
	b.remove = b.src.AddListener(func() { fn(self) })
}

func (b *base) Remove() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.remove != nil {
		b.remove()
		b.remove = nil
	}
}

// label renders a sensor key as "Word words": underscores become spaces,
// the first letter is upper-cased and the rest lower-cased.
func label(key string) string {
	s := strings.ToLower(strings.ReplaceAll(key, "_", " "))
	r := []rune(s)
	if len(r) == 0 {
		return s
	}
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
