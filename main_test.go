package main

import (
	"encoding/json"
	"testing"

	"github.com/nimdanitro/pulse-scraper-go/pkg/coordinator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type staticSource struct {
	r *coordinator.Reading
}

func (s *staticSource) Data() *coordinator.Reading { return s.r }

func (s *staticSource) AddListener(func()) func() { return func() {} }

func TestEntityLoader_WaitsForFields(t *testing.T) {
	src := &staticSource{r: &coordinator.Reading{EndpointID: "ep-1", Fields: map[string]any{}}}
	l := &entityLoader{src: src, endpointID: "ep-1", log: zap.NewNop()}

	assert.Nil(t, l.load(), "an empty reading yields no entities")

	src.r = &coordinator.Reading{
		EndpointID: "ep-1",
		RoomName:   "Huddle",
		Fields:     map[string]any{"temp": 21.5, "co2": json.Number("410")},
	}
	ents := l.load()
	require.Len(t, ents, 2)
	assert.Equal(t, "ep-1_co2", ents[0].UniqueID())

	assert.Nil(t, l.load(), "entities are created once")
}
