package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func statusPtr(s MapRequestStatus) *MapRequestStatus { return &s }

func TestMapRequestStatusTerminal(t *testing.T) {
	assert.False(t, MapRequestStatusProcessing.Terminal())
	assert.True(t, MapRequestStatusFailed.Terminal())
	assert.True(t, MapRequestStatusAvailable.Terminal())
}

func TestLayerPredicates(t *testing.T) {
	mixed := []*MapRequestStatus{
		nil,
		statusPtr(MapRequestStatusProcessing),
		statusPtr(MapRequestStatusAvailable),
	}
	allAvailable := []*MapRequestStatus{
		statusPtr(MapRequestStatusAvailable),
		statusPtr(MapRequestStatusAvailable),
	}
	allUnset := []*MapRequestStatus{nil, nil}
	empty := []*MapRequestStatus{}

	tests := []struct {
		name      string
		predicate func([]*MapRequestStatus) bool
		statuses  []*MapRequestStatus
		want      bool
	}{
		{"any processing over mixed", AnyLayersProcessing, mixed, true},
		{"any failed over mixed", AnyLayersFailed, mixed, false},
		{"any available over mixed", AnyLayersAvailable, mixed, true},
		{"any unset over mixed", AnyLayersUnset, mixed, true},

		{"none failed over mixed", NoneLayersFailed, mixed, true},
		{"none processing over mixed", NoneLayersProcessing, mixed, false},
		{"none available over all unset", NoneLayersAvailable, allUnset, true},
		{"none unset over all available", NoneLayersUnset, allAvailable, true},

		{"all available over all available", AllLayersAvailable, allAvailable, true},
		{"all available over mixed", AllLayersAvailable, mixed, false},
		{"all unset over all unset", AllLayersUnset, allUnset, true},
		{"all processing over mixed", AllLayersProcessing, mixed, false},
		{"all failed over empty", AllLayersFailed, empty, false},
		{"all available over empty", AllLayersAvailable, empty, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.predicate(tt.statuses))
		})
	}
}
