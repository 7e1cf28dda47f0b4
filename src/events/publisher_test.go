package events

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tokenscale/inference-gateway/src/config"
)

func TestNewPublisher_Validation(t *testing.T) {
	_, err := NewPublisher(nil)
	assert.Error(t, err)

	_, err = NewPublisher(&config.EventsConfig{Enabled: true})
	assert.Error(t, err, "url is required")

	_, err = NewPublisher(&config.EventsConfig{Enabled: true, URL: "nats://127.0.0.1:1"})
	assert.Error(t, err, "nothing listens there")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name     string
		depth    int
		capacity int
		want     string
	}{
		{"empty queue", 0, 100, StatusHealthy},
		{"light load", 49, 100, StatusHealthy},
		{"half full", 50, 100, StatusWarning},
		{"heavy load", 90, 100, StatusWarning},
		{"near saturation", 91, 100, StatusCritical},
		{"saturated", 100, 100, StatusCritical},
		{"no capacity configured", 10, 0, StatusHealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFor(tt.depth, tt.capacity))
		})
	}
}
