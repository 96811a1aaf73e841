package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConstructors(t *testing.T) {
	h := Healthy("agent", "listening")
	assert.True(t, h.Healthy)
	assert.True(t, h.IsHealthy())
	assert.False(t, h.Timestamp.IsZero())

	u := Unhealthy("agent", "bind failed")
	assert.False(t, u.Healthy)
	assert.True(t, u.IsUnhealthy())

	d := Degraded("mqtt", "reconnecting")
	assert.False(t, d.Healthy)
	assert.True(t, d.IsDegraded())
}

func TestWithMetrics(t *testing.T) {
	s := Healthy("agent", "ok").WithMetrics(&Metrics{Uptime: time.Minute, Connections: 2})
	assert.Equal(t, 2, s.Metrics.Connections)
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name     string
		subs     []Status
		expected string
	}{
		{"empty", nil, StateHealthy},
		{"all healthy", []Status{Healthy("a", ""), Healthy("b", "")}, StateHealthy},
		{"one degraded", []Status{Healthy("a", ""), Degraded("b", "")}, StateDegraded},
		{"unhealthy wins", []Status{Degraded("a", ""), Unhealthy("b", "")}, StateUnhealthy},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got := Aggregate("adapter", test.subs)
			assert.Equal(t, test.expected, got.Status)
			assert.Equal(t, "adapter", got.Component)
			assert.Len(t, got.SubStatuses, len(test.subs))
		})
	}
}

func TestAggregate_CopiesSubStatuses(t *testing.T) {
	subs := []Status{Healthy("a", "")}
	got := Aggregate("adapter", subs)

	subs[0].Component = "changed"
	assert.Equal(t, "a", got.SubStatuses[0].Component)
}
