package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"newfem_go/internal/config"
)

func TestDefaults(t *testing.T) {
	s := NewDiscoveryService(config.DiscoveryConfig{InstanceName: "bancada"}, 8421, "/ws")
	assert.Equal(t, "bancada", s.GetInstanceName())
	assert.Equal(t, "_newfem._tcp", s.config.Service)
	assert.Equal(t, "local.", s.config.Domain)
	assert.False(t, s.IsRunning())

	// Stop sem Start não tem efeito
	s.Stop()
	assert.False(t, s.IsRunning())
}

func TestTXTRecords(t *testing.T) {
	s := NewDiscoveryService(config.DiscoveryConfig{}, 8421, "/ws")
	assert.Contains(t, s.GetInstanceName(), "-newfem")

	records := s.TXTRecords("10.0.0.5")
	assert.Contains(t, records, "version=1.0")
	assert.Contains(t, records, "ws=/ws")
	assert.Contains(t, records, "ip=10.0.0.5")

	assert.NotContains(t, s.TXTRecords(""), "ip=")
}
