package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newfem_go/internal/acquisition"
	"newfem_go/internal/config"
	"newfem_go/internal/models"
)

func TestDisabledServiceIsOffline(t *testing.T) {
	calls := 0
	svc := NewService(config.RedisConfig{Enabled: false, Prefix: "newfem"}, func() models.StatusSnapshot {
		calls++
		return models.StatusSnapshot{}
	})
	svc.SetAsync(false)

	assert.False(t, svc.IsConnected())
	assert.NoError(t, svc.WritePeak(models.PeakRegion{Color: models.ColorGreen}))
	assert.NoError(t, svc.WriteStatus(models.StatusSnapshot{}))

	svc.OnTick(acquisition.Tick{
		Frame:  models.Frame{Index: 60},
		Result: models.DetectionResult{Region: &models.PeakRegion{}},
	})
	assert.Zero(t, calls)

	_, err := svc.RecentPeaks(5)
	assert.ErrorIs(t, err, ErrOffline)
	_, err = svc.Status()
	assert.ErrorIs(t, err, ErrOffline)

	svc.Shutdown()
}

func TestUnreachableRedisFallsBackToOffline(t *testing.T) {
	svc := NewService(config.RedisConfig{Enabled: true, Host: "127.0.0.1", Port: 1, Prefix: "newfem"}, nil)
	defer svc.Shutdown()

	require.False(t, svc.IsConnected())
	assert.NoError(t, svc.WritePeak(models.PeakRegion{}))
}

func TestFormatKey(t *testing.T) {
	c := NewClient(config.RedisConfig{Prefix: "newfem"})
	assert.Equal(t, "newfem:peaks", c.FormatKey("peaks"))
	assert.Equal(t, "newfem:peak:latest", c.FormatKey("peak", "latest"))
	assert.Equal(t, "newfem", c.FormatKey())
}

func TestColorField(t *testing.T) {
	assert.Equal(t, "green", colorField(models.ColorGreen))
	assert.Equal(t, "red", colorField(models.ColorRed))
	assert.Equal(t, "none", colorField(models.ColorNone))
}
