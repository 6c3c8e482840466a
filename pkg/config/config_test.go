package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToThresholdsParsesHexColors(t *testing.T) {
	cfg := Config{Thresholds: []ThresholdConfig{
		{Name: "green", RPMLower: 3000, StartLED: 0, EndLED: 2, Colors: []string{"#00FF00"}},
	}}
	th := cfg.ToThresholds()
	require.Len(t, th, 1)
	assert.Equal(t, uint8(0), th[0].Colors[0].R)
	assert.Equal(t, uint8(255), th[0].Colors[0].G)
}

func TestToThresholdsFallsBackToDefaultColors(t *testing.T) {
	cfg := Config{Thresholds: []ThresholdConfig{
		{Name: "bad", Colors: []string{"not-a-color"}},
	}}
	th := cfg.ToThresholds()
	require.Len(t, th, 1)
	assert.Equal(t, uint8(255), th[0].Colors[0].R)
}

func TestToThresholdsAppliesDefaultBlinkMS(t *testing.T) {
	cfg := Config{Thresholds: []ThresholdConfig{
		{Name: "blink", Blink: true, Colors: []string{"#FF0000"}},
	}}
	th := cfg.ToThresholds()
	require.Len(t, th, 1)
	assert.EqualValues(t, 500, th[0].BlinkMS)
}

func TestClampedTimeout(t *testing.T) {
	ms, clamped := Obd2Config{TimeoutMS: 9000}.ClampedTimeout()
	assert.EqualValues(t, MaxOBD2TimeoutMS, ms)
	assert.True(t, clamped)

	ms, clamped = Obd2Config{TimeoutMS: 2000}.ClampedTimeout()
	assert.EqualValues(t, 2000, ms)
	assert.False(t, clamped)

	ms, clamped = Obd2Config{}.ClampedTimeout()
	assert.EqualValues(t, MaxOBD2TimeoutMS, ms)
	assert.False(t, clamped)
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	fs, err := NewFileStore(path)
	require.NoError(t, err)

	cfg := Config{TotalLEDs: 8, Brightness: 200}
	require.NoError(t, fs.Set(cfg))

	fs2, err := NewFileStore(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, fs2.Get())
}

func TestFileStoreSubscribeReceivesUpdate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	fs, err := NewFileStore(path)
	require.NoError(t, err)

	ch := fs.Subscribe()
	require.NoError(t, fs.Set(Config{TotalLEDs: 4}))

	got := <-ch
	assert.Equal(t, 4, got.TotalLEDs)
}
