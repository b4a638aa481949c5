package satlink

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbitgrid/satlink/frame"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultConfigSender(t *testing.T) {
	cfg := DefaultConfig(RoleSender)

	assert.Equal(t, RoleSender, cfg.Role)
	assert.Equal(t, TransportTCP, cfg.Transport)
	assert.Equal(t, "127.0.0.1:8129", cfg.BridgeAddr)
	assert.Equal(t, uint16(137), cfg.AppID)
	assert.Equal(t, uint16(0x8180), cfg.DestinationID)
	assert.Equal(t, uint8(frame.ControlUplink), cfg.Control)
	assert.Equal(t, uint16(1350), cfg.MTU)
	assert.NoError(t, cfg.Validate())
}

func TestDefaultConfigReceiver(t *testing.T) {
	cfg := DefaultConfig(RoleReceiver)

	assert.Equal(t, uint16(134), cfg.AppID)
	assert.Equal(t, uint8(frame.ControlDownlink), cfg.Control)
	assert.Equal(t, uint8(100), cfg.TcTmMin)
	assert.Equal(t, uint8(107), cfg.TcTmMax)
	assert.Equal(t, 8, cfg.PayloadMin)
	assert.Equal(t, 1350, cfg.PayloadMax)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
role = "sender"
bridge_addr = "10.0.0.5:9000"
app_id = 42
mtu = 512
noise_enabled = true
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.5:9000", cfg.BridgeAddr)
	assert.Equal(t, uint16(42), cfg.AppID)
	assert.Equal(t, uint16(512), cfg.MTU)
	assert.True(t, cfg.NoiseEnabled)

	// Keys absent from the file keep their defaults.
	assert.Equal(t, TransportTCP, cfg.Transport)
	assert.Equal(t, uint16(0x8180), cfg.DestinationID)
	assert.Equal(t, "ack", cfg.AckMode)
}

func TestLoadConfigReceiverRoleDefaults(t *testing.T) {
	path := writeConfigFile(t, `
role = "receiver"
listen_addr = "0.0.0.0:9100"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9100", cfg.ListenAddr)
	assert.Equal(t, uint16(134), cfg.AppID)
	assert.Equal(t, uint8(frame.ControlDownlink), cfg.Control)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestLoadConfigInvalidValues(t *testing.T) {
	path := writeConfigFile(t, `
role = "sender"
ack_mode = "maybe"
`)
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad role", func(c *Config) { c.Role = "relay" }},
		{"bad transport", func(c *Config) { c.Transport = "udp" }},
		{"sender without bridge addr", func(c *Config) { c.BridgeAddr = " " }},
		{"zero app id", func(c *Config) { c.AppID = 0 }},
		{"zero mtu", func(c *Config) { c.MTU = 0 }},
		{"mtu above payload max", func(c *Config) { c.MTU = 2000 }},
		{"inverted channel bounds", func(c *Config) { c.TcTmMin = 108; c.TcTmMax = 100 }},
		{"inverted payload bounds", func(c *Config) { c.PayloadMin = 2000 }},
		{"payload max above frame limit", func(c *Config) { c.PayloadMax = frame.MaxPayloadLen + 1; c.PayloadMin = 8 }},
		{"bad ack mode", func(c *Config) { c.AckMode = "sometimes" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig(RoleSender)
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	t.Run("receiver without listen addr", func(t *testing.T) {
		cfg := DefaultConfig(RoleReceiver)
		cfg.ListenAddr = ""
		assert.Error(t, cfg.Validate())
	})
}
