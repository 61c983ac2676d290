package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, args ...string) Config {
	t.Helper()
	fs := Flags("test")
	require.NoError(t, fs.Parse(args))
	cfg, err := Load(fs)
	require.NoError(t, err)
	return cfg
}

func TestLoadDefaults(t *testing.T) {
	cfg := parse(t)

	assert.Equal(t, DefaultRelayURL, cfg.RelayURL)
	require.Len(t, cfg.ICEServers, 1)
	assert.Equal(t, DefaultSTUN, cfg.ICEServers[0].URLs)
	assert.Zero(t, cfg.NegotiationTimeout)
	assert.False(t, cfg.Debug)

	noFlags, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, cfg, noFlags)
}

func TestFlagsOverride(t *testing.T) {
	cfg := parse(t,
		"--relay", "relay.example.com:9000",
		"--stun", "stun:a.example.com:3478",
		"--stun", "stun:b.example.com:3478",
		"--timeout", "15s",
		"--debug",
	)

	assert.Equal(t, "wss://relay.example.com:9000/ws", cfg.RelayURL)
	assert.Equal(t, []ICEServer{{URLs: []string{"stun:a.example.com:3478", "stun:b.example.com:3478"}}}, cfg.ICEServers)
	assert.Equal(t, 15*time.Second, cfg.NegotiationTimeout)
	assert.True(t, cfg.Debug)
}

func TestEnvironmentOverride(t *testing.T) {
	t.Setenv("PEERLINK_RELAY_URL", "ws://10.0.0.2:8443")
	t.Setenv("PEERLINK_NEGOTIATION_TIMEOUT", "5s")

	cfg := parse(t)
	assert.Equal(t, "ws://10.0.0.2:8443/ws", cfg.RelayURL)
	assert.Equal(t, 5*time.Second, cfg.NegotiationTimeout)

	// Flags win over the environment.
	cfg = parse(t, "--timeout", "1s")
	assert.Equal(t, time.Second, cfg.NegotiationTimeout)
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peerlink.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
relay_url: wss://signal.example.com/rooms/1
negotiation_timeout: 30s
ice_servers:
  - urls: ["stun:stun.example.com:3478"]
  - urls: ["turn:turn.example.com:3478?transport=udp"]
    username: user
    credential: secret
`), 0o600))

	cfg := parse(t, "--config", path)

	assert.Equal(t, "wss://signal.example.com/rooms/1", cfg.RelayURL)
	assert.Equal(t, 30*time.Second, cfg.NegotiationTimeout)
	require.Len(t, cfg.ICEServers, 2)
	assert.Equal(t, "user", cfg.ICEServers[1].Username)

	rtc := cfg.WebRTC()
	require.Len(t, rtc.ICEServers, 2)
	assert.Equal(t, []string{"turn:turn.example.com:3478?transport=udp"}, rtc.ICEServers[1].URLs)
	assert.Equal(t, "secret", rtc.ICEServers[1].Credential)
	assert.Nil(t, rtc.ICEServers[0].Credential)
}

func TestMissingConfigFile(t *testing.T) {
	fs := Flags("test")
	require.NoError(t, fs.Parse([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")}))
	_, err := Load(fs)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		invalid bool
	}{
		{"default", func(*Config) {}, false},
		{"stuns", func(c *Config) { c.ICEServers = []ICEServer{{URLs: []string{"stuns:x:5349"}}} }, false},
		{"turn with credentials", func(c *Config) {
			c.ICEServers = []ICEServer{{URLs: []string{"turn:x:3478"}, Username: "u", Credential: "p"}}
		}, false},
		{"turn without credentials", func(c *Config) { c.ICEServers = []ICEServer{{URLs: []string{"turns:x:5349"}}} }, true},
		{"unknown scheme", func(c *Config) { c.ICEServers = []ICEServer{{URLs: []string{"http://x"}}} }, true},
		{"server without urls", func(c *Config) { c.ICEServers = []ICEServer{{}} }, true},
		{"negative timeout", func(c *Config) { c.NegotiationTimeout = -time.Second }, true},
		{"empty relay", func(c *Config) { c.RelayURL = "" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.invalid {
				assert.ErrorIs(t, err, ErrInvalid)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNormalizeRelayURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"example.com", "wss://example.com/ws"},
		{"ws://127.0.0.1:8443", "ws://127.0.0.1:8443/ws"},
		{"https://abc.devtunnels.ms/", "wss://abc.devtunnels.ms/ws"},
		{"http://localhost:8443/signal", "ws://localhost:8443/signal"},
		{"  wss://example.com/ws  ", "wss://example.com/ws"},
	}
	for _, tt := range tests {
		got, err := NormalizeRelayURL(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	for _, bad := range []string{"", "ftp://example.com", "://"} {
		_, err := NormalizeRelayURL(bad)
		assert.ErrorIs(t, err, ErrInvalid, bad)
	}
}
