// Package config loads peerlink's runtime configuration from defaults, an
// optional config file, PEERLINK_* environment variables and command-line
// flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// EnvPrefix prefixes every environment variable the loader reads.
const EnvPrefix = "PEERLINK"

// DefaultRelayURL is where the relay listens when started with no flags.
const DefaultRelayURL = "ws://127.0.0.1:8443/ws"

// DefaultSTUN is the connectivity-discovery server list used when none is
// configured.
var DefaultSTUN = []string{
	"stun:stun.stunprotocol.org:3478",
	"stun:stun.l.google.com:19302",
}

// ICEServer is one STUN or TURN endpoint.
type ICEServer struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

// Config is the full runtime configuration.
type Config struct {
	RelayURL           string        `mapstructure:"relay_url"`
	ICEServers         []ICEServer   `mapstructure:"ice_servers"`
	NegotiationTimeout time.Duration `mapstructure:"negotiation_timeout"`
	Debug              bool          `mapstructure:"debug"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		RelayURL:   DefaultRelayURL,
		ICEServers: []ICEServer{{URLs: append([]string(nil), DefaultSTUN...)}},
	}
}

// Flags returns the flag set Load understands.
func Flags(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.StringP("config", "c", "", "config file (yaml, toml or json)")
	fs.String("relay", DefaultRelayURL, "signaling relay WebSocket URL")
	fs.StringSlice("stun", nil, "STUN server URL, repeatable (replaces the configured list)")
	fs.Duration("timeout", 0, "negotiation timeout, 0 disables it")
	fs.Bool("debug", false, "enable debug logging")
	return fs
}

// Load resolves the configuration. fs must come from Flags and already be
// parsed; nil means no flags.
func Load(fs *pflag.FlagSet) (Config, error) {
	v := viper.New()
	def := Default()
	v.SetDefault("relay_url", def.RelayURL)
	v.SetDefault("negotiation_timeout", def.NegotiationTimeout)
	v.SetDefault("debug", def.Debug)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if fs != nil {
		for key, flag := range map[string]string{
			"relay_url":           "relay",
			"negotiation_timeout": "timeout",
			"debug":               "debug",
		} {
			if f := fs.Lookup(flag); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, err
				}
			}
		}

		if path, _ := fs.GetString("config"); path != "" {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return Config{}, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if fs != nil && fs.Changed("stun") {
		urls, _ := fs.GetStringSlice("stun")
		cfg.ICEServers = []ICEServer{{URLs: urls}}
	}
	if len(cfg.ICEServers) == 0 {
		cfg.ICEServers = def.ICEServers
	}

	relay, err := NormalizeRelayURL(cfg.RelayURL)
	if err != nil {
		return Config{}, err
	}
	cfg.RelayURL = relay

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the ICE server list and the timeout.
func (c Config) Validate() error {
	if c.RelayURL == "" {
		return fmt.Errorf("%w: relay URL is empty", ErrInvalid)
	}
	if c.NegotiationTimeout < 0 {
		return fmt.Errorf("%w: negative negotiation timeout %s", ErrInvalid, c.NegotiationTimeout)
	}
	for i, s := range c.ICEServers {
		if len(s.URLs) == 0 {
			return fmt.Errorf("%w: ice server %d has no urls", ErrInvalid, i)
		}
		for _, u := range s.URLs {
			scheme, _, _ := strings.Cut(u, ":")
			switch scheme {
			case "stun", "stuns":
			case "turn", "turns":
				if s.Username == "" || s.Credential == "" {
					return fmt.Errorf("%w: %s needs a username and credential", ErrInvalid, u)
				}
			default:
				return fmt.Errorf("%w: %q is not a stun or turn url", ErrInvalid, u)
			}
		}
	}
	return nil
}

// WebRTC converts the ICE server list to pion's configuration.
func (c Config) WebRTC() webrtc.Configuration {
	servers := make([]webrtc.ICEServer, 0, len(c.ICEServers))
	for _, s := range c.ICEServers {
		server := webrtc.ICEServer{URLs: s.URLs}
		if s.Username != "" {
			server.Username = s.Username
			server.Credential = s.Credential
		}
		servers = append(servers, server)
	}
	return webrtc.Configuration{ICEServers: servers}
}

// NormalizeRelayURL accepts a bare host, host:port or full URL and returns a
// WebSocket URL. The scheme defaults to wss and the path to /ws.
func NormalizeRelayURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "wss://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("%w: invalid relay URL %q", ErrInvalid, raw)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("%w: relay URL scheme %q", ErrInvalid, u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	return u.String(), nil
}
