// Package config loads the command line client's settings from TOML.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/sessamekesh/kbengine-netcode-client/pkg/client"
)

const (
	TransportWebsocket = "websocket"
	TransportTCP       = "tcp"
	TransportUDP       = "udp"
)

type Config struct {
	Client client.ClientConfig

	// Transport reaches the login tier, GameplayTransport the gameplay tier.
	Transport         string
	GameplayTransport string
	Secure            bool

	Username string
	Password string

	// MetricsAddress serves /metrics when non-empty.
	MetricsAddress string
	LogLevel       string
}

func DefaultConfig() Config {
	return Config{
		Client:            client.DefaultClientConfig(),
		Transport:         TransportWebsocket,
		GameplayTransport: TransportWebsocket,
		LogLevel:          "info",
	}
}

type fileConfig struct {
	Address               string `toml:"address"`
	Port                  int    `toml:"port"`
	ClientType            int    `toml:"client_type"`
	ClientVersion         string `toml:"client_version"`
	ScriptVersion         string `toml:"script_version"`
	EncryptedKey          string `toml:"encrypted_key"`
	Heartbeat             string `toml:"heartbeat"`
	WideEntityTypeIDs     bool   `toml:"wide_entity_type_ids"`
	SkipServerErrorImport bool   `toml:"skip_server_error_import"`

	Transport         string `toml:"transport"`
	GameplayTransport string `toml:"gameplay_transport"`
	Secure            bool   `toml:"secure"`

	Username string `toml:"username"`
	Password string `toml:"password"`

	MetricsAddress string `toml:"metrics_address"`
	LogLevel       string `toml:"log_level"`
}

// Load reads path on top of DefaultConfig. Keys absent from the file keep
// their defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load client config: %w", err)
	}

	if meta.IsDefined("address") {
		cfg.Client.Address = strings.TrimSpace(raw.Address)
	}
	if meta.IsDefined("port") {
		if raw.Port < 0 || raw.Port > 65535 {
			return Config{}, fmt.Errorf("parse port: %d out of range", raw.Port)
		}
		cfg.Client.Port = uint16(raw.Port)
	}
	if meta.IsDefined("client_type") {
		if raw.ClientType < -128 || raw.ClientType > 127 {
			return Config{}, fmt.Errorf("parse client_type: %d out of range", raw.ClientType)
		}
		cfg.Client.ClientType = int8(raw.ClientType)
	}
	if meta.IsDefined("client_version") {
		cfg.Client.ClientVersion = strings.TrimSpace(raw.ClientVersion)
	}
	if meta.IsDefined("script_version") {
		cfg.Client.ScriptVersion = strings.TrimSpace(raw.ScriptVersion)
	}
	if meta.IsDefined("encrypted_key") {
		cfg.Client.EncryptedKey = []byte(raw.EncryptedKey)
	}
	if meta.IsDefined("heartbeat") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Heartbeat))
		if err != nil {
			return Config{}, fmt.Errorf("parse heartbeat: %w", err)
		}
		cfg.Client.HeartbeatTick = d
	}
	if meta.IsDefined("wide_entity_type_ids") {
		cfg.Client.WideEntityTypeIDs = raw.WideEntityTypeIDs
	}
	if meta.IsDefined("skip_server_error_import") {
		cfg.Client.SkipServerErrorImport = raw.SkipServerErrorImport
	}

	if meta.IsDefined("transport") {
		cfg.Transport = normalizeTransport(raw.Transport)
		if !meta.IsDefined("gameplay_transport") {
			cfg.GameplayTransport = cfg.Transport
		}
	}
	if meta.IsDefined("gameplay_transport") {
		cfg.GameplayTransport = normalizeTransport(raw.GameplayTransport)
	}
	if meta.IsDefined("secure") {
		cfg.Secure = raw.Secure
	}

	if meta.IsDefined("username") {
		cfg.Username = strings.TrimSpace(raw.Username)
	}
	if meta.IsDefined("password") {
		cfg.Password = raw.Password
	}

	if meta.IsDefined("metrics_address") {
		cfg.MetricsAddress = strings.TrimSpace(raw.MetricsAddress)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(raw.LogLevel))
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	for _, t := range []string{c.Transport, c.GameplayTransport} {
		switch t {
		case TransportWebsocket, TransportTCP, TransportUDP:
		default:
			return fmt.Errorf("client config: unknown transport %q", t)
		}
	}
	return c.Client.Validate()
}

func normalizeTransport(in string) string {
	v := strings.ToLower(strings.TrimSpace(in))
	if v == "ws" {
		return TransportWebsocket
	}
	return v
}
