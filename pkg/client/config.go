package client

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

// ClientConfig holds the connection settings of one client. Zero values are
// not defaults, start from DefaultClientConfig.
type ClientConfig struct {
	// Host and port of the login tier.
	Address string
	Port    uint16

	// ClientType is reported to the login tier (5 is a browser client).
	ClientType int8

	ClientVersion string
	ScriptVersion string

	// EncryptedKey is sent in hello. Empty disables channel encryption.
	EncryptedKey []byte

	// HeartbeatTick is how often an active tick is sent while connected.
	HeartbeatTick time.Duration

	// WideEntityTypeIDs selects uint16 entity type ids in onEntityEnterWorld,
	// for servers with more than 255 entity types.
	WideEntityTypeIDs bool

	// SkipServerErrorImport leaves out the server error table request.
	SkipServerErrorImport bool
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Address:       "127.0.0.1",
		Port:          20013,
		ClientType:    5,
		ClientVersion: "1.2.7",
		ScriptVersion: "0.1.0",
		HeartbeatTick: 100 * time.Second,
	}
}

func (c ClientConfig) Validate() error {
	if c.Address == "" {
		return errors.New("client config: address is required")
	}
	if c.ClientVersion == "" || c.ScriptVersion == "" {
		return errors.New("client config: client and script versions are required")
	}
	if c.HeartbeatTick <= 0 {
		return fmt.Errorf("client config: heartbeat tick must be positive, got %s", c.HeartbeatTick)
	}
	return nil
}

// LoginAddress is host:port of the login tier. A port of 0 leaves the
// address as is.
func (c ClientConfig) LoginAddress() string {
	if c.Port == 0 {
		return c.Address
	}
	return net.JoinHostPort(c.Address, strconv.Itoa(int(c.Port)))
}
