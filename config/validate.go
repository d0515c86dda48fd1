package config

import (
	"fmt"
	"net"
	"strings"
)

var (
	MaxRentPerByte  = uint64(1_000_000)
	MaxEventHistory = 65536
)

// Validate rejects configurations the node cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.RPCAddress) == "" {
		return fmt.Errorf("RPCAddress must be provided")
	}
	if _, _, err := net.SplitHostPort(c.RPCAddress); err != nil {
		return fmt.Errorf("RPCAddress: %w", err)
	}
	if !c.InMemory && strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("DataDir must be provided unless InMemory is set")
	}
	if c.RPC.RequestsPerSecond < 0 {
		return fmt.Errorf("rpc: RequestsPerSecond must not be negative")
	}
	if c.RPC.RequestsPerSecond > 0 && c.RPC.Burst <= 0 {
		return fmt.Errorf("rpc: Burst must be positive when rate limiting is enabled")
	}
	if c.RPC.EventHistory < 0 || c.RPC.EventHistory > MaxEventHistory {
		return fmt.Errorf("rpc: EventHistory must be within [0, %d]", MaxEventHistory)
	}
	for name, v := range map[string]int{
		"ReadHeaderTimeout": c.RPC.ReadHeaderTimeout,
		"ReadTimeout":       c.RPC.ReadTimeout,
		"WriteTimeout":      c.RPC.WriteTimeout,
		"IdleTimeout":       c.RPC.IdleTimeout,
	} {
		if v < 0 {
			return fmt.Errorf("rpc: %s must not be negative", name)
		}
	}
	if c.Ledger.RentPerByte == 0 || c.Ledger.RentPerByte > MaxRentPerByte {
		return fmt.Errorf("ledger: RentPerByte must be within [1, %d]", MaxRentPerByte)
	}
	if c.Logging.File != "" && (c.Logging.MaxSizeMB < 0 || c.Logging.MaxBackups < 0 || c.Logging.MaxAgeDays < 0) {
		return fmt.Errorf("logging: rotation limits must not be negative")
	}
	if c.Telemetry.Enabled && strings.TrimSpace(c.Telemetry.Endpoint) == "" {
		return fmt.Errorf("telemetry: Endpoint must be provided when enabled")
	}
	return nil
}
