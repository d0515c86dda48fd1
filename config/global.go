package config

import (
	"os"
	"strings"
	"time"

	"tipjar/native/tipjar"
)

// FeeSchedule returns the allocation fee schedule for the configured rent.
func (c *Config) FeeSchedule() tipjar.FeeSchedule {
	return tipjar.FeeSchedule{RentPerByte: c.Ledger.RentPerByte}
}

func seconds(v int) time.Duration { return time.Duration(v) * time.Second }

// Timeouts are the HTTP server timeouts derived from the rpc section.
type Timeouts struct {
	ReadHeader time.Duration
	Read       time.Duration
	Write      time.Duration
	Idle       time.Duration
}

// Timeouts converts the configured second counts into durations.
func (r RPC) Timeouts() Timeouts {
	return Timeouts{
		ReadHeader: seconds(r.ReadHeaderTimeout),
		Read:       seconds(r.ReadTimeout),
		Write:      seconds(r.WriteTimeout),
		Idle:       seconds(r.IdleTimeout),
	}
}

// OperatorSecret resolves the operator token secret from the configured
// environment variable.
func (r RPC) OperatorSecret() string {
	if strings.TrimSpace(r.OperatorSecretEnv) == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(r.OperatorSecretEnv))
}
