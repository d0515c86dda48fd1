package config

// RPC controls the JSON-RPC listener and its admission limits.
type RPC struct {
	// RequestsPerSecond is the sustained per-client request rate. Zero
	// disables rate limiting.
	RequestsPerSecond float64 `toml:"RequestsPerSecond"`
	Burst             int     `toml:"Burst"`
	ReadHeaderTimeout int     `toml:"ReadHeaderTimeout"` // seconds
	ReadTimeout       int     `toml:"ReadTimeout"`       // seconds
	WriteTimeout      int     `toml:"WriteTimeout"`      // seconds
	IdleTimeout       int     `toml:"IdleTimeout"`       // seconds
	// EventHistory bounds the number of past events replayed to new
	// websocket subscribers.
	EventHistory int `toml:"EventHistory"`
	// OperatorSecretEnv names the environment variable holding the HS256
	// secret that guards operator methods such as the audit log. Unset or
	// empty leaves those methods open.
	OperatorSecretEnv string `toml:"OperatorSecretEnv"`
	OperatorIssuer    string `toml:"OperatorIssuer"`
}

// Logging selects where structured logs are written. An empty File logs to
// stdout only.
type Logging struct {
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
	Compress   bool   `toml:"Compress"`
}

// Telemetry configures OTLP export of traces and metrics.
type Telemetry struct {
	Enabled  bool   `toml:"Enabled"`
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Metrics  bool   `toml:"Metrics"`
	Traces   bool   `toml:"Traces"`
}

// Ledger holds the economic parameters of the state machine.
type Ledger struct {
	// RentPerByte prices the allocation fee of every new record.
	RentPerByte uint64 `toml:"RentPerByte"`
}

// Audit configures the operator audit log of submitted instructions.
type Audit struct {
	Enabled bool   `toml:"Enabled"`
	Path    string `toml:"Path"`
}
