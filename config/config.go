package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"tipjar/native/tipjar"
)

// EnvEnvironment overrides the configured deployment environment.
const EnvEnvironment = "TIPJAR_ENV"

type Config struct {
	RPCAddress  string `toml:"RPCAddress"`
	DataDir     string `toml:"DataDir"`
	GenesisFile string `toml:"GenesisFile"`
	Environment string `toml:"Environment"`
	// InMemory keeps all state in process memory. Intended for tests and
	// throwaway local nodes.
	InMemory bool `toml:"InMemory"`

	RPC       RPC       `toml:"rpc"`
	Logging   Logging   `toml:"logging"`
	Telemetry Telemetry `toml:"telemetry"`
	Ledger    Ledger    `toml:"ledger"`
	Audit     Audit     `toml:"audit"`
}

// Default returns the configuration written by Load when no file exists.
func Default() *Config {
	return &Config{
		RPCAddress:  "127.0.0.1:8545",
		DataDir:     "./tipjar-data",
		GenesisFile: "",
		Environment: "dev",
		RPC: RPC{
			RequestsPerSecond: 20,
			Burst:             40,
			ReadHeaderTimeout: 5,
			ReadTimeout:       15,
			WriteTimeout:      15,
			IdleTimeout:       60,
			EventHistory:      1024,
			OperatorSecretEnv: "TIPJAR_OPERATOR_SECRET",
			OperatorIssuer:    "tipjar-operator",
		},
		Logging: Logging{
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
		Telemetry: Telemetry{
			Endpoint: "localhost:4318",
			Insecure: true,
			Metrics:  true,
			Traces:   true,
		},
		Ledger: Ledger{RentPerByte: tipjar.DefaultRentPerByte},
		Audit:  Audit{Enabled: true},
	}
}

// Load loads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	} else if err != nil {
		return nil, err
	}

	cfg := Default()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}
	cfg.applyEnv()
	cfg.resolvePaths(path)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if env := strings.TrimSpace(os.Getenv(EnvEnvironment)); env != "" {
		c.Environment = env
	}
}

// resolvePaths anchors relative file paths at the config file's directory.
func (c *Config) resolvePaths(configPath string) {
	dir := filepath.Dir(configPath)
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}
	c.DataDir = resolve(c.DataDir)
	c.GenesisFile = resolve(c.GenesisFile)
	c.Logging.File = resolve(c.Logging.File)
	c.Audit.Path = resolve(c.Audit.Path)
}

// AuditPath returns the audit database location, defaulting to a file in the
// data directory.
func (c *Config) AuditPath() string {
	if strings.TrimSpace(c.Audit.Path) != "" {
		return c.Audit.Path
	}
	return filepath.Join(c.DataDir, "audit.db")
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	cfg.resolvePaths(path)
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
