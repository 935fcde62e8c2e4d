package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"
)

const (
	// InvoiceSourceDB serves invoices from the plugin's own database.
	InvoiceSourceDB = "db"
	// InvoiceSourceRPC asks the node for invoices over its JSON-RPC socket.
	InvoiceSourceRPC = "rpc"

	// DefaultHTLCTimeout bounds how long a partial payment may hold HTLCs.
	DefaultHTLCTimeout = 300 * time.Second

	DefaultLogLevel = "info"
)

// NOTE: Most of the structs & relevant comments + the
// default configuration options were used to manually
// generate the config.toml. Please reflect any changes
// made here in the defaultConfigTemplate constant in
// config/toml.go
var (
	DefaultMppayDir = ".mppay"

	defaultConfigDir = "config"
	defaultDataDir   = "data"

	defaultConfigFileName = "config.toml"

	defaultConfigFilePath = filepath.Join(defaultConfigDir, defaultConfigFileName)
)

// DefaultConfigDir and DefaultDataDir are exported for the CLI and tests.
var (
	DefaultConfigDir      = defaultConfigDir
	DefaultDataDir        = defaultDataDir
	DefaultConfigFileName = defaultConfigFileName
)

// Config defines the top level configuration for the mppay plugin.
type Config struct {
	// Top level options use an anonymous struct
	BaseConfig `mapstructure:",squash"`

	// Options for services
	MPP             *MPPConfig             `mapstructure:"mpp"`
	RPC             *RPCConfig             `mapstructure:"rpc"`
	Instrumentation *InstrumentationConfig `mapstructure:"instrumentation"`
}

// DefaultConfig returns a default configuration for the mppay plugin.
func DefaultConfig() *Config {
	return &Config{
		BaseConfig:      DefaultBaseConfig(),
		MPP:             DefaultMPPConfig(),
		RPC:             DefaultRPCConfig(),
		Instrumentation: DefaultInstrumentationConfig(),
	}
}

// TestConfig returns a configuration that can be used for testing.
func TestConfig() *Config {
	return &Config{
		BaseConfig:      TestBaseConfig(),
		MPP:             TestMPPConfig(),
		RPC:             DefaultRPCConfig(),
		Instrumentation: TestInstrumentationConfig(),
	}
}

// SetRoot sets the RootDir for all Config structs.
func (cfg *Config) SetRoot(root string) *Config {
	cfg.BaseConfig.RootDir = root
	return cfg
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *Config) ValidateBasic() error {
	if err := cfg.BaseConfig.ValidateBasic(); err != nil {
		return err
	}
	if err := cfg.MPP.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [mpp] section: %w", err)
	}
	if err := cfg.RPC.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [rpc] section: %w", err)
	}
	if err := cfg.Instrumentation.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [instrumentation] section: %w", err)
	}
	return nil
}

//-----------------------------------------------------------------------------
// BaseConfig

// BaseConfig defines the base configuration for the mppay plugin.
type BaseConfig struct {
	// The root directory for all data.
	// This should be set in viper so it can unmarshal into this struct
	RootDir string `mapstructure:"home"`

	// Output level for logging
	LogLevel string `mapstructure:"log_level"`

	// Where invoices and their preimages come from: "db" or "rpc"
	InvoiceSource string `mapstructure:"invoice_source"`

	// Database backend for the invoice store: goleveldb | memdb
	DBBackend string `mapstructure:"db_backend"`

	// Database directory
	DBPath string `mapstructure:"db_dir"`
}

// DefaultBaseConfig returns a default base configuration for the plugin.
func DefaultBaseConfig() BaseConfig {
	return BaseConfig{
		LogLevel:      DefaultLogLevel,
		InvoiceSource: InvoiceSourceDB,
		DBBackend:     "goleveldb",
		DBPath:        "data",
	}
}

// TestBaseConfig returns a base configuration for testing.
func TestBaseConfig() BaseConfig {
	cfg := DefaultBaseConfig()
	cfg.DBBackend = "memdb"
	return cfg
}

// DBDir returns the full path to the database directory.
func (cfg BaseConfig) DBDir() string {
	return rootify(cfg.DBPath, cfg.RootDir)
}

// ValidateBasic performs basic validation and returns an error if any check
// fails.
func (cfg BaseConfig) ValidateBasic() error {
	switch cfg.LogLevel {
	case "debug", "info", "error", "none":
	default:
		return fmt.Errorf("unknown log_level %q", cfg.LogLevel)
	}
	switch cfg.InvoiceSource {
	case InvoiceSourceDB, InvoiceSourceRPC:
	default:
		return fmt.Errorf("unknown invoice_source %q", cfg.InvoiceSource)
	}
	if cfg.InvoiceSource == InvoiceSourceDB && cfg.DBBackend == "" {
		return errors.New("db_backend can't be empty")
	}
	return nil
}

//-----------------------------------------------------------------------------
// MPPConfig

// MPPConfig defines the configuration options for the multi-part payment
// aggregator.
type MPPConfig struct {
	// How long the parts of an incomplete payment are held before all of
	// them are failed.
	HTLCTimeout time.Duration `mapstructure:"htlc_timeout"`

	// Number of recently closed payments remembered for diagnostics.
	ClosedCacheSize int `mapstructure:"closed_cache_size"`
}

// DefaultMPPConfig returns a default configuration for the aggregator.
func DefaultMPPConfig() *MPPConfig {
	return &MPPConfig{
		HTLCTimeout:     DefaultHTLCTimeout,
		ClosedCacheSize: 1024,
	}
}

// TestMPPConfig returns a configuration for testing the aggregator.
func TestMPPConfig() *MPPConfig {
	cfg := DefaultMPPConfig()
	cfg.HTLCTimeout = 200 * time.Millisecond
	cfg.ClosedCacheSize = 16
	return cfg
}

// ValidateBasic performs basic validation and returns an error if any check
// fails.
func (cfg *MPPConfig) ValidateBasic() error {
	if cfg.HTLCTimeout <= 0 {
		return errors.New("htlc_timeout must be positive")
	}
	if cfg.ClosedCacheSize <= 0 {
		return errors.New("closed_cache_size must be positive")
	}
	return nil
}

//-----------------------------------------------------------------------------
// RPCConfig

// RPCConfig defines how to reach the node's JSON-RPC unix socket.
type RPCConfig struct {
	// Node data directory. Overridden by the value the node sends on init.
	LightningDir string `mapstructure:"lightning_dir"`

	// Socket file name, relative to LightningDir unless absolute.
	RPCFile string `mapstructure:"rpc_file"`

	// Deadline for a single RPC call.
	Timeout time.Duration `mapstructure:"timeout"`
}

// DefaultRPCConfig returns a default configuration for the node RPC client.
func DefaultRPCConfig() *RPCConfig {
	return &RPCConfig{
		RPCFile: "lightning-rpc",
		Timeout: 10 * time.Second,
	}
}

// RPCPath returns the absolute path to the node's socket.
func (cfg *RPCConfig) RPCPath() string {
	return rootify(cfg.RPCFile, cfg.LightningDir)
}

// ValidateBasic performs basic validation and returns an error if any check
// fails.
func (cfg *RPCConfig) ValidateBasic() error {
	if cfg.RPCFile == "" {
		return errors.New("rpc_file can't be empty")
	}
	if cfg.Timeout < 0 {
		return errors.New("timeout can't be negative")
	}
	return nil
}

//-----------------------------------------------------------------------------
// InstrumentationConfig

// InstrumentationConfig defines the configuration for metrics reporting.
type InstrumentationConfig struct {
	// When true, Prometheus metrics are served under /metrics on
	// PrometheusListenAddr.
	// Check out the documentation for the list of available metrics.
	Prometheus bool `mapstructure:"prometheus"`

	// Address to listen for Prometheus collector(s) connections.
	PrometheusListenAddr string `mapstructure:"prometheus_listen_addr"`

	// Instrumentation namespace.
	Namespace string `mapstructure:"namespace"`

	// When true, spans for every handled HTLC are exported to stderr.
	Tracing bool `mapstructure:"tracing"`
}

// DefaultInstrumentationConfig returns a default configuration for metrics
// reporting.
func DefaultInstrumentationConfig() *InstrumentationConfig {
	return &InstrumentationConfig{
		Prometheus:           false,
		PrometheusListenAddr: ":26660",
		Namespace:            "mppay",
		Tracing:              false,
	}
}

// TestInstrumentationConfig returns a default configuration for metrics
// reporting.
func TestInstrumentationConfig() *InstrumentationConfig {
	return DefaultInstrumentationConfig()
}

// ValidateBasic performs basic validation and returns an error if any check
// fails.
func (cfg *InstrumentationConfig) ValidateBasic() error {
	if cfg.Prometheus && cfg.PrometheusListenAddr == "" {
		return errors.New("prometheus_listen_addr can't be empty when prometheus is enabled")
	}
	return nil
}

//-----------------------------------------------------------------------------
// Utils

// helper function to make config creation independent of root dir
func rootify(path, root string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}
