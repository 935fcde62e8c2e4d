package config

import (
	"bytes"
	"path/filepath"
	"text/template"

	cmtos "github.com/celestiaorg/mppay/libs/os"
)

// DefaultDirPerm is the default permissions used when creating directories.
const DefaultDirPerm = 0700

var configTemplate *template.Template

func init() {
	var err error
	tmpl := template.New("configFileTemplate")
	if configTemplate, err = tmpl.Parse(defaultConfigTemplate); err != nil {
		panic(err)
	}
}

/****** these are for production settings ***********/

// EnsureRoot creates the root, config, and data directories if they don't exist,
// and panics if it fails.
func EnsureRoot(rootDir string) {
	if err := cmtos.EnsureDir(rootDir, DefaultDirPerm); err != nil {
		panic(err.Error())
	}
	if err := cmtos.EnsureDir(filepath.Join(rootDir, defaultConfigDir), DefaultDirPerm); err != nil {
		panic(err.Error())
	}
	if err := cmtos.EnsureDir(filepath.Join(rootDir, defaultDataDir), DefaultDirPerm); err != nil {
		panic(err.Error())
	}

	configFilePath := filepath.Join(rootDir, defaultConfigFilePath)

	// Write default config file if missing.
	if !cmtos.FileExists(configFilePath) {
		writeDefaultConfigFile(configFilePath)
	}
}

func writeDefaultConfigFile(configFilePath string) {
	WriteConfigFile(configFilePath, DefaultConfig())
}

// WriteConfigFile renders config using the template and writes it to configFilePath.
func WriteConfigFile(configFilePath string, config *Config) {
	var buffer bytes.Buffer

	if err := configTemplate.Execute(&buffer, config); err != nil {
		panic(err)
	}

	cmtos.MustWriteFile(configFilePath, buffer.Bytes(), 0644)
}

// Note: any changes to the comments/variables/mapstructure
// must be reflected in the appropriate struct in config/config.go
const defaultConfigTemplate = `# This is a TOML config file.
# For more information, see https://github.com/toml-lang/toml

# NOTE: Any path below can be absolute (e.g. "/var/myawesomeapp/data") or
# relative to the home directory (e.g. "data"). The home directory is
# "$HOME/.mppay" by default, but could be changed via $MPPAY_HOME env variable
# or --home cmd flag.

#######################################################################
###                   Main Base Config Options                      ###
#######################################################################

# Output level for logging, one of "debug", "info", "error" or "none".
# Overridden by the mpp-log-level plugin option.
log_level = "{{ .BaseConfig.LogLevel }}"

# Where invoices and their preimages come from:
# * db (default)
#   - invoices registered with "mppay invoice add" or the mpp-addinvoice
#     RPC method, stored in the database below
# * rpc
#   - the node's listinvoices; only invoices exposing payment_preimage
#     can be settled
invoice_source = "{{ .BaseConfig.InvoiceSource }}"

# Database backend: goleveldb | memdb
db_backend = "{{ .BaseConfig.DBBackend }}"

# Database directory
db_dir = "{{ js .BaseConfig.DBPath }}"

#######################################################################
###                 Multi-Part Payment Configuration                ###
#######################################################################
[mpp]

# How long the parts of an incomplete payment are held before every one of
# them is failed. Overridden by the mpp-timeout plugin option (seconds).
htlc_timeout = "{{ .MPP.HTLCTimeout }}"

# Number of recently settled or failed payments kept for mpp-status.
closed_cache_size = {{ .MPP.ClosedCacheSize }}

#######################################################################
###                      Node RPC Configuration                     ###
#######################################################################
[rpc]

# The node's data directory. The value sent by the node on init wins.
lightning_dir = "{{ js .RPC.LightningDir }}"

# Name of the node's JSON-RPC socket, relative to lightning_dir.
rpc_file = "{{ js .RPC.RPCFile }}"

# Deadline for a single RPC call.
timeout = "{{ .RPC.Timeout }}"

#######################################################################
###                 Instrumentation Configuration                   ###
#######################################################################
[instrumentation]

# When true, Prometheus metrics are served under /metrics on
# PrometheusListenAddr.
# Check out the documentation for the list of available metrics.
prometheus = {{ .Instrumentation.Prometheus }}

# Address to listen for Prometheus collector(s) connections
prometheus_listen_addr = "{{ .Instrumentation.PrometheusListenAddr }}"

# Instrumentation namespace
namespace = "{{ .Instrumentation.Namespace }}"

# When true, a span is written to stderr for every HTLC handled.
tracing = {{ .Instrumentation.Tracing }}
`
