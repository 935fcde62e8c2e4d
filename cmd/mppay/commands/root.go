package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cfg "github.com/celestiaorg/mppay/config"
	"github.com/celestiaorg/mppay/libs/log"
)

const (
	// HomeFlag is the flag setting the plugin's home directory.
	HomeFlag = "home"
	// LogLevelFlag is the flag setting the log level.
	LogLevelFlag = "log_level"

	envPrefix = "MPPAY"
)

var (
	config = cfg.DefaultConfig()
	// stdout belongs to the plugin protocol
	logger = log.NewTMLogger(log.NewSyncWriter(os.Stderr))
)

func init() {
	registerFlagsRootCmd(RootCmd)
}

func registerFlagsRootCmd(cmd *cobra.Command) {
	cmd.PersistentFlags().String(HomeFlag, defaultHome(), "directory for config and data")
	cmd.PersistentFlags().String(LogLevelFlag, config.LogLevel, "log level: debug, info, error or none")
}

func defaultHome() string {
	if home := os.Getenv(envPrefix + "_HOME"); home != "" {
		return home
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return cfg.DefaultMppayDir
	}
	return filepath.Join(home, cfg.DefaultMppayDir)
}

// ParseConfig retrieves the default environment configuration, sets up the
// plugin's home directory and ensures that all directories and files exist.
func ParseConfig(cmd *cobra.Command) (*cfg.Config, error) {
	v := viper.New()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, err
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	home := v.GetString(HomeFlag)
	v.SetConfigFile(filepath.Join(home, cfg.DefaultConfigDir, cfg.DefaultConfigFileName))
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	conf := cfg.DefaultConfig()
	if err := v.Unmarshal(conf); err != nil {
		return nil, err
	}
	conf.SetRoot(home)
	cfg.EnsureRoot(conf.RootDir)
	if err := conf.ValidateBasic(); err != nil {
		return nil, fmt.Errorf("error in config file: %w", err)
	}
	return conf, nil
}

// RootCmd is the root command for mppay. Run without a subcommand it speaks
// the plugin protocol on stdin and stdout, which is how the node starts it.
var RootCmd = &cobra.Command{
	Use:   "mppay",
	Short: "Multi-part payment aggregator plugin for Lightning nodes",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) (err error) {
		if cmd.Name() == VersionCmd.Name() {
			return nil
		}

		config, err = ParseConfig(cmd)
		if err != nil {
			return err
		}

		option, err := log.AllowLevel(config.LogLevel)
		if err != nil {
			return err
		}
		logger = log.NewFilter(logger, option)
		logger = logger.With("module", "main")
		return nil
	},
	RunE:          runPlugin,
	SilenceUsage:  true,
	SilenceErrors: false,
}
