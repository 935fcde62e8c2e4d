package commands

import (
	"path/filepath"

	"github.com/spf13/cobra"

	cfg "github.com/celestiaorg/mppay/config"
	cmtos "github.com/celestiaorg/mppay/libs/os"
)

// InitFilesCmd writes the default config and creates the data directory.
var InitFilesCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the mppay home directory",
	RunE:  initFiles,
}

func initFiles(cmd *cobra.Command, args []string) error {
	return initFilesWithConfig(config)
}

func initFilesWithConfig(config *cfg.Config) error {
	configFile := filepath.Join(config.RootDir, cfg.DefaultConfigDir, cfg.DefaultConfigFileName)
	if cmtos.FileExists(configFile) {
		logger.Info("Found config file", "path", configFile)
	} else {
		cfg.WriteConfigFile(configFile, config)
		logger.Info("Generated config file", "path", configFile)
	}

	if err := cmtos.EnsureDir(config.DBDir(), cfg.DefaultDirPerm); err != nil {
		return err
	}
	logger.Info("Initialized data directory", "path", config.DBDir())
	return nil
}
