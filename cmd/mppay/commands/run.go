package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/celestiaorg/mppay/libs/log"
	cmtos "github.com/celestiaorg/mppay/libs/os"
	"github.com/celestiaorg/mppay/node"
	"github.com/celestiaorg/mppay/plugin"
)

// RunPluginCmd runs the plugin session explicitly. It is what the root
// command does when started by the node.
var RunPluginCmd = &cobra.Command{
	Use:     "run",
	Aliases: []string{"start"},
	Short:   "Run the plugin on stdin and stdout",
	RunE:    runPlugin,
}

func runPlugin(cmd *cobra.Command, args []string) error {
	// the host logger applies the level itself, mpp-log-level can change it
	local := log.NewTMLogger(log.NewSyncWriter(os.Stderr))
	hostLogger, err := plugin.NewHostLogger(local, config.LogLevel)
	if err != nil {
		return err
	}

	n, err := node.NewNode(config, hostLogger, os.Stdin, os.Stdout)
	if err != nil {
		return fmt.Errorf("failed to create plugin: %w", err)
	}

	// Stop upon receiving SIGTERM or CTRL-C.
	cmtos.TrapSignal(logger, func() {
		if n.IsRunning() {
			if err := n.Stop(); err != nil {
				logger.Error("unable to stop the plugin", "error", err)
			}
		}
	})

	if err := n.Start(); err != nil {
		return fmt.Errorf("failed to start plugin: %w", err)
	}
	logger.Info("Started plugin", "home", config.RootDir, "invoice_source", config.InvoiceSource)

	// the node closes our stdin when it shuts down
	select {
	case <-n.Done():
	case <-n.Quit():
		return nil
	}
	if err := n.Plugin().ReadErr(); err != nil {
		logger.Error("Lost connection to node", "err", err)
	}
	if n.IsRunning() {
		return n.Stop()
	}
	return nil
}
