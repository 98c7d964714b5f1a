package bootcli

import (
	"fmt"
	"os"

	"github.com/marmos91/netboot/internal/config"
	"github.com/marmos91/netboot/internal/logger"
	"github.com/spf13/cobra"
)

var (
	configPath string
	devName    string
	env        *Environment
)

var rootCmd = &cobra.Command{
	Use:           "netboot",
	Short:         "Netboot firmware console",
	SilenceUsage:  true,
	SilenceErrors: true,
	// PersistentPreRunE builds the Environment once per process. The
	// shell command re-enters rootCmd.Execute for every typed line (see
	// shell.go), so this must be idempotent or each line would lose the
	// previous one's settings assignments and connections.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if env != nil {
			return nil
		}

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if err := logger.Init(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: cfg.Logging.Output}); err != nil {
			return err
		}

		env = NewEnvironment(devName)
		env.Config = cfg
		if cfg.Trust.RootsPath != "" {
			store, err := loadTrustStore(cfg.Trust.RootsPath)
			if err != nil {
				logger.Warn("trust store load failed", logger.Err(err))
			} else {
				env.Trust = store
			}
		}
		return env.Open()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default: XDG config dir)")
	rootCmd.PersistentFlags().StringVar(&devName, "device", "net0", "NetDevice name to bind the boot console to")

	rootCmd.AddCommand(dhcpCmd, autobootCmd, bootCmd, configCmd, shellCmd)
}

// Execute runs the console's root command, returning whatever error the
// selected subcommand produced.
func Execute() error {
	return rootCmd.Execute()
}

// Main is cmd/netboot's entrypoint body: run the console, reporting any
// error to stderr and exiting non-zero, the way cmd/dfs/main.go does.
func Main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "netboot:", err)
		os.Exit(1)
	}
}
