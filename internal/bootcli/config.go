package bootcli

import (
	"fmt"

	"github.com/marmos91/netboot/internal/cli/output"
	"github.com/marmos91/netboot/internal/config"
	"github.com/spf13/cobra"
)

var configSavePath string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or persist the ambient daemon configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		if configSavePath != "" {
			if err := config.Save(env.Config, configSavePath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved to %s\n", configSavePath)
			return nil
		}
		return output.SimpleTable(cmd.OutOrStdout(), [][2]string{
			{"logging.level", env.Config.Logging.Level},
			{"logging.format", env.Config.Logging.Format},
			{"logging.output", env.Config.Logging.Output},
			{"metrics.enabled", fmt.Sprintf("%t", env.Config.Metrics.Enabled)},
			{"metrics.addr", env.Config.Metrics.Addr},
			{"trust.roots_path", env.Config.Trust.RootsPath},
			{"limits.max_image_size", env.Config.Limits.MaxImageSize.String()},
		})
	},
}

func init() {
	configCmd.Flags().StringVar(&configSavePath, "save", "", "write the active configuration to this path")
}
