package bootcli

import (
	"fmt"
	"strings"

	"github.com/marmos91/netboot/internal/logger"
	"github.com/spf13/cobra"
)

// bootURIsSetting holds a comma-separated, priority-ordered list of boot
// URIs, the scripted-settings equivalent of a DHCP boot-file/root-path
// pair or an EFI boot-order variable.
const bootURIsSetting = "boot-uris"

var autobootCmd = &cobra.Command{
	Use:   "autoboot",
	Short: "Try each configured boot URI in order until one succeeds",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAutoboot(cmd)
	},
}

func runAutoboot(cmd *cobra.Command) error {
	raw, err := env.Dev.Settings.GetString(bootURIsSetting)
	if err != nil {
		return fmt.Errorf("autoboot: no %q setting configured", bootURIsSetting)
	}

	var lastErr error
	for _, candidate := range strings.Split(raw, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		logger.Info("autoboot: attempting", logger.URI(candidate))
		if err := runBoot(candidate, ""); err != nil {
			logger.Warn("autoboot: candidate failed", logger.URI(candidate), logger.Err(err))
			lastErr = err
			continue
		}
		return nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("autoboot: %q produced no candidates", bootURIsSetting)
	}
	return fmt.Errorf("autoboot: exhausted all boot candidates: %w", lastErr)
}
