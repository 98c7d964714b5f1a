package bootcli

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRootCommandExposesSpecCLISurface(t *testing.T) {
	// Spec §6 CLI surface: dhcp, autoboot, boot <uri>, config, shell.
	want := map[string]bool{"dhcp": false, "autoboot": false, "boot": false, "config": false, "shell": false}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		assert.True(t, found, "rootCmd is missing the %q subcommand", name)
	}
}

func TestRootCommandSilencesUsageAndErrors(t *testing.T) {
	assert.True(t, rootCmd.SilenceUsage)
	assert.True(t, rootCmd.SilenceErrors)
}
