package bootcli

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Run an interactive command loop over stdin",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runShell(cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

// runShell is the console's interactive loop: a line is split into a
// verb and arguments and dispatched through rootCmd exactly as a single
// invocation from a real shell would be, so every bootcli command
// behaves identically whether typed once or run inside this loop.
// Firmware consoles conventionally stay resident until told to exit;
// "exit"/"quit" are the two spellings this one recognizes.
func runShell(in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	fmt.Fprintln(out, "netboot console. type 'exit' to leave.")

	for {
		fmt.Fprint(out, "netboot> ")
		if !scanner.Scan() {
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}

		args := strings.Fields(line)
		rootCmd.SetArgs(args)
		if err := rootCmd.Execute(); err != nil {
			fmt.Fprintln(out, "error:", err)
		}
	}
}
