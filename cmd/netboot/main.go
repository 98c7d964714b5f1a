// Command netboot is the firmware console entrypoint: it wires the
// bootcli command tree (dhcp/autoboot/boot/config/shell) to os.Args
// and reports failures the same way any cobra-based daemon entrypoint
// does.
package main

import "github.com/marmos91/netboot/internal/bootcli"

func main() {
	bootcli.Main()
}
