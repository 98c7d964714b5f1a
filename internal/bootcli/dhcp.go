package bootcli

import (
	"fmt"
	"net"
	"strconv"

	"github.com/marmos91/netboot/internal/cli/output"
	"github.com/marmos91/netboot/internal/settings"
	"github.com/spf13/cobra"
)

// dhcpCmd manages the Settings tree leaves a real DHCP negotiation
// would populate (ip-address, netmask, routers, static-routes, ...).
// Persisted state is never required: settings may be sourced from
// DHCP options, firmware variables (EFI), or scripted
// commands" — this verb is the scripted-command path: with no
// arguments it lists the device's current settings; with name=value
// arguments it assigns them, type-inferring ipv4/integer/string the way
// a DHCP option decoder would pick a field's representation.
var dhcpCmd = &cobra.Command{
	Use:   "dhcp [name=value ...]",
	Short: "Inspect or assign the device's Settings tree",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return listSettings(cmd)
		}
		for _, kv := range args {
			name, raw, err := splitAssignment(kv)
			if err != nil {
				return err
			}
			env.Dev.Settings.Set(name, 0, inferValue(raw))
		}
		return env.RefreshRoutes()
	},
}

func splitAssignment(kv string) (name, value string, err error) {
	for i := 0; i < len(kv); i++ {
		if kv[i] == '=' {
			return kv[:i], kv[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("dhcp: %q is not name=value", kv)
}

// inferValue picks the narrowest Settings type raw parses as: an IPv4
// dotted-quad, then a decimal integer, falling back to a plain string.
func inferValue(raw string) settings.Value {
	if ip := net.ParseIP(raw); ip != nil && ip.To4() != nil {
		return settings.Value{Type: settings.TypeIPv4, IPv4: ip.To4()}
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return settings.Value{Type: settings.TypeInteger, Int: n}
	}
	return settings.Value{Type: settings.TypeString, Str: raw}
}

func listSettings(cmd *cobra.Command) error {
	table := output.NewTableData("NAME", "TYPE", "VALUE")
	for _, name := range knownSettingNames {
		v, err := env.Dev.Settings.Get(name)
		if err != nil {
			continue
		}
		table.AddRow(name, v.Type.String(), formatValue(v))
	}
	return output.PrintTable(cmd.OutOrStdout(), table)
}

// knownSettingNames enumerates the settings bootcli commands read or
// write; unlike a real DHCP client this console has no option-table
// registry, so listing is over a fixed, documented set rather than a
// live walk of the Block's internal map.
var knownSettingNames = []string{
	"ip-address", "netmask", "routers", "static-routes",
	"bootfile-name", "next-server", "boot-uris", "root-path",
}

func formatValue(v settings.Value) string {
	switch v.Type {
	case settings.TypeIPv4:
		return v.IPv4.String()
	case settings.TypeInteger:
		return strconv.FormatInt(v.Int, 10)
	case settings.TypeBoolean:
		return strconv.FormatBool(v.Boolean)
	case settings.TypeHexBytes:
		return fmt.Sprintf("%x", v.Bytes)
	case settings.TypeUUID:
		return v.UUID.String()
	default:
		return v.Str
	}
}
