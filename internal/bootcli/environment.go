// Package bootcli wires the protocol engine (internal/scheduler,
// internal/netdevice, internal/ipv4, internal/tftp, internal/httpclient,
// internal/nfs, internal/bzimage, internal/crypto/cms, internal/acpi)
// behind a spf13/cobra console: one *cobra.Command per verb, a
// package-level rootCmd, and an Execute() entrypoint. Verbs cover the
// firmware's console surface: dhcp, autoboot, boot <uri>, config, shell.
package bootcli

import (
	"net"
	"time"

	"github.com/marmos91/netboot/internal/arp"
	"github.com/marmos91/netboot/internal/buffer"
	"github.com/marmos91/netboot/internal/config"
	"github.com/marmos91/netboot/internal/crypto/cms"
	"github.com/marmos91/netboot/internal/ipv4"
	"github.com/marmos91/netboot/internal/linklayer"
	"github.com/marmos91/netboot/internal/metrics"
	"github.com/marmos91/netboot/internal/netdevice"
	"github.com/marmos91/netboot/internal/netdevice/loopback"
	"github.com/marmos91/netboot/internal/platform"
	"github.com/marmos91/netboot/internal/scheduler"
	"github.com/marmos91/netboot/internal/settings"
	"github.com/marmos91/netboot/internal/transport/tcp"
	"github.com/marmos91/netboot/internal/transport/udp"
)

// Environment bundles one process's worth of protocol-engine state: the
// poll loop, the single NetDevice this firmware build drives, and the
// layers stacked above it. Everything bootcli's commands touch hangs
// off one Environment, mirroring how cmd/dfs's runStart builds a single
// runtime.Runtime and threads it through the command tree.
type Environment struct {
	Sched *scheduler.Scheduler
	Root  *settings.Block

	Dev   *netdevice.NetDevice
	Disp  *linklayer.Dispatcher
	ARP   *arp.Resolver
	Table *ipv4.RoutingTable
	IP    *ipv4.Stack
	Iface *ipv4.Interface
	UDP   *udp.Stack
	TCP   *tcp.Stack

	Trust    cms.TrustStore
	Platform platform.Collaborator
	Metrics  *metrics.Registry
	Config   *config.Config
}

// dispatchHandler adapts a linklayer.Dispatcher to netdevice.ProtocolHandler
// so it can be registered directly against a NetDevice's protocol demux.
type dispatchHandler struct{ disp *linklayer.Dispatcher }

func (h dispatchHandler) Receive(buf *buffer.Buffer, dev *netdevice.NetDevice, _, _ []byte, _ int) error {
	h.disp.RX(buf, dev)
	return nil
}

// NewEnvironment builds one NetDevice (named devName) bound to a
// loopback driver and stacks the full link/ARP/IPv4/UDP/TCP engine on
// top of it, the way internal/netdevice/loopback's own tests wire a
// single device end to end. A real NIC driver is a platform seam
// (internal/platform) this module does not implement (spec non-goal:
// individual NIC register sequences); loopback is the only Driver this
// repository carries, used here for both local testing and the
// link-local fallback path.
func NewEnvironment(devName string) *Environment {
	sched := scheduler.New(nil)
	root := settings.NewRoot()

	drv := loopback.New()
	dev := netdevice.New(devName, drv, randomHWAddr(), linklayer.Broadcast(), 1500, root)
	drv.Bind(dev)

	disp := linklayer.NewDispatcher(linklayer.EthernetFramer{})
	dev.RegisterProtocol(loopback.Protocol, dispatchHandler{disp})

	arpResolver := arp.New(dev, sched, disp)

	table := ipv4.NewRoutingTable()
	ipStack := ipv4.NewStack(table, sched)

	iface := &ipv4.Interface{Dev: dev, Dispatcher: disp, ARP: arpResolver}
	ipStack.Bind(disp, iface)
	arpResolver.SetOwnershipCheck(iface.Owns)

	udpStack := udp.NewStack(ipStack)
	tcpStack := tcp.NewStack(ipStack, sched)

	sched.RegisterDevice(dev)

	return &Environment{
		Sched:    sched,
		Root:     root,
		Dev:      dev,
		Disp:     disp,
		ARP:      arpResolver,
		Table:    table,
		IP:       ipStack,
		Iface:    iface,
		UDP:      udpStack,
		TCP:      tcpStack,
		Platform: platform.Unsupported{},
	}
}

// randomHWAddr returns a locally-administered Ethernet address. The
// loopback driver never inspects peer addressing, so a fixed
// placeholder is enough; a real NIC driver would report its own
// burned-in address instead.
func randomHWAddr() []byte {
	return []byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
}

// Open brings the environment's NetDevice up and derives its initial
// routing table from whatever address settings are already present.
func (e *Environment) Open() error {
	if err := e.Dev.Open(); err != nil {
		return err
	}
	return e.RefreshRoutes()
}

// RefreshRoutes recomputes the routing table from the interface's
// current address/gateway/static-route settings: routes are
// re-derived whenever those settings change.
func (e *Environment) RefreshRoutes() error {
	addr, err := e.Dev.Settings.GetIPv4(ipv4.SettingAddress)
	if err == nil {
		e.Iface.Addr = addr
	}
	mask, err := e.Dev.Settings.GetIPv4(ipv4.SettingNetmask)
	if err == nil {
		m := mask.To4()
		e.Iface.Netmask = net.IPMask(m)
	}

	routes, err := ipv4.DeriveRoutes(e.Iface, e.Dev.Settings)
	if err != nil {
		return err
	}
	e.Table.SetRoutes(routes)
	return nil
}

// process adapts a bare poll function to scheduler.Process, so bootcli
// can hand a session's Run method (tftp.Session, httpclient.Session,
// nfs.Client) to AddProcess as a method value.
type process struct{ run func() bool }

func (p process) Run() bool { return p.run() }

// dialTCP opens a connection through e.TCP, driving the poll loop on a
// background goroutine while Dial blocks waiting for the handshake to
// complete. tcp.Stack.Dial only returns once its SYN/SYN-ACK exchange
// resolves, so something has to keep calling RunOnce concurrently or
// the loopback driver never sees the segments that would resolve it.
func (e *Environment) dialTCP(dst net.IP, dstPort uint16) (*tcp.Conn, error) {
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
			}
			if !e.Sched.RunOnce() {
				time.Sleep(time.Millisecond)
			}
		}
	}()

	conn, err := e.TCP.Dial(e.Iface, dst, dstPort)
	close(stop)
	<-done
	return conn, err
}

// drive runs the poll loop until done reports true or the deadline
// elapses, returning false in the latter case. This is the
// single-threaded stand-in for what a real firmware build does by
// returning to its outer HLT loop: bootcli has no outer loop to return
// to, so it bounds the wait instead.
func (e *Environment) drive(deadline time.Duration, done func() bool) bool {
	until := time.Now().Add(deadline)
	for !done() {
		if !e.Sched.RunOnce() {
			if time.Now().After(until) {
				return false
			}
			time.Sleep(time.Millisecond)
		}
	}
	return true
}
