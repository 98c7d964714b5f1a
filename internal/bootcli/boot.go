package bootcli

import (
	"net"
	"net/url"
	"path"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/marmos91/netboot/internal/acpi"
	"github.com/marmos91/netboot/internal/buffer"
	"github.com/marmos91/netboot/internal/bzimage"
	"github.com/marmos91/netboot/internal/crypto/cms"
	"github.com/marmos91/netboot/internal/errcode"
	"github.com/marmos91/netboot/internal/httpclient"
	"github.com/marmos91/netboot/internal/logger"
	"github.com/marmos91/netboot/internal/nfs"
	"github.com/marmos91/netboot/internal/tftp"
	"github.com/marmos91/netboot/internal/uri"
	"github.com/marmos91/netboot/internal/xfer"
	"github.com/spf13/cobra"
)

// fetchTimeout bounds how long boot waits for a transfer to complete;
// a real firmware build has no such bound and simply never returns
// control until the kernel is loaded or the operator intervenes, but
// this console has to give back a shell prompt eventually.
const fetchTimeout = 30 * time.Second

var bootInitrdURI string

var bootCmd = &cobra.Command{
	Use:   "boot <uri>",
	Short: "Fetch and hand off to a kernel from a boot URI",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBoot(args[0], bootInitrdURI)
	},
}

func init() {
	bootCmd.Flags().StringVar(&bootInitrdURI, "initrd", "", "additional URI to fetch as an initrd")
}

// memSink accumulates a whole transfer into memory: every XferInterface
// consumer in this firmware (internal/bzimage's loader included) reads
// from a byte slice once a fetch completes, so the boot console never
// needs the streaming placement path a real low-memory platform would.
type memSink struct {
	data []byte
	done bool
	err  error
	// redirectTo captures an HTTP redirect target; the
	// caller re-runs the fetch against it rather than this sink trying
	// to recurse into a new session itself.
	redirectTo string
	// maxSize bounds total accumulated bytes; zero means unbounded.
	// Sourced from config.LimitsConfig.MaxImageSize.
	maxSize uint64
}

func (s *memSink) Deliver(buf *buffer.Buffer, _ xfer.Metadata) error {
	if s.maxSize > 0 && uint64(len(s.data)+buf.Len()) > s.maxSize {
		buf.Release()
		return errcode.New(errcode.NoBufs, "boot: fetch exceeded configured max image size of %d bytes", s.maxSize)
	}
	s.data = append(s.data, buf.Bytes()...)
	buf.Release()
	return nil
}

func (s *memSink) Seek(offset uint64) error {
	if offset > 0 && s.data == nil {
		s.data = make([]byte, 0, offset)
	}
	return nil
}

func (s *memSink) Redirect(target string) error {
	s.redirectTo = target
	s.done = true
	return nil
}

func (s *memSink) Close(reason error) error {
	s.err = reason
	s.done = true
	return nil
}

// runBoot parses kernelURI (and, if given, initrdURI), fetches both,
// parses the kernel as a bzImage, places both images, verifies a
// detached CMS signature when a trust store is configured, installs an
// iBFT descriptor for nfs/ib_srp sources, and hands off to the kernel.
func runBoot(kernelURI, initrdURI string) error {
	parsed, err := uri.Parse(kernelURI)
	if err != nil {
		return err
	}

	if parsed.Scheme == uri.SchemeIBSRP {
		return installIBFTOnly(parsed)
	}

	kernel, err := fetch(parsed)
	if err != nil {
		return err
	}
	logger.Info("boot: fetched kernel image", logger.URI(parsed.URL.String()), logger.StatusMsg(humanize.Bytes(uint64(len(kernel)))))

	if env.Trust.Configured() {
		if _, err := verifyDetached(kernel); err != nil {
			return errcode.Wrap(errcode.VerifyFailed, err, "boot: kernel signature verification failed")
		}
		env.Metrics.CMSVerification("ok")
	}

	var initrds []bzimage.Initrd
	var initrdAddrs []uint32
	if initrdURI != "" {
		initrdParsed, err := uri.Parse(initrdURI)
		if err != nil {
			return err
		}
		initrdData, err := fetch(initrdParsed)
		if err != nil {
			return err
		}
		logger.Info("boot: fetched initrd image", logger.URI(initrdParsed.URL.String()), logger.StatusMsg(humanize.Bytes(uint64(len(initrdData)))))
		initrds = append(initrds, bzimage.Initrd{Data: initrdData})
		initrdAddrs = append(initrdAddrs, 0)
	}

	loadStart := time.Now()
	ctx, err := bzimage.Parse(kernel)
	if err != nil {
		return err
	}

	mem := newFlatMemory()
	if err := ctx.PlaceKernel(mem, kernel); err != nil {
		return err
	}
	if len(initrds) > 0 {
		if err := ctx.PlaceInitrds(mem, initrds, initrdAddrs); err != nil {
			return err
		}
	}
	if err := ctx.SetCommandLine(mem, ""); err != nil {
		return err
	}
	env.Metrics.BzImageLoad(time.Since(loadStart))

	if parsed.Scheme == uri.SchemeNFS {
		installIBFTForNFS(parsed)
	}

	logger.Info("boot: handing off to kernel", logger.BootProto(uint16(ctx.Version)))
	return ctx.Handoff(mem, env.Platform)
}

// verifyDetached checks the downloaded image's appended detached PKCS#7
// signature. Signed images carry the signature as a trailing DER blob
// prefixed by a 4-byte big-endian length, a minimal convention since no
// companion ".sig" URI fetch is modeled here.
func verifyDetached(image []byte) (*cms.Result, error) {
	if len(image) < 4 {
		return nil, errcode.New(errcode.VerifyFailed, "boot: image too short to carry a signature trailer")
	}
	sigLen := int(image[len(image)-4])<<24 | int(image[len(image)-3])<<16 | int(image[len(image)-2])<<8 | int(image[len(image)-1])
	if sigLen <= 0 || sigLen+4 > len(image) {
		return nil, errcode.New(errcode.VerifyFailed, "boot: invalid signature trailer length %d", sigLen)
	}
	payload := image[:len(image)-4-sigLen]
	der := image[len(image)-4-sigLen : len(image)-4]
	return cms.Verify(der, payload, env.Trust)
}

func fetch(u *uri.BootURI) ([]byte, error) {
	switch u.Scheme {
	case uri.SchemeTFTP:
		return fetchTFTP(u.URL)
	case uri.SchemeHTTP, uri.SchemeHTTPS:
		return fetchHTTP(u.URL)
	case uri.SchemeNFS:
		return fetchNFS(u.URL)
	default:
		return nil, errcode.New(errcode.NotSupported, "boot: scheme %q is not a fetchable transport", u.Scheme)
	}
}

func hostIP(u *url.URL) (net.IP, error) {
	ip := net.ParseIP(u.Hostname())
	if ip == nil {
		return nil, errcode.New(errcode.InvalidArg, "boot: %q is not a numeric address (no DNS resolver in this firmware)", u.Hostname())
	}
	return ip, nil
}

func fetchTFTP(u *url.URL) ([]byte, error) {
	server, err := hostIP(u)
	if err != nil {
		return nil, err
	}

	sink := &memSink{maxSize: env.Config.Limits.MaxImageSize.Uint64()}
	client := tftp.NewClient(env.UDP, env.Iface, server)
	session, err := client.Get(u.Path, tftp.DefaultBlksize, sink)
	if err != nil {
		return nil, err
	}
	env.Sched.AddProcess(process{run: session.Run})

	if !env.drive(fetchTimeout, func() bool { return sink.done }) {
		return nil, errcode.New(errcode.TimedOut, "boot: tftp fetch of %s timed out", u)
	}
	if sink.err != nil {
		return nil, sink.err
	}
	return sink.data, nil
}

func fetchHTTP(u *url.URL) ([]byte, error) {
	if u.Scheme == string(uri.SchemeHTTPS) {
		logger.Warn("boot: https requested but this firmware has no TLS termination, fetching over plaintext TCP", logger.URI(u.String()))
	}

	server, err := hostIP(u)
	if err != nil {
		return nil, err
	}
	port := uint16(80)
	if p := u.Port(); p != "" {
		if n, perr := parsePort(p); perr == nil {
			port = n
		}
	}

	conn, err := env.dialTCP(server, port)
	if err != nil {
		return nil, err
	}

	sink := &memSink{maxSize: env.Config.Limits.MaxImageSize.Uint64()}
	session, err := httpclient.Get(conn, u, sink)
	if err != nil {
		return nil, err
	}
	env.Sched.AddProcess(process{run: session.Run})

	if !env.drive(fetchTimeout, func() bool { return sink.done }) {
		return nil, errcode.New(errcode.TimedOut, "boot: http fetch of %s timed out", u)
	}
	if sink.err != nil {
		return nil, sink.err
	}
	if sink.redirectTo != "" {
		redirected, err := uri.Parse(sink.redirectTo)
		if err != nil {
			return nil, err
		}
		return fetch(redirected)
	}
	return sink.data, nil
}

func parsePort(s string) (uint16, error) {
	var n uint16
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, errcode.New(errcode.InvalidArg, "boot: invalid port %q", s)
		}
		n = n*10 + uint16(c-'0')
	}
	return n, nil
}

// fetchNFS mounts u's directory component, traverses to the file, and
// reads it to EOF in BlockSize-aligned chunks, the way block-device
// mode reads a raw exported file.
func fetchNFS(u *url.URL) ([]byte, error) {
	server, err := hostIP(u)
	if err != nil {
		return nil, err
	}
	client := nfs.NewClient(env.UDP, env.Iface, server, "netboot")
	env.Sched.AddProcess(process{run: client.Run})

	dir, file := splitNFSPath(u.Path)

	var (
		root    nfs.FileHandle
		fh      nfs.FileHandle
		data    []byte
		offset  uint64
		stepErr error
		stepDone bool
	)

	client.Mount(dir, func(r nfs.FileHandle, remainder string, err error) {
		if err != nil {
			stepErr, stepDone = err, true
			return
		}
		root = r
		// remainder is non-empty when the server only exports a shorter
		// prefix of dir (spec §4.6/§8's mountpoint-shortening fallback);
		// resolve it alongside file from the shorter root.
		target := file
		if remainder != "" {
			target = path.Join(remainder, file)
		}
		client.Traverse(root, target, func(h nfs.FileHandle, err error) {
			if err != nil {
				stepErr, stepDone = err, true
				return
			}
			fh = h
			stepDone = true
		})
	})

	if !env.drive(fetchTimeout, func() bool { return stepDone }) {
		return nil, errcode.New(errcode.TimedOut, "boot: nfs mount/lookup of %s timed out", u)
	}
	if stepErr != nil {
		return nil, stepErr
	}

	for {
		stepDone = false
		var eof bool
		client.Read(fh, offset, nfs.BlockSize, func(chunk []byte, isEOF bool, err error) {
			if err != nil {
				stepErr, stepDone = err, true
				return
			}
			data = append(data, chunk...)
			offset += uint64(len(chunk))
			eof = isEOF
			stepDone = true
		})
		if !env.drive(fetchTimeout, func() bool { return stepDone }) {
			return nil, errcode.New(errcode.TimedOut, "boot: nfs read of %s timed out", u)
		}
		if stepErr != nil {
			return nil, stepErr
		}
		if eof {
			break
		}
	}
	return data, nil
}

func splitNFSPath(p string) (dir, file string) {
	i := len(p) - 1
	for i >= 0 && p[i] != '/' {
		i--
	}
	if i < 0 {
		return "/", p
	}
	return p[:i+1], p[i+1:]
}

// installIBFTOnly handles `boot ib_srp://...`: ib_srp describes an
// iSCSI/SRP disk target for the loaded OS, not a kernel source (spec
// §6's NFS-root-path form), so this path only publishes the iBFT
// descriptor and returns without fetching or handing off anything.
func installIBFTOnly(u *uri.BootURI) error {
	model := acpi.NewModel(env.Dev.Name)
	sess := model.AddSession(acpi.NIC{})
	sess.Target.SetAddress(net.IP(u.RootPath.DGID[:4]), 3260)

	mem := newFlatMemory()
	n, err := model.Install(mem, ibftDefaultAddress)
	if err != nil {
		return err
	}
	env.Metrics.IBFTInstall()
	logger.Info("boot: installed iBFT descriptor", logger.Size(uint64(n)))
	return nil
}

// installIBFTForNFS publishes an iBFT descriptor for a kernel that was
// itself fetched over NFS, recording the export server as the boot
// path the loaded OS should know about.
func installIBFTForNFS(u *uri.BootURI) {
	server, err := hostIP(u.URL)
	if err != nil {
		return
	}
	model := acpi.NewModel(env.Dev.Name)
	sess := model.AddSession(acpi.NIC{})
	sess.Target.SetAddress(server, 2049)

	mem := newFlatMemory()
	if _, err := model.Install(mem, ibftDefaultAddress); err != nil {
		logger.Warn("boot: ibft install failed", logger.Err(err))
		return
	}
	env.Metrics.IBFTInstall()
}

const ibftDefaultAddress = 0x000ff000
