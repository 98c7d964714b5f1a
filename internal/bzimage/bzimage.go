package bzimage

import (
	"github.com/marmos91/netboot/internal/errcode"
	"github.com/marmos91/netboot/internal/logger"
	"github.com/marmos91/netboot/internal/platform"
)

// Memory is the write seam segment placement and initrd placement go
// through. A real platform backs this with physical memory; tests back
// it with an in-memory recorder. Addresses are absolute physical
// addresses throughout this package.
type Memory interface {
	WriteAt(addr uint32, data []byte) error
}

// Context holds everything computed from a bzImage header needed to
// place segments, build a command line, and hand off to the kernel.
// Mirrors the Linux boot protocol's bzimage_context struct field for
// field, renamed to Go conventions.
type Context struct {
	hdr header

	Version int

	RMSegment       uint16 // real-mode load segment
	RMFileSize      int    // bytes copied into the real-mode segment
	RMMemSize       int    // total real-mode region size (file + heap + stack + cmdline)
	RMHeapOffset    int    // offset from RMSegment base to the heap top
	RMCmdlineOffset int    // offset from RMSegment base to the command line
	CmdlineMaxSize  int

	PMAddress uint32 // protected-mode load address
	PMSize    int    // protected-mode portion size

	VidMode uint16
	MemLimit uint64

	RamdiskImage uint32
	RamdiskSize  uint32

	cmdlineMagic cmdlineMagicSidecar
}

// Parse validates and parses a bzImage file, computing segment
// placement the way bzimage_parse_header does.
func Parse(image []byte) (*Context, error) {
	hdr, err := parseHeader(image)
	if err != nil {
		return nil, err
	}
	if hdr.Version < 0x0200 {
		return nil, errcode.New(errcode.NotSupported, "bzimage: boot protocol %#04x predates 2.00, unsupported", hdr.Version)
	}

	c := &Context{hdr: hdr, Version: int(hdr.Version)}

	c.RMFileSize = hdr.realModeFileSize()
	if c.RMFileSize > len(image) {
		return nil, errcode.New(errcode.InvalidArg, "bzimage: image too short for %d bytes of setup", c.RMFileSize)
	}
	c.PMSize = len(image) - c.RMFileSize

	isHigh := hdr.isLoadHigh()
	if isHigh {
		c.RMSegment = 0x1000
		c.PMAddress = loadHighAddr
	} else {
		c.RMSegment = 0x9000
		c.PMAddress = loadLowAddr
	}

	c.RMMemSize = assumedRMSize + stackSize
	c.RMHeapOffset = c.RMMemSize
	c.RMCmdlineOffset = c.RMMemSize
	c.CmdlineMaxSize = hdr.cmdlineSize()
	c.RMMemSize += c.CmdlineMaxSize

	c.VidMode = hdr.VidMode
	c.MemLimit = uint64(hdr.initrdAddrMax())

	logger.Debug("bzimage: parsed header",
		logger.BootProto(hdr.Version),
		logger.LoadAddr(c.PMAddress))

	return c, nil
}

// rmBase returns the absolute physical address of the real-mode
// segment base (segment value * 16).
func (c *Context) rmBase() uint32 {
	return uint32(c.RMSegment) << 4
}

// PlaceKernel copies the real-mode and protected-mode portions of image
// into mem at their computed load addresses.
func (c *Context) PlaceKernel(mem Memory, image []byte) error {
	if err := mem.WriteAt(c.rmBase(), image[:c.RMFileSize]); err != nil {
		return errcode.Wrap(errcode.IO, err, "bzimage: write real-mode segment")
	}
	if err := mem.WriteAt(c.PMAddress, image[c.RMFileSize:]); err != nil {
		return errcode.Wrap(errcode.IO, err, "bzimage: write protected-mode segment")
	}
	return nil
}

// SetCommandLine scans cmdline for "vga="/"mem=" overrides, truncates
// it to the header's advertised maximum, and writes it into the
// real-mode segment at the command-line offset.
func (c *Context) SetCommandLine(mem Memory, cmdline string) error {
	vid, lim, haveVid, haveMem := scanCmdline(cmdline)
	if haveVid {
		c.VidMode = uint16(vid)
	}
	if haveMem {
		c.MemLimit = lim
	}

	line := cmdline + "\x00"
	if len(line) > c.CmdlineMaxSize {
		line = line[:c.CmdlineMaxSize]
	}

	if err := mem.WriteAt(c.rmBase()+uint32(c.RMCmdlineOffset), []byte(line)); err != nil {
		return errcode.Wrap(errcode.IO, err, "bzimage: write command line")
	}
	return nil
}

// PlaceInitrds places the given initrd images between the end of the
// protected-mode kernel and the placement ceiling using the
// search-downward heuristic (see planInitrdPlacement),
// recording the aggregate [RamdiskImage, RamdiskImage+RamdiskSize)
// range for the kernel header. currentAddrs gives each initrd's current
// staging address before relocation.
func (c *Context) PlaceInitrds(mem Memory, initrds []Initrd, currentAddrs []uint32) error {
	if len(initrds) == 0 {
		return nil
	}

	for _, rd := range initrds {
		format, valid := compressionFormat(rd.Data)
		if !valid {
			return errcode.New(errcode.InvalidArg, "bzimage: initrd %q has a corrupt %s header", rd.Filename, format)
		}
	}

	kernelEnd := c.PMAddress + uint32(c.PMSize)
	addrMax := uint32(c.MemLimit)
	if addrMax == 0 {
		addrMax = defaultInitrdMax
	}

	placed, err := planInitrdPlacement(initrds, currentAddrs, addrMax, kernelEnd)
	if err != nil {
		return err
	}

	for _, p := range placed {
		if err := mem.WriteAt(p.Address, p.Initrd.wrapped()); err != nil {
			return errcode.Wrap(errcode.IO, err, "bzimage: write initrd at %#x", p.Address)
		}
		logger.Debug("bzimage: placed initrd", logger.InitrdAddr(p.Address), logger.Size(uint64(p.Length)))
	}

	// placed[0] sits highest and each later initrd below it, so the
	// range runs from the last entry's address to the end of the first.
	first, last := placed[0], placed[len(placed)-1]
	c.RamdiskImage = last.Address
	c.RamdiskSize = first.Address + uint32(first.Length) - c.RamdiskImage

	return nil
}

// writeBack serializes the header fields this loader updates
// (loader-type, heap-end pointer, cmd_line_ptr or the magic sidecar,
// vid_mode, ramdisk address/size) back into the real-mode header
// location, the way bzimage_update_header does.
func (c *Context) writeBack(mem Memory) error {
	hdr := c.hdr

	if hdr.Version >= 0x0200 {
		hdr.TypeOfLoader = loaderTypeID
	}
	if hdr.Version >= 0x0201 {
		hdr.HeapEndPtr = uint16(c.RMHeapOffset - 0x200)
		hdr.LoadFlags |= canUseHeap
	}
	if hdr.Version >= 0x0202 {
		hdr.CmdLinePtr = c.rmBase() + uint32(c.RMCmdlineOffset)
	} else {
		c.cmdlineMagic = cmdlineMagicSidecar{Magic: cmdlineMagic, Offset: uint16(c.RMCmdlineOffset)}
		if hdr.Version >= 0x0200 {
			hdr.SetupMoveSize = uint16(c.RMMemSize)
		}
	}
	hdr.VidMode = c.VidMode
	if hdr.Version >= 0x0200 {
		hdr.RamdiskImage = c.RamdiskImage
		hdr.RamdiskSize = c.RamdiskSize
	}

	encoded := encodeHeader(hdr)
	if err := mem.WriteAt(c.rmBase()+headerOffset, encoded); err != nil {
		return errcode.Wrap(errcode.IO, err, "bzimage: write back header")
	}

	if hdr.Version < 0x0202 {
		sidecar := encodeCmdlineMagic(c.cmdlineMagic)
		if err := mem.WriteAt(c.rmBase()+cmdlineOffset, sidecar); err != nil {
			return errcode.Wrap(errcode.IO, err, "bzimage: write command-line magic sidecar")
		}
	}

	return nil
}

// Handoff finalizes the header, notifies plat that boot-time resources
// are about to be torn down, then jumps into the real-mode entry point
// at (RMSegment+0x20):0x0000 with data segments set to RMSegment and the stack
// at RMSegment:RMHeapOffset, matching the original's inline-asm handoff
// sequence.
func (c *Context) Handoff(mem Memory, plat platform.Collaborator) error {
	if err := c.writeBack(mem); err != nil {
		return err
	}
	if err := plat.ShutdownBoot(); err != nil {
		return errcode.Wrap(errcode.IO, err, "bzimage: shutdown notification failed")
	}

	entrySegment := c.RMSegment + 0x20
	if err := plat.JumpToKernel(entrySegment, 0x0000, c.RMSegment, c.RMSegment, uint16(c.RMHeapOffset)); err != nil {
		return errcode.Wrap(errcode.IO, err, "bzimage: kernel jump failed")
	}
	return nil
}

// EntrySegment returns the real-mode entry code segment (RMSegment +
// 0x20), exposed so callers/tests can assert the exact handoff target
// without duplicating the +0x20 convention.
func (c *Context) EntrySegment() uint16 {
	return c.RMSegment + 0x20
}
