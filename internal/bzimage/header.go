// Package bzimage implements the Linux bzImage boot-protocol loader:
// header parse, real-mode/protected-mode segment placement,
// command-line construction, initrd placement, and handoff
// preparation. Every algorithm here follows the Linux boot protocol's
// own reference layout, translated into idiomatic Go: small structs,
// explicit error returns via internal/errcode, no package-level
// mutable state.
package bzimage

import (
	"encoding/binary"

	"github.com/marmos91/netboot/internal/errcode"
)

// Layout offsets and constants from the Linux x86 boot protocol
// (Documentation/x86/boot.rst) and iPXE's bzimage.h, using the same
// constant naming convention (BZI_*) as the reference loader.
const (
	headerOffset  = 0x1f1 // file offset of the fixed-layout header
	cmdlineOffset = 0x20  // offset of the pre-2.02 cmdline magic sidecar

	bootFlag      = 0xaa55     // boot_flag must equal this
	signatureHdrS = 0x53726448 // "HdrS" little-endian

	loadHigh     = 0x01 // loadflags bit: load at 1MB instead of 64K
	canUseHeap   = 0x80 // loadflags bit set by the loader on write-back
	loaderTypeID = 0x95 // type_of_loader value this loader reports as

	loadHighAddr = 0x100000
	loadLowAddr  = 0x10000

	assumedRMSize  = 32 * 1024 // conservative real-mode portion size assumption
	stackSize      = 4 * 1024
	defaultCmdSize = 0x100

	cmdlineMagic = 0xa33f // marks the pre-2.02 cmdline sidecar structure valid

	defaultInitrdMax = 0x37ffffff

	// initrdAlign is the alignment boundary initrd placement rounds to.
	initrdAlign = 0x1000
)

// header mirrors the fixed-layout bzImage header found at file offset
// 0x1f1, covering every field through protocol version ~2.10 that this
// loader reads or rewrites, up to and including cmdline_size. Fields
// past cmdline_size (hardware_subarch, kernel_info_offset, ...) are
// omitted: this loader never needs them.
type header struct {
	SetupSects     uint8
	RootFlags      uint16
	SysSize        uint32
	RAMSize        uint16
	VidMode        uint16
	RootDev        uint16
	BootFlag       uint16
	Jump           uint16
	HdrSignature   uint32
	Version        uint16
	RealModeSwitch uint32
	StartSysSeg    uint16
	KernelVersion  uint16
	TypeOfLoader   uint8
	LoadFlags      uint8
	SetupMoveSize  uint16
	Code32Start    uint32
	RamdiskImage   uint32
	RamdiskSize    uint32
	BootsectKludge uint32
	HeapEndPtr     uint16
	ExtLoaderVer   uint8
	ExtLoaderType  uint8
	CmdLinePtr     uint32
	InitrdAddrMax  uint32
	KernelAlign    uint32
	Relocatable    uint8
	MinAlignment   uint8
	XLoadFlags     uint16
	CmdlineMax     uint32
}

const headerSize = 75 // through cmdline_size (file offset 0x238..0x23b)

// cmdlineMagicSidecar is the fixed structure written at cmdlineOffset
// for protocols older than 2.02, which have no cmd_line_ptr field.
type cmdlineMagicSidecar struct {
	Magic  uint16
	Offset uint16
}

// parseHeader reads and validates the header embedded in image.
func parseHeader(image []byte) (header, error) {
	var h header

	if len(image) < headerOffset+headerSize {
		return h, errcode.New(errcode.InvalidArg, "bzimage: image too short for kernel header")
	}

	raw := image[headerOffset:]
	h.SetupSects = raw[0]
	h.RootFlags = le16(raw[1:])
	h.SysSize = le32(raw[3:])
	h.RAMSize = le16(raw[7:])
	h.VidMode = le16(raw[9:])
	h.RootDev = le16(raw[11:])
	h.BootFlag = le16(raw[13:])
	h.Jump = le16(raw[15:])
	h.HdrSignature = le32(raw[17:])
	h.Version = le16(raw[21:])
	h.RealModeSwitch = le32(raw[23:])
	h.StartSysSeg = le16(raw[27:])
	h.KernelVersion = le16(raw[29:])
	h.TypeOfLoader = raw[31]
	h.LoadFlags = raw[32]
	h.SetupMoveSize = le16(raw[33:])
	h.Code32Start = le32(raw[35:])
	h.RamdiskImage = le32(raw[39:])
	h.RamdiskSize = le32(raw[43:])
	h.BootsectKludge = le32(raw[47:])
	h.HeapEndPtr = le16(raw[51:])
	h.ExtLoaderVer = raw[53]
	h.ExtLoaderType = raw[54]
	h.CmdLinePtr = le32(raw[55:])
	h.InitrdAddrMax = le32(raw[59:])
	h.KernelAlign = le32(raw[63:])
	h.Relocatable = raw[67]
	h.MinAlignment = raw[68]
	h.XLoadFlags = le16(raw[69:])
	h.CmdlineMax = le32(raw[71:])

	if h.BootFlag != bootFlag {
		return h, errcode.New(errcode.InvalidArg, "bzimage: missing 0xAA55 boot signature")
	}

	setupSects := h.SetupSects
	if setupSects == 0 {
		setupSects = 4
	}
	rmFileSize := (int(setupSects) + 1) << 9
	if rmFileSize > len(image) {
		return h, errcode.New(errcode.InvalidArg, "bzimage: image too short for %d bytes of setup", rmFileSize)
	}

	if h.HdrSignature != signatureHdrS {
		h.Version = 0x0100
	}

	return h, nil
}

func le16(b []byte) uint16 { return binary.LittleEndian.Uint16(b) }
func le32(b []byte) uint32 { return binary.LittleEndian.Uint32(b) }

// effectiveSetupSects returns the real-mode sector count, treating 0 as
// 4 per spec's boundary behavior.
func (h header) effectiveSetupSects() int {
	if h.SetupSects == 0 {
		return 4
	}
	return int(h.SetupSects)
}

// realModeFileSize is the number of file bytes belonging to the
// real-mode portion: (setup_sects + 1) * 512.
func (h header) realModeFileSize() int {
	return (h.effectiveSetupSects() + 1) << 9
}

func (h header) isLoadHigh() bool {
	return h.Version >= 0x0200 && h.LoadFlags&loadHigh != 0
}

// cmdlineSize is only meaningful for protocol >= 2.06, which is the
// first version that carries the field; earlier protocols use the
// fixed default instead.
func (h header) cmdlineSize() int {
	if h.Version >= 0x0206 && h.CmdlineMax != 0 {
		return int(h.CmdlineMax)
	}
	return defaultCmdSize
}

func (h header) initrdAddrMax() uint32 {
	if h.Version >= 0x0203 {
		return h.InitrdAddrMax
	}
	return defaultInitrdMax
}

// encodeHeader re-serializes every field of h at its exact file offset.
// The fields this loader rewrites (type_of_loader, loadflags,
// heap_end_ptr, cmd_line_ptr/setup_move_size, vid_mode, ramdisk_image,
// ramdisk_size) carry their new values; every other field is written
// back with the value parseHeader read.
func encodeHeader(h header) []byte {
	buf := make([]byte, headerSize)
	buf[0] = h.SetupSects
	binary.LittleEndian.PutUint16(buf[1:], h.RootFlags)
	binary.LittleEndian.PutUint32(buf[3:], h.SysSize)
	binary.LittleEndian.PutUint16(buf[7:], h.RAMSize)
	binary.LittleEndian.PutUint16(buf[9:], h.VidMode)
	binary.LittleEndian.PutUint16(buf[11:], h.RootDev)
	binary.LittleEndian.PutUint16(buf[13:], h.BootFlag)
	binary.LittleEndian.PutUint16(buf[15:], h.Jump)
	binary.LittleEndian.PutUint32(buf[17:], h.HdrSignature)
	binary.LittleEndian.PutUint16(buf[21:], h.Version)
	binary.LittleEndian.PutUint32(buf[23:], h.RealModeSwitch)
	binary.LittleEndian.PutUint16(buf[27:], h.StartSysSeg)
	binary.LittleEndian.PutUint16(buf[29:], h.KernelVersion)
	buf[31] = h.TypeOfLoader
	buf[32] = h.LoadFlags
	binary.LittleEndian.PutUint16(buf[33:], h.SetupMoveSize)
	binary.LittleEndian.PutUint32(buf[35:], h.Code32Start)
	binary.LittleEndian.PutUint32(buf[39:], h.RamdiskImage)
	binary.LittleEndian.PutUint32(buf[43:], h.RamdiskSize)
	binary.LittleEndian.PutUint32(buf[47:], h.BootsectKludge)
	binary.LittleEndian.PutUint16(buf[51:], h.HeapEndPtr)
	buf[53] = h.ExtLoaderVer
	buf[54] = h.ExtLoaderType
	binary.LittleEndian.PutUint32(buf[55:], h.CmdLinePtr)
	binary.LittleEndian.PutUint32(buf[59:], h.InitrdAddrMax)
	binary.LittleEndian.PutUint32(buf[63:], h.KernelAlign)
	buf[67] = h.Relocatable
	buf[68] = h.MinAlignment
	binary.LittleEndian.PutUint16(buf[69:], h.XLoadFlags)
	binary.LittleEndian.PutUint32(buf[71:], h.CmdlineMax)
	return buf
}

// encodeCmdlineMagic serializes the pre-2.02 command-line sidecar
// structure.
func encodeCmdlineMagic(s cmdlineMagicSidecar) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint16(buf[0:], s.Magic)
	binary.LittleEndian.PutUint16(buf[2:], s.Offset)
	return buf
}
