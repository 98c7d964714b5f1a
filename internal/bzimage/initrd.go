package bzimage

import (
	"bytes"
	"fmt"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/marmos91/netboot/internal/errcode"
)

// Initrd is one initrd image to be placed alongside the kernel. If
// Filename is non-empty it is wrapped in a CPIO "new ASCII" (070701)
// header the way bzimage_load_initrd constructs one for images carrying
// a name, so multiple named initrds concatenate into a single cpio
// archive the kernel can unpack; unnamed (prebuilt archive) initrds are
// placed verbatim.
type Initrd struct {
	Data     []byte
	Filename string
}

// wrapped returns the bytes actually placed in memory for this initrd:
// an optional CPIO header plus name, zero-padded to a 4-byte boundary
// (the alignment CPIO "new ASCII" entries require between header+name
// and body), followed by the image body. The body itself is not padded.
func (i Initrd) wrapped() []byte {
	if i.Filename == "" {
		return i.Data
	}

	hdr := newCPIOHeader(i.Filename, len(i.Data))
	out := make([]byte, 0, len(hdr)+len(i.Data)+8)
	out = append(out, hdr...)
	out = append(out, i.Data...)
	return out
}

// cpioHeaderSize is the fixed size of a "new ASCII" (070701) CPIO
// header, not counting the trailing filename.
const cpioHeaderSize = 110

// newCPIOHeader builds a "new ASCII" CPIO header for a regular file
// entry, the format Linux initramfs unpacking expects. All fields are
// 8 hex digits; unused metadata fields (uid, gid, mtime, device
// numbers) are zeroed, matching what a synthetic boot-time initrd
// wrapper needs and nothing more.
func newCPIOHeader(filename string, bodyLen int) []byte {
	namesize := len(filename) + 1 // including NUL terminator

	var buf bytes.Buffer
	buf.WriteString("070701")
	writeHex8(&buf, 0)               // c_ino
	writeHex8(&buf, 0o100644)        // c_mode: regular file, rw-r--r--
	writeHex8(&buf, 0)               // c_uid
	writeHex8(&buf, 0)               // c_gid
	writeHex8(&buf, 1)               // c_nlink
	writeHex8(&buf, 0)               // c_mtime
	writeHex8(&buf, uint32(bodyLen)) // c_filesize
	writeHex8(&buf, 0)               // c_devmajor
	writeHex8(&buf, 0)               // c_devminor
	writeHex8(&buf, 0)               // c_rdevmajor
	writeHex8(&buf, 0)               // c_rdevminor
	writeHex8(&buf, uint32(namesize))
	writeHex8(&buf, 0) // c_check

	buf.WriteString(filename)
	buf.WriteByte(0)

	// Header + name is padded to a 4-byte boundary.
	total := cpioHeaderSize + namesize
	if pad := (4 - total%4) % 4; pad > 0 {
		buf.Write(make([]byte, pad))
	}

	return buf.Bytes()
}

func writeHex8(buf *bytes.Buffer, v uint32) {
	fmt.Fprintf(buf, "%08x", v)
}

// alignUp rounds n up to the next multiple of initrdAlign.
func alignUp(n int) int {
	return (n + initrdAlign - 1) &^ (initrdAlign - 1)
}

// alignDown rounds addr down to the previous multiple of initrdAlign.
func alignDown(addr uint32) uint32 {
	return addr &^ (initrdAlign - 1)
}

// placedInitrd is one initrd's final placement.
type placedInitrd struct {
	Initrd  Initrd
	Address uint32
	Length  int
}

// planInitrdPlacement implements the search-downward heuristic spec §4.7
// and §9 describe: start at the highest initrd's current address
// rounded down to alignment, cap against initrd_addr_max, and place
// images back-to-back below that ceiling: the first image directly
// below it, each later image directly below the previous one. Deliberately
// conservative (spec §9: "preserve the conservatism; do not attempt a
// tighter fit") — currentAddrs gives each initrd's staging address
// before relocation, mirroring highest->data in the original C.
func planInitrdPlacement(initrds []Initrd, currentAddrs []uint32, addrMax uint32, kernelEnd uint32) ([]placedInitrd, error) {
	if len(initrds) == 0 {
		return nil, nil
	}
	if len(initrds) != len(currentAddrs) {
		return nil, errcode.New(errcode.InvalidArg, "bzimage: initrd/address count mismatch")
	}

	totalLen := 0
	wrapLens := make([]int, len(initrds))
	for i, rd := range initrds {
		wrapLens[i] = len(rd.wrapped())
		totalLen = alignUp(totalLen + wrapLens[i])
	}

	highest := currentAddrs[0]
	for _, a := range currentAddrs {
		if a > highest {
			highest = a
		}
	}

	top := alignDown(highest)
	if uint64(top)+uint64(totalLen) > uint64(addrMax) {
		top = alignDown(addrMax)
	}

	if uint64(top) < uint64(kernelEnd)+uint64(totalLen) {
		return nil, errcode.New(errcode.NoBufs, "bzimage: not enough space below %#x for %d bytes of initrds", top, totalLen)
	}

	placed := make([]placedInitrd, len(initrds))
	offset := 0
	for i, rd := range initrds {
		addr := top - uint32(offset) - uint32(alignUp(wrapLens[i]))
		placed[i] = placedInitrd{Initrd: rd, Address: addr, Length: wrapLens[i]}
		offset += alignUp(wrapLens[i])
	}

	return placed, nil
}

// compressionFormat identifies a compressed initrd body by magic bytes
// and, where cheap, validates the header via klauspost/compress so a
// truncated or corrupt archive is caught before being handed to the
// kernel (the kernel itself transparently decompresses gzip/zstd
// initrds, so this loader never needs to decompress the body itself —
// only to flag an obviously-broken one early).
func compressionFormat(data []byte) (format string, valid bool) {
	switch {
	case len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return "gzip", false
		}
		r.Close()
		return "gzip", true
	case len(data) >= 4 && data[0] == 0x28 && data[1] == 0xb5 && data[2] == 0x2f && data[3] == 0xfd:
		dec, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return "zstd", false
		}
		dec.Close()
		return "zstd", true
	default:
		return "", true
	}
}
