// Package acpi builds and installs the iSCSI/SRP Boot Firmware Table
// (iBFT) describing the boot path handed to the loaded OS.
//
// This keeps one append-only list of boot sessions (Model.descs) and
// serializes a fresh table from it on every install; the sessions
// themselves are not modified by Install. Concurrent re-install is not
// guarded: the single-threaded poll-loop model makes this safe without
// a lock.
package acpi

import (
	"bytes"
	"encoding/binary"
	"net"

	"github.com/marmos91/netboot/internal/errcode"
)

// Structure IDs, mirroring IBFT_STRUCTURE_ID_* in ibft.h.
const (
	structureControl   = 0
	structureInitiator = 1
	structureNIC       = 2
	structureTarget    = 3
)

// NIC origin values, mirroring IBFT_NIC_ORIGIN_*.
const (
	OriginDHCP   = 3
	OriginManual = 1
)

// CHAP authentication modes, mirroring IBFT_CHAP_*.
const (
	CHAPNone   = 0
	CHAPOneWay = 1
	CHAPMutual = 2
)

const ibftAlign = 8

func alignUp(n int) int {
	return (n + ibftAlign - 1) &^ (ibftAlign - 1)
}

// descriptorHeader is the common header embedded at the front of every
// iBFT structure (control, initiator, NIC, target).
type descriptorHeader struct {
	StructureID uint8
	Version     uint8
	Length      uint16
	Index       uint8
	Flags       uint8
}

const (
	flagBlockValid           = 0x01
	flagFirmwareBootSelected = 0x02
)

// Initiator holds the single iSCSI/SRP initiator identity shared by
// every session in the table.
type Initiator struct {
	Name string
}

// NIC describes the network device used to reach a Target.
type NIC struct {
	IP            net.IP
	Gateway       net.IP
	DNS           [2]net.IP
	DHCPServer    net.IP
	Hostname      string
	SubnetPrefix  uint8
	VLAN          uint16
	MAC           net.HardwareAddr
	PCIBusDevFunc uint16
	Origin        uint8
}

// Target describes the boot target reached over a NIC.
type Target struct {
	IP                  net.IP
	Port                uint16
	LUN                 uint64
	Name                string
	CHAPType            uint8
	CHAPName            string
	CHAPSecret          string
	ReverseCHAPName     string
	ReverseCHAPSecret   string
	addressKnown        bool
}

// SetAddress records the resolved target address, completing the
// session. Mirrors the original's target_sockaddr being filled in once
// DHCP/root-path resolution finishes.
func (t *Target) SetAddress(ip net.IP, port uint16) {
	t.IP = ip
	t.Port = port
	t.addressKnown = true
}

// Session is one initiator-NIC-target boot path, the unit
// ibft_model.descs links together (struct iscsi_session in the
// original).
type Session struct {
	index  uint8
	NIC    NIC
	Target Target
}

// Complete reports whether the session has a resolved target address,
// mirroring ibft_complete's -EAGAIN-until-resolved check.
func (s *Session) Complete() bool {
	return s.Target.addressKnown
}

// Model is the append-only table of boot sessions, the Go analogue of
// ibft_model. One Initiator identity is shared across all sessions,
// matching the original's single initiator block.
type Model struct {
	Initiator Initiator
	descs     []*Session
}

// NewModel creates an empty table for the given initiator identity.
func NewModel(initiatorName string) *Model {
	return &Model{Initiator: Initiator{Name: initiatorName}}
}

// AddSession appends a new boot session and returns it for the caller
// to fill in as the NFS/TFTP boot path and IPv4 stack resolve it.
// Append-only: sessions are never removed, matching the original's
// list_for_each_entry-only usage of ibft_model.descs.
func (m *Model) AddSession(nic NIC) *Session {
	s := &Session{index: uint8(len(m.descs)), NIC: nic}
	m.descs = append(m.descs, s)
	return s
}

// Memory is the write seam Install uses to place the serialized table.
type Memory interface {
	WriteAt(addr uint32, data []byte) error
}

// Header is the standard ACPI table header the iBFT carries, per the
// ACPI specification's description of table headers (the iBFT itself
// only fills in signature/length/revision; the remaining OEM fields
// are a documented reconstruction of the well-known ACPI header
// layout).
type Header struct {
	Signature       [4]byte
	Length          uint32
	Revision        uint8
	Checksum        uint8
	OEMID           [6]byte
	OEMTableID      [8]byte
	OEMRevision     uint32
	CreatorID       [4]byte
	CreatorRevision uint32
}

const headerSize = 36

var ibftSignature = [4]byte{'i', 'B', 'F', 'T'}

// stringAllocator is the Go analogue of struct ibft_strings: it
// accumulates NUL-terminated string data and hands back (offset,
// length) pairs for each string appended, the same two-pass
// allocate-then-append approach ibft_alloc_string uses.
type stringAllocator struct {
	buf   bytes.Buffer
	start int
}

func (a *stringAllocator) add(s string) (offset uint16, length uint16) {
	if s == "" {
		return 0, 0
	}
	offset = uint16(a.start + a.buf.Len())
	length = uint16(len(s))
	a.buf.WriteString(s)
	a.buf.WriteByte(0)
	return offset, length
}

// Install serializes the table (control block, initiator block, one
// NIC/Target pair per completed session, and the trailing strings
// block), computes the ACPI checksum, and writes it to mem at addr.
// Incomplete sessions (no resolved target address yet) are skipped,
// mirroring the original silently omitting unresolved iscsi sessions
// from the installed table. Returns the number of sessions installed.
func (m *Model) Install(mem Memory, addr uint32) (int, error) {
	var complete []*Session
	for _, s := range m.descs {
		if s.Complete() {
			complete = append(complete, s)
		}
	}
	if len(complete) == 0 {
		return 0, nil
	}

	// strings accumulates string data as the body is built, using
	// offsets relative to the start of the strings blob (rebased to
	// absolute table offsets once the blob's final position is known).
	strings := &stringAllocator{}
	var stringPatches []int // byte positions of offset fields needing +stringsOffset

	// writeStringRef writes a (length, relative-offset) pair for s and
	// records the offset field's position for later rebasing, mirroring
	// ibft_alloc_string's offset/len fields.
	writeStringRef := func(body *bytes.Buffer, s string) {
		off, length := strings.add(s)
		binary.Write(body, binary.LittleEndian, length)
		stringPatches = append(stringPatches, body.Len())
		binary.Write(body, binary.LittleEndian, off)
	}

	var body bytes.Buffer

	// Control block: structure header + one (nic-offset, target-offset)
	// pair per session, sized to the number of completed sessions (the
	// original sizes this to a fixed compile-time pair count; here the
	// table is rebuilt per install so it is sized exactly).
	controlLen := 8 + 4*len(complete)
	controlHdr := descriptorHeader{StructureID: structureControl, Version: 1, Length: uint16(controlLen)}
	writeHeader(&body, controlHdr)
	pairsPlaceholder := body.Len()
	body.Write(make([]byte, 4*len(complete)))

	initiatorOffset := alignUp(body.Len())
	body.Write(make([]byte, initiatorOffset-body.Len()))
	initiatorHdr := descriptorHeader{StructureID: structureInitiator, Version: 1, Flags: flagBlockValid | flagFirmwareBootSelected}
	initiatorStart := body.Len()
	writeHeader(&body, initiatorHdr)
	writeStringRef(&body, m.Initiator.Name)
	patchLength(&body, initiatorStart, body.Len()-initiatorStart)

	pairs := make([]uint16, 0, 2*len(complete))
	for _, s := range complete {
		nicOffset := alignUp(body.Len())
		body.Write(make([]byte, nicOffset-body.Len()))
		nicStart := body.Len()
		hdr := descriptorHeader{StructureID: structureNIC, Version: 1, Index: s.index, Flags: flagBlockValid | flagFirmwareBootSelected}
		writeHeader(&body, hdr)
		writeIP(&body, s.NIC.IP)
		writeIP(&body, s.NIC.Gateway)
		writeIP(&body, s.NIC.DNS[0])
		writeIP(&body, s.NIC.DNS[1])
		writeIP(&body, s.NIC.DHCPServer)
		writeStringRef(&body, s.NIC.Hostname)
		body.WriteByte(s.NIC.SubnetPrefix)
		binary.Write(&body, binary.LittleEndian, s.NIC.VLAN)
		mac := s.NIC.MAC
		if len(mac) != 6 {
			mac = make(net.HardwareAddr, 6)
		}
		body.Write(mac)
		binary.Write(&body, binary.LittleEndian, s.NIC.PCIBusDevFunc)
		body.WriteByte(s.NIC.Origin)
		patchLength(&body, nicStart, body.Len()-nicStart)

		targetOffset := alignUp(body.Len())
		body.Write(make([]byte, targetOffset-body.Len()))
		targetStart := body.Len()
		thdr := descriptorHeader{StructureID: structureTarget, Version: 1, Index: s.index, Flags: flagBlockValid | flagFirmwareBootSelected}
		writeHeader(&body, thdr)
		writeIP(&body, s.Target.IP)
		binary.Write(&body, binary.LittleEndian, s.Target.Port)
		binary.Write(&body, binary.LittleEndian, s.Target.LUN)
		writeStringRef(&body, s.Target.Name)
		body.WriteByte(s.index) // nic_association
		body.WriteByte(s.Target.CHAPType)
		writeStringRef(&body, s.Target.CHAPName)
		writeStringRef(&body, s.Target.CHAPSecret)
		writeStringRef(&body, s.Target.ReverseCHAPName)
		writeStringRef(&body, s.Target.ReverseCHAPSecret)
		patchLength(&body, targetStart, body.Len()-targetStart)

		pairs = append(pairs, uint16(nicStart), uint16(targetStart))
	}

	out := body.Bytes()
	for i, v := range pairs {
		binary.LittleEndian.PutUint16(out[pairsPlaceholder+2*i:], v)
	}

	// Rebase each recorded string offset field from "relative to the
	// strings blob" to "absolute within the table", now that the
	// blob's position (right after out, itself right after the ACPI
	// header) is known. A length of 0 means the string was absent
	// (add returns offset 0 in that case too), so its offset field is
	// left at 0 rather than rebased.
	stringsBase := uint32(headerSize + len(out))
	for _, p := range stringPatches {
		if binary.LittleEndian.Uint16(out[p-2:]) == 0 {
			continue
		}
		rel := binary.LittleEndian.Uint16(out[p:])
		binary.LittleEndian.PutUint16(out[p:], uint16(stringsBase+uint32(rel)))
	}

	table := make([]byte, headerSize+len(out)+strings.buf.Len())
	copy(table[headerSize:], out)
	copy(table[headerSize+len(out):], strings.buf.Bytes())

	hdr := Header{Signature: ibftSignature, Length: uint32(len(table)), Revision: 1}
	encodeACPIHeader(table, hdr)
	checksumTable(table)

	if err := mem.WriteAt(addr, table); err != nil {
		return 0, errcode.Wrap(errcode.IO, err, "acpi: install iBFT")
	}
	return len(complete), nil
}

func writeHeader(buf *bytes.Buffer, h descriptorHeader) {
	buf.WriteByte(h.StructureID)
	buf.WriteByte(h.Version)
	binary.Write(buf, binary.LittleEndian, h.Length)
	buf.WriteByte(h.Index)
	buf.WriteByte(h.Flags)
}

// patchLength backfills a descriptorHeader's Length field (the 2 bytes
// at offset+2) once the structure's final size is known.
func patchLength(buf *bytes.Buffer, structStart, length int) {
	b := buf.Bytes()
	binary.LittleEndian.PutUint16(b[structStart+2:], uint16(length))
}

func writeIP(buf *bytes.Buffer, ip net.IP) {
	var a [4]byte
	if v4 := ip.To4(); v4 != nil {
		copy(a[:], v4)
	}
	buf.Write(a[:])
}

func encodeACPIHeader(table []byte, h Header) {
	copy(table[0:4], h.Signature[:])
	binary.LittleEndian.PutUint32(table[4:8], h.Length)
	table[8] = h.Revision
	table[9] = h.Checksum
	copy(table[10:16], h.OEMID[:])
	copy(table[16:24], h.OEMTableID[:])
	binary.LittleEndian.PutUint32(table[24:28], h.OEMRevision)
	copy(table[28:32], h.CreatorID[:])
	binary.LittleEndian.PutUint32(table[32:36], h.CreatorRevision)
}

// checksumTable sets table[9] (the ACPI header checksum byte) so that
// the sum of every byte in the table is zero mod 256, the standard
// ACPI table validity rule.
func checksumTable(table []byte) {
	table[9] = 0
	var sum byte
	for _, b := range table {
		sum += b
	}
	table[9] = -sum
}
