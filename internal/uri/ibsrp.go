package uri

import (
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/marmos91/netboot/internal/errcode"
)

// SRPRootPath is the InfiniBand SRP root path:
// sgid:init_id_ext:init_hca_guid:dgid:pkey:service_id:lun:target_id_ext:target_ioc_guid.
// Field sizes and optionality follow the Linux ib_srp driver's
// ib_srp_rp_parser table exactly: sgid/initiator_id_ext/
// initiator_hca_guid are optional (empty component allowed, defaulting
// to the zero value — the kernel driver defaults from the last-opened
// HCA, which has no equivalent off real InfiniBand hardware); pkey and
// lun are also optional, defaulting to ibPkeyDefault and 0; the
// remaining fields are required.
type SRPRootPath struct {
	SGID             [16]byte
	InitiatorIDExt   [8]byte
	InitiatorHCAGUID [8]byte
	DGID             [16]byte
	PKey             uint16
	ServiceID        [8]byte
	LUN              uint64
	TargetIDExt      [8]byte
	TargetIOCGUID    [8]byte
}

const srpRootPathComponents = 9

// ParseSRPRootPath splits s on ':' into exactly 9 components and parses
// each in turn, the same fixed left-to-right component order
// ib_srp_parse_root_path uses.
func ParseSRPRootPath(s string) (*SRPRootPath, error) {
	parts := strings.SplitN(s, ":", srpRootPathComponents)
	if len(parts) != srpRootPathComponents {
		return nil, errcode.New(errcode.InvalidArg, "uri: ib_srp root path %q too short, need %d components", s, srpRootPathComponents)
	}

	var rp SRPRootPath
	var err error

	if err = parseOptionalByteString(parts[0], rp.SGID[:]); err != nil {
		return nil, err
	}
	if err = parseOptionalByteString(parts[1], rp.InitiatorIDExt[:]); err != nil {
		return nil, err
	}
	if err = parseOptionalByteString(parts[2], rp.InitiatorHCAGUID[:]); err != nil {
		return nil, err
	}
	if err = parseRequiredByteString(parts[3], rp.DGID[:]); err != nil {
		return nil, err
	}

	pkey, err := parseIntegerField(parts[4], ibPkeyDefault)
	if err != nil {
		return nil, err
	}
	rp.PKey = uint16(pkey)

	if err = parseRequiredByteString(parts[5], rp.ServiceID[:]); err != nil {
		return nil, err
	}

	lun, err := parseLUN(parts[6])
	if err != nil {
		return nil, err
	}
	rp.LUN = lun

	if err = parseRequiredByteString(parts[7], rp.TargetIDExt[:]); err != nil {
		return nil, err
	}
	if err = parseRequiredByteString(parts[8], rp.TargetIOCGUID[:]); err != nil {
		return nil, err
	}

	return &rp, nil
}

// ibPkeyDefault is the partition key used when the "pkey" component is
// empty (IB_PKEY_DEFAULT in the original).
const ibPkeyDefault = 0xffff

func parseOptionalByteString(comp string, out []byte) error {
	if comp == "" {
		return nil
	}
	return decodeByteString(comp, out)
}

func parseRequiredByteString(comp string, out []byte) error {
	if comp == "" {
		return errcode.New(errcode.InvalidArg, "uri: required ib_srp root path component is empty")
	}
	return decodeByteString(comp, out)
}

func decodeByteString(comp string, out []byte) error {
	if len(comp) != 2*len(out) {
		return errcode.New(errcode.InvalidArg, "uri: ib_srp component %q has wrong length, want %d hex chars", comp, 2*len(out))
	}
	decoded, err := hex.DecodeString(comp)
	if err != nil {
		return errcode.Wrap(errcode.InvalidArg, err, "uri: decode ib_srp component %q", comp)
	}
	copy(out, decoded)
	return nil
}

// parseIntegerField mirrors ib_srp_parse_integer: hex-parsed, empty
// string yields defaultValue.
func parseIntegerField(comp string, defaultValue int64) (int64, error) {
	if comp == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseInt(comp, 16, 64)
	if err != nil {
		return 0, errcode.Wrap(errcode.InvalidArg, err, "uri: parse ib_srp integer field %q", comp)
	}
	return v, nil
}

// parseLUN parses the SCSI LUN component as a hex-encoded 64-bit flat
// LUN value.
func parseLUN(comp string) (uint64, error) {
	if comp == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(comp, 16, 64)
	if err != nil {
		return 0, errcode.Wrap(errcode.InvalidArg, err, "uri: parse ib_srp LUN %q", comp)
	}
	return v, nil
}
