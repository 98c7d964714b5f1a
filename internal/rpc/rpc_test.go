package rpc

import (
	"bytes"
	"testing"

	xdrcodec "github.com/marmos91/netboot/internal/rpc/xdr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthSysEncodesMachineNameUIDGIDAndEmptyAuxGIDs(t *testing.T) {
	cred := AuthSys("netboot", 0, 0)
	assert.Equal(t, AuthSysFlavor, cred.Flavor)

	r := bytes.NewReader(cred.Body)
	_, err := xdrcodec.DecodeUint32(r) // stamp
	require.NoError(t, err)
	name, err := xdrcodec.DecodeString(r)
	require.NoError(t, err)
	assert.Equal(t, "netboot", name)
	uid, err := xdrcodec.DecodeUint32(r)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), uid)
	gid, err := xdrcodec.DecodeUint32(r)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), gid)
	auxLen, err := xdrcodec.DecodeUint32(r)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), auxLen, "spec §4.6: AUTH_SYS carries no auxiliary GIDs")
}

func TestEncodeCallDecodeReplyRoundTripOnAcceptedSuccess(t *testing.T) {
	args := []byte{0xCA, 0xFE}
	call := EncodeCall(42, 100003, 3, 1, NoAuth, NoAuth, args)

	// Hand-build the matching server reply: same XID, accepted, success,
	// with the original args echoed back as "results" for the round-trip
	// check.
	reply := new(bytes.Buffer)
	_ = xdrcodec.WriteUint32(reply, 42)
	_ = xdrcodec.WriteUint32(reply, MsgReply)
	_ = xdrcodec.WriteUint32(reply, ReplyAccepted)
	_ = xdrcodec.WriteUint32(reply, AuthNoneFlavor)
	_ = xdrcodec.WriteXDROpaque(reply, nil)
	_ = xdrcodec.WriteUint32(reply, AcceptSuccess)
	reply.Write(args)

	parsed, err := DecodeReply(reply.Bytes())
	require.NoError(t, err)
	assert.Equal(t, uint32(42), parsed.XID)
	assert.Equal(t, args, parsed.Results)

	// call must at least be long enough to carry the 4-byte XID at byte
	// offset 0 (RFC 5531 §9).
	require.True(t, len(call) >= 4)
}

func TestDecodeReplyRejectsDeniedAndProgUnavail(t *testing.T) {
	denied := new(bytes.Buffer)
	_ = xdrcodec.WriteUint32(denied, 1)
	_ = xdrcodec.WriteUint32(denied, MsgReply)
	_ = xdrcodec.WriteUint32(denied, ReplyDenied)
	_, err := DecodeReply(denied.Bytes())
	assert.Error(t, err)

	progUnavail := new(bytes.Buffer)
	_ = xdrcodec.WriteUint32(progUnavail, 2)
	_ = xdrcodec.WriteUint32(progUnavail, MsgReply)
	_ = xdrcodec.WriteUint32(progUnavail, ReplyAccepted)
	_ = xdrcodec.WriteUint32(progUnavail, AuthNoneFlavor)
	_ = xdrcodec.WriteXDROpaque(progUnavail, nil)
	_ = xdrcodec.WriteUint32(progUnavail, AcceptProgUnavail)
	_, err = DecodeReply(progUnavail.Bytes())
	assert.Error(t, err)
}

func TestXIDGeneratorProducesDistinctMonotonicIDs(t *testing.T) {
	g := &XIDGenerator{next: 0}
	a := g.Next()
	b := g.Next()
	assert.Less(t, a, b)
}
