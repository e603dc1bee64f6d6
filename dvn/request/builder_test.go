package request

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/nori-zk/dvn-worker/core/types"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func testPacket() *types.Packet {
	return &types.Packet{
		ID:          common.HexToHash("0x01"),
		SrcEid:      30101,
		DstEid:      30184,
		Header:      hexutil.MustDecode("0x0100000000000000010000759500"),
		PayloadHash: common.HexToHash("0x02"),
		BlockHash:   common.HexToHash("0x03"),
		LogIndex:    4,
		Emitter:     common.HexToAddress("0x05"),
	}
}

func TestMessageHashLayout(t *testing.T) {
	p := testPacket()

	// Expected packing written out by hand.
	var packed []byte
	packed = append(packed, []byte("LZ_DVN_V1")...)
	packed = append(packed, 0x00, 0x00, 0x75, 0x95) // 30101
	packed = append(packed, 0x00, 0x00, 0x75, 0xe8) // 30184
	packed = append(packed, p.Header...)
	packed = append(packed, p.PayloadHash.Bytes()...)
	packed = append(packed, p.BlockHash.Bytes()...)
	packed = append(packed, 0x00, 0x00, 0x00, 0x04)
	packed = append(packed, p.Emitter.Bytes()...)

	require.Equal(t, crypto.Keccak256Hash(packed), MessageHash(p))
}

// The message hash commits to the log location, unlike the packet id.
func TestMessageHashSensitivity(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		base := testPacket()
		other := *base
		switch rapid.IntRange(0, 2).Draw(t, "field") {
		case 0:
			other.LogIndex = base.LogIndex + 1 + rapid.Uint32Range(0, 1000).Draw(t, "delta")
		case 1:
			other.BlockHash = common.BytesToHash(append(rapid.SliceOfN(rapid.Byte(), 0, 31).Draw(t, "bh"), 0xff))
		case 2:
			other.Emitter = common.BytesToAddress(append(rapid.SliceOfN(rapid.Byte(), 0, 19).Draw(t, "em"), 0xee))
		}
		if MessageHash(base) == MessageHash(&other) {
			t.Fatalf("message hash ignores location change")
		}
	})
}

func TestBuild(t *testing.T) {
	p := testPacket()
	att := &types.Attestation{Signature: []byte{0xaa}, Epoch: 7}
	proof := &types.Proof{Proof: []byte{0xbb}, Inputs: types.ZkInputs{Slot: 9, LogIndex: 4}}

	req, err := Build(p, att, proof)
	require.NoError(t, err)
	require.Equal(t, p.ID, req.PacketID)
	require.Equal(t, MessageHash(p), req.MessageHash)
	require.Equal(t, uint64(7), req.Epoch)
	require.Equal(t, []byte{0xaa}, req.AttestationProof)
	require.Equal(t, []byte{0xbb}, req.ZkProof)
	require.Equal(t, uint64(9), req.ZkInputs.Slot)

	// No aliasing with the inputs.
	att.Signature[0] = 0
	require.Equal(t, byte(0xaa), req.AttestationProof[0])
}

func TestBuildRejects(t *testing.T) {
	p := testPacket()
	att := &types.Attestation{Epoch: 1}
	proof := &types.Proof{}

	_, err := Build(nil, att, proof)
	require.Error(t, err)
	_, err = Build(p, nil, proof)
	require.Error(t, err)
	_, err = Build(p, att, nil)
	require.Error(t, err)
	_, err = Build(p, &types.Attestation{Epoch: MaxEpoch + 1}, proof)
	require.ErrorContains(t, err, "uint48")
}
