package events

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/nori-zk/dvn-worker/core/types"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var testEndpoint = common.HexToAddress("0x1a44076050125825900e736c501f859c50fE728c")

func encodePacket(srcEid, dstEid uint32, nonce uint64, message []byte) []byte {
	buf := make([]byte, headerLength, headerLength+32+len(message))
	buf[0] = 1
	binary.BigEndian.PutUint64(buf[1:], nonce)
	binary.BigEndian.PutUint32(buf[srcEidOffset:], srcEid)
	binary.BigEndian.PutUint32(buf[dstEidOffset:], dstEid)
	buf = append(buf, make([]byte, 32)...) // guid
	return append(buf, message...)
}

func makeLog(t require.TestingT, encoded []byte, payloadHash common.Hash) ethtypes.Log {
	data, err := packetSentEvent.Events["PacketSent"].Inputs.Pack(encoded, [32]byte(payloadHash), common.HexToAddress("0xdead"))
	require.NoError(t, err)
	return ethtypes.Log{
		Address:     testEndpoint,
		Topics:      []common.Hash{PacketSentTopic},
		Data:        data,
		BlockNumber: 1000,
		TxHash:      common.HexToHash("0xaa"),
		BlockHash:   common.HexToHash("0xbb"),
		Index:       3,
	}
}

func TestDecodePacketSent(t *testing.T) {
	encoded := encodePacket(30101, 30184, 9, []byte("hello"))
	lg := makeLog(t, encoded, common.HexToHash("0x1234"))

	p, err := NewDecoder(Options{}).Decode(lg)
	require.NoError(t, err)
	require.Equal(t, uint32(30101), p.SrcEid)
	require.Equal(t, uint32(30184), p.DstEid)
	require.Equal(t, encoded[:headerLength], []byte(p.Header))
	require.Equal(t, common.HexToHash("0x1234"), p.PayloadHash)
	require.Equal(t, uint32(3), p.LogIndex)
	require.Equal(t, testEndpoint, p.Emitter)
	require.Equal(t, uint64(1000), p.BlockNumber)

	want, err := PacketID(30101, 30184, encoded[:headerLength], common.HexToHash("0x1234"))
	require.NoError(t, err)
	require.Equal(t, want, p.ID)
}

func TestDecodeRejects(t *testing.T) {
	good := makeLog(t, encodePacket(1, 2, 0, nil), common.Hash{1})

	tests := []struct {
		name   string
		mutate func(*ethtypes.Log)
		opts   Options
		target error
	}{
		{name: "pending block hash", mutate: func(l *ethtypes.Log) { l.BlockHash = common.Hash{} }},
		{name: "pending tx hash", mutate: func(l *ethtypes.Log) { l.TxHash = common.Hash{} }},
		{name: "pending block number", mutate: func(l *ethtypes.Log) { l.BlockNumber = 0 }},
		{name: "wrong topic", mutate: func(l *ethtypes.Log) { l.Topics = []common.Hash{{0x01}} }},
		{name: "no topics", mutate: func(l *ethtypes.Log) { l.Topics = nil }},
		{name: "garbage data", mutate: func(l *ethtypes.Log) { l.Data = []byte{1, 2, 3} }},
		{name: "removed", mutate: func(l *ethtypes.Log) { l.Removed = true }, target: types.ErrLogRemoved},
		{
			name:   "short packet",
			mutate: func(l *ethtypes.Log) { *l = makeLog(t, make([]byte, headerLength-1), common.Hash{1}) },
		},
		{
			name:   "foreign emitter",
			mutate: func(l *ethtypes.Log) { l.Address = common.HexToAddress("0x01") },
			opts:   Options{Emitters: []common.Address{testEndpoint}},
			target: ErrNotForUs,
		},
		{
			name:   "foreign destination",
			mutate: func(*ethtypes.Log) {},
			opts:   Options{DstEid: 30110},
			target: ErrNotForUs,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lg := good
			lg.Topics = append([]common.Hash(nil), good.Topics...)
			tt.mutate(&lg)

			_, err := NewDecoder(tt.opts).Decode(lg)
			var derr *types.DecodeError
			require.True(t, errors.As(err, &derr), "want DecodeError, got %v", err)
			if tt.target != nil {
				require.ErrorIs(t, err, tt.target)
			}
		})
	}
}

func TestDecodeDeterministic(t *testing.T) {
	dec := NewDecoder(Options{})
	rapid.Check(t, func(t *rapid.T) {
		src := rapid.Uint32().Draw(t, "src")
		dst := rapid.Uint32().Draw(t, "dst")
		msg := rapid.SliceOf(rapid.Byte()).Draw(t, "msg")
		payload := common.BytesToHash(rapid.SliceOfN(rapid.Byte(), 32, 32).Draw(t, "payload"))

		lg := makeLog(t, encodePacket(src, dst, 1, msg), payload)
		a, err := dec.Decode(lg)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		b, err := dec.Decode(lg)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if a.ID != b.ID {
			t.Fatalf("packet id not deterministic: %s != %s", a.ID, b.ID)
		}
	})
}

// Block coordinates never feed into the packet id.
func TestPacketIDIgnoresLocation(t *testing.T) {
	dec := NewDecoder(Options{})
	rapid.Check(t, func(t *rapid.T) {
		lg := makeLog(t, encodePacket(rapid.Uint32().Draw(t, "src"), rapid.Uint32().Draw(t, "dst"), 0, nil), common.Hash{7})
		a, err := dec.Decode(lg)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		lg.Index = rapid.UintRange(0, 1<<16).Draw(t, "index")
		lg.BlockHash = common.BytesToHash(append(rapid.SliceOfN(rapid.Byte(), 0, 31).Draw(t, "blockHash"), 0x01))
		lg.BlockNumber = rapid.Uint64Range(1, 1<<40).Draw(t, "number")
		b, err := dec.Decode(lg)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if a.ID != b.ID {
			t.Fatalf("packet id changed with log location")
		}
	})
}
