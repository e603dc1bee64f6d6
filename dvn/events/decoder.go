// Package events turns raw source-chain logs into verification packets.
package events

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/nori-zk/dvn-worker/core/types"
)

const packetSentABI = `[{
	"anonymous": false,
	"name": "PacketSent",
	"type": "event",
	"inputs": [
		{"indexed": false, "name": "encodedPacket", "type": "bytes"},
		{"indexed": false, "name": "payloadHash", "type": "bytes32"},
		{"indexed": false, "name": "sender", "type": "address"}
	]
}]`

// LayerZero V2 packet header:
// version(1) | nonce(8) | srcEid(4) | sender(32) | dstEid(4) | receiver(32)
const (
	headerLength = 81
	srcEidOffset = 9
	dstEidOffset = 45
)

var (
	// PacketSentTopic is topic[0] of every log the decoder accepts.
	PacketSentTopic = crypto.Keccak256Hash([]byte("PacketSent(bytes,bytes32,address)"))

	// ErrNotForUs marks packets filtered out by emitter or destination.
	ErrNotForUs = errors.New("packet not addressed to this verifier")

	packetSentEvent abi.ABI
	packetIDArgs    abi.Arguments
)

func init() {
	var err error
	packetSentEvent, err = abi.JSON(strings.NewReader(packetSentABI))
	if err != nil {
		panic(fmt.Sprintf("invalid PacketSent ABI: %v", err))
	}
	packetIDArgs = abi.Arguments{
		{Type: mustType("uint32")},
		{Type: mustType("uint32")},
		{Type: mustType("bytes")},
		{Type: mustType("bytes32")},
	}
}

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

// Options restrict which packets the decoder accepts.
type Options struct {
	// Emitters, if non-empty, lists the endpoint contracts whose logs are
	// accepted.
	Emitters []common.Address

	// DstEid, if non-zero, is the only destination endpoint id accepted.
	DstEid uint32
}

// Decoder decodes PacketSent logs. It is stateless and safe for concurrent
// use.
type Decoder struct {
	emitters mapset.Set[common.Address]
	dstEid   uint32
}

func NewDecoder(opts Options) *Decoder {
	return &Decoder{
		emitters: mapset.NewSet(opts.Emitters...),
		dstEid:   opts.DstEid,
	}
}

type packetSent struct {
	EncodedPacket []byte
	PayloadHash   [32]byte
	Sender        common.Address
}

// Decode parses lg into a Packet. Every failure is a *types.DecodeError.
func (d *Decoder) Decode(lg ethtypes.Log) (*types.Packet, error) {
	if lg.Removed {
		return nil, &types.DecodeError{Reason: "removed log", Err: types.ErrLogRemoved}
	}
	if len(lg.Topics) == 0 || lg.Topics[0] != PacketSentTopic {
		return nil, &types.DecodeError{Reason: "unexpected topic"}
	}
	// Logs served from a pending view lack their block coordinates.
	switch {
	case lg.BlockHash == (common.Hash{}):
		return nil, &types.DecodeError{Reason: "missing blockHash"}
	case lg.TxHash == (common.Hash{}):
		return nil, &types.DecodeError{Reason: "missing transactionHash"}
	case lg.BlockNumber == 0:
		return nil, &types.DecodeError{Reason: "missing blockNumber"}
	}
	if d.emitters.Cardinality() > 0 && !d.emitters.Contains(lg.Address) {
		return nil, &types.DecodeError{Reason: "unknown emitter " + lg.Address.Hex(), Err: ErrNotForUs}
	}

	var ev packetSent
	if err := packetSentEvent.UnpackIntoInterface(&ev, "PacketSent", lg.Data); err != nil {
		return nil, &types.DecodeError{Reason: "unpack PacketSent", Err: err}
	}
	if len(ev.EncodedPacket) < headerLength {
		return nil, &types.DecodeError{
			Reason: fmt.Sprintf("encoded packet too short: have %d, want >= %d", len(ev.EncodedPacket), headerLength),
		}
	}
	header := common.CopyBytes(ev.EncodedPacket[:headerLength])
	srcEid := binary.BigEndian.Uint32(header[srcEidOffset:])
	dstEid := binary.BigEndian.Uint32(header[dstEidOffset:])
	if d.dstEid != 0 && dstEid != d.dstEid {
		return nil, &types.DecodeError{Reason: fmt.Sprintf("destination eid %d", dstEid), Err: ErrNotForUs}
	}

	id, err := PacketID(srcEid, dstEid, header, ev.PayloadHash)
	if err != nil {
		return nil, &types.DecodeError{Reason: "packet id", Err: err}
	}
	p := &types.Packet{
		ID:          id,
		SrcEid:      srcEid,
		DstEid:      dstEid,
		Header:      header,
		PayloadHash: ev.PayloadHash,
		BlockHash:   lg.BlockHash,
		LogIndex:    uint32(lg.Index),
		Emitter:     lg.Address,
		TxHash:      lg.TxHash,
		BlockNumber: lg.BlockNumber,
	}
	log.Trace("Decoded PacketSent log", "packet", p.ID, "sender", ev.Sender, "block", p.BlockNumber)
	return p, nil
}

// PacketID is keccak256(abi.encode(uint32 srcEid, uint32 dstEid, bytes header, bytes32 payloadHash)).
// No other packet field takes part in it.
func PacketID(srcEid, dstEid uint32, header []byte, payloadHash common.Hash) (common.Hash, error) {
	enc, err := packetIDArgs.Pack(srcEid, dstEid, header, [32]byte(payloadHash))
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(enc), nil
}
