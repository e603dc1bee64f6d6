package types

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
)

// Packet is a single cross-chain message send observed on the source chain.
// It is immutable once decoded; ID is the only identity used for
// deduplication.
type Packet struct {
	ID          common.Hash    `json:"packetId"`
	SrcEid      uint32         `json:"srcEid"`
	DstEid      uint32         `json:"dstEid"`
	Header      hexutil.Bytes  `json:"packetHeader"`
	PayloadHash common.Hash    `json:"payloadHash"`
	BlockHash   common.Hash    `json:"blockHash"`
	LogIndex    uint32         `json:"logIndex"`
	Emitter     common.Address `json:"emitter"`
	TxHash      common.Hash    `json:"transactionHash"`
	BlockNumber uint64         `json:"blockNumber"`
}

func (p *Packet) String() string {
	return fmt.Sprintf("packet{id=%s src=%d dst=%d block=%d tx=%s log=%d}",
		p.ID.TerminalString(), p.SrcEid, p.DstEid, p.BlockNumber, p.TxHash.TerminalString(), p.LogIndex)
}

// ZkInputs are the public inputs of the inclusion proof. The worker treats
// them as opaque beyond structural validation.
type ZkInputs struct {
	Slot         uint64         `json:"slot"`
	BlockHash    common.Hash    `json:"blockHash"`
	ReceiptsRoot common.Hash    `json:"receiptsRoot"`
	Emitter      common.Address `json:"emitter"`
	TopicsHash   common.Hash    `json:"topicsHash"`
	LogIndex     uint32         `json:"logIndex"`
	MinFinality  uint64         `json:"minFinality"`
}

// proof services emit quantities either as JSON numbers, decimal strings or
// 0x-prefixed hex strings.
type zkInputsJSON struct {
	Slot         *math.HexOrDecimal64 `json:"slot"`
	BlockHash    *common.Hash         `json:"blockHash"`
	ReceiptsRoot *common.Hash         `json:"receiptsRoot"`
	Emitter      *common.Address      `json:"emitter"`
	TopicsHash   *common.Hash         `json:"topicsHash"`
	LogIndex     *math.HexOrDecimal64 `json:"logIndex"`
	MinFinality  *math.HexOrDecimal64 `json:"minFinality"`
}

// UnmarshalJSON decodes ZkInputs, rejecting documents with missing fields.
func (z *ZkInputs) UnmarshalJSON(input []byte) error {
	var dec zkInputsJSON
	if err := json.Unmarshal(input, &dec); err != nil {
		return err
	}
	switch {
	case dec.Slot == nil:
		return errMissingField("slot")
	case dec.BlockHash == nil:
		return errMissingField("blockHash")
	case dec.ReceiptsRoot == nil:
		return errMissingField("receiptsRoot")
	case dec.Emitter == nil:
		return errMissingField("emitter")
	case dec.TopicsHash == nil:
		return errMissingField("topicsHash")
	case dec.LogIndex == nil:
		return errMissingField("logIndex")
	case dec.MinFinality == nil:
		return errMissingField("minFinality")
	}
	if uint64(*dec.LogIndex) > uint64(^uint32(0)) {
		return fmt.Errorf("zk inputs: logIndex %d overflows uint32", uint64(*dec.LogIndex))
	}
	z.Slot = uint64(*dec.Slot)
	z.BlockHash = *dec.BlockHash
	z.ReceiptsRoot = *dec.ReceiptsRoot
	z.Emitter = *dec.Emitter
	z.TopicsHash = *dec.TopicsHash
	z.LogIndex = uint32(*dec.LogIndex)
	z.MinFinality = uint64(*dec.MinFinality)
	return nil
}

func errMissingField(name string) error {
	return fmt.Errorf("missing required field '%s' for ZkInputs", name)
}

// Attestation is the aggregated operator signature over a message hash.
type Attestation struct {
	Signature   []byte
	Epoch       uint64
	Proof       []byte
	Placeholder bool // produced in degraded mode, not by the service
}

// Proof is the zero-knowledge inclusion proof for a packet.
type Proof struct {
	Proof       []byte
	Inputs      ZkInputs
	Placeholder bool
}

// VerificationRequest is the payload of a submitVerification call. It is
// built once per packet and never mutated afterwards.
type VerificationRequest struct {
	PacketID         common.Hash
	MessageHash      common.Hash
	Epoch            uint64
	AttestationProof []byte
	ZkProof          []byte
	ZkInputs         ZkInputs
}
