package types

import (
	"fmt"
	"io"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
)

// State is a stage of the per-packet verification pipeline.
type State uint8

const (
	StateDetected State = iota
	StateCheckingFinality
	StateAwaitingFinality
	StateBuildingRequest
	StateSubmitting
	StateConfirmed
	StateFailed
)

var stateNames = [...]string{
	StateDetected:         "detected",
	StateCheckingFinality: "checking-finality",
	StateAwaitingFinality: "awaiting-finality",
	StateBuildingRequest:  "building-request",
	StateSubmitting:       "submitting",
	StateConfirmed:        "confirmed",
	StateFailed:           "failed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Terminal reports whether no automatic transition leaves s.
func (s State) Terminal() bool {
	return s == StateConfirmed || s == StateFailed
}

// PacketState is the orchestrator's record for one packet.
type PacketState struct {
	Packet          Packet
	State           State
	Attempts        uint64
	LastError       string
	Stage           State // stage in which LastError occurred
	TxHash          common.Hash
	NextCheck       time.Time
	ReplayRequested bool
	UpdatedAt       time.Time
}

// Copy returns a deep copy of the state.
func (ps *PacketState) Copy() *PacketState {
	cpy := *ps
	cpy.Packet.Header = common.CopyBytes(ps.Packet.Header)
	return &cpy
}

// wire shape for RLP (times as unix nanos, header as plain bytes)
type encPacketState struct {
	ID              common.Hash
	SrcEid          uint32
	DstEid          uint32
	Header          []byte
	PayloadHash     common.Hash
	BlockHash       common.Hash
	LogIndex        uint32
	Emitter         common.Address
	TxHash          common.Hash
	BlockNumber     uint64
	State           uint8
	Attempts        uint64
	LastError       string
	Stage           uint8
	SubmitTx        common.Hash
	NextCheck       uint64
	ReplayRequested bool
	UpdatedAt       uint64
}

// EncodeRLP implements rlp.Encoder.
func (ps *PacketState) EncodeRLP(w io.Writer) error {
	return rlp.Encode(w, &encPacketState{
		ID:              ps.Packet.ID,
		SrcEid:          ps.Packet.SrcEid,
		DstEid:          ps.Packet.DstEid,
		Header:          ps.Packet.Header,
		PayloadHash:     ps.Packet.PayloadHash,
		BlockHash:       ps.Packet.BlockHash,
		LogIndex:        ps.Packet.LogIndex,
		Emitter:         ps.Packet.Emitter,
		TxHash:          ps.Packet.TxHash,
		BlockNumber:     ps.Packet.BlockNumber,
		State:           uint8(ps.State),
		Attempts:        ps.Attempts,
		LastError:       ps.LastError,
		Stage:           uint8(ps.Stage),
		SubmitTx:        ps.TxHash,
		NextCheck:       unixNano(ps.NextCheck),
		ReplayRequested: ps.ReplayRequested,
		UpdatedAt:       unixNano(ps.UpdatedAt),
	})
}

// DecodeRLP implements rlp.Decoder.
func (ps *PacketState) DecodeRLP(s *rlp.Stream) error {
	var dec encPacketState
	if err := s.Decode(&dec); err != nil {
		return err
	}
	ps.Packet = Packet{
		ID:          dec.ID,
		SrcEid:      dec.SrcEid,
		DstEid:      dec.DstEid,
		Header:      dec.Header,
		PayloadHash: dec.PayloadHash,
		BlockHash:   dec.BlockHash,
		LogIndex:    dec.LogIndex,
		Emitter:     dec.Emitter,
		TxHash:      dec.TxHash,
		BlockNumber: dec.BlockNumber,
	}
	ps.State = State(dec.State)
	ps.Attempts = dec.Attempts
	ps.LastError = dec.LastError
	ps.Stage = State(dec.Stage)
	ps.TxHash = dec.SubmitTx
	ps.NextCheck = fromUnixNano(dec.NextCheck)
	ps.ReplayRequested = dec.ReplayRequested
	ps.UpdatedAt = fromUnixNano(dec.UpdatedAt)
	return nil
}

func unixNano(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	return uint64(t.UnixNano())
}

func fromUnixNano(n uint64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, int64(n))
}
