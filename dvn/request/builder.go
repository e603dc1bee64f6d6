// Package request assembles verification requests from a packet, its
// attestation and its proof. Everything here is a pure function.
package request

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/nori-zk/dvn-worker/core/types"
)

// DomainTag versions the message hash layout. Any change to the packing
// below must come with a new tag.
const DomainTag = "LZ_DVN_V1"

// MaxEpoch is the largest epoch the contract's uint48 parameter holds.
const MaxEpoch = 1<<48 - 1

var (
	errNilPacket      = errors.New("nil packet")
	errNilAttestation = errors.New("nil attestation")
	errNilProof       = errors.New("nil proof")
)

// MessageHash is the hash the operator set signs:
//
//	keccak256(abi.encodePacked("LZ_DVN_V1", uint32 srcEid, uint32 dstEid,
//	    bytes header, bytes32 payloadHash, bytes32 blockHash, uint32 logIndex, address emitter))
func MessageHash(p *types.Packet) common.Hash {
	buf := make([]byte, 0, len(DomainTag)+4+4+len(p.Header)+32+32+4+common.AddressLength)
	buf = append(buf, DomainTag...)
	buf = binary.BigEndian.AppendUint32(buf, p.SrcEid)
	buf = binary.BigEndian.AppendUint32(buf, p.DstEid)
	buf = append(buf, p.Header...)
	buf = append(buf, p.PayloadHash[:]...)
	buf = append(buf, p.BlockHash[:]...)
	buf = binary.BigEndian.AppendUint32(buf, p.LogIndex)
	buf = append(buf, p.Emitter[:]...)
	return crypto.Keccak256Hash(buf)
}

// Build combines the inputs into a VerificationRequest. The returned request
// shares no memory with its inputs.
func Build(p *types.Packet, att *types.Attestation, proof *types.Proof) (*types.VerificationRequest, error) {
	switch {
	case p == nil:
		return nil, errNilPacket
	case att == nil:
		return nil, errNilAttestation
	case proof == nil:
		return nil, errNilProof
	}
	if att.Epoch > MaxEpoch {
		return nil, fmt.Errorf("epoch %d exceeds uint48", att.Epoch)
	}
	return &types.VerificationRequest{
		PacketID:         p.ID,
		MessageHash:      MessageHash(p),
		Epoch:            att.Epoch,
		AttestationProof: common.CopyBytes(att.Signature),
		ZkProof:          common.CopyBytes(proof.Proof),
		ZkInputs:         proof.Inputs,
	}, nil
}
