package submit

import (
	_ "embed"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/nori-zk/dvn-worker/core/types"
)

//go:embed abi/dvn.json
var dvnABIJSON string

// Contract encodes calls to the destination DVN contract and recognises its
// events.
type Contract struct {
	address common.Address
	abi     abi.ABI
}

func NewContract(address common.Address) (*Contract, error) {
	if address == (common.Address{}) {
		return nil, fmt.Errorf("contract address is empty")
	}
	a, err := abi.JSON(strings.NewReader(dvnABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse ABI: %w", err)
	}
	return &Contract{address: address, abi: a}, nil
}

func (c *Contract) Address() common.Address { return c.address }

func (c *Contract) ABI() abi.ABI { return c.abi }

// VerifiedTopic is the topic of the Verified(bytes32,bytes32) event.
func (c *Contract) VerifiedTopic() common.Hash { return c.abi.Events["Verified"].ID }

// SubmittedTopic is the topic of the Submitted(bytes32) event.
func (c *Contract) SubmittedTopic() common.Hash { return c.abi.Events["Submitted"].ID }

type zkInputsArg struct {
	Slot         uint64         `abi:"slot"`
	BlockHash    [32]byte       `abi:"blockHash"`
	ReceiptsRoot [32]byte       `abi:"receiptsRoot"`
	Emitter      common.Address `abi:"emitter"`
	TopicsHash   [32]byte       `abi:"topicsHash"`
	LogIndex     uint32         `abi:"logIndex"`
	MinFinality  uint64         `abi:"minFinality"`
}

// PackSubmitVerification builds the submitVerification calldata for req.
func (c *Contract) PackSubmitVerification(req *types.VerificationRequest) ([]byte, error) {
	if req == nil {
		return nil, fmt.Errorf("verification request is nil")
	}
	in := req.ZkInputs
	return c.abi.Pack("submitVerification",
		[32]byte(req.PacketID),
		[32]byte(req.MessageHash),
		new(big.Int).SetUint64(req.Epoch),
		req.AttestationProof,
		req.ZkProof,
		zkInputsArg{
			Slot:         in.Slot,
			BlockHash:    in.BlockHash,
			ReceiptsRoot: in.ReceiptsRoot,
			Emitter:      in.Emitter,
			TopicsHash:   in.TopicsHash,
			LogIndex:     in.LogIndex,
			MinFinality:  in.MinFinality,
		},
	)
}

func (c *Contract) PackVerified(packetID common.Hash) ([]byte, error) {
	return c.abi.Pack("verified", [32]byte(packetID))
}

func (c *Contract) UnpackVerified(output []byte) (bool, error) {
	values, err := c.abi.Unpack("verified", output)
	if err != nil {
		return false, err
	}
	if len(values) != 1 {
		return false, fmt.Errorf("verified: unexpected %d return values", len(values))
	}
	ok, isBool := values[0].(bool)
	if !isBool {
		return false, fmt.Errorf("verified: unexpected return type %T", values[0])
	}
	return ok, nil
}

// HasVerifiedEvent reports whether the receipt carries a Verified event for
// packetID emitted by this contract.
func (c *Contract) HasVerifiedEvent(receipt *ethtypes.Receipt, packetID common.Hash) bool {
	topic := c.VerifiedTopic()
	for _, l := range receipt.Logs {
		if l.Address != c.address || len(l.Topics) < 2 {
			continue
		}
		if l.Topics[0] == topic && l.Topics[1] == packetID {
			return true
		}
	}
	return false
}
