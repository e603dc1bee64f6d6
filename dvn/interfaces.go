package dvn

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/nori-zk/dvn-worker/core/types"
	"github.com/nori-zk/dvn-worker/dvn/finality"
	"github.com/nori-zk/dvn-worker/dvn/submit"
)

// Collaborators of the Worker, one per pipeline stage.
//
//go:generate mockgen -source=interfaces.go -destination=../tests/mocks/MockPipeline.go -package=mocks
type FinalityChecker interface {
	Check(ctx context.Context, block uint64) (finality.Status, error)
	RecheckDelay(remaining uint64) time.Duration
}

type Attester interface {
	RequestAttestation(ctx context.Context, messageHash common.Hash) (*types.Attestation, error)
}

type Prover interface {
	GetProof(ctx context.Context, packetID common.Hash) (*types.Proof, error)
}

type Submitter interface {
	IsVerified(ctx context.Context, packetID common.Hash) (bool, error)
	Submit(ctx context.Context, req *types.VerificationRequest) (*submit.Result, error)
}

type Archiver interface {
	Store(ctx context.Context, req *types.VerificationRequest) error
}

// LogSource passes raw source chain logs to handle until ctx is cancelled.
// A log is only considered consumed once handle returned nil for it.
type LogSource interface {
	Run(ctx context.Context, handle func(ethtypes.Log) error) error
}

// PacketStore persists packet states across restarts.
type PacketStore interface {
	PutPacket(ps *types.PacketState) error
	Packet(id common.Hash) (*types.PacketState, error)
	IteratePackets(fn func(*types.PacketState) error) error
}
