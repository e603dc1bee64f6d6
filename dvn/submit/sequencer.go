package submit

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
)

var ErrSequencerClosed = errors.New("sequencer closed")

// Call is an unsigned contract call handed to the Sequencer.
type Call struct {
	To        common.Address
	Data      []byte
	Gas       uint64
	GasTipCap *big.Int
	GasFeeCap *big.Int
}

type sendRequest struct {
	ctx    context.Context
	call   Call
	result chan sendResult
}

type sendResult struct {
	tx  *ethtypes.Transaction
	err error
}

// Sequencer is the single owner of the signer's nonce. Calls are signed and
// broadcast one at a time in arrival order; the local nonce is resynced from
// the pending state after any failure.
type Sequencer struct {
	client Backend
	signer Signer

	reqs      chan sendRequest
	quit      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	// owned by loop
	nonce  uint64
	synced bool

	log log.Logger
}

func NewSequencer(client Backend, signer Signer) *Sequencer {
	s := &Sequencer{
		client: client,
		signer: signer,
		reqs:   make(chan sendRequest),
		quit:   make(chan struct{}),
		log:    log.New("component", "sequencer", "from", signer.From()),
	}
	s.wg.Add(1)
	go s.loop()
	return s
}

// Send signs call with the next nonce and broadcasts it. Once the request is
// accepted by the sequencer, Send waits for the outcome even if ctx is
// cancelled, so that a broadcast transaction is never lost to the caller.
func (s *Sequencer) Send(ctx context.Context, call Call) (*ethtypes.Transaction, error) {
	req := sendRequest{ctx: ctx, call: call, result: make(chan sendResult, 1)}
	select {
	case s.reqs <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.quit:
		return nil, ErrSequencerClosed
	}
	res := <-req.result
	return res.tx, res.err
}

// Close stops the sequencer and waits for an in-flight send to finish.
func (s *Sequencer) Close() {
	s.closeOnce.Do(func() { close(s.quit) })
	s.wg.Wait()
}

func (s *Sequencer) loop() {
	defer s.wg.Done()
	for {
		select {
		case req := <-s.reqs:
			tx, err := s.send(req.ctx, req.call)
			req.result <- sendResult{tx: tx, err: err}
		case <-s.quit:
			return
		}
	}
}

func (s *Sequencer) send(ctx context.Context, call Call) (*ethtypes.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !s.synced {
		nonce, err := s.client.PendingNonceAt(ctx, s.signer.From())
		if err != nil {
			return nil, fmt.Errorf("fetch nonce: %w", err)
		}
		s.nonce, s.synced = nonce, true
		s.log.Debug("Synced nonce", "nonce", nonce)
	}
	chainID, err := s.signer.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain id: %w", err)
	}
	to := call.To
	unsigned := ethtypes.NewTx(&ethtypes.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     s.nonce,
		To:        &to,
		Value:     new(big.Int),
		Gas:       call.Gas,
		GasTipCap: call.GasTipCap,
		GasFeeCap: call.GasFeeCap,
		Data:      call.Data,
	})
	signed, err := s.signer.SignTx(ctx, unsigned)
	if err != nil {
		return nil, fmt.Errorf("sign tx: %w", err)
	}
	if err := s.client.SendTransaction(ctx, signed); err != nil {
		s.synced = false
		s.log.Warn("Failed to send transaction", "nonce", s.nonce, "hash", signed.Hash(), "err", err)
		return nil, fmt.Errorf("send tx: %w", err)
	}
	s.nonce++
	return signed, nil
}
