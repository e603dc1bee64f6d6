// Package submit broadcasts verification transactions to the destination
// DVN contract and inspects their receipts.
package submit

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/ethereum/go-ethereum/rpc"
	lru "github.com/hashicorp/golang-lru"
	"github.com/nori-zk/dvn-worker/core/types"
)

const serviceName = "destination-rpc"

var (
	// ErrAlreadyVerified is returned by Submit when the contract already
	// reports the packet as verified. Nothing is broadcast.
	ErrAlreadyVerified = errors.New("packet already verified")

	ErrReceiptTimeout       = errors.New("timed out waiting for receipt")
	ErrVerifiedEventMissing = errors.New("receipt has no Verified event for packet")
)

var (
	defaultTipCap = big.NewInt(2_000_000_000)

	verifiedCacheHit  = metrics.NewRegisteredCounter("dvn/submit/verified/cache/hit", nil)
	verifiedCacheMiss = metrics.NewRegisteredCounter("dvn/submit/verified/cache/miss", nil)
	revertMeter       = metrics.NewRegisteredMeter("dvn/submit/reverts", nil)
	gasUsedGauge      = metrics.NewRegisteredGauge("dvn/submit/gasused", nil)
)

// Config configures the submission engine.
type Config struct {
	Contract          common.Address `toml:"contract"`
	GasLimit          uint64         `toml:"gas_limit"`
	GasBufferPct      uint64         `toml:"gas_buffer_pct"`
	Confirmations     uint64         `toml:"confirmations"`
	ReceiptTimeout    time.Duration  `toml:"receipt_timeout"`
	PollInterval      time.Duration  `toml:"poll_interval"`
	MaxPriorityFeeWei string         `toml:"max_priority_fee_wei"`
	MaxFeePerGasWei   string         `toml:"max_fee_per_gas_wei"`
	VerifiedCacheSize int            `toml:"verified_cache_size"`
}

func DefaultConfig() Config {
	return Config{
		GasLimit:          500_000,
		GasBufferPct:      15,
		Confirmations:     1,
		ReceiptTimeout:    5 * time.Minute,
		PollInterval:      2 * time.Second,
		VerifiedCacheSize: 4096,
	}
}

// Result describes a confirmed verification transaction.
type Result struct {
	TxHash      common.Hash
	BlockNumber uint64
	GasUsed     uint64
}

// Engine submits verification requests and answers verified() queries.
type Engine struct {
	cfg      Config
	client   Backend
	signer   Signer
	contract *Contract
	seq      *Sequencer
	verified *lru.Cache // packetID -> struct{}, positive answers only
	log      log.Logger
}

// New validates the signer against the backend's chain id and starts the
// nonce sequencer. Close must be called to release it.
func New(ctx context.Context, cfg Config, client Backend, signer Signer) (*Engine, error) {
	contract, err := NewContract(cfg.Contract)
	if err != nil {
		return nil, err
	}
	if signer == nil {
		return nil, errors.New("no signer provided")
	}
	if cfg.GasLimit == 0 {
		return nil, errors.New("gas limit must be positive")
	}
	if cfg.Confirmations == 0 {
		cfg.Confirmations = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.ReceiptTimeout <= 0 {
		cfg.ReceiptTimeout = DefaultConfig().ReceiptTimeout
	}
	if cfg.VerifiedCacheSize <= 0 {
		cfg.VerifiedCacheSize = DefaultConfig().VerifiedCacheSize
	}
	rpcChainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, &types.TransientServiceError{Service: serviceName, Op: "chainId", Err: err}
	}
	signerChainID, err := signer.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	if rpcChainID.Cmp(signerChainID) != 0 {
		return nil, fmt.Errorf("chain id mismatch: rpc=%v signer=%v", rpcChainID, signerChainID)
	}
	cache, err := lru.New(cfg.VerifiedCacheSize)
	if err != nil {
		return nil, err
	}
	return &Engine{
		cfg:      cfg,
		client:   client,
		signer:   signer,
		contract: contract,
		seq:      NewSequencer(client, signer),
		verified: cache,
		log:      log.New("component", "submit", "contract", cfg.Contract),
	}, nil
}

func (e *Engine) Close() { e.seq.Close() }

func (e *Engine) From() common.Address { return e.signer.From() }

func (e *Engine) Contract() *Contract { return e.contract }

// IsVerified queries the contract's verified(packetId) view.
func (e *Engine) IsVerified(ctx context.Context, packetID common.Hash) (bool, error) {
	if e.verified.Contains(packetID) {
		verifiedCacheHit.Inc(1)
		return true, nil
	}
	verifiedCacheMiss.Inc(1)

	data, err := e.contract.PackVerified(packetID)
	if err != nil {
		return false, err
	}
	to := e.contract.Address()
	out, err := e.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return false, &types.TransientServiceError{Service: serviceName, Op: "verified", Err: err}
	}
	ok, err := e.contract.UnpackVerified(out)
	if err != nil {
		return false, &types.TransientServiceError{Service: serviceName, Op: "verified", Err: err}
	}
	if ok {
		e.verified.Add(packetID, struct{}{})
	}
	return ok, nil
}

// Submit broadcasts a submitVerification transaction for req and waits for
// it to be confirmed. The caller is expected to pass a context that is not
// cancelled on shutdown; waiting is bounded by the receipt timeout.
func (e *Engine) Submit(ctx context.Context, req *types.VerificationRequest) (*Result, error) {
	verified, err := e.IsVerified(ctx, req.PacketID)
	if err != nil {
		return nil, err
	}
	if verified {
		return nil, ErrAlreadyVerified
	}
	data, err := e.contract.PackSubmitVerification(req)
	if err != nil {
		return nil, fmt.Errorf("build calldata: %w", err)
	}
	gas, err := e.estimateGasLimit(ctx, data)
	if err != nil {
		return nil, err
	}
	tipCap, feeCap := e.suggestFees(ctx)

	tx, err := e.seq.Send(ctx, Call{
		To:        e.contract.Address(),
		Data:      data,
		Gas:       gas,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
	})
	if err != nil {
		return nil, &types.TransientServiceError{Service: serviceName, Op: "send", Err: err}
	}
	e.log.Info("Submitted verification", "packet", req.PacketID, "tx", tx.Hash(), "nonce", tx.Nonce(), "gas", gas,
		"tipCap", tipCap, "feeCap", feeCap)

	wctx, cancel := context.WithTimeout(ctx, e.cfg.ReceiptTimeout)
	defer cancel()
	receipt, err := e.waitReceipt(wctx, tx.Hash())
	if err != nil {
		// The transaction is out, so this is terminal rather than transient.
		return nil, fmt.Errorf("%w: tx %s: %v", ErrReceiptTimeout, tx.Hash().Hex(), err)
	}
	if receipt.Status == ethtypes.ReceiptStatusFailed {
		revertMeter.Mark(1)
		return nil, &types.SubmissionRevert{TxHash: tx.Hash(), Reason: "receipt status failed"}
	}
	if !e.contract.HasVerifiedEvent(receipt, req.PacketID) {
		revertMeter.Mark(1)
		return nil, &types.SubmissionRevert{TxHash: tx.Hash(), Err: ErrVerifiedEventMissing}
	}
	e.verified.Add(req.PacketID, struct{}{})
	gasUsedGauge.Update(int64(receipt.GasUsed))

	res := &Result{TxHash: tx.Hash(), GasUsed: receipt.GasUsed}
	if receipt.BlockNumber != nil {
		res.BlockNumber = receipt.BlockNumber.Uint64()
	}
	return res, nil
}

// estimateGasLimit estimates gas and applies the safety buffer, capped at
// the configured gas limit. A revert during estimation is final.
func (e *Engine) estimateGasLimit(ctx context.Context, data []byte) (uint64, error) {
	to := e.contract.Address()
	msg := ethereum.CallMsg{From: e.signer.From(), To: &to, Value: new(big.Int), Data: data}
	est, err := e.client.EstimateGas(ctx, msg)
	if err != nil {
		if rev, ok := asRevert(err); ok {
			revertMeter.Mark(1)
			return 0, rev
		}
		e.log.Warn("Gas estimation failed, using fallback", "gas", e.cfg.GasLimit, "err", err)
		return e.cfg.GasLimit, nil
	}
	gas := est + est*e.cfg.GasBufferPct/100
	if gas > e.cfg.GasLimit || gas < est {
		gas = e.cfg.GasLimit
	}
	e.log.Debug("Gas estimated", "estimate", est, "limit", gas)
	return gas, nil
}

// suggestFees returns EIP-1559 tip and fee caps with config overrides.
func (e *Engine) suggestFees(ctx context.Context) (*big.Int, *big.Int) {
	tipCap, err := e.client.SuggestGasTipCap(ctx)
	if err != nil || tipCap == nil {
		tipCap = new(big.Int).Set(defaultTipCap)
	}
	var feeCap *big.Int
	if head, err := e.client.HeaderByNumber(ctx, nil); err == nil && head != nil && head.BaseFee != nil {
		feeCap = new(big.Int).Add(new(big.Int).Mul(head.BaseFee, big.NewInt(2)), tipCap)
	} else if sp, err := e.client.SuggestGasPrice(ctx); err == nil && sp != nil {
		feeCap = sp
	} else {
		feeCap = new(big.Int).Add(defaultTipCap, tipCap)
	}
	if v, ok := parseWei(e.cfg.MaxPriorityFeeWei); ok && v.Cmp(tipCap) < 0 {
		tipCap = v
	}
	if v, ok := parseWei(e.cfg.MaxFeePerGasWei); ok && v.Cmp(feeCap) < 0 {
		feeCap = v
	}
	if feeCap.Cmp(tipCap) < 0 {
		feeCap = new(big.Int).Set(tipCap)
	}
	return tipCap, feeCap
}

func parseWei(s string) (*big.Int, bool) {
	if s == "" {
		return nil, false
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() <= 0 {
		return nil, false
	}
	return v, true
}

func (e *Engine) waitReceipt(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error) {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := e.client.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			if receipt.Status == ethtypes.ReceiptStatusFailed || receipt.BlockNumber == nil {
				return receipt, nil
			}
			head, err := e.client.BlockNumber(ctx)
			if err != nil {
				e.log.Debug("Failed to fetch head for confirmations", "tx", hash, "err", err)
				break
			}
			if head+1 >= receipt.BlockNumber.Uint64()+e.cfg.Confirmations {
				return receipt, nil
			}
		case errors.Is(err, ethereum.NotFound):
		default:
			e.log.Debug("Failed to fetch receipt", "tx", hash, "err", err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// asRevert recognises an execution revert reported by eth_estimateGas and
// decodes its reason if the node returned revert data.
func asRevert(err error) (*types.SubmissionRevert, bool) {
	if !strings.Contains(strings.ToLower(err.Error()), "revert") {
		return nil, false
	}
	rev := &types.SubmissionRevert{Err: err}
	var de rpc.DataError
	if errors.As(err, &de) {
		if s, ok := de.ErrorData().(string); ok {
			if data, derr := hexutil.Decode(s); derr == nil {
				if reason, uerr := abi.UnpackRevert(data); uerr == nil {
					rev.Reason = reason
				}
			}
		}
	}
	return rev, true
}
