// Package zkproof fetches zero-knowledge inclusion proofs for packets.
package zkproof

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/nori-zk/dvn-worker/core/types"
	"github.com/nori-zk/dvn-worker/internal/httputil"
)

const (
	serviceName = "proof"

	// placeholderProofSize is the length of the all-zero proof used when no
	// proof service is available.
	placeholderProofSize = 128
)

var (
	ErrNoService  = errors.New("no proof service configured")
	errEmptyProof = errors.New("empty proof")
)

type Config struct {
	URL     string        `toml:"url"`
	Timeout time.Duration `toml:"timeout"`
}

func DefaultConfig() Config {
	return Config{Timeout: 60 * time.Second}
}

// Client fetches proofs from the proof service. With an empty URL every
// call returns a placeholder; that is only allowed in degraded mode.
type Client struct {
	url     string
	mode    types.Mode
	timeout time.Duration
	http    *http.Client
	log     log.Logger
}

func New(cfg Config, mode types.Mode) (*Client, error) {
	url := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if url == "" && !mode.Degraded() {
		return nil, ErrNoService
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultConfig().Timeout
	}
	c := &Client{
		url:     url,
		mode:    mode,
		timeout: timeout,
		http:    httputil.NewClient(),
		log:     log.New("component", "zkproof", "mode", string(mode)),
	}
	if url == "" {
		c.log.Warn("No proof service configured, all proofs will be placeholders")
	}
	return c, nil
}

type proofResponse struct {
	Proof  hexutil.Bytes   `json:"proof"`
	Inputs *types.ZkInputs `json:"inputs"`
}

// GetProof returns the inclusion proof for the given packet.
func (c *Client) GetProof(ctx context.Context, packetID common.Hash) (*types.Proof, error) {
	if c.url == "" {
		c.log.Debug("Using placeholder proof", "packet", packetID)
		return Placeholder(), nil
	}
	proof, err := c.getProof(ctx, packetID)
	if err == nil {
		return proof, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if c.mode.Degraded() {
		c.log.Warn("Proof unavailable, using placeholder", "packet", packetID, "err", err)
		return Placeholder(), nil
	}
	return nil, &types.TransientServiceError{Service: serviceName, Op: "get", Err: err}
}

func (c *Client) getProof(ctx context.Context, packetID common.Hash) (*types.Proof, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var resp proofResponse
	if err := httputil.DoJSON(ctx, c.http, http.MethodGet, c.url+"/proof/"+packetID.Hex(), nil, &resp); err != nil {
		return nil, err
	}
	if len(resp.Proof) == 0 {
		return nil, fmt.Errorf("malformed response: %w", errEmptyProof)
	}
	if resp.Inputs == nil {
		return nil, errors.New("malformed response: missing inputs")
	}
	return &types.Proof{Proof: resp.Proof, Inputs: *resp.Inputs}, nil
}

// Placeholder is the proof substituted when no real proof can be obtained.
func Placeholder() *types.Proof {
	return &types.Proof{
		Proof:       make([]byte, placeholderProofSize),
		Placeholder: true,
	}
}
