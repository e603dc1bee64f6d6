// Package relay is the client of the signature aggregation (relay) service.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/log"
	"github.com/nori-zk/dvn-worker/core/types"
	"github.com/nori-zk/dvn-worker/internal/httputil"
	"golang.org/x/time/rate"
)

const serviceName = "attestation"

var (
	errEmptySignature = errors.New("empty signature")
	errMissingEpoch   = errors.New("missing epoch")
)

// Config configures the relay client.
type Config struct {
	URL       string        `toml:"url"`
	Timeout   time.Duration `toml:"timeout"`
	RateLimit float64       `toml:"rate_limit"` // requests per second, 0 disables
	Burst     int           `toml:"burst"`
}

func DefaultConfig() Config {
	return Config{
		URL:       "http://127.0.0.1:8082",
		Timeout:   30 * time.Second,
		RateLimit: 10,
		Burst:     10,
	}
}

// Client requests aggregated attestations. In strict mode every failure is
// surfaced as a *types.TransientServiceError; in degraded mode failures are
// replaced by a placeholder attestation.
type Client struct {
	url     string
	mode    types.Mode
	timeout time.Duration
	http    *http.Client
	limiter *rate.Limiter
	log     log.Logger
}

func New(cfg Config, mode types.Mode) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("relay url must be provided")
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), max(cfg.Burst, 1))
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultConfig().Timeout
	}
	return &Client{
		url:     strings.TrimRight(cfg.URL, "/"),
		mode:    mode,
		timeout: timeout,
		http:    httputil.NewClient(),
		limiter: limiter,
		log:     log.New("component", "relay", "mode", string(mode)),
	}, nil
}

type aggregateRequest struct {
	Message common.Hash `json:"message"`
}

type aggregateResponse struct {
	Signature hexutil.Bytes        `json:"signature"`
	Epoch     *math.HexOrDecimal64 `json:"epoch"`
	Proof     hexutil.Bytes        `json:"proof,omitempty"`
}

// RequestAttestation asks the relay to aggregate operator signatures over
// messageHash.
func (c *Client) RequestAttestation(ctx context.Context, messageHash common.Hash) (*types.Attestation, error) {
	att, err := c.requestAttestation(ctx, messageHash)
	if err == nil {
		c.log.Debug("Received attestation", "hash", messageHash, "epoch", att.Epoch)
		return att, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if c.mode.Degraded() {
		c.log.Warn("Attestation unavailable, using placeholder", "hash", messageHash, "err", err)
		return Placeholder(), nil
	}
	return nil, &types.TransientServiceError{Service: serviceName, Op: "aggregate", Err: err}
}

func (c *Client) requestAttestation(ctx context.Context, messageHash common.Hash) (*types.Attestation, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var resp aggregateResponse
	if err := httputil.DoJSON(ctx, c.http, http.MethodPost, c.url+"/aggregate", &aggregateRequest{Message: messageHash}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Signature) == 0 {
		return nil, fmt.Errorf("malformed response: %w", errEmptySignature)
	}
	if resp.Epoch == nil {
		return nil, fmt.Errorf("malformed response: %w", errMissingEpoch)
	}
	return &types.Attestation{
		Signature: resp.Signature,
		Epoch:     uint64(*resp.Epoch),
		Proof:     resp.Proof,
	}, nil
}

type statusResponse struct {
	CurrentEpoch *math.HexOrDecimal64 `json:"currentEpoch"`
}

// CurrentEpoch returns the relay's current operator-set epoch. It never
// substitutes a placeholder.
func (c *Client) CurrentEpoch(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var resp statusResponse
	if err := httputil.DoJSON(ctx, c.http, http.MethodGet, c.url+"/status", nil, &resp); err != nil {
		return 0, &types.TransientServiceError{Service: serviceName, Op: "status", Err: err}
	}
	if resp.CurrentEpoch == nil {
		return 0, &types.TransientServiceError{Service: serviceName, Op: "status", Err: errMissingEpoch}
	}
	return uint64(*resp.CurrentEpoch), nil
}

// Health returns nil if the relay answers its health endpoint with 200.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := httputil.DoJSON(ctx, c.http, http.MethodGet, c.url+"/health", nil, nil); err != nil {
		return &types.TransientServiceError{Service: serviceName, Op: "health", Err: err}
	}
	return nil
}

// Placeholder is the attestation substituted in degraded mode.
func Placeholder() *types.Attestation {
	return &types.Attestation{
		Signature:   make([]byte, 96),
		Epoch:       1,
		Proof:       make([]byte, 32),
		Placeholder: true,
	}
}
