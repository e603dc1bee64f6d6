// Package archive fans proof bundles out to long-term storage sinks. Archive
// failures never affect packet processing.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/nori-zk/dvn-worker/core/types"
	"golang.org/x/sync/errgroup"
)

var (
	storedMeter = metrics.NewRegisteredMeter("dvn/archive/stored", nil)
	failedMeter = metrics.NewRegisteredMeter("dvn/archive/failed", nil)
)

// Bundle is the archived form of a verification request.
type Bundle struct {
	PacketID         common.Hash    `json:"packetId"`
	MessageHash      common.Hash    `json:"messageHash"`
	Epoch            uint64         `json:"epoch"`
	AttestationProof hexutil.Bytes  `json:"attestationProof"`
	ZkProof          hexutil.Bytes  `json:"zkProof"`
	ZkInputs         types.ZkInputs `json:"zkInputs"`
	CreatedAt        time.Time      `json:"createdAt"`
	ExpiresAt        time.Time      `json:"expiresAt"`
}

// Sink is a single archive destination.
type Sink interface {
	Name() string
	Put(ctx context.Context, key string, blob []byte, expires time.Time) error
}

type Config struct {
	TTL     time.Duration `toml:"ttl"`
	Timeout time.Duration `toml:"timeout"`

	KVDir          string `toml:"kv_dir"`
	S3Bucket       string `toml:"s3_bucket"`
	S3Prefix       string `toml:"s3_prefix"`
	S3Region       string `toml:"s3_region"`
	S3Endpoint     string `toml:"s3_endpoint"`
	AzureContainer string `toml:"azure_container"`

	// Secrets are read from the environment only.
	S3AccessKeyID         string `toml:"-"`
	S3SecretAccessKey     string `toml:"-"`
	AzureConnectionString string `toml:"-"`
}

// S3Options returns the S3 sink settings.
func (c Config) S3Options() S3Options {
	return S3Options{
		Bucket:          c.S3Bucket,
		Prefix:          c.S3Prefix,
		Region:          c.S3Region,
		Endpoint:        c.S3Endpoint,
		AccessKeyID:     c.S3AccessKeyID,
		SecretAccessKey: c.S3SecretAccessKey,
	}
}

func DefaultConfig() Config {
	return Config{
		TTL:      30 * 24 * time.Hour,
		Timeout:  30 * time.Second,
		S3Prefix: "dvn/bundles/",
	}
}

// Enabled reports whether any sink is configured.
func (c Config) Enabled() bool {
	return c.KVDir != "" || c.S3Bucket != "" || c.AzureContainer != ""
}

// Archive writes every bundle to all sinks concurrently.
type Archive struct {
	sinks   []Sink
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time
	log     log.Logger
}

func New(cfg Config, sinks ...Sink) (*Archive, error) {
	if len(sinks) == 0 {
		return nil, errors.New("no archive sinks configured")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConfig().TTL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Archive{
		sinks:   sinks,
		ttl:     cfg.TTL,
		timeout: cfg.Timeout,
		now:     time.Now,
		log:     log.New("component", "archive"),
	}, nil
}

// BundleKey is the object name of a packet's bundle in every sink.
func BundleKey(id common.Hash) string {
	return id.Hex() + ".json"
}

// Store archives the request. It returns the first sink error, after all
// sinks have been attempted.
func (a *Archive) Store(ctx context.Context, req *types.VerificationRequest) error {
	now := a.now()
	bundle := &Bundle{
		PacketID:         req.PacketID,
		MessageHash:      req.MessageHash,
		Epoch:            req.Epoch,
		AttestationProof: req.AttestationProof,
		ZkProof:          req.ZkProof,
		ZkInputs:         req.ZkInputs,
		CreatedAt:        now.UTC(),
		ExpiresAt:        now.Add(a.ttl).UTC(),
	}
	blob, err := json.Marshal(bundle)
	if err != nil {
		return fmt.Errorf("encode bundle: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	key := BundleKey(req.PacketID)
	var g errgroup.Group
	for _, sink := range a.sinks {
		sink := sink
		g.Go(func() error {
			if err := sink.Put(ctx, key, blob, bundle.ExpiresAt); err != nil {
				failedMeter.Mark(1)
				a.log.Warn("Failed to archive bundle", "sink", sink.Name(), "packet", req.PacketID, "err", err)
				return fmt.Errorf("%s: %w", sink.Name(), err)
			}
			storedMeter.Mark(1)
			return nil
		})
	}
	return g.Wait()
}
