// Package finality decides whether a source-chain block is safe to act on.
package finality

import (
	"context"
	"fmt"
	"time"
)

const (
	DefaultThreshold  = 64
	DefaultBlockTime  = 12 * time.Second
	DefaultMinRecheck = 12 * time.Second
	DefaultMaxRecheck = 5 * time.Minute
)

// HeadReader returns the current source-chain head height.
type HeadReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// Config holds the confirmation policy.
type Config struct {
	Threshold  uint64        `toml:"confirmations"`
	BlockTime  time.Duration `toml:"block_time"`
	MinRecheck time.Duration `toml:"min_recheck"`
	MaxRecheck time.Duration `toml:"max_recheck"`
}

func DefaultConfig() Config {
	return Config{
		Threshold:  DefaultThreshold,
		BlockTime:  DefaultBlockTime,
		MinRecheck: DefaultMinRecheck,
		MaxRecheck: DefaultMaxRecheck,
	}
}

// Status is the outcome of a single finality check.
type Status struct {
	Final     bool
	Head      uint64
	Remaining uint64 // confirmations still missing, zero when final
}

// Gate checks block finality against a fresh chain head on every call.
type Gate struct {
	head HeadReader
	cfg  Config
}

func NewGate(head HeadReader, cfg Config) *Gate {
	return &Gate{head: head, cfg: cfg}
}

// IsFinal reports whether block has at least Threshold confirmations. A
// false result is not an error; the caller schedules a re-check.
func (g *Gate) IsFinal(ctx context.Context, block uint64) (bool, error) {
	st, err := g.Check(ctx, block)
	if err != nil {
		return false, err
	}
	return st.Final, nil
}

// Check queries the head and reports the finality status of block.
func (g *Gate) Check(ctx context.Context, block uint64) (Status, error) {
	head, err := g.head.BlockNumber(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("fetch head: %w", err)
	}
	return Status{
		Final:     IsFinal(head, block, g.cfg.Threshold),
		Head:      head,
		Remaining: Remaining(head, block, g.cfg.Threshold),
	}, nil
}

// RecheckDelay estimates how long to wait for remaining confirmations.
func (g *Gate) RecheckDelay(remaining uint64) time.Duration {
	d := time.Duration(remaining) * g.cfg.BlockTime
	if remaining != 0 && d/time.Duration(remaining) != g.cfg.BlockTime {
		d = g.cfg.MaxRecheck // overflow
	}
	if d < g.cfg.MinRecheck {
		d = g.cfg.MinRecheck
	}
	if g.cfg.MaxRecheck > 0 && d > g.cfg.MaxRecheck {
		d = g.cfg.MaxRecheck
	}
	return d
}

// IsFinal is the pure finality predicate: head - block >= threshold.
func IsFinal(head, block, threshold uint64) bool {
	return head >= block && head-block >= threshold
}

// Remaining returns the confirmations block still needs at head.
func Remaining(head, block, threshold uint64) uint64 {
	if head < block {
		return threshold + (block - head)
	}
	if confs := head - block; confs < threshold {
		return threshold - confs
	}
	return 0
}
