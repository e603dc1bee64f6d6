// Package listener streams PacketSent logs from the source chain. Websocket
// endpoints are followed through eth_subscribe with automatic reconnection,
// HTTP endpoints are polled. Every (re)connection first backfills from the
// persisted cursor so that no log is missed across restarts or outages.
//
// Logs are handed to the caller synchronously and the cursor only moves past
// a block once the handler accepted all of its logs. A log whose handler
// failed is fetched again on the next poll or reconnection.
package listener

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/jellydator/ttlcache/v3"
	"github.com/sethvargo/go-retry"
)

var errSubscriptionClosed = errors.New("subscription closed")

// subscriptionBuffer is the capacity of the channel receiving pushed logs.
const subscriptionBuffer = 128

var (
	reconnectMeter = metrics.NewRegisteredMeter("dvn/listener/reconnects", nil)
	duplicateMeter = metrics.NewRegisteredMeter("dvn/listener/duplicates", nil)
	logsMeter      = metrics.NewRegisteredMeter("dvn/listener/logs", nil)
	cursorGauge    = metrics.NewRegisteredGauge("dvn/listener/cursor", nil)
)

// Backend is the subset of ethclient.Client used by the listener.
// SubscribeFilterLogs is only called for websocket endpoints.
type Backend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]ethtypes.Log, error)
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- ethtypes.Log) (ethereum.Subscription, error)
}

// CursorStore persists the next block to scan.
type CursorStore interface {
	Cursor() (uint64, bool, error)
	SetCursor(block uint64) error
}

type Config struct {
	URL           string        `toml:"url"`
	FromBlock     string        `toml:"from_block"` // "latest" or a block number
	BatchSize     uint64        `toml:"batch_size"`
	PollInterval  time.Duration `toml:"poll_interval"`
	ReconnectBase time.Duration `toml:"reconnect_base"`
	ReconnectMax  time.Duration `toml:"reconnect_max"`
	DedupWindow   time.Duration `toml:"dedup_window"`
}

func DefaultConfig() Config {
	return Config{
		URL:           "http://127.0.0.1:8545",
		FromBlock:     "latest",
		BatchSize:     2000,
		PollInterval:  6 * time.Second,
		ReconnectBase: time.Second,
		ReconnectMax:  time.Minute,
		DedupWindow:   10 * time.Minute,
	}
}

type logKey struct {
	blockHash common.Hash
	txHash    common.Hash
	index     uint
}

// Listener delivers source chain logs matching a fixed address/topic filter.
type Listener struct {
	cfg       Config
	fromBlock *uint64 // nil means latest
	addresses []common.Address
	topics    [][]common.Hash

	backend Backend
	cursor  CursorStore // optional
	seen    *ttlcache.Cache[logKey, struct{}]

	next uint64 // next block to scan, owned by Run
	log  log.Logger
}

func New(cfg Config, addresses []common.Address, topic common.Hash, backend Backend, cursor CursorStore) (*Listener, error) {
	if len(addresses) == 0 {
		return nil, errors.New("no emitter addresses to follow")
	}
	if backend == nil {
		return nil, errors.New("backend must be provided")
	}
	def := DefaultConfig()
	if cfg.BatchSize == 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = def.ReconnectBase
	}
	if cfg.ReconnectMax < cfg.ReconnectBase {
		cfg.ReconnectMax = max(def.ReconnectMax, cfg.ReconnectBase)
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = def.DedupWindow
	}
	from, err := ParseFromBlock(cfg.FromBlock)
	if err != nil {
		return nil, err
	}
	return &Listener{
		cfg:       cfg,
		fromBlock: from,
		addresses: addresses,
		topics:    [][]common.Hash{{topic}},
		backend:   backend,
		cursor:    cursor,
		seen: ttlcache.New[logKey, struct{}](
			ttlcache.WithTTL[logKey, struct{}](cfg.DedupWindow),
			ttlcache.WithDisableTouchOnHit[logKey, struct{}](),
		),
		log: log.New("component", "listener", "url", cfg.URL),
	}, nil
}

// ParseFromBlock parses a start block flag. Empty and "latest" yield nil.
func ParseFromBlock(s string) (*uint64, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "latest" {
		return nil, nil
	}
	n, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid from block %q: %w", s, err)
	}
	return &n, nil
}

// Run passes logs to handle until ctx is cancelled. It returns nil on
// cancellation; connection failures are retried internally. handle is never
// called concurrently.
func (l *Listener) Run(ctx context.Context, handle func(ethtypes.Log) error) error {
	go l.seen.Start()
	defer l.seen.Stop()

	if err := l.initCursor(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	l.saveCursor()
	l.log.Info("Starting log listener", "from", l.next, "emitters", len(l.addresses))

	if isWebsocket(l.cfg.URL) {
		return l.runSubscription(ctx, handle)
	}
	return l.runPolling(ctx, handle)
}

func (l *Listener) initCursor(ctx context.Context) error {
	if l.fromBlock != nil {
		l.next = *l.fromBlock
		return nil
	}
	if l.cursor != nil {
		c, ok, err := l.cursor.Cursor()
		if err != nil {
			return fmt.Errorf("read cursor: %w", err)
		}
		if ok {
			l.next = c
			return nil
		}
	}
	return l.withRetry(ctx, "head", func(ctx context.Context) error {
		head, err := l.backend.BlockNumber(ctx)
		if err != nil {
			return err
		}
		l.next = head
		return nil
	})
}

func (l *Listener) runPolling(ctx context.Context, handle func(ethtypes.Log) error) error {
	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := l.backfill(ctx, handle); err != nil && ctx.Err() == nil {
			l.log.Warn("Failed to poll logs", "from", l.next, "err", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (l *Listener) runSubscription(ctx context.Context, handle func(ethtypes.Log) error) error {
	for {
		var (
			sub  ethereum.Subscription
			logs chan ethtypes.Log
		)
		err := l.withRetry(ctx, "subscribe", func(ctx context.Context) error {
			ch := make(chan ethtypes.Log, subscriptionBuffer)
			s, err := l.backend.SubscribeFilterLogs(ctx, l.query(), ch)
			if err != nil {
				return err
			}
			// Subscribed before backfilling, so the gap between the two is
			// covered by both and deduplicated.
			if err := l.backfill(ctx, handle); err != nil {
				s.Unsubscribe()
				return err
			}
			sub, logs = s, ch
			return nil
		})
		if err != nil {
			return nil // only cancellation ends the retry loop
		}
		l.log.Info("Subscribed to source chain logs", "from", l.next)

		err = l.follow(ctx, sub, logs, handle)
		sub.Unsubscribe()
		if ctx.Err() != nil {
			return nil
		}
		reconnectMeter.Mark(1)
		l.log.Warn("Connection lost; will attempt to reconnect", "err", err)
	}
}

func (l *Listener) follow(ctx context.Context, sub ethereum.Subscription, logs <-chan ethtypes.Log, handle func(ethtypes.Log) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			if err == nil {
				err = errSubscriptionClosed
			}
			return err
		case lg := <-logs:
			if err := l.deliver(lg, handle); err != nil {
				return err
			}
			if !lg.Removed {
				// other logs of the same block may still be pending
				l.advance(lg.BlockNumber)
			}
		}
	}
}

// backfill scans [next, head] in BatchSize chunks. The cursor moves past a
// chunk only after every log in it was handled.
func (l *Listener) backfill(ctx context.Context, handle func(ethtypes.Log) error) error {
	head, err := l.backend.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("fetch head: %w", err)
	}
	for from := l.next; from <= head; {
		to := min(from+l.cfg.BatchSize-1, head)
		q := l.query()
		q.FromBlock = new(big.Int).SetUint64(from)
		q.ToBlock = new(big.Int).SetUint64(to)
		logs, err := l.backend.FilterLogs(ctx, q)
		if err != nil {
			return fmt.Errorf("filter logs [%d, %d]: %w", from, to, err)
		}
		if len(logs) > 0 {
			l.log.Debug("Backfilled logs", "from", from, "to", to, "count", len(logs))
		}
		for _, lg := range logs {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := l.deliver(lg, handle); err != nil {
				// the cursor stays on the block so its logs are fetched again
				l.advance(lg.BlockNumber)
				return err
			}
		}
		l.advance(to + 1)
		from = to + 1
	}
	return nil
}

// deliver hands lg to handle unless it was delivered recently. A log is only
// remembered as seen once handle accepted it.
func (l *Listener) deliver(lg ethtypes.Log, handle func(ethtypes.Log) error) error {
	key := logKey{blockHash: lg.BlockHash, txHash: lg.TxHash, index: lg.Index}
	if !lg.Removed && l.seen.Has(key) {
		duplicateMeter.Mark(1)
		return nil
	}
	if err := handle(lg); err != nil {
		return fmt.Errorf("handle log %s/%d: %w", lg.TxHash.TerminalString(), lg.Index, err)
	}
	logsMeter.Mark(1)
	if !lg.Removed {
		l.seen.Set(key, struct{}{}, ttlcache.DefaultTTL)
	}
	return nil
}

func (l *Listener) advance(next uint64) {
	if next <= l.next {
		return
	}
	l.next = next
	l.saveCursor()
}

func (l *Listener) saveCursor() {
	cursorGauge.Update(int64(l.next))
	if l.cursor == nil {
		return
	}
	if err := l.cursor.SetCursor(l.next); err != nil {
		l.log.Warn("Failed to persist cursor", "cursor", l.next, "err", err)
	}
}

func (l *Listener) query() ethereum.FilterQuery {
	return ethereum.FilterQuery{Addresses: l.addresses, Topics: l.topics}
}

// withRetry runs fn with capped exponential backoff until it succeeds or ctx
// is cancelled.
func (l *Listener) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	backoff := retry.NewExponential(l.cfg.ReconnectBase)
	backoff = retry.WithCappedDuration(l.cfg.ReconnectMax, backoff)
	backoff = retry.WithJitterPercent(10, backoff)

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.log.Warn("Source chain request failed, retrying", "op", op, "err", err)
			return retry.RetryableError(err)
		}
		return nil
	})
}

func isWebsocket(url string) bool {
	url = strings.ToLower(url)
	return strings.HasPrefix(url, "ws://") || strings.HasPrefix(url, "wss://")
}
