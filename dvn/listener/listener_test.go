package listener

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	// metrics meters are ticked by a process-wide goroutine
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("github.com/ethereum/go-ethereum/metrics.(*meterArbiter).tick"))
}

var (
	emitter = common.HexToAddress("0x1a44076050125825900e736c501f859c50fE728c")
	topic   = common.HexToHash("0x1ab700d4ced0c005b164c0f789fd09fcbb0156d4c2041b8a3bfbcd961cd1567f")
)

type fakeBackend struct {
	mu      sync.Mutex
	head    uint64
	logs    []ethtypes.Log
	queries [][2]uint64

	subs      atomic.Int32
	subscribe func(n int32, ch chan<- ethtypes.Log, sub *fakeSub) error
}

func (b *fakeBackend) SubscribeFilterLogs(_ context.Context, _ ethereum.FilterQuery, ch chan<- ethtypes.Log) (ethereum.Subscription, error) {
	n := b.subs.Add(1)
	sub := &fakeSub{errc: make(chan error, 1)}
	if b.subscribe == nil {
		return nil, errors.New("notifications not supported")
	}
	if err := b.subscribe(n, ch, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

type fakeSub struct {
	errc chan error
	once sync.Once
}

func (s *fakeSub) Err() <-chan error { return s.errc }

func (s *fakeSub) Unsubscribe() { s.once.Do(func() { close(s.errc) }) }

// drop fails the subscription the way a lost connection does.
func (s *fakeSub) drop() { s.errc <- errors.New("connection reset") }

func (b *fakeBackend) BlockNumber(context.Context) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.head, nil
}

func (b *fakeBackend) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]ethtypes.Log, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	from, to := q.FromBlock.Uint64(), q.ToBlock.Uint64()
	b.queries = append(b.queries, [2]uint64{from, to})
	var out []ethtypes.Log
	for _, lg := range b.logs {
		if lg.BlockNumber >= from && lg.BlockNumber <= to {
			out = append(out, lg)
		}
	}
	return out, nil
}

func (b *fakeBackend) setHead(head uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.head = head
}

func (b *fakeBackend) recordedQueries() [][2]uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][2]uint64(nil), b.queries...)
}

type memCursor struct {
	mu    sync.Mutex
	value uint64
	set   bool
}

func (c *memCursor) Cursor() (uint64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value, c.set, nil
}

func (c *memCursor) SetCursor(block uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value, c.set = block, true
	return nil
}

func (c *memCursor) get() uint64 {
	v, _, _ := c.Cursor()
	return v
}

func makeLog(block uint64, index uint) ethtypes.Log {
	return ethtypes.Log{
		Address:     emitter,
		Topics:      []common.Hash{topic},
		Data:        []byte{0x01},
		BlockNumber: block,
		BlockHash:   common.BigToHash(new(big.Int).SetUint64(block + 1000)),
		TxHash:      common.BigToHash(new(big.Int).SetUint64(block*100 + uint64(index) + 1)),
		Index:       index,
	}
}

func newTestListener(t *testing.T, url string, from string, backend *fakeBackend, cursor CursorStore) *Listener {
	t.Helper()
	cfg := DefaultConfig()
	cfg.URL = url
	cfg.FromBlock = from
	cfg.PollInterval = 10 * time.Millisecond
	cfg.ReconnectBase = 10 * time.Millisecond
	cfg.ReconnectMax = 50 * time.Millisecond
	l, err := New(cfg, []common.Address{emitter}, topic, backend, cursor)
	require.NoError(t, err)
	return l
}

// collect returns a handler forwarding logs to a buffered channel.
func collect() (func(ethtypes.Log) error, chan ethtypes.Log) {
	ch := make(chan ethtypes.Log, 64)
	return func(lg ethtypes.Log) error {
		ch <- lg
		return nil
	}, ch
}

func receive(t *testing.T, ch <-chan ethtypes.Log) ethtypes.Log {
	t.Helper()
	select {
	case lg := <-ch:
		return lg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for log")
		return ethtypes.Log{}
	}
}

func TestPollingBackfillsInBatches(t *testing.T) {
	backend := &fakeBackend{head: 10, logs: []ethtypes.Log{makeLog(4, 0), makeLog(9, 1), makeLog(12, 0)}}
	cursor := new(memCursor)
	l := newTestListener(t, "http://127.0.0.1:0", "3", backend, cursor)
	l.cfg.BatchSize = 3

	ctx, cancel := context.WithCancel(context.Background())
	handle, logs := collect()
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx, handle) }()

	require.Equal(t, uint64(4), receive(t, logs).BlockNumber)
	require.Equal(t, uint64(9), receive(t, logs).BlockNumber)
	require.Eventually(t, func() bool { return cursor.get() == 11 }, 5*time.Second, 5*time.Millisecond)
	require.Equal(t, [][2]uint64{{3, 5}, {6, 8}, {9, 10}}, backend.recordedQueries()[:3])

	backend.setHead(12)
	require.Equal(t, uint64(12), receive(t, logs).BlockNumber)
	require.Eventually(t, func() bool { return cursor.get() == 13 }, 5*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestStartBlockSelection(t *testing.T) {
	tests := []struct {
		name   string
		from   string
		stored *uint64
		want   uint64
	}{
		{name: "latest without cursor", from: "latest", want: 50},
		{name: "latest with cursor", from: "", stored: ptr(uint64(42)), want: 42},
		{name: "explicit overrides cursor", from: "0x10", stored: ptr(uint64(42)), want: 16},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cursor := new(memCursor)
			if tt.stored != nil {
				require.NoError(t, cursor.SetCursor(*tt.stored))
			}
			l := newTestListener(t, "http://127.0.0.1:0", tt.from, &fakeBackend{head: 50}, cursor)
			require.NoError(t, l.initCursor(context.Background()))
			require.Equal(t, tt.want, l.next)
		})
	}
}

func TestParseFromBlock(t *testing.T) {
	n, err := ParseFromBlock(" Latest ")
	require.NoError(t, err)
	require.Nil(t, n)

	n, err = ParseFromBlock("1234")
	require.NoError(t, err)
	require.Equal(t, uint64(1234), *n)

	_, err = ParseFromBlock("genesis")
	require.Error(t, err)
}

func TestHandlerFailureHoldsCursor(t *testing.T) {
	backend := &fakeBackend{head: 10, logs: []ethtypes.Log{makeLog(4, 0), makeLog(7, 0)}}
	cursor := new(memCursor)
	l := newTestListener(t, "http://127.0.0.1:0", "1", backend, cursor)

	var (
		mu       sync.Mutex
		attempts = make(map[uint64]int)
		retryAt  = make(chan uint64, 1)
	)
	handle := func(lg ethtypes.Log) error {
		mu.Lock()
		defer mu.Unlock()
		attempts[lg.BlockNumber]++
		if lg.BlockNumber != 7 {
			return nil
		}
		switch attempts[7] {
		case 1:
			return errors.New("disk full")
		case 2:
			retryAt <- cursor.get()
		}
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx, handle) }()

	select {
	case c := <-retryAt:
		require.Equal(t, uint64(7), c, "cursor must not pass a block with unhandled logs")
	case <-time.After(5 * time.Second):
		t.Fatal("failed log was not delivered again")
	}
	require.Eventually(t, func() bool { return cursor.get() == 11 }, 5*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, attempts[4])
	require.Equal(t, 2, attempts[7])
}

func TestSubscriptionReconnectsAndBackfills(t *testing.T) {
	logA, logB, logC := makeLog(21, 0), makeLog(22, 0), makeLog(15, 3)

	backend := &fakeBackend{head: 20, logs: []ethtypes.Log{logC}}
	backend.subscribe = func(n int32, ch chan<- ethtypes.Log, sub *fakeSub) error {
		ch <- logA
		if n == 1 {
			sub.drop()
			return nil
		}
		// logA is pushed again on the new connection and must be deduplicated
		ch <- logB
		return nil
	}
	cursor := new(memCursor)
	l := newTestListener(t, "ws://127.0.0.1:0", "10", backend, cursor)

	ctx, cancel := context.WithCancel(context.Background())
	handle, logs := collect()
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx, handle) }()

	require.Equal(t, logC.TxHash, receive(t, logs).TxHash)
	require.Equal(t, logA.TxHash, receive(t, logs).TxHash)
	require.Equal(t, logB.TxHash, receive(t, logs).TxHash)
	require.GreaterOrEqual(t, backend.subs.Load(), int32(2))
	require.Eventually(t, func() bool { return cursor.get() == 22 }, 5*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	select {
	case lg := <-logs:
		t.Fatalf("unexpected log %v", lg.TxHash)
	default:
	}
}

func TestSubscriptionRejected(t *testing.T) {
	backend := &fakeBackend{head: 1}
	l := newTestListener(t, "ws://127.0.0.1:0", "1", backend, nil)
	ctx, cancel := context.WithCancel(context.Background())
	handle, _ := collect()
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx, handle) }()

	require.Eventually(t, func() bool { return backend.subs.Load() >= 3 }, 5*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func ptr[T any](v T) *T { return &v }
