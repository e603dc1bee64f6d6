package dvn

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestRetryQueueOrdering(t *testing.T) {
	now := time.Unix(1000, 0)
	q := newRetryQueue(func() time.Time { return now })

	a, b, c := common.Hash{1}, common.Hash{2}, common.Hash{3}
	q.schedule(a, now.Add(3*time.Second))
	q.schedule(b, now.Add(time.Second))
	q.schedule(c, now.Add(2*time.Second))
	require.Equal(t, 3, q.len())

	_, wait, ok := q.popDue()
	require.False(t, ok)
	require.Equal(t, time.Second, wait)

	now = now.Add(10 * time.Second)
	for _, want := range []common.Hash{b, c, a} {
		id, _, ok := q.popDue()
		require.True(t, ok)
		require.Equal(t, want, id)
	}
	_, wait, ok = q.popDue()
	require.False(t, ok)
	require.Zero(t, wait)
}

func TestRetryQueueReschedule(t *testing.T) {
	now := time.Unix(1000, 0)
	q := newRetryQueue(func() time.Time { return now })

	id := common.Hash{1}
	q.schedule(id, now.Add(time.Hour))
	q.schedule(id, now)
	require.Equal(t, 1, q.len(), "one entry per packet")

	got, _, ok := q.popDue()
	require.True(t, ok)
	require.Equal(t, id, got)
}

func TestRetryQueueNext(t *testing.T) {
	q := newRetryQueue(time.Now)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	id := common.Hash{7}
	go func() {
		time.Sleep(10 * time.Millisecond)
		q.schedule(id, time.Now().Add(20*time.Millisecond))
	}()
	got, ok := q.next(ctx)
	require.True(t, ok)
	require.Equal(t, id, got)

	cctx, ccancel := context.WithCancel(context.Background())
	ccancel()
	_, ok = q.next(cctx)
	require.False(t, ok)
}

func TestRetryQueuePopsInDueOrder(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		base := time.Unix(0, 0)
		q := newRetryQueue(func() time.Time { return base.Add(time.Hour) })
		due := make(map[common.Hash]time.Duration)

		n := rapid.IntRange(1, 50).Draw(t, "n")
		for i := 0; i < n; i++ {
			id := common.Hash{byte(rapid.IntRange(0, 20).Draw(t, "id"))}
			d := time.Duration(rapid.Int64Range(0, int64(time.Hour)).Draw(t, "due"))
			q.schedule(id, base.Add(d))
			due[id] = d
		}
		if q.len() != len(due) {
			t.Fatalf("queue holds %d entries for %d packets", q.len(), len(due))
		}
		last := time.Duration(-1)
		for range due {
			id, _, ok := q.popDue()
			if !ok {
				t.Fatal("due entry not returned")
			}
			if due[id] < last {
				t.Fatalf("popped %s at %v after %v", id, due[id], last)
			}
			last = due[id]
		}
	})
}
