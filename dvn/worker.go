// Package dvn implements the verification worker: it tracks PacketSent
// events through finality, attestation, proving and on-chain submission.
package dvn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
	"github.com/nori-zk/dvn-worker/core/types"
	"github.com/nori-zk/dvn-worker/dvn/events"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

var (
	ErrUnknownPacket = errors.New("unknown packet")
	ErrNotReplayable = errors.New("packet is not in failed state")
)

// tracked is the in-memory record of one packet. mu guards state and
// running; running ensures at most one pipeline per packet.
type tracked struct {
	mu      sync.Mutex
	state   *types.PacketState
	running bool
}

// Deps are the collaborators of a Worker. Source, Archive and Store are
// optional.
type Deps struct {
	Decoder   *events.Decoder
	Source    LogSource
	Finality  FinalityChecker
	Attester  Attester
	Prover    Prover
	Submitter Submitter
	Archive   Archiver
	Store     PacketStore
}

// Worker owns the packet table and drives every packet through the
// verification pipeline.
type Worker struct {
	cfg  PipelineConfig
	deps Deps

	mu      sync.RWMutex
	packets map[common.Hash]*tracked

	queue    *retryQueue
	sem      *semaphore.Weighted
	pipeline sync.WaitGroup // running pipelines and archive uploads
	states   event.FeedOf[*types.PacketState]

	now    func() time.Time
	tracer trace.Tracer
	log    log.Logger
}

func NewWorker(cfg PipelineConfig, deps Deps) (*Worker, error) {
	switch {
	case deps.Decoder == nil:
		return nil, errors.New("decoder must be provided")
	case deps.Finality == nil:
		return nil, errors.New("finality checker must be provided")
	case deps.Attester == nil:
		return nil, errors.New("attester must be provided")
	case deps.Prover == nil:
		return nil, errors.New("prover must be provided")
	case deps.Submitter == nil:
		return nil, errors.New("submitter must be provided")
	}
	def := DefaultConfig().Pipeline
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = def.MaxConcurrency
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = def.RetryBase
	}
	if cfg.RetryMax < cfg.RetryBase {
		cfg.RetryMax = cfg.RetryBase
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = def.SubmitTimeout
	}
	w := &Worker{
		cfg:     cfg,
		deps:    deps,
		packets: make(map[common.Hash]*tracked),
		sem:     semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
		now:     time.Now,
		tracer:  otel.Tracer("github.com/nori-zk/dvn-worker/dvn"),
		log:     log.New("component", "worker"),
	}
	w.queue = newRetryQueue(func() time.Time { return w.now() })
	return w, nil
}

// Run restores persisted packets and processes source logs until ctx is
// cancelled. In-flight submissions are allowed to finish before it returns.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.restore(); err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	if w.deps.Source != nil {
		g.Go(func() error {
			return w.deps.Source.Run(gctx, w.handleLog)
		})
	}
	g.Go(func() error {
		w.schedule(gctx)
		return nil
	})
	err := g.Wait()
	w.pipeline.Wait()
	w.log.Info("Worker stopped", "tracked", w.Len())
	return err
}

// restore loads persisted packets. Non-terminal ones, and failed ones
// flagged for replay, are scheduled immediately and resume from Detected.
func (w *Worker) restore() error {
	if w.deps.Store == nil {
		return nil
	}
	var resumed, total int
	err := w.deps.Store.IteratePackets(func(ps *types.PacketState) error {
		total++
		resume := true
		switch {
		case !ps.State.Terminal():
			ps.State = types.StateDetected
		case ps.State == types.StateFailed && ps.ReplayRequested:
			w.rearm(ps)
		default:
			resume = false
		}
		w.mu.Lock()
		w.packets[ps.Packet.ID] = &tracked{state: ps}
		w.mu.Unlock()
		if resume {
			resumed++
			w.queue.schedule(ps.Packet.ID, w.now())
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("restore packets: %w", err)
	}
	if total > 0 {
		w.log.Info("Restored packets", "total", total, "resumed", resumed)
	}
	return nil
}

// handleLog decodes a source log and tracks its packet. It returns an error
// only if a new packet could not be persisted, in which case the source must
// not move past the log.
func (w *Worker) handleLog(lg ethtypes.Log) error {
	p, err := w.deps.Decoder.Decode(lg)
	switch {
	case errors.Is(err, events.ErrNotForUs):
		ignoredMeter.Mark(1)
		w.log.Debug("Ignoring packet", "tx", lg.TxHash, "index", lg.Index, "reason", err)
		return nil
	case err != nil:
		decodeDropMeter.Mark(1)
		w.log.Warn("Dropping undecodable log", "tx", lg.TxHash, "index", lg.Index, "block", lg.BlockNumber, "err", err)
		return nil
	}
	_, err = w.track(p)
	return err
}

// schedule launches a pipeline for every due packet, bounded by the
// concurrency limit.
func (w *Worker) schedule(ctx context.Context) {
	for {
		id, ok := w.queue.next(ctx)
		if !ok {
			return
		}
		if err := w.sem.Acquire(ctx, 1); err != nil {
			return
		}
		w.pipeline.Add(1)
		inflightGauge.Inc(1)
		go func() {
			defer w.pipeline.Done()
			defer func() {
				inflightGauge.Dec(1)
				w.sem.Release(1)
			}()
			w.process(ctx, id)
		}()
	}
}

// Track registers a newly observed packet and schedules it. Known packets
// are ignored unless they failed and a replay was requested for them. It
// reports whether the packet was dispatched.
func (w *Worker) Track(p *types.Packet) bool {
	dispatched, _ := w.track(p)
	return dispatched
}

func (w *Worker) track(p *types.Packet) (bool, error) {
	w.mu.Lock()
	if t, ok := w.packets[p.ID]; ok {
		w.mu.Unlock()
		return w.retrack(t), nil
	}
	t := &tracked{state: &types.PacketState{
		Packet:    *p,
		State:     types.StateDetected,
		UpdatedAt: w.now(),
	}}
	w.packets[p.ID] = t
	w.mu.Unlock()

	trackedMeter.Mark(1)
	w.log.Info("Tracking packet", "packet", p.ID, "src", p.SrcEid, "dst", p.DstEid, "block", p.BlockNumber, "tx", p.TxHash)
	t.mu.Lock()
	err := w.save(t.state)
	t.mu.Unlock()
	w.queue.schedule(p.ID, w.now())
	return true, err
}

func (w *Worker) retrack(t *tracked) bool {
	t.mu.Lock()
	ps := t.state
	if t.running || ps.State != types.StateFailed || !ps.ReplayRequested {
		t.mu.Unlock()
		duplicateMeter.Mark(1)
		w.log.Debug("Ignoring known packet", "packet", ps.Packet.ID, "state", ps.State)
		return false
	}
	w.rearm(ps)
	w.persist(ps)
	id := ps.Packet.ID
	t.mu.Unlock()

	replayMeter.Mark(1)
	w.log.Info("Replaying packet on re-observation", "packet", id)
	w.queue.schedule(id, w.now())
	return true
}

// Replay re-queues a Failed packet with a fresh attempt budget.
func (w *Worker) Replay(id common.Hash) error {
	t := w.lookup(id)
	if t == nil {
		return ErrUnknownPacket
	}
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return fmt.Errorf("%w: pipeline running", ErrNotReplayable)
	}
	if err := RequestReplay(t.state, w.now()); err != nil {
		t.mu.Unlock()
		return err
	}
	w.rearm(t.state)
	w.persist(t.state)
	t.mu.Unlock()

	replayMeter.Mark(1)
	w.log.Info("Replaying packet", "packet", id)
	w.queue.schedule(id, w.now())
	return nil
}

// RequestReplay flags a Failed packet for replay. A running worker picks
// flagged packets up on restore or when their log is observed again.
func RequestReplay(ps *types.PacketState, now time.Time) error {
	if ps.State != types.StateFailed {
		return fmt.Errorf("%w: %s", ErrNotReplayable, ps.State)
	}
	ps.ReplayRequested = true
	ps.UpdatedAt = now
	return nil
}

// rearm resets a packet for another round of attempts.
func (w *Worker) rearm(ps *types.PacketState) {
	ps.State = types.StateDetected
	ps.Attempts = 0
	ps.NextCheck = time.Time{}
	ps.UpdatedAt = w.now()
}

// State returns a snapshot of the packet's state.
func (w *Worker) State(id common.Hash) (*types.PacketState, bool) {
	t := w.lookup(id)
	if t == nil {
		return nil, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.Copy(), true
}

// SubscribeStates delivers a copy of every packet state change to ch. The
// sender blocks until ch accepts the value, so subscribers must keep up.
func (w *Worker) SubscribeStates(ch chan<- *types.PacketState) event.Subscription {
	return w.states.Subscribe(ch)
}

// Len returns the number of tracked packets.
func (w *Worker) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.packets)
}

func (w *Worker) lookup(id common.Hash) *tracked {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.packets[id]
}

func (w *Worker) persist(ps *types.PacketState) {
	w.save(ps)
}

// save announces ps to state subscribers and writes it to the packet store,
// logging failures.
func (w *Worker) save(ps *types.PacketState) error {
	w.states.Send(ps.Copy())
	if w.deps.Store == nil {
		return nil
	}
	if err := w.deps.Store.PutPacket(ps); err != nil {
		w.log.Error("Failed to persist packet state", "packet", ps.Packet.ID, "state", ps.State, "err", err)
		return err
	}
	return nil
}
