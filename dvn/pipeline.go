package dvn

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/nori-zk/dvn-worker/core/types"
	"github.com/nori-zk/dvn-worker/dvn/request"
	"github.com/nori-zk/dvn-worker/dvn/submit"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const archiveTimeout = time.Minute

// begin marks the packet as running and moves it to CheckingFinality. It
// returns false if the packet is terminal or already being processed.
func (t *tracked) begin(now time.Time) (types.Packet, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running || t.state.State.Terminal() {
		return types.Packet{}, false
	}
	t.running = true
	t.state.State = types.StateCheckingFinality
	t.state.UpdatedAt = now
	return t.state.Packet, true
}

// process runs one pass of the pipeline for a packet. Every exit path
// leaves the packet either terminal or scheduled, except on shutdown where
// it is persisted as Detected for the next start.
func (w *Worker) process(ctx context.Context, id common.Hash) {
	t := w.lookup(id)
	if t == nil {
		return
	}
	p, ok := t.begin(w.now())
	if !ok {
		return
	}
	start := time.Now()
	defer pipelineTimer.UpdateSince(start)

	ctx, span := w.tracer.Start(ctx, "dvn.pipeline", trace.WithAttributes(
		attribute.String("packet.id", id.Hex()),
		attribute.Int64("packet.block", int64(p.BlockNumber)),
	))
	defer span.End()

	stage, err := w.run(ctx, t, &p)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		w.fail(ctx, t, stage, err)
	}
}

// run executes the stages in order. On error it returns the stage that
// failed.
func (w *Worker) run(ctx context.Context, t *tracked, p *types.Packet) (types.State, error) {
	// CheckingFinality: a packet verified by anyone needs no work.
	verified, err := w.deps.Submitter.IsVerified(ctx, p.ID)
	if err != nil {
		return types.StateCheckingFinality, err
	}
	if verified {
		w.log.Info("Packet already verified", "packet", p.ID)
		w.confirm(t, common.Hash{})
		return 0, nil
	}
	st, err := w.deps.Finality.Check(ctx, p.BlockNumber)
	if err != nil {
		return types.StateCheckingFinality, &types.TransientServiceError{Service: "source-rpc", Op: "blockNumber", Err: err}
	}
	if !st.Final {
		w.awaitFinality(t, st.Head, st.Remaining)
		return 0, nil
	}

	// BuildingRequest: attestation first, a failure short-circuits.
	w.transition(t, types.StateBuildingRequest)
	req, err := w.buildRequest(ctx, p)
	if err != nil {
		return types.StateBuildingRequest, err
	}

	// Submitting runs to completion even during shutdown.
	w.transition(t, types.StateSubmitting)
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.SubmitTimeout)
	defer cancel()
	sctx, span := w.tracer.Start(sctx, "dvn.submit")
	defer span.End()

	start := time.Now()
	res, err := w.deps.Submitter.Submit(sctx, req)
	submitTimer.UpdateSince(start)
	switch {
	case errors.Is(err, submit.ErrAlreadyVerified):
		w.log.Info("Packet verified before broadcast", "packet", p.ID)
		w.confirm(t, common.Hash{})
	case err != nil:
		return types.StateSubmitting, err
	default:
		span.SetAttributes(attribute.String("tx.hash", res.TxHash.Hex()))
		w.log.Info("Packet verified", "packet", p.ID, "tx", res.TxHash, "block", res.BlockNumber, "gasUsed", res.GasUsed)
		w.confirm(t, res.TxHash)
	}
	return 0, nil
}

func (w *Worker) buildRequest(ctx context.Context, p *types.Packet) (*types.VerificationRequest, error) {
	ctx, span := w.tracer.Start(ctx, "dvn.build")
	defer span.End()

	hash := request.MessageHash(p)
	att, err := w.deps.Attester.RequestAttestation(ctx, hash)
	if err != nil {
		return nil, err
	}
	proof, err := w.deps.Prover.GetProof(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if att.Placeholder || proof.Placeholder {
		placeholderMeter.Mark(1)
		w.log.Warn("Building request with placeholder inputs", "packet", p.ID,
			"attestation", att.Placeholder, "proof", proof.Placeholder)
	}
	req, err := request.Build(p, att, proof)
	if err != nil {
		return nil, err
	}
	if w.deps.Archive != nil && !proof.Placeholder {
		w.archive(ctx, req)
	}
	return req, nil
}

// archive uploads the bundle in the background; the outcome never affects
// the packet.
func (w *Worker) archive(ctx context.Context, req *types.VerificationRequest) {
	w.pipeline.Add(1)
	go func() {
		defer w.pipeline.Done()
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
		defer cancel()
		if err := w.deps.Archive.Store(actx, req); err != nil {
			w.log.Warn("Failed to archive proof bundle", "packet", req.PacketID, "err", err)
		}
	}()
}

func (w *Worker) transition(t *tracked, state types.State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.State = state
	t.state.UpdatedAt = w.now()
	w.persist(t.state)
}

func (w *Worker) confirm(t *tracked, tx common.Hash) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.State = types.StateConfirmed
	t.state.TxHash = tx
	t.state.LastError = ""
	t.state.NextCheck = time.Time{}
	t.state.UpdatedAt = w.now()
	t.running = false
	w.persist(t.state)
	stateMeters[types.StateConfirmed].Mark(1)
}

func (w *Worker) awaitFinality(t *tracked, head, remaining uint64) {
	delay := w.deps.Finality.RecheckDelay(remaining)
	next := w.now().Add(delay)

	t.mu.Lock()
	t.state.State = types.StateAwaitingFinality
	t.state.NextCheck = next
	t.state.UpdatedAt = w.now()
	t.running = false
	w.persist(t.state)
	id := t.state.Packet.ID
	t.mu.Unlock()

	awaitingMeter.Mark(1)
	w.log.Debug("Awaiting finality", "packet", id, "head", head, "remaining", remaining, "recheck", delay)
	w.queue.schedule(id, next)
}

// fail classifies err. Transient errors reschedule the packet with
// exponential backoff until the attempt budget is spent; anything else is
// terminal. A shutdown before submission leaves the packet Detected.
func (w *Worker) fail(ctx context.Context, t *tracked, stage types.State, err error) {
	t.mu.Lock()
	ps := t.state
	t.running = false

	if ctx.Err() != nil && stage != types.StateSubmitting {
		ps.State = types.StateDetected
		ps.UpdatedAt = w.now()
		w.persist(ps)
		t.mu.Unlock()
		w.log.Debug("Pipeline interrupted", "packet", ps.Packet.ID, "stage", stage)
		return
	}
	ps.LastError = err.Error()
	ps.Stage = stage
	ps.UpdatedAt = w.now()

	var retry time.Duration
	switch {
	case types.IsTransient(err):
		ps.Attempts++
		if w.cfg.MaxAttempts > 0 && ps.Attempts >= w.cfg.MaxAttempts {
			ps.State = types.StateFailed
			break
		}
		retry = w.backoff(ps.Attempts)
		ps.State = types.StateDetected
		ps.NextCheck = w.now().Add(retry)
	default:
		ps.Attempts++
		ps.State = types.StateFailed
	}
	var (
		id       = ps.Packet.ID
		state    = ps.State
		attempts = ps.Attempts
		next     = ps.NextCheck
	)
	if state == types.StateFailed {
		ps.NextCheck = time.Time{}
		ps.ReplayRequested = false
	}
	w.persist(ps)
	t.mu.Unlock()

	if state == types.StateFailed {
		stateMeters[types.StateFailed].Mark(1)
		w.log.Error("Packet failed", "packet", id, "stage", stage, "attempts", attempts, "err", err)
		return
	}
	retryMeter.Mark(1)
	w.log.Warn("Packet stage failed, retrying", "packet", id, "stage", stage, "attempts", attempts, "retry", retry, "err", err)
	w.queue.schedule(id, next)
}

// backoff returns RetryBase * 2^(attempts-1), capped at RetryMax.
func (w *Worker) backoff(attempts uint64) time.Duration {
	d := w.cfg.RetryBase
	for i := uint64(1); i < attempts; i++ {
		d *= 2
		if d >= w.cfg.RetryMax || d <= 0 {
			return w.cfg.RetryMax
		}
	}
	return min(d, w.cfg.RetryMax)
}
