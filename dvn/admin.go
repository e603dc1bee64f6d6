package dvn

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/ethereum/go-ethereum/metrics/prometheus"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/nori-zk/dvn-worker/core/types"
)

const (
	healthTimeout      = 3 * time.Second
	streamBuffer       = 256
	streamWriteTimeout = 10 * time.Second
	streamPingInterval = 30 * time.Second
)

var (
	streamClientsGauge = metrics.NewRegisteredGauge("dvn/admin/stream/clients", nil)
	streamDropMeter    = metrics.NewRegisteredMeter("dvn/admin/stream/dropped", nil)

	upgrader = websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 4096}
)

// BundleReader looks up an archived proof bundle for the admin API.
type BundleReader func(id common.Hash) (any, error)

// RelayStatus is the part of the relay client reported by /healthz.
type RelayStatus interface {
	Health(ctx context.Context) error
	CurrentEpoch(ctx context.Context) (uint64, error)
}

// AdminOptions are the optional collaborators of the admin API.
type AdminOptions struct {
	Bundles BundleReader
	Relay   RelayStatus
}

// packetView is the JSON shape of a packet state.
type packetView struct {
	Packet          types.Packet `json:"packet"`
	State           string       `json:"state"`
	Attempts        uint64       `json:"attempts"`
	LastError       string       `json:"lastError,omitempty"`
	Stage           string       `json:"failedStage,omitempty"`
	TxHash          *common.Hash `json:"txHash,omitempty"`
	NextCheck       *time.Time   `json:"nextCheck,omitempty"`
	ReplayRequested bool         `json:"replayRequested"`
	UpdatedAt       time.Time    `json:"updatedAt"`
}

func newPacketView(ps *types.PacketState) *packetView {
	v := &packetView{
		Packet:          ps.Packet,
		State:           ps.State.String(),
		Attempts:        ps.Attempts,
		LastError:       ps.LastError,
		ReplayRequested: ps.ReplayRequested,
		UpdatedAt:       ps.UpdatedAt,
	}
	if ps.LastError != "" {
		v.Stage = ps.Stage.String()
	}
	if ps.TxHash != (common.Hash{}) {
		tx := ps.TxHash
		v.TxHash = &tx
	}
	if !ps.NextCheck.IsZero() {
		next := ps.NextCheck
		v.NextCheck = &next
	}
	return v
}

// Handler returns the admin API router.
func (w *Worker) Handler(opts AdminOptions) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(rw http.ResponseWriter, req *http.Request) {
		w.handleHealth(rw, req, opts.Relay)
	}).Methods(http.MethodGet)
	r.HandleFunc("/packets/stream", w.handleStream).Methods(http.MethodGet)
	r.HandleFunc("/packets/{id}", w.handlePacket).Methods(http.MethodGet)
	r.HandleFunc("/packets/{id}/replay", w.handleReplay).Methods(http.MethodPost)
	if bundles := opts.Bundles; bundles != nil {
		r.HandleFunc("/packets/{id}/bundle", func(rw http.ResponseWriter, req *http.Request) {
			id, ok := packetID(rw, req)
			if !ok {
				return
			}
			b, err := bundles(id)
			if err != nil {
				writeError(rw, http.StatusNotFound, err)
				return
			}
			writeJSON(rw, http.StatusOK, b)
		}).Methods(http.MethodGet)
	}
	r.Handle("/debug/metrics/prometheus", prometheus.Handler(metrics.DefaultRegistry)).Methods(http.MethodGet)
	return r
}

// ServeAdmin serves the admin API on addr until ctx is cancelled. Open
// state streams end with ctx.
func (w *Worker) ServeAdmin(ctx context.Context, addr string, opts AdminOptions) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           w.Handler(opts),
		BaseContext:       func(net.Listener) context.Context { return ctx },
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	log.Info("Admin API started", "addr", ln.Addr())

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type relayHealth struct {
	Healthy bool   `json:"healthy"`
	Epoch   uint64 `json:"epoch,omitempty"`
	Error   string `json:"error,omitempty"`
}

// handleHealth reports the worker's load and, if configured, whether the
// relay answers. An unreachable relay turns the response into a 503.
func (w *Worker) handleHealth(rw http.ResponseWriter, req *http.Request, relay RelayStatus) {
	resp := map[string]any{
		"status":  "ok",
		"tracked": w.Len(),
		"queued":  w.queue.len(),
	}
	code := http.StatusOK
	if relay != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthTimeout)
		defer cancel()

		var rh relayHealth
		err := relay.Health(ctx)
		if err == nil {
			rh.Epoch, err = relay.CurrentEpoch(ctx)
		}
		if err != nil {
			rh.Error = err.Error()
			resp["status"] = "unavailable"
			code = http.StatusServiceUnavailable
		} else {
			rh.Healthy = true
		}
		resp["relay"] = rh
	}
	writeJSON(rw, code, resp)
}

// handleStream upgrades to a websocket and pushes every packet state change
// as JSON. Changes are dropped for clients that fall behind.
func (w *Worker) handleStream(rw http.ResponseWriter, req *http.Request) {
	conn, err := upgrader.Upgrade(rw, req, nil)
	if err != nil {
		log.Debug("Failed to upgrade state stream", "err", err)
		return
	}
	defer conn.Close()

	states := make(chan *types.PacketState, streamBuffer)
	sub := w.SubscribeStates(states)
	defer sub.Unsubscribe()
	streamClientsGauge.Inc(1)
	defer streamClientsGauge.Dec(1)

	// The feed must never wait on the network, so a forwarder drains it.
	queue := make(chan *types.PacketState, streamBuffer)
	go func() {
		for {
			select {
			case ps := <-states:
				select {
				case queue <- ps:
				default:
					streamDropMeter.Mark(1)
				}
			case <-sub.Err():
				return
			}
		}
	}()
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()
	ping := time.NewTicker(streamPingInterval)
	defer ping.Stop()

	for {
		select {
		case ps := <-queue:
			conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteJSON(newPacketView(ps)); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteTimeout)); err != nil {
				return
			}
		case <-closed:
			return
		case <-req.Context().Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(time.Second))
			return
		}
	}
}

func (w *Worker) handlePacket(rw http.ResponseWriter, req *http.Request) {
	id, ok := packetID(rw, req)
	if !ok {
		return
	}
	ps, ok := w.State(id)
	if !ok {
		writeError(rw, http.StatusNotFound, ErrUnknownPacket)
		return
	}
	writeJSON(rw, http.StatusOK, newPacketView(ps))
}

func (w *Worker) handleReplay(rw http.ResponseWriter, req *http.Request) {
	id, ok := packetID(rw, req)
	if !ok {
		return
	}
	switch err := w.Replay(id); {
	case errors.Is(err, ErrUnknownPacket):
		writeError(rw, http.StatusNotFound, err)
	case errors.Is(err, ErrNotReplayable):
		writeError(rw, http.StatusConflict, err)
	case err != nil:
		writeError(rw, http.StatusInternalServerError, err)
	default:
		ps, _ := w.State(id)
		writeJSON(rw, http.StatusAccepted, newPacketView(ps))
	}
}

func packetID(rw http.ResponseWriter, req *http.Request) (common.Hash, bool) {
	raw := mux.Vars(req)["id"]
	b, err := hexutil.Decode(raw)
	if err != nil || len(b) != common.HashLength {
		writeError(rw, http.StatusBadRequest, errors.New("packet id must be a 0x-prefixed 32 byte hex string"))
		return common.Hash{}, false
	}
	return common.BytesToHash(b), true
}

func writeJSON(rw http.ResponseWriter, code int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(code)
	if err := json.NewEncoder(rw).Encode(v); err != nil {
		log.Debug("Failed to write admin response", "err", err)
	}
}

func writeError(rw http.ResponseWriter, code int, err error) {
	writeJSON(rw, code, map[string]string{"error": err.Error()})
}
