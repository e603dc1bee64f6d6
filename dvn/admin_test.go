package dvn

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/nori-zk/dvn-worker/core/types"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestAdminPackets(t *testing.T) {
	e := newTestEnv(t)
	w := e.worker(t, testPipelineConfig(), nil)
	h := w.Handler(AdminOptions{})
	p := testPacket(1)

	require.Equal(t, http.StatusNotFound, serve(t, h, http.MethodGet, "/packets/"+p.ID.Hex()).Code)
	require.Equal(t, http.StatusBadRequest, serve(t, h, http.MethodGet, "/packets/0x1234").Code)

	w.Track(p)
	rec := serve(t, h, http.MethodGet, "/packets/"+p.ID.Hex())
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var view struct {
		Packet types.Packet `json:"packet"`
		State  string       `json:"state"`
		TxHash *common.Hash `json:"txHash"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Equal(t, "detected", view.State)
	require.Equal(t, p.ID, view.Packet.ID)
	require.Nil(t, view.TxHash)

	rec = serve(t, h, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok","tracked":1,"queued":1}`, rec.Body.String())
}

func TestAdminReplay(t *testing.T) {
	e := newTestEnv(t)
	w := e.worker(t, testPipelineConfig(), nil)
	h := w.Handler(AdminOptions{})
	p := testPacket(2)

	require.Equal(t, http.StatusNotFound, serve(t, h, http.MethodPost, "/packets/"+p.ID.Hex()+"/replay").Code)

	w.Track(p)
	require.Equal(t, http.StatusConflict, serve(t, h, http.MethodPost, "/packets/"+p.ID.Hex()+"/replay").Code)

	tr := w.lookup(p.ID)
	tr.mu.Lock()
	tr.state.State = types.StateFailed
	tr.state.Attempts = 5
	tr.mu.Unlock()

	rec := serve(t, h, http.MethodPost, "/packets/"+p.ID.Hex()+"/replay")
	require.Equal(t, http.StatusAccepted, rec.Code)

	ps, _ := w.State(p.ID)
	require.Equal(t, types.StateDetected, ps.State)
	require.True(t, ps.ReplayRequested)
	require.Zero(t, ps.Attempts)

	stored, err := e.store.Packet(p.ID)
	require.NoError(t, err)
	require.True(t, stored.ReplayRequested)

	require.Equal(t, http.StatusMethodNotAllowed, serve(t, h, http.MethodGet, "/packets/"+p.ID.Hex()+"/replay").Code)
}

func TestAdminBundleAndMetrics(t *testing.T) {
	e := newTestEnv(t)
	w := e.worker(t, testPipelineConfig(), nil)
	known := common.Hash{0xab}
	h := w.Handler(AdminOptions{Bundles: func(id common.Hash) (any, error) {
		if id != known {
			return nil, ErrUnknownPacket
		}
		return map[string]string{"packetId": id.Hex()}, nil
	}})

	rec := serve(t, h, http.MethodGet, "/packets/"+known.Hex()+"/bundle")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), known.Hex())
	require.Equal(t, http.StatusNotFound, serve(t, h, http.MethodGet, "/packets/"+common.Hash{1}.Hex()+"/bundle").Code)

	require.Equal(t, http.StatusOK, serve(t, h, http.MethodGet, "/debug/metrics/prometheus").Code)
}

type fakeRelay struct {
	epoch uint64
	err   error
}

func (r *fakeRelay) Health(context.Context) error { return r.err }

func (r *fakeRelay) CurrentEpoch(context.Context) (uint64, error) { return r.epoch, nil }

func TestAdminHealthReportsRelay(t *testing.T) {
	e := newTestEnv(t)
	w := e.worker(t, testPipelineConfig(), nil)
	relay := &fakeRelay{epoch: 7}
	h := w.Handler(AdminOptions{Relay: relay})

	rec := serve(t, h, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok","tracked":0,"queued":0,"relay":{"healthy":true,"epoch":7}}`, rec.Body.String())

	relay.err = errors.New("connection refused")
	rec = serve(t, h, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.JSONEq(t, `{"status":"unavailable","tracked":0,"queued":0,"relay":{"healthy":false,"error":"connection refused"}}`, rec.Body.String())
}

func TestAdminStateStream(t *testing.T) {
	e := newTestEnv(t)
	w := e.worker(t, testPipelineConfig(), nil)
	srv := httptest.NewServer(w.Handler(AdminOptions{}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/packets/stream", nil)
	require.NoError(t, err)
	defer conn.Close()

	// the subscription is registered after the upgrade completes
	p := testPacket(3)
	require.Eventually(t, func() bool {
		return streamClientsGauge.Snapshot().Value() > 0
	}, waitFor, 5*time.Millisecond)
	w.Track(p)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))
	var view struct {
		Packet types.Packet `json:"packet"`
		State  string       `json:"state"`
	}
	require.NoError(t, conn.ReadJSON(&view))
	require.Equal(t, p.ID, view.Packet.ID)
	require.Equal(t, "detected", view.State)
}
