package zkproof

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/nori-zk/dvn-worker/core/types"
	"github.com/stretchr/testify/require"
)

const proofBody = `{
	"proof": "0xdeadbeef",
	"inputs": {
		"slot": "0x10",
		"blockHash": "0x1111111111111111111111111111111111111111111111111111111111111111",
		"receiptsRoot": "0x2222222222222222222222222222222222222222222222222222222222222222",
		"emitter": "0x3333333333333333333333333333333333333333",
		"topicsHash": "0x4444444444444444444444444444444444444444444444444444444444444444",
		"logIndex": 3,
		"minFinality": "64"
	}
}`

func newServer(t *testing.T, handler http.HandlerFunc) string {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestGetProof(t *testing.T) {
	id := common.HexToHash("0x01")
	url := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/proof/"+id.Hex(), r.URL.Path)
		w.Write([]byte(proofBody))
	})
	c, err := New(Config{URL: url}, types.ModeStrict)
	require.NoError(t, err)

	proof, err := c.GetProof(context.Background(), id)
	require.NoError(t, err)
	require.False(t, proof.Placeholder)
	require.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, proof.Proof)
	require.Equal(t, uint64(16), proof.Inputs.Slot)
	require.Equal(t, uint32(3), proof.Inputs.LogIndex)
	require.Equal(t, uint64(64), proof.Inputs.MinFinality)
	require.Equal(t, common.HexToAddress("0x3333333333333333333333333333333333333333"), proof.Inputs.Emitter)
}

func TestNoServiceRequiresDegradedMode(t *testing.T) {
	_, err := New(Config{}, types.ModeStrict)
	require.ErrorIs(t, err, ErrNoService)

	c, err := New(Config{}, types.ModeDegraded)
	require.NoError(t, err)
	proof, err := c.GetProof(context.Background(), common.Hash{1})
	require.NoError(t, err)
	require.True(t, proof.Placeholder)
	require.Len(t, proof.Proof, placeholderProofSize)
	require.Equal(t, types.ZkInputs{}, proof.Inputs)
}

func TestProofFailures(t *testing.T) {
	handlers := map[string]http.HandlerFunc{
		"not found": func(w http.ResponseWriter, r *http.Request) { http.NotFound(w, r) },
		"empty proof": func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(`{"proof":"0x","inputs":null}`))
		},
		"missing input field": func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(`{"proof":"0x01","inputs":{"slot":1}}`))
		},
		"slow": func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		},
	}
	for name, handler := range handlers {
		t.Run(name, func(t *testing.T) {
			url := newServer(t, handler)

			strict, err := New(Config{URL: url, Timeout: 200 * time.Millisecond}, types.ModeStrict)
			require.NoError(t, err)
			_, err = strict.GetProof(context.Background(), common.Hash{1})
			require.True(t, types.IsTransient(err), "got %v", err)

			degraded, err := New(Config{URL: url, Timeout: 200 * time.Millisecond}, types.ModeDegraded)
			require.NoError(t, err)
			proof, err := degraded.GetProof(context.Background(), common.Hash{1})
			require.NoError(t, err)
			require.True(t, proof.Placeholder)
		})
	}
}
