package archive

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/nori-zk/dvn-worker/core/types"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	name string
	err  error

	mu   sync.Mutex
	puts map[string][]byte
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Put(_ context.Context, key string, blob []byte, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.puts == nil {
		s.puts = make(map[string][]byte)
	}
	s.puts[key] = blob
	return s.err
}

func testRequest() *types.VerificationRequest {
	return &types.VerificationRequest{
		PacketID:         common.Hash{0x11},
		MessageHash:      common.Hash{0x22},
		Epoch:            5,
		AttestationProof: []byte{1},
		ZkProof:          []byte{2, 3},
		ZkInputs:         types.ZkInputs{Slot: 8, MinFinality: 64},
	}
}

func TestStoreFansOut(t *testing.T) {
	ok := &recordingSink{name: "ok"}
	broken := &recordingSink{name: "broken", err: errors.New("bucket missing")}
	a, err := New(DefaultConfig(), ok, broken)
	require.NoError(t, err)
	a.now = func() time.Time { return time.Unix(1700000000, 0) }

	err = a.Store(context.Background(), testRequest())
	require.ErrorContains(t, err, "broken: bucket missing")

	key := BundleKey(common.Hash{0x11})
	require.Contains(t, ok.puts, key)
	require.Contains(t, broken.puts, key)

	var b Bundle
	require.NoError(t, json.Unmarshal(ok.puts[key], &b))
	require.Equal(t, uint64(5), b.Epoch)
	require.Equal(t, []byte{2, 3}, []byte(b.ZkProof))
	require.Equal(t, uint64(8), b.ZkInputs.Slot)
	require.True(t, time.Unix(1700000000, 0).Add(30*24*time.Hour).Equal(b.ExpiresAt))
}

func TestNewRequiresSink(t *testing.T) {
	_, err := New(DefaultConfig())
	require.Error(t, err)
	require.False(t, DefaultConfig().Enabled())
}

func TestKVSinkExpiry(t *testing.T) {
	sink := NewKVSink(memorydb.New())
	defer sink.Close()
	a, err := New(Config{TTL: time.Hour}, sink)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0)
	a.now = func() time.Time { return now }
	require.NoError(t, a.Store(context.Background(), testRequest()))

	sink.now = func() time.Time { return now.Add(time.Minute) }
	b, err := sink.Bundle(common.Hash{0x11})
	require.NoError(t, err)
	require.Equal(t, common.Hash{0x22}, b.MessageHash)

	sink.now = func() time.Time { return now.Add(2 * time.Hour) }
	_, err = sink.Bundle(common.Hash{0x11})
	require.ErrorIs(t, err, ErrBundleExpired)
	_, err = sink.Bundle(common.Hash{0x11})
	require.ErrorIs(t, err, ErrBundleNotFound)
}

type fakeS3 struct {
	input *s3.PutObjectInput
	body  []byte
}

func (f *fakeS3) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = params
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.body = body
	return &s3.PutObjectOutput{}, nil
}

func TestS3Sink(t *testing.T) {
	api := new(fakeS3)
	sink := &S3Sink{client: api, bucket: "proofs", prefix: "dvn/"}
	expires := time.Unix(1800000000, 0)

	require.NoError(t, sink.Put(context.Background(), "k.json", []byte(`{}`), expires))
	require.Equal(t, "proofs", *api.input.Bucket)
	require.Equal(t, "dvn/k.json", *api.input.Key)
	require.Equal(t, "application/json", *api.input.ContentType)
	require.True(t, expires.Equal(*api.input.Expires))
	require.Equal(t, []byte(`{}`), api.body)
}

func TestS3Options(t *testing.T) {
	opts := S3Options{
		Bucket:          "proofs",
		Region:          "eu-west-1",
		Endpoint:        "http://127.0.0.1:9000",
		AccessKeyID:     "AKIDEXAMPLE",
		SecretAccessKey: "secret",
	}
	var lo config.LoadOptions
	for _, fn := range opts.loadOptions() {
		require.NoError(t, fn(&lo))
	}
	require.Equal(t, "eu-west-1", lo.Region)
	creds, err := lo.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	require.Equal(t, "AKIDEXAMPLE", creds.AccessKeyID)
	require.Equal(t, "secret", creds.SecretAccessKey)

	sink, err := NewS3Sink(context.Background(), opts)
	require.NoError(t, err)
	client, ok := sink.client.(*s3.Client)
	require.True(t, ok)
	require.Equal(t, "http://127.0.0.1:9000", *client.Options().BaseEndpoint)
	require.True(t, client.Options().UsePathStyle)

	_, err = NewS3Sink(context.Background(), S3Options{Bucket: "proofs", AccessKeyID: "AKIDEXAMPLE"})
	require.ErrorContains(t, err, "set together")
	_, err = NewS3Sink(context.Background(), S3Options{})
	require.Error(t, err)
}

type fakeAzure struct {
	container, blob string
	opts            *azblob.UploadBufferOptions
}

func (f *fakeAzure) UploadBuffer(_ context.Context, container, blob string, _ []byte, o *azblob.UploadBufferOptions) (azblob.UploadBufferResponse, error) {
	f.container, f.blob, f.opts = container, blob, o
	return azblob.UploadBufferResponse{}, nil
}

func TestAzureSink(t *testing.T) {
	api := new(fakeAzure)
	sink := &AzureSink{client: api, container: "bundles"}

	require.NoError(t, sink.Put(context.Background(), "k.json", []byte(`{}`), time.Unix(0, 0)))
	require.Equal(t, "bundles", api.container)
	require.Equal(t, "k.json", api.blob)
	require.Equal(t, "1970-01-01T00:00:00Z", *api.opts.Metadata["expires"])

	_, err := NewAzureSink("", "bundles")
	require.Error(t, err)
}
