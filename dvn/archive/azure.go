package archive

import (
	"context"
	"errors"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
)

type azureAPI interface {
	UploadBuffer(ctx context.Context, containerName string, blobName string, buffer []byte, o *azblob.UploadBufferOptions) (azblob.UploadBufferResponse, error)
}

// AzureSink uploads bundles to an Azure Blob Storage container.
type AzureSink struct {
	client    azureAPI
	container string
}

func NewAzureSink(connectionString, container string) (*AzureSink, error) {
	if connectionString == "" || container == "" {
		return nil, errors.New("azure connection string and container must be provided")
	}
	client, err := azblob.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, err
	}
	return &AzureSink{client: client, container: container}, nil
}

func (s *AzureSink) Name() string { return "azblob" }

func (s *AzureSink) Put(ctx context.Context, key string, blob []byte, expires time.Time) error {
	exp := expires.UTC().Format(time.RFC3339)
	_, err := s.client.UploadBuffer(ctx, s.container, key, blob, &azblob.UploadBufferOptions{
		Metadata: map[string]*string{"expires": &exp},
	})
	return err
}
