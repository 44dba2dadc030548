// Package objectstore provides durable artifact store implementations of core.ArtifactStore.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const headerContentType = "Content-Type"

// NatsObjectStore implements the core.ArtifactStore interface using NATS JetStream.
type NatsObjectStore struct {
	jetstreamContext nats.JetStreamContext
	bucket           string
	publicBaseURL    string
	store            nats.ObjectStore
}

// New creates and initializes a new NatsObjectStore. Public URLs are built as
// {publicBaseURL}/{bucket}/{path}.
func New(jetstreamContext nats.JetStreamContext, bucketName, publicBaseURL string) (*NatsObjectStore, error) {
	// Use a "create-first" approach.
	store, err := jetstreamContext.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucketName,
		Description: fmt.Sprintf("Conversation artifacts for the %s bucket.", bucketName),
		TTL:         0,
		MaxBytes:    0,
		Storage:     nats.FileStorage,
		Replicas:    1,
		Placement:   nil,
		Metadata:    nil,
		Compression: false,
	})

	// If the bucket already exists, bind to it.
	if err != nil {
		if errors.Is(err, jetstream.ErrBucketExists) || errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			store, err = jetstreamContext.ObjectStore(bucketName)
			if err != nil {
				return nil, fmt.Errorf("failed to bind to existing object store bucket '%s': %w", bucketName, err)
			}
		} else {
			return nil, fmt.Errorf("failed to create object store bucket '%s': %w", bucketName, err)
		}
	}

	return &NatsObjectStore{
		jetstreamContext: jetstreamContext,
		bucket:           bucketName,
		publicBaseURL:    strings.TrimRight(publicBaseURL, "/"),
		store:            store,
	}, nil
}

// Exists reports whether a live object is stored under path.
func (n *NatsObjectStore) Exists(ctx context.Context, path string) (bool, error) {
	ctxErr := ctx.Err()
	if ctxErr != nil {
		return false, fmt.Errorf("failed to stat object '%s': %w", path, ctxErr)
	}

	info, err := n.store.GetInfo(path)
	if err != nil {
		if errors.Is(err, nats.ErrObjectNotFound) {
			return false, nil
		}

		return false, fmt.Errorf("failed to stat object '%s' in bucket '%s': %w", path, n.bucket, err)
	}

	return !info.Deleted, nil
}

// Download retrieves an object from the NATS object store.
func (n *NatsObjectStore) Download(ctx context.Context, path string) ([]byte, error) {
	ctxErr := ctx.Err()
	if ctxErr != nil {
		return nil, fmt.Errorf("failed to get object '%s': %w", path, ctxErr)
	}

	obj, err := n.store.Get(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get object '%s' from bucket '%s': %w", path, n.bucket, err)
	}

	data, readErr := io.ReadAll(obj)
	closeErr := obj.Close()

	if readErr != nil {
		return nil, fmt.Errorf("failed to read object '%s': %w", path, readErr)
	}

	if closeErr != nil {
		return data, fmt.Errorf("failed to close object '%s': %w", path, closeErr)
	}

	return data, nil
}

// Upload saves an object to the NATS object store, replacing any existing object
// stored under the same path.
func (n *NatsObjectStore) Upload(ctx context.Context, path string, data []byte, contentType string) error {
	ctxErr := ctx.Err()
	if ctxErr != nil {
		return fmt.Errorf("failed to put object '%s': %w", path, ctxErr)
	}

	headers := nats.Header{}
	if contentType != "" {
		headers.Set(headerContentType, contentType)
	}

	_, err := n.store.Put(&nats.ObjectMeta{
		Name:        path,
		Description: "",
		Headers:     headers,
		Metadata:    nil,
		Opts:        nil,
	}, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to put object '%s' to bucket '%s': %w", path, n.bucket, err)
	}

	return nil
}

// PublicURL resolves the public URL of path.
func (n *NatsObjectStore) PublicURL(path string) string {
	return joinPublicURL(n.publicBaseURL, n.bucket, path)
}

func joinPublicURL(baseURL, bucket, path string) string {
	segments := strings.Split(path, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}

	return baseURL + "/" + url.PathEscape(bucket) + "/" + strings.Join(segments, "/")
}
