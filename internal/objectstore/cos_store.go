package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/tencentyun/cos-go-sdk-v5"
)

// COSConfig holds the connection settings of a Tencent COS bucket.
type COSConfig struct {
	BucketURL string
	SecretID  string
	SecretKey string
}

// COSStore implements the core.ArtifactStore interface on a Tencent COS bucket.
type COSStore struct {
	client *cos.Client
}

// NewCOS creates a COSStore. An empty secret pair leaves requests unsigned,
// which is only useful against public-write test endpoints.
func NewCOS(cfg COSConfig, transport http.RoundTripper) (*COSStore, error) {
	bucketURL, err := url.Parse(cfg.BucketURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse COS bucket url '%s': %w", cfg.BucketURL, err)
	}

	if transport == nil {
		transport = http.DefaultTransport
	}

	httpClient := &http.Client{Transport: transport}
	if cfg.SecretID != "" {
		httpClient.Transport = &cos.AuthorizationTransport{
			SecretID:  cfg.SecretID,
			SecretKey: cfg.SecretKey,
			Transport: transport,
		}
	}

	client := cos.NewClient(&cos.BaseURL{BucketURL: bucketURL}, httpClient)

	return &COSStore{client: client}, nil
}

// Exists reports whether an object is stored under path.
func (c *COSStore) Exists(ctx context.Context, path string) (bool, error) {
	exists, err := c.client.Object.IsExist(ctx, path)
	if err != nil {
		return false, fmt.Errorf("failed to stat COS object '%s': %w", path, err)
	}

	return exists, nil
}

// Download retrieves an object from COS.
func (c *COSStore) Download(ctx context.Context, path string) ([]byte, error) {
	resp, err := c.client.Object.Get(ctx, path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get COS object '%s': %w", path, err)
	}

	data, readErr := io.ReadAll(resp.Body)
	closeErr := resp.Body.Close()

	if readErr != nil {
		return nil, fmt.Errorf("failed to read COS object '%s': %w", path, readErr)
	}

	if closeErr != nil {
		return data, fmt.Errorf("failed to close COS object '%s': %w", path, closeErr)
	}

	return data, nil
}

// Upload stores data under path, replacing any existing object.
func (c *COSStore) Upload(ctx context.Context, path string, data []byte, contentType string) error {
	opt := &cos.ObjectPutOptions{
		ObjectPutHeaderOptions: &cos.ObjectPutHeaderOptions{
			ContentType: contentType,
		},
	}

	_, err := c.client.Object.Put(ctx, path, bytes.NewReader(data), opt)
	if err != nil {
		return fmt.Errorf("failed to put COS object '%s': %w", path, err)
	}

	return nil
}

// PublicURL returns the permanent access URL of path.
func (c *COSStore) PublicURL(path string) string {
	return c.client.Object.GetObjectURL(path).String()
}
