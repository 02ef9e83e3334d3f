package assets

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	storage_go "github.com/supabase-community/storage-go"
	"github.com/supabase-community/supabase-go"
)

// DefaultMaxAssetBytes caps the size of a fetched or decoded asset.
const DefaultMaxAssetBytes = 20 << 20

// Uploader stores an object and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, path, contentType string, body []byte) (string, error)
}

// SupabaseBucket uploads objects to a Supabase Storage bucket.
type SupabaseBucket struct {
	storage *storage_go.Client
	bucket  string
}

// NewSupabaseBucket creates an uploader for the given project and bucket.
func NewSupabaseBucket(projectURL, apiKey, bucket string) (*SupabaseBucket, error) {
	if projectURL == "" {
		return nil, fmt.Errorf("supabase URL is required")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("supabase API key is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("supabase bucket is required")
	}

	client, err := supabase.NewClient(projectURL, apiKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}
	return &SupabaseBucket{storage: client.Storage, bucket: bucket}, nil
}

func (b *SupabaseBucket) Upload(ctx context.Context, path, contentType string, body []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	upsert := true
	_, err := b.storage.UploadFile(b.bucket, path, bytes.NewReader(body), storage_go.FileOptions{
		ContentType: &contentType,
		Upsert:      &upsert,
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", path, err)
	}
	return b.storage.GetPublicUrl(b.bucket, path).SignedURL, nil
}

// SupabaseRelocator copies images into object storage.
type SupabaseRelocator struct {
	uploader   Uploader
	httpClient *http.Client
	maxBytes   int64
}

// NewSupabaseRelocator creates a relocator that fetches remote images with
// httpClient (nil uses a client with a 30s timeout) and uploads via uploader.
func NewSupabaseRelocator(uploader Uploader, httpClient *http.Client) *SupabaseRelocator {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &SupabaseRelocator{
		uploader:   uploader,
		httpClient: httpClient,
		maxBytes:   DefaultMaxAssetBytes,
	}
}

func (r *SupabaseRelocator) Relocate(ctx context.Context, target Target, ref string) (string, error) {
	var (
		contentType string
		body        []byte
		err         error
	)
	switch {
	case strings.HasPrefix(ref, "data:"):
		contentType, body, err = decodeDataURL(ref)
	case isRemoteURL(ref):
		contentType, body, err = r.fetch(ctx, ref)
	default:
		err = fmt.Errorf("%w: %.32q", ErrUnsupportedReference, ref)
	}
	if err != nil {
		return "", err
	}
	if int64(len(body)) > r.maxBytes {
		return "", fmt.Errorf("asset exceeds %d bytes", r.maxBytes)
	}

	url, err := r.uploader.Upload(ctx, target.ObjectPath(extensionFor(contentType)), contentType, body)
	if err != nil {
		return "", fmt.Errorf("relocate asset: %w", err)
	}
	return url, nil
}

func (r *SupabaseRelocator) fetch(ctx context.Context, ref string) (string, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return "", nil, fmt.Errorf("build fetch request: %w", err)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("fetch asset: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", nil, fmt.Errorf("fetch asset: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, r.maxBytes+1))
	if err != nil {
		return "", nil, fmt.Errorf("read asset: %w", err)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(body)
	}
	return contentType, body, nil
}
