package assets

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type fakeUploader struct {
	path        string
	contentType string
	body        []byte
	err         error
}

func (f *fakeUploader) Upload(_ context.Context, path, contentType string, body []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.path, f.contentType, f.body = path, contentType, body
	return "https://project.supabase.co/storage/v1/object/public/designs/" + path, nil
}

type fixedMode bool

func (m fixedMode) InFallback() bool { return bool(m) }

var testTarget = Target{SessionID: "s-1", At: time.UnixMilli(1700000000123)}

func TestTarget_ObjectPath(t *testing.T) {
	if got := testTarget.ObjectPath("png"); got != "designs/s-1/1700000000123.png" {
		t.Errorf("Unexpected path %q", got)
	}
}

func TestInlineRelocator(t *testing.T) {
	ctx := context.Background()
	r := InlineRelocator{}

	got, err := r.Relocate(ctx, testTarget, "https://images.example/a.png")
	if err != nil || got != "https://images.example/a.png" {
		t.Errorf("Expected remote URL to pass through, got %q, %v", got, err)
	}

	got, err = r.Relocate(ctx, testTarget, "data:image/png;base64,aGVsbG8=")
	if err != nil {
		t.Fatalf("Relocate failed: %v", err)
	}
	if got != "data:image/png;base64,aGVsbG8=" {
		t.Errorf("Unexpected data URL %q", got)
	}

	// Percent-encoded payloads are re-encoded as base64.
	got, err = r.Relocate(ctx, testTarget, "data:image/svg+xml,%3Csvg%2F%3E")
	if err != nil {
		t.Fatalf("Relocate failed: %v", err)
	}
	if got != "data:image/svg+xml;base64,PHN2Zy8+" {
		t.Errorf("Unexpected data URL %q", got)
	}

	if _, err := r.Relocate(ctx, testTarget, "data:image/png;base64"); !errors.Is(err, ErrUnsupportedReference) {
		t.Errorf("Expected ErrUnsupportedReference for a data URL without payload, got %v", err)
	}

	if _, err := r.Relocate(ctx, testTarget, "ftp://nope"); !errors.Is(err, ErrUnsupportedReference) {
		t.Errorf("Expected ErrUnsupportedReference, got %v", err)
	}
}

func TestSupabaseRelocator_UploadsInlineBlob(t *testing.T) {
	up := &fakeUploader{}
	r := NewSupabaseRelocator(up, nil)

	url, err := r.Relocate(context.Background(), testTarget, "data:image/png;base64,aGVsbG8=")
	if err != nil {
		t.Fatalf("Relocate failed: %v", err)
	}
	if up.path != "designs/s-1/1700000000123.png" || up.contentType != "image/png" || string(up.body) != "hello" {
		t.Errorf("Unexpected upload: path=%q type=%q body=%q", up.path, up.contentType, up.body)
	}
	if !strings.HasSuffix(url, up.path) {
		t.Errorf("Expected public URL for %s, got %s", up.path, url)
	}
}

func TestSupabaseRelocator_FetchesRemoteURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("jpeg-bytes"))
	}))
	defer srv.Close()

	up := &fakeUploader{}
	r := NewSupabaseRelocator(up, srv.Client())
	if _, err := r.Relocate(context.Background(), testTarget, srv.URL+"/photo"); err != nil {
		t.Fatalf("Relocate failed: %v", err)
	}
	if up.path != "designs/s-1/1700000000123.jpg" || string(up.body) != "jpeg-bytes" {
		t.Errorf("Unexpected upload: path=%q body=%q", up.path, up.body)
	}
}

func TestSupabaseRelocator_ErrorsAreFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	r := NewSupabaseRelocator(&fakeUploader{}, srv.Client())
	if _, err := r.Relocate(context.Background(), testTarget, srv.URL+"/missing"); err == nil {
		t.Error("Expected fetch failure to be returned")
	}

	failing := NewSupabaseRelocator(&fakeUploader{err: errors.New("bucket not found")}, nil)
	if _, err := failing.Relocate(context.Background(), testTarget, "data:image/png;base64,aGVsbG8="); err == nil {
		t.Error("Expected upload failure to be returned")
	}
}

func TestModeRelocator(t *testing.T) {
	up := &fakeUploader{}
	remote := NewSupabaseRelocator(up, nil)
	blob := "data:image/png;base64,aGVsbG8="

	url, err := NewModeRelocator(fixedMode(false), remote, InlineRelocator{}).Relocate(context.Background(), testTarget, blob)
	if err != nil || !strings.HasPrefix(url, "https://") {
		t.Errorf("Expected upload while remote serves, got %q, %v", url, err)
	}

	url, err = NewModeRelocator(fixedMode(true), remote, InlineRelocator{}).Relocate(context.Background(), testTarget, blob)
	if err != nil || url != blob {
		t.Errorf("Expected inline result in fallback, got %q, %v", url, err)
	}

	url, err = NewModeRelocator(nil, nil, InlineRelocator{}).Relocate(context.Background(), testTarget, blob)
	if err != nil || url != blob {
		t.Errorf("Expected inline result without remote, got %q, %v", url, err)
	}
}
