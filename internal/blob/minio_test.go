package blob

import (
	"strings"
	"testing"
)

func newTestStore(t *testing.T, opts Options) *Store {
	t.Helper()
	if opts.Endpoint == "" {
		opts.Endpoint = "localhost:9000"
	}
	if opts.Bucket == "" {
		opts.Bucket = "keepsake-photos"
	}
	store, err := New(opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return store
}

func TestNewDerivesPublicURLFromEndpoint(t *testing.T) {
	store := newTestStore(t, Options{Endpoint: "localhost:9000"})
	if store.publicURL != "http://localhost:9000" {
		t.Fatalf("expected derived public url, got %q", store.publicURL)
	}

	secure := newTestStore(t, Options{Endpoint: "blobs.example.com", UseSSL: true})
	if secure.publicURL != "https://blobs.example.com" {
		t.Fatalf("expected https public url, got %q", secure.publicURL)
	}
}

func TestNewTrimsTrailingSlashFromPublicURL(t *testing.T) {
	store := newTestStore(t, Options{PublicURL: "https://cdn.example.com/"})
	if store.publicURL != "https://cdn.example.com" {
		t.Fatalf("expected trimmed public url, got %q", store.publicURL)
	}
}

func TestObjectKeyRoundTrip(t *testing.T) {
	store := newTestStore(t, Options{})

	key, err := store.objectKey("http://localhost:9000/keepsake-photos/abc-123-june.jpg")
	if err != nil {
		t.Fatalf("objectKey failed: %v", err)
	}
	if key != "abc-123-june.jpg" {
		t.Fatalf("expected key abc-123-june.jpg, got %q", key)
	}
}

func TestObjectKeyRejectsForeignBucket(t *testing.T) {
	store := newTestStore(t, Options{})

	if _, err := store.objectKey("http://localhost:9000/other-bucket/file.jpg"); err == nil {
		t.Fatal("expected error for url outside our bucket")
	}
}

func TestObjectKeyRejectsEmptyKey(t *testing.T) {
	store := newTestStore(t, Options{})

	if _, err := store.objectKey("http://localhost:9000/keepsake-photos/"); err == nil {
		t.Fatal("expected error for url without an object key")
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"june.jpg", "june.jpg"},
		{"family photo.png", "family-photo.png"},
		{"../../etc/passwd", "passwd"},
		{`C:\Users\avery\pic.jpg`, "pic.jpg"},
		{"", "upload"},
		{"héllo.jpg", "h-llo.jpg"},
	}
	for _, tc := range cases {
		got := sanitizeFilename(tc.in)
		if got != tc.want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", tc.in, got, tc.want)
		}
		if strings.ContainsAny(got, "/\\ ") {
			t.Errorf("sanitized name %q still contains separators", got)
		}
	}
}
