package objectstore

import (
	"context"
	"testing"
)

func TestNewCleansEndpointAndBuildsPublicURL(t *testing.T) {
	s := New(Config{
		Endpoint:  "https://acct.r2.cloudflarestorage.com/media",
		Bucket:    "media",
		AccessKey: "k",
		SecretKey: "s",
	})
	cfg := s.Config()
	if cfg.Endpoint != "https://acct.r2.cloudflarestorage.com" {
		t.Fatalf("endpoint = %q", cfg.Endpoint)
	}
	if cfg.Region != "auto" {
		t.Fatalf("region = %q", cfg.Region)
	}
	if got := s.PublicURL("small/a.jpg"); got != "https://acct.r2.cloudflarestorage.com/media/small/a.jpg" {
		t.Fatalf("PublicURL = %q", got)
	}
}

func TestCDNURLWins(t *testing.T) {
	s := New(Config{Endpoint: "https://x", Bucket: "b", AccessKey: "k", SecretKey: "s", PublicURL: "https://cdn.example.com/"})
	if got := s.PublicURL("original/a.jpg"); got != "https://cdn.example.com/original/a.jpg" {
		t.Fatalf("PublicURL = %q", got)
	}
}

func TestUnconfiguredStoreRefusesUploads(t *testing.T) {
	s := New(Config{Bucket: "b"})
	missing := s.Config().Missing()
	if len(missing) != 3 {
		t.Fatalf("missing = %v", missing)
	}
	if err := s.Put(context.Background(), "k", []byte("x"), "image/jpeg"); err == nil {
		t.Fatalf("expected error from unconfigured store")
	}
	if err := s.TestConnection(context.Background()); err == nil {
		t.Fatalf("expected error from unconfigured store")
	}
}
