package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestInMemoryStorePutGet(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	info, err := s.Put(ctx, "acme", "doc-1.pdf", strings.NewReader("%PDF-1.7 test"))
	if err != nil {
		t.Fatalf("Put error: %v", err)
	}
	if info.Size != int64(len("%PDF-1.7 test")) {
		t.Errorf("Size = %d", info.Size)
	}
	if len(info.Hash) != 64 {
		t.Errorf("Hash length = %d, want 64 hex chars", len(info.Hash))
	}

	rc, got, err := s.Get(ctx, "acme", "doc-1.pdf")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "%PDF-1.7 test" {
		t.Errorf("content = %q", data)
	}
	if got.TenantID != "acme" {
		t.Errorf("TenantID = %q", got.TenantID)
	}
}

func TestInMemoryStoreTenantIsolation(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	if _, err := s.Put(ctx, "acme", "doc-1.pdf", strings.NewReader("a")); err != nil {
		t.Fatalf("Put error: %v", err)
	}

	if _, _, err := s.Get(ctx, "other", "doc-1.pdf"); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("cross-tenant Get error = %v, want ErrObjectNotFound", err)
	}
}

func TestValidateKeyRejectsTraversal(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	bad := []struct{ tenant, key string }{
		{"acme", "../secret"},
		{"acme", "a/b"},
		{"..", "doc.pdf"},
		{"acme", ".hidden"},
		{"", "doc.pdf"},
		{"acme", ""},
	}
	for _, tc := range bad {
		if _, err := s.Put(ctx, tc.tenant, tc.key, strings.NewReader("x")); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("Put(%q, %q) error = %v, want ErrInvalidKey", tc.tenant, tc.key, err)
		}
	}
}

func TestFSStoreRoundTrip(t *testing.T) {
	root := t.TempDir()
	s, err := NewFSStore(root)
	if err != nil {
		t.Fatalf("NewFSStore error: %v", err)
	}
	ctx := context.Background()

	content := bytes.Repeat([]byte("pdf"), 100)
	info, err := s.Put(ctx, "acme", "enc-doc.pdf", bytes.NewReader(content))
	if err != nil {
		t.Fatalf("Put error: %v", err)
	}
	if info.Size != int64(len(content)) {
		t.Errorf("Size = %d, want %d", info.Size, len(content))
	}

	rc, _, err := s.Get(ctx, "acme", "enc-doc.pdf")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	got, _ := io.ReadAll(rc)
	rc.Close()
	if !bytes.Equal(got, content) {
		t.Error("content mismatch after round trip")
	}

	if err := s.Delete(ctx, "acme", "enc-doc.pdf"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if _, _, err := s.Get(ctx, "acme", "enc-doc.pdf"); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("Get after delete error = %v, want ErrObjectNotFound", err)
	}
}
