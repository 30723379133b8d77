// Package storage provides rendered document storage for the platform.
// It defines the DocumentStore interface, a filesystem implementation used
// by the render worker, and an in-memory implementation suitable for
// testing and development.
package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sync"
)

var (
	ErrObjectNotFound = errors.New("stored object not found")
	ErrInvalidKey     = errors.New("storage key is invalid")
	ErrObjectTooLarge = errors.New("object exceeds maximum allowed size")
)

// MaxObjectSize is the maximum allowed rendered document size in bytes (50 MB).
const MaxObjectSize = 50 * 1024 * 1024

// keyPattern restricts keys to path-safe segments so a crafted key can never
// escape the tenant directory.
var keyPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	TenantID string `json:"tenant_id"`
	Key      string `json:"key"`
	Size     int64  `json:"size"`
	Hash     string `json:"hash"`
}

// DocumentStore is the contract for rendered document storage backends.
// Keys are namespaced per tenant; one tenant can never read another's objects.
type DocumentStore interface {
	Put(ctx context.Context, tenantID, key string, content io.Reader) (*ObjectInfo, error)
	Get(ctx context.Context, tenantID, key string) (io.ReadCloser, *ObjectInfo, error)
	Delete(ctx context.Context, tenantID, key string) error
}

func validateKey(tenantID, key string) error {
	if tenantID == "" || !keyPattern.MatchString(tenantID) {
		return fmt.Errorf("%w: bad tenant %q", ErrInvalidKey, tenantID)
	}
	if key == "" || !keyPattern.MatchString(key) {
		return fmt.Errorf("%w: bad key %q", ErrInvalidKey, key)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Filesystem implementation
// ---------------------------------------------------------------------------

// FSStore stores objects as files under root/<tenant>/<key>.
type FSStore struct {
	root string
}

// NewFSStore creates the root directory if needed and returns an FSStore.
func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("creating storage root: %w", err)
	}
	return &FSStore{root: root}, nil
}

func (s *FSStore) path(tenantID, key string) string {
	return filepath.Join(s.root, tenantID, key)
}

func (s *FSStore) Put(_ context.Context, tenantID, key string, content io.Reader) (*ObjectInfo, error) {
	if err := validateKey(tenantID, key); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(content, MaxObjectSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading content: %w", err)
	}
	if int64(len(data)) > MaxObjectSize {
		return nil, ErrObjectTooLarge
	}

	dir := filepath.Join(s.root, tenantID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating tenant directory: %w", err)
	}

	// Write to a temp file then rename so readers never see a partial object.
	tmp, err := os.CreateTemp(dir, ".put-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("writing object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(tenantID, key)); err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("storing object: %w", err)
	}

	h := sha256.Sum256(data)
	return &ObjectInfo{
		TenantID: tenantID,
		Key:      key,
		Size:     int64(len(data)),
		Hash:     fmt.Sprintf("%x", h),
	}, nil
}

func (s *FSStore) Get(_ context.Context, tenantID, key string) (io.ReadCloser, *ObjectInfo, error) {
	if err := validateKey(tenantID, key); err != nil {
		return nil, nil, err
	}

	f, err := os.Open(s.path(tenantID, key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, ErrObjectNotFound
		}
		return nil, nil, fmt.Errorf("opening object: %w", err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("stat object: %w", err)
	}

	return f, &ObjectInfo{TenantID: tenantID, Key: key, Size: fi.Size()}, nil
}

func (s *FSStore) Delete(_ context.Context, tenantID, key string) error {
	if err := validateKey(tenantID, key); err != nil {
		return err
	}
	if err := os.Remove(s.path(tenantID, key)); err != nil {
		if os.IsNotExist(err) {
			return ErrObjectNotFound
		}
		return fmt.Errorf("deleting object: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// In-memory implementation
// ---------------------------------------------------------------------------

type storedObject struct {
	info    ObjectInfo
	content []byte
}

// InMemoryStore is a thread-safe, in-memory DocumentStore for testing/dev.
type InMemoryStore struct {
	mu      sync.RWMutex
	objects map[string]*storedObject
}

// NewInMemoryStore returns a ready-to-use InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{objects: make(map[string]*storedObject)}
}

func memKey(tenantID, key string) string {
	return tenantID + "/" + key
}

func (s *InMemoryStore) Put(_ context.Context, tenantID, key string, content io.Reader) (*ObjectInfo, error) {
	if err := validateKey(tenantID, key); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(content, MaxObjectSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading content: %w", err)
	}
	if int64(len(data)) > MaxObjectSize {
		return nil, ErrObjectTooLarge
	}

	h := sha256.Sum256(data)
	info := ObjectInfo{
		TenantID: tenantID,
		Key:      key,
		Size:     int64(len(data)),
		Hash:     fmt.Sprintf("%x", h),
	}

	s.mu.Lock()
	s.objects[memKey(tenantID, key)] = &storedObject{info: info, content: data}
	s.mu.Unlock()

	out := info // copy
	return &out, nil
}

func (s *InMemoryStore) Get(_ context.Context, tenantID, key string) (io.ReadCloser, *ObjectInfo, error) {
	if err := validateKey(tenantID, key); err != nil {
		return nil, nil, err
	}

	s.mu.RLock()
	obj, ok := s.objects[memKey(tenantID, key)]
	s.mu.RUnlock()

	if !ok {
		return nil, nil, ErrObjectNotFound
	}

	info := obj.info // copy
	return io.NopCloser(bytes.NewReader(obj.content)), &info, nil
}

func (s *InMemoryStore) Delete(_ context.Context, tenantID, key string) error {
	if err := validateKey(tenantID, key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := memKey(tenantID, key)
	if _, ok := s.objects[k]; !ok {
		return ErrObjectNotFound
	}
	delete(s.objects, k)
	return nil
}
