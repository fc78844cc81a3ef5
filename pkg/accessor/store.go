package accessor

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/crossknight/examples/pkg/store"
)

// ErrNotFound is returned when no private key is registered for an accessor
// id. Callers treat this as fatal for the request that needed the key.
var ErrNotFound = errors.New("accessor: key not found")

// Store resolves accessor private keys by accessor id. Keys load from a JSON
// key file at boot (accessor_id -> PEM private key). Ids not present in
// memory are looked up in the shared cache under "accessor:<id>", where keys
// registered after boot land; successful lookups are memoized.
type Store struct {
	mu    sync.RWMutex
	keys  map[string]*rsa.PrivateKey
	cache store.Cache
}

func NewStore(cache store.Cache) *Store {
	return &Store{keys: map[string]*rsa.PrivateKey{}, cache: cache}
}

// LoadFile reads a JSON object mapping accessor ids to PEM private keys.
func (s *Store) LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("accessor: read key file: %w", err)
	}
	var entries map[string]string
	if err := json.Unmarshal(raw, &entries); err != nil {
		return fmt.Errorf("accessor: parse key file: %w", err)
	}
	for id, pemKey := range entries {
		if err := s.Add(id, pemKey); err != nil {
			return fmt.Errorf("accessor %q: %w", id, err)
		}
	}
	return nil
}

func (s *Store) Add(accessorID, pemKey string) error {
	key, err := parsePrivateKey([]byte(pemKey))
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.keys[accessorID] = key
	s.mu.Unlock()
	return nil
}

// Key returns the private key for an accessor id.
func (s *Store) Key(ctx context.Context, accessorID string) (*rsa.PrivateKey, error) {
	s.mu.RLock()
	key, ok := s.keys[accessorID]
	s.mu.RUnlock()
	if ok {
		return key, nil
	}
	if s.cache == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, accessorID)
	}
	pemKey, err := s.cache.Get(ctx, "accessor:"+accessorID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, accessorID)
		}
		return nil, fmt.Errorf("accessor: lookup %s: %w", accessorID, err)
	}
	key, err = parsePrivateKey([]byte(pemKey))
	if err != nil {
		return nil, fmt.Errorf("accessor %q: %w", accessorID, err)
	}
	s.mu.Lock()
	s.keys[accessorID] = key
	s.mu.Unlock()
	return key, nil
}

func parsePrivateKey(pemData []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, errors.New("accessor: no PEM block in key material")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("accessor: parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("accessor: private key is not RSA")
	}
	return key, nil
}
