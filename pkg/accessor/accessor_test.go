package accessor

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/crossknight/examples/pkg/store"
)

func generateKeyPEM(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
	return key, string(pem.EncodeToMemory(block))
}

func TestStoreLoadFile(t *testing.T) {
	t.Parallel()

	_, pemKey := generateKeyPEM(t)
	path := filepath.Join(t.TempDir(), "keys.json")
	raw, _ := json.Marshal(map[string]string{"acc-1": pemKey})
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("write key file: %v", err)
	}

	s := NewStore(nil)
	if err := s.LoadFile(path); err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := s.Key(context.Background(), "acc-1"); err != nil {
		t.Fatalf("key lookup: %v", err)
	}
	if _, err := s.Key(context.Background(), "acc-2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreLoadFileErrors(t *testing.T) {
	t.Parallel()

	s := NewStore(nil)
	if err := s.LoadFile(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("expected error for missing file")
	}

	bad := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(bad, []byte(`{"acc-1":"not a pem key"}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := s.LoadFile(bad); err == nil {
		t.Fatal("expected error for invalid key material")
	}
}

func TestStoreResolvesFromCache(t *testing.T) {
	t.Parallel()

	_, pemKey := generateKeyPEM(t)
	cache := store.NewMemoryCache()
	ctx := context.Background()
	if err := cache.Set(ctx, "accessor:acc-9", pemKey, time.Minute); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	s := NewStore(cache)
	key, err := s.Key(ctx, "acc-9")
	if err != nil {
		t.Fatalf("key lookup: %v", err)
	}

	// memoized: stays resolvable after the cache entry goes away
	if err := cache.Del(ctx, "accessor:acc-9"); err != nil {
		t.Fatalf("del: %v", err)
	}
	again, err := s.Key(ctx, "acc-9")
	if err != nil {
		t.Fatalf("memoized lookup: %v", err)
	}
	if again != key {
		t.Fatal("expected memoized key instance")
	}
}

func TestStorePKCS8Key(t *testing.T) {
	t.Parallel()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal pkcs8: %v", err)
	}
	pemKey := string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))

	s := NewStore(nil)
	if err := s.Add("acc-p8", pemKey); err != nil {
		t.Fatalf("add pkcs8 key: %v", err)
	}
}

func TestResponseSignature(t *testing.T) {
	t.Parallel()

	key, _ := generateKeyPEM(t)
	digest := sha256.Sum256([]byte("request message"))
	sigB64, err := ResponseSignature(key, base64.StdEncoding.EncodeToString(digest[:]))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		t.Fatalf("decode signature: %v", err)
	}
	if err := rsa.VerifyPKCS1v15(&key.PublicKey, crypto.Hash(0), digest[:], sig); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestResponseSignatureRejectsBadBase64(t *testing.T) {
	t.Parallel()

	key, _ := generateKeyPEM(t)
	if _, err := ResponseSignature(key, "%%not-base64%%"); err == nil {
		t.Fatal("expected decode error")
	}
}
