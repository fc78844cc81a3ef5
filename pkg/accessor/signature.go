package accessor

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
)

// ResponseSignature signs the platform-supplied message hash with the
// accessor key and returns the signature base64 encoded. The hash arrives
// base64 encoded and already padded to the key size, so this is the raw
// PKCS#1 v1.5 private key operation with no additional digesting.
func ResponseSignature(key *rsa.PrivateKey, paddedHashB64 string) (string, error) {
	digest, err := base64.StdEncoding.DecodeString(paddedHashB64)
	if err != nil {
		return "", fmt.Errorf("accessor: decode padded hash: %w", err)
	}
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.Hash(0), digest)
	if err != nil {
		return "", fmt.Errorf("accessor: sign: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}
