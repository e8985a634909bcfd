// Package sign manages the monitor's Ed25519 identity: one-time key
// generation, private-key loading, batch signing, and the matching
// verification used by the hub. Signatures always cover the exact
// serialized bytes of the submission body.
package sign

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
)

// pubSuffix names the public-key file next to the private key.
const pubSuffix = ".pub"

// Generate creates a new keypair at path. The private key is written
// owner-only (0600), the public key world-readable (0644). It refuses
// to overwrite an existing key; compromise recovery means deleting the
// old key and re-registering the new public key out of band.
func Generate(path string) (publicKey string, err error) {
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("sign: key already exists at %s", path)
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", fmt.Errorf("sign: generate keypair: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return "", fmt.Errorf("sign: create key directory: %w", err)
	}

	privB64 := base64.StdEncoding.EncodeToString(priv)
	if err := os.WriteFile(path, []byte(privB64+"\n"), 0600); err != nil {
		return "", fmt.Errorf("sign: write private key: %w", err)
	}

	pubB64 := base64.StdEncoding.EncodeToString(pub)
	if err := os.WriteFile(path+pubSuffix, []byte(pubB64+"\n"), 0644); err != nil {
		return "", fmt.Errorf("sign: write public key: %w", err)
	}

	return pubB64, nil
}

// Signer signs outgoing batches with a loaded private key.
type Signer struct {
	priv ed25519.PrivateKey
}

// LoadSigner reads the private key written by Generate.
func LoadSigner(path string) (*Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sign: read private key: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(trimNewline(string(data)))
	if err != nil {
		return nil, fmt.Errorf("sign: decode private key: %w", err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("sign: private key has %d bytes, want %d", len(raw), ed25519.PrivateKeySize)
	}
	return &Signer{priv: ed25519.PrivateKey(raw)}, nil
}

// Sign returns the base64 signature of body.
func (s *Signer) Sign(body []byte) string {
	return base64.StdEncoding.EncodeToString(ed25519.Sign(s.priv, body))
}

// PublicKey returns the base64 public half of the loaded key.
func (s *Signer) PublicKey() string {
	pub := s.priv.Public().(ed25519.PublicKey)
	return base64.StdEncoding.EncodeToString(pub)
}

// ParsePublicKey decodes a registered base64 public key.
func ParsePublicKey(b64 string) (ed25519.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(trimNewline(b64))
	if err != nil {
		return nil, fmt.Errorf("sign: decode public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("sign: public key has %d bytes, want %d", len(raw), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(raw), nil
}

// Verify checks a base64 signature over body against pub.
// ed25519.Verify runs in constant time with respect to the signature.
func Verify(pub ed25519.PublicKey, body []byte, sigB64 string) bool {
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, body, sig)
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
