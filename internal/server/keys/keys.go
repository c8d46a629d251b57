// Package keys is the process-wide key-management capability. It loads the
// server's private key material once at startup and hands out the current
// token-signing secret, which can be replaced only by explicit rotation.
package keys

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/lightldap/lightldap/internal/common"
)

const (
	serverKeyFile = "server.pem"
	seedFile      = "secret.seed"

	rsaBits  = 2048
	seedSize = 32
)

// Provider exposes the key material the authentication core depends on.
type Provider interface {
	// ServerPrivateKey is the long-lived PAKE server key.
	ServerPrivateKey() *rsa.PrivateKey
	// KeyRef identifies the server key that sealed a credential record.
	KeyRef() string
	// DecoySeed is the fixed secret used to synthesize decoy verifiers for
	// unknown users. It never leaves the process.
	DecoySeed() []byte
	// SigningSecret is the current HMAC secret for access tokens.
	SigningSecret() []byte
	// Rotate replaces the signing secret. Every access token issued under
	// the previous secret fails verification afterwards.
	Rotate() error
}

// FileProvider keeps the server key and seed in a directory, generating both
// on first run. The signing secret lives only in memory, derived from the
// seed, and is swapped atomically on rotation.
type FileProvider struct {
	priv    *rsa.PrivateKey
	keyRef  string
	decoy   []byte
	signing atomic.Pointer[[]byte]
}

// Load reads (or on first run creates) the key material under dir.
func Load(dir string) (*FileProvider, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("keys: %w", err)
	}

	priv, err := loadOrCreateServerKey(filepath.Join(dir, serverKeyFile))
	if err != nil {
		return nil, err
	}
	seed, err := loadOrCreateSeed(filepath.Join(dir, seedFile))
	if err != nil {
		return nil, err
	}

	pub := sha256.Sum256(x509.MarshalPKCS1PublicKey(&priv.PublicKey))
	p := &FileProvider{
		priv:   priv,
		keyRef: hex.EncodeToString(pub[:8]),
		decoy:  deriveSubkey(seed, "decoy-verifier"),
	}
	signing := deriveSubkey(seed, "token-signing")
	p.signing.Store(&signing)
	return p, nil
}

func (p *FileProvider) ServerPrivateKey() *rsa.PrivateKey { return p.priv }

func (p *FileProvider) KeyRef() string { return p.keyRef }

func (p *FileProvider) DecoySeed() []byte { return p.decoy }

func (p *FileProvider) SigningSecret() []byte { return *p.signing.Load() }

// Rotate replaces the signing secret with fresh random material.
func (p *FileProvider) Rotate() error {
	secret, err := common.RandomBytes(seedSize)
	if err != nil {
		return fmt.Errorf("keys: %w", err)
	}
	p.signing.Store(&secret)
	return nil
}

func loadOrCreateServerKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return createServerKey(path)
	}
	if err != nil {
		return nil, fmt.Errorf("keys: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "RSA PRIVATE KEY" {
		return nil, fmt.Errorf("keys: %s is not an RSA private key", path)
	}
	priv, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("keys: %w", err)
	}
	return priv, nil
}

func createServerKey(path string) (*rsa.PrivateKey, error) {
	priv, err := rsa.GenerateKey(rand.Reader, rsaBits)
	if err != nil {
		return nil, fmt.Errorf("keys: %w", err)
	}
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		return nil, fmt.Errorf("keys: %w", err)
	}
	return priv, nil
}

func loadOrCreateSeed(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		seed, rerr := common.RandomBytes(seedSize)
		if rerr != nil {
			return nil, fmt.Errorf("keys: %w", rerr)
		}
		if werr := os.WriteFile(path, seed, 0o600); werr != nil {
			return nil, fmt.Errorf("keys: %w", werr)
		}
		return seed, nil
	}
	if err != nil {
		return nil, fmt.Errorf("keys: %w", err)
	}
	if len(data) != seedSize {
		return nil, fmt.Errorf("keys: %s has unexpected size %d", path, len(data))
	}
	return data, nil
}

// deriveSubkey expands the seed into an independent purpose-bound secret.
func deriveSubkey(seed []byte, purpose string) []byte {
	h := sha256.New()
	h.Write(seed)
	h.Write([]byte(purpose))
	return h.Sum(nil)
}
