package xsig

import (
	"crypto/ed25519"
	"crypto/rand"
	"sync"

	"github.com/pkg/errors"

	"github.com/xlnfinance/xln-core/xtypes"
)

// DevProvider is an in-memory ed25519-backed Provider for tests and
// local development. Unlike the teacher's crypto/devstd.go (whose
// DevStdCryptoProvider always returns false for verification, since
// the teacher's real signature suites are ML-DSA/SLH-DSA delivered
// through an HSM), XLN's dev path needs working signatures end to
// end, so DevProvider generates and holds real ed25519 keypairs.
type DevProvider struct {
	mu   sync.RWMutex
	keys map[xtypes.SignerID]ed25519.PrivateKey
}

func NewDevProvider() *DevProvider {
	return &DevProvider{keys: make(map[xtypes.SignerID]ed25519.PrivateKey)}
}

// Register generates a fresh keypair for signerID, or returns the
// existing one if already registered.
func (p *DevProvider) Register(signerID xtypes.SignerID) (ed25519.PublicKey, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if k, ok := p.keys[signerID]; ok {
		return k.Public().(ed25519.PublicKey), nil
	}
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "xsig: generate key")
	}
	p.keys[signerID] = priv
	return pub, nil
}

func (p *DevProvider) Sign(signerID xtypes.SignerID, digest [32]byte) (Signature, error) {
	p.mu.RLock()
	priv, ok := p.keys[signerID]
	p.mu.RUnlock()
	if !ok {
		return nil, errors.Errorf("xsig: unknown signer %q", signerID)
	}
	return Signature(ed25519.Sign(priv, digest[:])), nil
}

func (p *DevProvider) PublicKey(signerID xtypes.SignerID) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	priv, ok := p.keys[signerID]
	if !ok {
		return nil, errors.Errorf("xsig: unknown signer %q", signerID)
	}
	return priv.Public().(ed25519.PublicKey), nil
}

func (p *DevProvider) Verify(pubkey []byte, digest [32]byte, sig Signature) bool {
	if len(pubkey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pubkey), digest[:], []byte(sig))
}
